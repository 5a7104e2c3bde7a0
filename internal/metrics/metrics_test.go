package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := crawlPagesTotal
	Init()
	assert.Same(t, first, crawlPagesTotal)
}

func TestObserveCounters(t *testing.T) {
	Init()

	beforeOK := testutil.ToFloat64(checkpointsTotal.WithLabelValues("ok"))
	beforeErr := testutil.ToFloat64(checkpointsTotal.WithLabelValues("error"))
	ObserveCheckpoint(nil)
	ObserveCheckpoint(errors.New("disk full"))
	assert.Equal(t, beforeOK+1, testutil.ToFloat64(checkpointsTotal.WithLabelValues("ok")))
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(checkpointsTotal.WithLabelValues("error")))

	beforeReason := testutil.ToFloat64(recordsRejectedTotal.WithLabelValues("invalid_url"))
	beforeAdded := testutil.ToFloat64(articlesAddedTotal)
	ObserveRecords(3, 1, map[string]int{"invalid_url": 2})
	assert.Equal(t, beforeReason+2, testutil.ToFloat64(recordsRejectedTotal.WithLabelValues("invalid_url")))
	assert.Equal(t, beforeAdded+3, testutil.ToFloat64(articlesAddedTotal))

	ObservePage("success", 42)
	assert.Equal(t, float64(42), testutil.ToFloat64(crawlLastPage))

	SetSimilarityPairs(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(similarityPairs))
}

func TestHandlerServesCollectors(t *testing.T) {
	ObserveFetchAttempt("transient_failure")
	ObserveBackoff(5 * time.Second)
	ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "q2bs_fetch_attempts_total"))
	assert.True(t, strings.Contains(body, "q2bs_fetch_backoff_seconds"))
}
