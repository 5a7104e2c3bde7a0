// Package metrics exposes Prometheus collectors for the crawler and the
// similarity engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlPagesTotal            *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBackoffSeconds        prometheus.Histogram
	throttleWaitSeconds        prometheus.Histogram
	recordsRejectedTotal       *prometheus.CounterVec
	articlesAddedTotal         prometheus.Counter
	duplicatesSkippedTotal     prometheus.Counter
	checkpointsTotal           *prometheus.CounterVec
	crawlLastPage              prometheus.Gauge
	similarityDurationSeconds  *prometheus.HistogramVec
	similarityPairs            prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "q2bs_crawl_pages_total",
				Help: "Total number of listing pages processed, labeled by final outcome.",
			},
			[]string{"outcome"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "q2bs_fetch_attempts_total",
				Help: "Total number of outbound fetch attempts, labeled by attempt outcome.",
			},
			[]string{"outcome"},
		)

		fetchBackoffSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "q2bs_fetch_backoff_seconds",
				Help:    "Histogram of retry backoff delays.",
				Buckets: []float64{1, 5, 10, 20, 40, 80, 160, 300},
			},
		)

		throttleWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "q2bs_throttle_wait_seconds",
				Help:    "Histogram of inter-request throttle waits.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		recordsRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "q2bs_records_rejected_total",
				Help: "Total number of extracted records rejected by validation, labeled by reason.",
			},
			[]string{"reason"},
		)

		articlesAddedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "q2bs_articles_added_total",
				Help: "Total number of new articles inserted into the store.",
			},
		)

		duplicatesSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "q2bs_duplicates_skipped_total",
				Help: "Total number of valid records skipped because their id was already stored.",
			},
		)

		checkpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "q2bs_checkpoints_total",
				Help: "Total number of checkpoint saves, labeled by status.",
			},
			[]string{"status"},
		)

		crawlLastPage = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "q2bs_crawl_last_page_completed",
				Help: "Highest page number completed by the current crawl.",
			},
		)

		similarityDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "q2bs_similarity_duration_seconds",
				Help:    "Histogram of similarity engine stage durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"stage"},
		)

		similarityPairs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "q2bs_similarity_pairs",
				Help: "Number of near-duplicate pairs found by the last analysis.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage counts one processed page by its final outcome.
func ObservePage(outcome string, lastPage int) {
	Init()
	crawlPagesTotal.WithLabelValues(outcome).Inc()
	if lastPage > 0 {
		crawlLastPage.Set(float64(lastPage))
	}
}

// ObserveFetchAttempt counts one outbound attempt.
func ObserveFetchAttempt(outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBackoff records a retry delay.
func ObserveBackoff(delay time.Duration) {
	Init()
	fetchBackoffSeconds.Observe(delay.Seconds())
}

// ObserveThrottleWait records the pause inserted before a request.
func ObserveThrottleWait(delay time.Duration) {
	Init()
	throttleWaitSeconds.Observe(delay.Seconds())
}

// ObserveRecords records the validation outcome of one page worth of records.
func ObserveRecords(added, duplicates int, rejected map[string]int) {
	Init()
	articlesAddedTotal.Add(float64(added))
	duplicatesSkippedTotal.Add(float64(duplicates))
	for reason, n := range rejected {
		recordsRejectedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// ObserveCheckpoint counts a checkpoint save attempt.
func ObserveCheckpoint(err error) {
	Init()
	status := "ok"
	if err != nil {
		status = "error"
	}
	checkpointsTotal.WithLabelValues(status).Inc()
}

// ObserveSimilarityStage records how long a similarity stage took.
func ObserveSimilarityStage(stage string, duration time.Duration) {
	Init()
	similarityDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// SetSimilarityPairs publishes the pair count of the latest analysis.
func SetSimilarityPairs(n int) {
	Init()
	similarityPairs.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
