package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Blackmvmba88/q2bs/internal/progress"
)

func runBatch(runID [16]byte, failed bool) []progress.Event {
	start := time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)
	batch := []progress.Event{
		{RunID: runID, TS: start, Stage: progress.StageRunStart},
		{RunID: runID, TS: start, Stage: progress.StageState, State: "fetching", Bound: 95},
		{RunID: runID, TS: start.Add(time.Second), Stage: progress.StagePageDone, Page: 1, Outcome: "success", Added: 9, Duplicates: 1, Rejected: 2, Dur: 600 * time.Millisecond},
		{RunID: runID, TS: start.Add(2 * time.Second), Stage: progress.StagePageDone, Page: 11, Outcome: "permanent_failure", Dur: 35 * time.Second},
		{RunID: runID, TS: start.Add(3 * time.Second), Stage: progress.StageCheckpoint, Page: 11},
	}
	if failed {
		return append(batch, progress.Event{RunID: runID, TS: start.Add(4 * time.Second), Stage: progress.StageRunError, Note: "host unreachable", Dur: 4 * time.Second})
	}
	return append(batch, progress.Event{RunID: runID, TS: start.Add(4 * time.Second), Stage: progress.StageRunDone, Dur: 4 * time.Second})
}

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	ok := progress.UUIDToBytes(uuid.New())
	bad := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), runBatch(ok, false)))
	require.NoError(t, sink.Consume(context.Background(), runBatch(bad, true)))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.runsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.stateChanges.WithLabelValues("fetching")))
	assert.Equal(t, 2, testutil.CollectAndCount(sink.pageDuration, "q2bs_page_duration_seconds"))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestStatusSinkFoldsEvents(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	runID := uuid.New()
	require.NoError(t, sink.Consume(context.Background(), runBatch(progress.UUIDToBytes(runID), true)))

	runs := sink.Runs()
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, runID.String(), run.RunID)
	assert.Equal(t, "fetching", run.State)
	assert.Equal(t, 95, run.Bound)
	assert.Equal(t, 11, run.LastPage)
	assert.Equal(t, 1, run.PagesFetched)
	assert.Equal(t, 1, run.PagesFailed)
	assert.Equal(t, 9, run.ArticlesAdded)
	assert.Equal(t, 1, run.Duplicates)
	assert.Equal(t, 2, run.Rejected)
	assert.Equal(t, 1, run.Checkpoints)
	assert.Equal(t, "host unreachable", run.Error)
	assert.False(t, run.FinishedAt.IsZero())
}

func TestLogSinkWritesEvents(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), runBatch(progress.UUIDToBytes(uuid.New()), false)))
	require.NoError(t, sink.Close(context.Background()))

	assert.Equal(t, 6, logs.FilterMessage("progress event").Len())
	assert.Equal(t, 2, logs.FilterLevelExact(zap.DebugLevel).Len())
}
