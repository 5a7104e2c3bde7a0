package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Blackmvmba88/q2bs/internal/progress"
)

// PrometheusSink exports run-level crawl metrics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec
	pageDuration  *prometheus.HistogramVec
	stateChanges  *prometheus.CounterVec

	mu      sync.Mutex
	running map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "q2bs_runs_started_total",
			Help: "Crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "q2bs_runs_completed_total",
			Help: "Crawl runs finished, partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "q2bs_runs_running",
			Help: "Crawl runs currently in progress.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "q2bs_run_runtime_seconds",
			Help:    "Wall time per finished crawl run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400, 43200},
		}, []string{"result"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "q2bs_page_duration_seconds",
			Help:    "Time spent on one listing page including retries, by outcome.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 60, 300},
		}, []string{"outcome"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "q2bs_state_transitions_total",
			Help: "Crawl state machine transitions by target state.",
		}, []string{"state"}),
		running: make(map[[16]byte]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.pageDuration,
		s.stateChanges,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.track(evt.RunID, true) {
				s.runsRunning.Inc()
			}
		case progress.StageRunDone:
			s.finish(evt, "success")
		case progress.StageRunError:
			s.finish(evt, "error")
		case progress.StageState:
			s.stateChanges.WithLabelValues(evt.State).Inc()
		case progress.StagePageDone:
			s.pageDuration.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.RunID, false) {
		s.runsRunning.Dec()
	}
}

// track records a run as started or finished and reports whether that
// changed anything.
func (s *PrometheusSink) track(id [16]byte, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
