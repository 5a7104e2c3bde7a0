package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Blackmvmba88/q2bs/internal/progress"
)

// RunStatus is the live summary of one crawl run.
type RunStatus struct {
	RunID         string    `json:"run_id"`
	State         string    `json:"state"`
	Bound         int       `json:"bound"`
	LastPage      int       `json:"last_page"`
	PagesFetched  int       `json:"pages_fetched"`
	PagesFailed   int       `json:"pages_failed"`
	ArticlesAdded int       `json:"articles_added"`
	Duplicates    int       `json:"duplicates_skipped"`
	Rejected      int       `json:"records_rejected"`
	Checkpoints   int       `json:"checkpoints"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Error         string    `json:"error,omitempty"`
}

// StatusSink folds events into per-run status records.
type StatusSink struct {
	mu   sync.RWMutex
	runs map[[16]byte]*RunStatus
}

// NewStatusSink returns an empty status board.
func NewStatusSink() *StatusSink {
	return &StatusSink{runs: make(map[[16]byte]*RunStatus)}
}

// Consume applies the batch.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		run := s.runs[evt.RunID]
		if run == nil {
			run = &RunStatus{RunID: evt.RunUUID().String(), StartedAt: evt.TS}
			s.runs[evt.RunID] = run
		}
		run.UpdatedAt = evt.TS
		if evt.Bound > 0 {
			run.Bound = evt.Bound
		}
		switch evt.Stage {
		case progress.StageRunStart:
			run.StartedAt = evt.TS
		case progress.StageState:
			run.State = evt.State
		case progress.StagePageDone:
			if evt.Page > run.LastPage {
				run.LastPage = evt.Page
			}
			if evt.Outcome == "success" {
				run.PagesFetched++
			} else {
				run.PagesFailed++
			}
			run.ArticlesAdded += evt.Added
			run.Duplicates += evt.Duplicates
			run.Rejected += evt.Rejected
		case progress.StageCheckpoint:
			run.Checkpoints++
		case progress.StageRunDone:
			run.FinishedAt = evt.TS
		case progress.StageRunError:
			run.FinishedAt = evt.TS
			run.Error = evt.Note
		}
	}
	return nil
}

// Runs returns a copy of every known run, most recently started first.
func (s *StatusSink) Runs() []RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunStatus, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
