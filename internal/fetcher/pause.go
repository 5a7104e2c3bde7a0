package fetcher

import (
	"context"
	"fmt"
	"time"
)

// Pauser abstracts how the fetcher waits, so tests can observe delays
// without sleeping.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// TimerPauser waits on a real timer.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}
