package fetcher

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/Blackmvmba88/q2bs/internal/metrics"
)

// Throttle enforces a minimum gap between the end of one outbound request
// and the start of the next, using a single-token bucket. The token is spent
// when a request completes and Wait blocks until it has refilled.
type Throttle struct {
	limiter *rate.Limiter
	clock   Clock
	pauser  Pauser
}

// NewThrottle returns a Throttle that keeps interval between requests. A
// non-positive interval disables throttling.
func NewThrottle(interval time.Duration, clock Clock, pauser Pauser) *Throttle {
	if clock == nil {
		clock = systemClock{}
	}
	if pauser == nil {
		pauser = TimerPauser{}
	}
	t := &Throttle{clock: clock, pauser: pauser}
	if interval > 0 {
		t.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return t
}

// Wait pauses until the interval since the last completed request has
// elapsed.
func (t *Throttle) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.limiter == nil {
		return nil
	}
	missing := 1 - t.limiter.TokensAt(t.clock.Now())
	if missing <= 0 {
		return nil
	}
	delay := time.Duration(math.Ceil(missing / float64(t.limiter.Limit()) * float64(time.Second)))
	if delay <= 0 {
		return nil
	}
	metrics.ObserveThrottleWait(delay)
	return t.pauser.Pause(ctx, delay)
}

// Done marks the end of a request, whatever its outcome.
func (t *Throttle) Done() {
	if t.limiter == nil {
		return
	}
	t.limiter.ReserveN(t.clock.Now(), 1)
}
