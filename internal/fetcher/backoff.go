package fetcher

import "time"

// ExponentialBackoff doubles the delay on every retry, starting at Base and
// never exceeding Max. The schedule is deterministic: 5s, 10s, 20s, ...
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponentialBackoff builds a schedule with sane defaults for zero values.
func NewExponentialBackoff(base, maxDelay time.Duration) ExponentialBackoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if maxDelay <= 0 {
		maxDelay = defaultBackoffMax
	}
	return ExponentialBackoff{Base: base, Max: maxDelay}
}

// Delay returns the wait before retry number retry (1-based).
func (b ExponentialBackoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := b.Base
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= b.Max || delay <= 0 {
			return b.Max
		}
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}
