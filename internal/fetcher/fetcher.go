package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/metrics"
)

const (
	defaultDelay       = 500 * time.Millisecond
	defaultMaxRetries  = 3
	defaultBackoffBase = 5 * time.Second
	defaultBackoffMax  = 5 * time.Minute
)

// Config controls throttling and retries.
type Config struct {
	// Delay is the minimum spacing between consecutive outbound requests.
	Delay time.Duration
	// MaxRetries bounds how many times a transiently failing page is retried.
	MaxRetries int
	// BackoffBase is the first retry delay; every further retry doubles it.
	BackoffBase time.Duration
	// BackoffMax caps both the schedule and server-supplied Retry-After.
	BackoffMax time.Duration
}

// DefaultConfig returns the production throttle and retry settings.
func DefaultConfig() Config {
	return Config{
		Delay:       defaultDelay,
		MaxRetries:  defaultMaxRetries,
		BackoffBase: defaultBackoffBase,
		BackoffMax:  defaultBackoffMax,
	}
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithClock overrides the time source used for throttling and Retry-After.
func WithClock(clock Clock) Option {
	return func(f *Fetcher) { f.clock = clock }
}

// WithPauser overrides how the fetcher waits.
func WithPauser(p Pauser) Option {
	return func(f *Fetcher) { f.pauser = p }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// Fetcher issues throttled requests through a Transport and retries
// transient failures. It is not safe for concurrent use: the crawl issues one
// request at a time by contract.
type Fetcher struct {
	transport  Transport
	backoff    ExponentialBackoff
	throttle   *Throttle
	clock      Clock
	pauser     Pauser
	logger     *zap.Logger
	maxRetries int
}

// New builds a Fetcher around transport.
func New(transport Transport, cfg Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		transport: transport,
		clock:     systemClock{},
		pauser:    TimerPauser{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.maxRetries = cfg.MaxRetries
	if f.maxRetries < 0 {
		f.maxRetries = 0
	}
	f.backoff = NewExponentialBackoff(cfg.BackoffBase, cfg.BackoffMax)
	f.throttle = NewThrottle(cfg.Delay, f.clock, f.pauser)
	return f
}

// Fetch retrieves one page. Per-page failures come back as a Result with
// Outcome PermanentFailure and a nil error; the returned error is reserved
// for cancellation and systemic failures (ErrHostUnreachable).
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	result := Result{PageNumber: req.PageNumber}
	for attemptIndex := 1; ; attemptIndex++ {
		if err := f.throttle.Wait(ctx); err != nil {
			return result, fmt.Errorf("throttle page %d: %w", req.PageNumber, err)
		}

		resp, err := f.transport.Do(ctx, req)
		f.throttle.Done()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("fetch page %d: %w", req.PageNumber, ctxErr)
		}
		attempt := Attempt{
			PageNumber:   req.PageNumber,
			AttemptIndex: attemptIndex,
			StatusCode:   resp.StatusCode,
			Err:          err,
		}

		switch classify(resp, err) {
		case verdictSuccess:
			attempt.Outcome = Success
			f.record(&result, attempt)
			result.Outcome = Success
			result.Response = resp
			return result, nil

		case verdictFatal:
			attempt.Outcome = PermanentFailure
			f.record(&result, attempt)
			result.Outcome = PermanentFailure
			result.Err = err
			return result, fmt.Errorf("fetch page %d: %w: %w", req.PageNumber, ErrHostUnreachable, err)

		case verdictPermanent:
			attempt.Outcome = PermanentFailure
			f.record(&result, attempt)
			result.Outcome = PermanentFailure
			result.Err = fmt.Errorf("%w: %s", ErrPermanent, describe(resp, err))
			return result, nil

		case verdictTransient:
			attempt.Outcome = TransientFailure
			if attemptIndex > f.maxRetries {
				f.record(&result, attempt)
				result.Outcome = PermanentFailure
				result.Err = fmt.Errorf("%w after %d attempts: %s", ErrRetriesExhausted, attemptIndex, describe(resp, err))
				return result, nil
			}
			attempt.Backoff = f.retryDelay(attemptIndex, resp)
			f.record(&result, attempt)
			f.logger.Warn("transient fetch failure, backing off",
				zap.Int("page", req.PageNumber),
				zap.Int("attempt", attemptIndex),
				zap.Int("status", resp.StatusCode),
				zap.Duration("backoff", attempt.Backoff),
				zap.Error(err),
			)
			metrics.ObserveBackoff(attempt.Backoff)
			if err := f.pauser.Pause(ctx, attempt.Backoff); err != nil {
				return result, fmt.Errorf("backoff page %d: %w", req.PageNumber, err)
			}
		}
	}
}

func (f *Fetcher) retryDelay(retry int, resp Response) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if d := retryAfter(resp.Headers, f.clock.Now()); d > 0 {
			if d > f.backoff.Max {
				return f.backoff.Max
			}
			return d
		}
	}
	return f.backoff.Delay(retry)
}

func (f *Fetcher) record(result *Result, attempt Attempt) {
	result.Attempts = append(result.Attempts, attempt)
	metrics.ObserveFetchAttempt(string(attempt.Outcome))
}

func describe(resp Response, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
