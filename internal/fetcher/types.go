// Package fetcher implements the rate-limited page fetcher: one outbound
// request at a time, a fixed minimum delay between requests, bounded
// exponential backoff for transient failures and an explicit
// transient/permanent/fatal classification of every attempt.
package fetcher

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Outcome classifies a fetch attempt or a whole page fetch.
type Outcome string

// Fetch outcomes.
const (
	Success          Outcome = "success"
	TransientFailure Outcome = "transient_failure"
	PermanentFailure Outcome = "permanent_failure"
)

// Sentinel errors used to classify failures. Transports may wrap ErrTransient
// or ErrPermanent to force a classification.
var (
	ErrTransient        = errors.New("transient fetch failure")
	ErrPermanent        = errors.New("permanent fetch failure")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrHostUnreachable  = errors.New("host unreachable")
)

// Request identifies one listing page to fetch.
type Request struct {
	PageNumber int
	URL        string
}

// Response is what a Transport returns for a completed HTTP exchange,
// whatever its status code.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Transport performs exactly one outbound request.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// Attempt records a single try at fetching a page. Attempts are not
// persisted; they are handed back for logging and reporting.
type Attempt struct {
	PageNumber   int
	AttemptIndex int
	Outcome      Outcome
	StatusCode   int
	Backoff      time.Duration
	Err          error
}

// Result is the final verdict for one page.
type Result struct {
	PageNumber int
	Outcome    Outcome
	Response   Response
	Attempts   []Attempt
	Err        error
}

// Retries returns how many attempts beyond the first were made.
func (r Result) Retries() int {
	if len(r.Attempts) == 0 {
		return 0
	}
	return len(r.Attempts) - 1
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
