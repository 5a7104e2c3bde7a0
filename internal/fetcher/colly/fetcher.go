// Package collyfetcher implements fetcher.Transport using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/Blackmvmba88/q2bs/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	RespectRobots  bool
	Timeout        time.Duration
	Headers        http.Header
}

// Fetcher implements fetcher.Transport using the Colly collector. Every call
// performs exactly one GET; retries belong to the caller.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	// Error statuses must reach OnResponse so the caller can classify them.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Do executes a single HTTP GET using Colly.
func (f *Fetcher) Do(ctx context.Context, request fetcher.Request) (fetcher.Response, error) {
	var (
		result   fetcher.Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return fetcher.Response{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	start time.Time,
	result *fetcher.Response,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *fetcher.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = fetcher.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", markPermanent(err))
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", markPermanent(*fetchErr))
		}
		return nil
	}
}

// markPermanent tags collector-level refusals that no retry can fix.
func markPermanent(err error) error {
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked),
		errors.Is(err, colly.ErrForbiddenDomain),
		errors.Is(err, colly.ErrForbiddenURL),
		errors.Is(err, colly.ErrMissingURL):
		return fmt.Errorf("%w: %w", fetcher.ErrPermanent, err)
	default:
		return err
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	if f.cfg.AcceptLanguage != "" {
		r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
	}
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
