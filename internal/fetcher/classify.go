package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

type verdict int

const (
	verdictSuccess verdict = iota
	verdictTransient
	verdictPermanent
	verdictFatal
)

// classify decides what a single attempt means for the page.
func classify(resp Response, err error) verdict {
	if err != nil {
		return classifyError(err)
	}
	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return verdictSuccess
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return verdictTransient
	case code >= 500:
		return verdictTransient
	default:
		return verdictPermanent
	}
}

func classifyError(err error) verdict {
	switch {
	case errors.Is(err, ErrHostUnreachable):
		return verdictFatal
	case errors.Is(err, ErrPermanent):
		return verdictPermanent
	case errors.Is(err, ErrTransient):
		return verdictTransient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return verdictTransient
		}
		return verdictFatal
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return verdictTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return verdictTransient
	}
	// Unknown errors are retried; the retry budget bounds the cost.
	return verdictTransient
}

// retryAfter reads a Retry-After header given as delta-seconds or an
// HTTP-date. It returns zero when the header is absent or already expired.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
