package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/fetcher"
)

// PageFetcher retrieves one page through the throttled fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (fetcher.Result, error)
}

// PaginationProbe finds the listing's last page from the pagination links on
// page 1.
type PaginationProbe struct {
	fetcher  PageFetcher
	url      string
	selector string
	logger   *zap.Logger
}

// NewPaginationProbe builds a probe for cfg.ListingURL.
func NewPaginationProbe(f PageFetcher, cfg Config, logger *zap.Logger) *PaginationProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaginationProbe{
		fetcher:  f,
		url:      PageURL(cfg.ListingURL, 1),
		selector: cfg.PaginationSelector,
		logger:   logger,
	}
}

// MaxPage fetches the first listing page and returns the highest page
// number linked from its pagination.
func (p *PaginationProbe) MaxPage(ctx context.Context) (int, error) {
	result, err := p.fetcher.Fetch(ctx, fetcher.Request{PageNumber: 1, URL: p.url})
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", p.url, err)
	}
	if result.Outcome != fetcher.Success {
		return 0, fmt.Errorf("fetch %s: %w", p.url, result.Err)
	}
	maxPage, err := MaxPageFromHTML(result.Response.Body, p.selector)
	if err != nil {
		return 0, fmt.Errorf("read pagination of %s: %w", p.url, err)
	}
	p.logger.Info("determined page bound", zap.Int("max_page", maxPage))
	return maxPage, nil
}
