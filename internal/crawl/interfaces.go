package crawl

import (
	"context"
	"time"

	"github.com/Blackmvmba88/q2bs/internal/article"
	"github.com/Blackmvmba88/q2bs/internal/checkpoint"
	"github.com/Blackmvmba88/q2bs/internal/fetcher"
)

// PageFetcher retrieves one listing page, retrying transient failures.
type PageFetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (fetcher.Result, error)
}

// Extractor turns a page body into raw records.
type Extractor interface {
	Extract(ctx context.Context, page int, body []byte) ([]article.RawRecord, error)
}

// BoundProbe reports the highest listing page.
type BoundProbe interface {
	MaxPage(ctx context.Context) (int, error)
}

// CheckpointStore persists and restores crawl progress.
type CheckpointStore interface {
	Save(ctx context.Context, snap checkpoint.Snapshot) (checkpoint.Progress, error)
	LoadLatest(ctx context.Context) (checkpoint.Snapshot, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
