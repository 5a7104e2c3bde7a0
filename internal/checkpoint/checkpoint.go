// Package checkpoint persists crawl progress and the article corpus so an
// interrupted crawl can resume. Every save is atomic: a reader sees either
// the previous checkpoint or the new one, never a partial write.
package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/Blackmvmba88/q2bs/internal/article"
)

// Sentinel errors returned by LoadLatest.
var (
	// ErrNoCheckpoint means the directory holds no checkpoint at all.
	ErrNoCheckpoint = errors.New("no checkpoint found")
	// ErrCorrupt means checkpoints exist but none of them validates.
	ErrCorrupt = errors.New("checkpoint corrupt")
)

// Progress is the crawl cursor saved with every checkpoint.
type Progress struct {
	RunID             string    `json:"run_id"`
	LastPageCompleted int       `json:"last_page_completed"`
	PagesFetchedCount int       `json:"pages_fetched_count"`
	PagesFailed       int       `json:"pages_failed"`
	MinArticleIDSeen  int64     `json:"min_article_id_seen"`
	MaxArticleIDSeen  int64     `json:"max_article_id_seen"`
	SampleStride      int       `json:"sample_stride"`
	MaxPage           int       `json:"max_page"`
	Sequence          int64     `json:"sequence"`
	SavedAt           time.Time `json:"saved_at"`
}

// Validate checks the internal consistency of a progress record.
func (p Progress) Validate() error {
	switch {
	case p.LastPageCompleted < 0:
		return fmt.Errorf("last_page_completed %d is negative", p.LastPageCompleted)
	case p.PagesFetchedCount < 0:
		return fmt.Errorf("pages_fetched_count %d is negative", p.PagesFetchedCount)
	case p.PagesFailed < 0:
		return fmt.Errorf("pages_failed %d is negative", p.PagesFailed)
	case p.SampleStride < 1:
		return fmt.Errorf("sample_stride %d must be at least 1", p.SampleStride)
	case p.MaxPage > 0 && p.LastPageCompleted > p.MaxPage:
		return fmt.Errorf("last_page_completed %d beyond max_page %d", p.LastPageCompleted, p.MaxPage)
	case p.MinArticleIDSeen > p.MaxArticleIDSeen:
		return fmt.Errorf("min_article_id_seen %d above max %d", p.MinArticleIDSeen, p.MaxArticleIDSeen)
	}
	return nil
}

// Snapshot is everything needed to resume: the cursor and the articles
// collected so far, in insertion order.
type Snapshot struct {
	Progress Progress
	Articles []article.Article
}

// ArticlesPerPage is the observed article density of the snapshot, or zero
// when no page has been fetched yet.
func (s Snapshot) ArticlesPerPage() float64 {
	if s.Progress.PagesFetchedCount <= 0 {
		return 0
	}
	return float64(len(s.Articles)) / float64(s.Progress.PagesFetchedCount)
}

// Hasher produces the integrity digest stored alongside the articles.
type Hasher interface {
	Hash(data []byte) (string, error)
}
