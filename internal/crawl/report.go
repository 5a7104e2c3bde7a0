package crawl

import "time"

// Report summarises one run. Per-page and per-record failures are counted
// here instead of aborting the run.
type Report struct {
	RunID             string         `json:"run_id"`
	State             State          `json:"state"`
	Resumed           bool           `json:"resumed"`
	Bound             int            `json:"bound"`
	SampleStride      int            `json:"sample_stride"`
	StartPage         int            `json:"start_page"`
	PagesPlanned      int            `json:"pages_planned"`
	PagesFetched      int            `json:"pages_fetched"`
	PagesFailed       int            `json:"pages_failed"`
	FailedPages       []int          `json:"failed_pages"`
	ArticlesLoaded    int            `json:"articles_loaded"`
	ArticlesAdded     int            `json:"articles_added"`
	TotalArticles     int            `json:"total_articles"`
	DuplicatesSkipped int            `json:"duplicates_skipped"`
	RecordsRejected   int            `json:"records_rejected"`
	Rejections        map[string]int `json:"rejections"`
	Retries           int            `json:"retries"`
	Checkpoints       int            `json:"checkpoints"`
	LastPageCompleted int            `json:"last_page_completed"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	Error             string         `json:"error,omitempty"`
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
