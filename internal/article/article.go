// Package article defines the Article entity collected by the crawler, the
// boundary validator that turns raw extracted records into typed Articles,
// and the ordered in-memory store that holds the corpus.
package article

import "time"

// DateLayout is the calendar-date layout used whenever a publication date is
// rendered as text.
const DateLayout = "2006-01-02"

// Article is a validated record discovered on a listing page.
type Article struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	URL           string    `json:"url"`
	DatePublished time.Time `json:"date_published"`
	DateRaw       string    `json:"date_raw,omitempty"`
	PageNumber    int       `json:"page_number"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// PublishedDay returns the publication date formatted as YYYY-MM-DD.
func (a Article) PublishedDay() string {
	return a.DatePublished.Format(DateLayout)
}

// RawRecord is what a page extractor hands back for a single listing item.
// Every field is untrusted text until it passes the Validator.
type RawRecord struct {
	IDCandidate string
	Title       string
	URL         string
	Date        string
	PageNumber  int
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
