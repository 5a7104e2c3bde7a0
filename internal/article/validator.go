package article

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Reason classifies why a raw record was rejected.
type Reason string

// Rejection reasons reported in crawl summaries.
const (
	ReasonInvalidID    Reason = "invalid_id"
	ReasonMissingTitle Reason = "missing_title"
	ReasonInvalidURL   Reason = "invalid_url"
	ReasonForeignHost  Reason = "foreign_host"
	ReasonInvalidDate  Reason = "invalid_date"
	ReasonInvalidPage  Reason = "invalid_page"
)

// ErrRejected is matched by every *Rejection via errors.Is.
var ErrRejected = errors.New("record rejected")

// Rejection describes a record that failed validation.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Is lets callers match any rejection with errors.Is(err, ErrRejected).
func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

// Result is either a valid Article or a Rejection, never both.
type Result struct {
	Article   Article
	Rejection *Rejection
}

// Valid reports whether the result carries an Article.
func (r Result) Valid() bool {
	return r.Rejection == nil
}

// ValidatorConfig controls boundary validation.
type ValidatorConfig struct {
	// AllowedHost restricts article URLs to this host and its subdomains.
	// Empty accepts any host.
	AllowedHost string
}

// Validator converts RawRecords into Articles.
type Validator struct {
	allowedHost string
	clock       Clock
}

// NewValidator builds a Validator. A nil clock stamps articles with UTC now.
func NewValidator(cfg ValidatorConfig, clock Clock) *Validator {
	if clock == nil {
		clock = utcClock{}
	}
	return &Validator{
		allowedHost: strings.ToLower(strings.TrimSpace(cfg.AllowedHost)),
		clock:       clock,
	}
}

// Validate checks one raw record. It never returns an error: malformed
// records come back as a Result carrying a Rejection.
func (v *Validator) Validate(raw RawRecord) Result {
	id, err := strconv.ParseInt(strings.TrimSpace(raw.IDCandidate), 10, 64)
	if err != nil || id <= 0 {
		return reject(ReasonInvalidID, raw.IDCandidate)
	}
	title := strings.TrimSpace(raw.Title)
	if title == "" || strings.EqualFold(title, "N/A") {
		return reject(ReasonMissingTitle, "")
	}
	link := strings.TrimSpace(raw.URL)
	if rej := v.checkURL(link); rej != nil {
		return Result{Rejection: rej}
	}
	published, err := ParseDate(raw.Date)
	if err != nil {
		return reject(ReasonInvalidDate, raw.Date)
	}
	if raw.PageNumber < 1 {
		return reject(ReasonInvalidPage, strconv.Itoa(raw.PageNumber))
	}
	return Result{Article: Article{
		ID:            id,
		Title:         title,
		URL:           link,
		DatePublished: published,
		DateRaw:       strings.TrimSpace(raw.Date),
		PageNumber:    raw.PageNumber,
		ScrapedAt:     v.clock.Now(),
	}}
}

// Check re-validates an Article loaded from persisted state.
func (v *Validator) Check(a Article) error {
	switch {
	case a.ID <= 0:
		return &Rejection{Reason: ReasonInvalidID, Detail: strconv.FormatInt(a.ID, 10)}
	case strings.TrimSpace(a.Title) == "":
		return &Rejection{Reason: ReasonMissingTitle}
	case a.DatePublished.IsZero():
		return &Rejection{Reason: ReasonInvalidDate}
	case a.PageNumber < 1:
		return &Rejection{Reason: ReasonInvalidPage, Detail: strconv.Itoa(a.PageNumber)}
	}
	if rej := v.checkURL(a.URL); rej != nil {
		return rej
	}
	return nil
}

func (v *Validator) checkURL(link string) *Rejection {
	if link == "" {
		return &Rejection{Reason: ReasonInvalidURL, Detail: "empty"}
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return &Rejection{Reason: ReasonInvalidURL, Detail: link}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &Rejection{Reason: ReasonInvalidURL, Detail: link}
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return &Rejection{Reason: ReasonInvalidURL, Detail: link}
	}
	if v.allowedHost != "" && host != v.allowedHost && !strings.HasSuffix(host, "."+v.allowedHost) {
		return &Rejection{Reason: ReasonForeignHost, Detail: host}
	}
	return nil
}

func reject(reason Reason, detail string) Result {
	return Result{Rejection: &Rejection{Reason: reason, Detail: detail}}
}

type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}
