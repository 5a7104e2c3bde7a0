// Package extract turns listing-page HTML into raw article records and
// discovers the listing's page count. Selectors are configurable; the
// defaults match the blog markup the crawler was written for.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Blackmvmba88/q2bs/internal/article"
)

// ErrNoPagination is returned when the listing carries no pagination links.
var ErrNoPagination = errors.New("pagination not found")

// Config holds the selectors and URL rules used to read listing pages.
type Config struct {
	// BaseURL resolves relative article links.
	BaseURL string `mapstructure:"base_url"`
	// ListingURL is page 1 of the listing; page N lives at ListingURL/page/N.
	ListingURL         string `mapstructure:"listing_url"`
	ItemSelector       string `mapstructure:"item_selector"`
	LinkSelector       string `mapstructure:"link_selector"`
	TitleSelector      string `mapstructure:"title_selector"`
	DateSelector       string `mapstructure:"date_selector"`
	DateSeparator      string `mapstructure:"date_separator"`
	PaginationSelector string `mapstructure:"pagination_selector"`
	// IDPattern extracts the article id from its URL; the first capture group
	// is the id.
	IDPattern string `mapstructure:"id_pattern"`
}

// DefaultConfig returns the selectors for the audited blog.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://www.q2bstudio.com",
		ListingURL:         "https://www.q2bstudio.com/blog-empresa-aplicaciones",
		ItemSelector:       "div.item-new",
		LinkSelector:       "a[href]",
		TitleSelector:      "div.title",
		DateSelector:       "div.tags div.inner",
		DateSeparator:      "|",
		PaginationSelector: `nav[aria-label="Page navigation example"] a.page-link`,
		IDPattern:          `/nuestro-blog/(\d+)`,
	}
}

// SelectorExtractor reads listing items with CSS selectors.
type SelectorExtractor struct {
	cfg     Config
	base    *url.URL
	idRegex *regexp.Regexp
}

// NewSelectorExtractor compiles cfg.
func NewSelectorExtractor(cfg Config) (*SelectorExtractor, error) {
	if strings.TrimSpace(cfg.ItemSelector) == "" {
		return nil, fmt.Errorf("item selector is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	idRegex, err := regexp.Compile(cfg.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("compile id pattern: %w", err)
	}
	if idRegex.NumSubexp() < 1 {
		return nil, fmt.Errorf("id pattern %q needs a capture group", cfg.IDPattern)
	}
	return &SelectorExtractor{cfg: cfg, base: base, idRegex: idRegex}, nil
}

// Extract returns one raw record per listing item. Items are returned even
// when fields are missing; the validator decides what to keep. An error
// means the document could not be parsed at all.
func (e *SelectorExtractor) Extract(_ context.Context, page int, body []byte) ([]article.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var records []article.RawRecord
	doc.Find(e.cfg.ItemSelector).Each(func(_ int, item *goquery.Selection) {
		link := e.resolve(item)
		records = append(records, article.RawRecord{
			IDCandidate: e.articleID(link),
			Title:       strings.TrimSpace(item.Find(e.cfg.TitleSelector).First().Text()),
			URL:         link,
			Date:        e.dateText(item),
			PageNumber:  page,
		})
	})
	return records, nil
}

func (e *SelectorExtractor) resolve(item *goquery.Selection) string {
	href, ok := item.Find(e.cfg.LinkSelector).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return e.base.ResolveReference(ref).String()
}

func (e *SelectorExtractor) articleID(link string) string {
	if link == "" {
		return ""
	}
	m := e.idRegex.FindStringSubmatch(link)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// dateText reads the date cell. Cells look like "Category | lunes, 20 de
// enero de 2025"; the date is the second field.
func (e *SelectorExtractor) dateText(item *goquery.Selection) string {
	text := strings.TrimSpace(item.Find(e.cfg.DateSelector).First().Text())
	if e.cfg.DateSeparator == "" || !strings.Contains(text, e.cfg.DateSeparator) {
		return text
	}
	parts := strings.Split(text, e.cfg.DateSeparator)
	return strings.TrimSpace(parts[1])
}

// PageURL returns the listing URL for page.
func PageURL(listingURL string, page int) string {
	listingURL = strings.TrimRight(listingURL, "/")
	if page <= 1 {
		return listingURL
	}
	return listingURL + "/page/" + strconv.Itoa(page)
}

// MaxPageFromHTML returns the highest /page/N link matched by selector.
func MaxPageFromHTML(body []byte, selector string) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse html: %w", err)
	}
	links := doc.Find(selector)
	if links.Length() == 0 {
		return 0, ErrNoPagination
	}
	maxPage := 1
	links.Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if n, ok := pageNumber(href); ok && n > maxPage {
			maxPage = n
		}
	})
	return maxPage, nil
}

func pageNumber(href string) (int, bool) {
	idx := strings.LastIndex(href, "/page/")
	if idx < 0 {
		return 0, false
	}
	rest := href[idx+len("/page/"):]
	if cut := strings.IndexAny(rest, "/?#"); cut >= 0 {
		rest = rest[:cut]
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
