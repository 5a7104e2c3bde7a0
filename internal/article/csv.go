package article

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// CSVHeader is the column layout of articles.csv.
var CSVHeader = []string{"id", "title", "url", "date_published", "date_raw", "page_number", "scraped_at"}

// WriteCSV writes articles with a header row.
func WriteCSV(w io.Writer, articles []Article) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, a := range articles {
		row := []string{
			strconv.FormatInt(a.ID, 10),
			a.Title,
			a.URL,
			a.PublishedDay(),
			a.DateRaw,
			strconv.Itoa(a.PageNumber),
			a.ScrapedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", a.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// CSVResult is the outcome of reading an articles CSV.
type CSVResult struct {
	Articles []Article
	Rejected int
}

// ReadCSV loads articles written by WriteCSV. Rows that fail validation are
// counted and skipped rather than aborting the read; a repeated ID keeps the
// first row.
func ReadCSV(r io.Reader, v *Validator) (CSVResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return CSVResult{}, fmt.Errorf("read csv header: empty input")
		}
		return CSVResult{}, fmt.Errorf("read csv header: %w", err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return CSVResult{}, err
	}

	var res CSVResult
	seen := make(map[int64]struct{})
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read csv row: %w", err)
		}
		a, err := decodeRow(row, index)
		if err == nil {
			err = v.Check(a)
		}
		if err != nil {
			res.Rejected++
			continue
		}
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		res.Articles = append(res.Articles, a)
	}
	return res, nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, required := range []string{"id", "title", "url", "date_published", "page_number"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("csv missing column %q", required)
		}
	}
	return index, nil
}

func decodeRow(row []string, index map[string]int) (Article, error) {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}
	id, err := strconv.ParseInt(field("id"), 10, 64)
	if err != nil {
		return Article{}, &Rejection{Reason: ReasonInvalidID, Detail: field("id")}
	}
	published, err := ParseDate(field("date_published"))
	if err != nil {
		return Article{}, &Rejection{Reason: ReasonInvalidDate, Detail: field("date_published")}
	}
	page, err := strconv.Atoi(field("page_number"))
	if err != nil {
		return Article{}, &Rejection{Reason: ReasonInvalidPage, Detail: field("page_number")}
	}
	var scraped time.Time
	if raw := field("scraped_at"); raw != "" {
		scraped, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return Article{}, fmt.Errorf("parse scraped_at %q: %w", raw, err)
		}
	}
	return Article{
		ID:            id,
		Title:         field("title"),
		URL:           field("url"),
		DatePublished: published,
		DateRaw:       field("date_raw"),
		PageNumber:    page,
		ScrapedAt:     scraped,
	}, nil
}
