package similarity

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Artifact names written by Publish.
const (
	ReportFileName  = "similarity_report.json"
	SummaryFileName = "similarity_summary.csv"
)

// PairwiseSummary describes the pairwise stage, including whether it ran.
type PairwiseSummary struct {
	Computed    bool    `json:"computed"`
	Skipped     bool    `json:"skipped"`
	SkipReason  string  `json:"skip_reason,omitempty"`
	Ceiling     int     `json:"ceiling"`
	Threshold   float64 `json:"threshold"`
	ShingleSize int     `json:"shingle_size"`
	Comparisons int64   `json:"comparisons"`
	PairCount   int     `json:"pair_count"`
}

// Report is the outcome of one analysis run. DuplicationRate only counts
// exact-match clusters; pairwise results are reported on their own.
type Report struct {
	GeneratedAt           time.Time       `json:"generated_at"`
	TotalArticles         int             `json:"total_articles"`
	ExactClusterCount     int             `json:"exact_cluster_count"`
	DuplicateClusterCount int             `json:"duplicate_cluster_count"`
	LargestClusterSize    int             `json:"largest_cluster_size"`
	DuplicateArticles     int             `json:"duplicate_articles"`
	DuplicationRate       float64         `json:"duplication_rate"`
	UniquenessRate        float64         `json:"uniqueness_rate"`
	DistinctTitles        int             `json:"distinct_titles"`
	Pairwise              PairwiseSummary `json:"pairwise"`
	Clusters              []Cluster       `json:"clusters"`
	Pairs                 []Pair          `json:"pairs"`
}

func newReport(now time.Time, total int, clusters []Cluster) Report {
	r := Report{
		GeneratedAt:       now,
		TotalArticles:     total,
		ExactClusterCount: len(clusters),
		DistinctTitles:    len(clusters),
		Clusters:          clusters,
	}
	for _, c := range clusters {
		if c.Size > r.LargestClusterSize {
			r.LargestClusterSize = c.Size
		}
		if c.Size > 1 {
			r.DuplicateClusterCount++
			r.DuplicateArticles += c.Size
		}
	}
	if total > 0 {
		r.DuplicationRate = float64(r.DuplicateArticles) / float64(total)
	}
	r.UniquenessRate = 1 - r.DuplicationRate
	return r
}

// DuplicateClusters returns only the clusters with more than one member.
func (r Report) DuplicateClusters() []Cluster {
	out := make([]Cluster, 0, r.DuplicateClusterCount)
	for _, c := range r.Clusters {
		if c.Size > 1 {
			out = append(out, c)
		}
	}
	return out
}

// WriteJSON encodes the full report.
func (r Report) WriteJSON(w io.Writer) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode similarity report: %w", err)
	}
	return nil
}

// WriteSummaryCSV writes the headline metrics as Metric,Value rows.
func (r Report) WriteSummaryCSV(w io.Writer) error {
	pairs := "skipped"
	if r.Pairwise.Computed {
		pairs = strconv.Itoa(r.Pairwise.PairCount)
	}
	rows := [][]string{
		{"Metric", "Value"},
		{"Total Articles", strconv.Itoa(r.TotalArticles)},
		{"Exact Match Clusters", strconv.Itoa(r.ExactClusterCount)},
		{"Duplicate Clusters", strconv.Itoa(r.DuplicateClusterCount)},
		{"Articles in Duplicate Clusters", strconv.Itoa(r.DuplicateArticles)},
		{"Largest Cluster Size", strconv.Itoa(r.LargestClusterSize)},
		{"Duplication Rate", percent(r.DuplicationRate)},
		{"Distinct Titles", strconv.Itoa(r.DistinctTitles)},
		{"Uniqueness Rate", percent(r.UniquenessRate)},
		{fmt.Sprintf("Similar Pairs (>=%s)", strconv.FormatFloat(r.Pairwise.Threshold, 'f', -1, 64)), pairs},
	}
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write similarity summary: %w", err)
	}
	return nil
}

func percent(rate float64) string {
	return strconv.FormatFloat(rate*100, 'f', 2, 64) + "%"
}

// BlobStore persists report artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publish writes the JSON report and the summary CSV under prefix and
// returns the URI of each artifact keyed by file name.
func (r Report) Publish(ctx context.Context, store BlobStore, prefix string) (map[string]string, error) {
	var jsonBuf, csvBuf bytes.Buffer
	if err := r.WriteJSON(&jsonBuf); err != nil {
		return nil, err
	}
	if err := r.WriteSummaryCSV(&csvBuf); err != nil {
		return nil, err
	}
	artifacts := []struct {
		name        string
		contentType string
		body        *bytes.Buffer
	}{
		{name: ReportFileName, contentType: "application/json", body: &jsonBuf},
		{name: SummaryFileName, contentType: "text/csv", body: &csvBuf},
	}
	uris := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		uri, err := store.PutObject(ctx, path.Join(prefix, a.name), a.contentType, a.body)
		if err != nil {
			return nil, fmt.Errorf("publish %s: %w", a.name, err)
		}
		uris[a.name] = uri
	}
	return uris, nil
}
