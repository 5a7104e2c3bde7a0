package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/app"
	"github.com/Blackmvmba88/q2bs/internal/article"
	"github.com/Blackmvmba88/q2bs/internal/checkpoint"
	"github.com/Blackmvmba88/q2bs/internal/crawl"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Crawl artifact names.
const (
	articlesFileName     = "articles.csv"
	crawlReportFileName  = "report.json"
	dailySummaryFileName = "daily_summary.csv"
)

// crawlSummary is the body of report.json.
type crawlSummary struct {
	Crawl crawl.Report  `json:"crawl"`
	Stats article.Stats `json:"stats"`
}

type artifact struct {
	name        string
	contentType string
	write       func(w io.Writer) error
}

// putArtifacts renders each artifact and stores it under prefix. It returns
// the URI of every stored artifact keyed by name.
func putArtifacts(ctx context.Context, store app.BlobStore, prefix string, artifacts []artifact) (map[string]string, error) {
	uris := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		var buf bytes.Buffer
		if err := a.write(&buf); err != nil {
			return uris, fmt.Errorf("render %s: %w", a.name, err)
		}
		uri, err := store.PutObject(ctx, path.Join(prefix, a.name), a.contentType, &buf)
		if err != nil {
			return uris, fmt.Errorf("store %s: %w", a.name, err)
		}
		uris[a.name] = uri
	}
	return uris, nil
}

// crawlArtifacts lists the corpus CSV, the JSON report and the daily
// publication counts for a finished run.
func crawlArtifacts(report crawl.Report, articles []article.Article) []artifact {
	stats := article.ComputeStats(articles)
	return []artifact{
		{
			name:        articlesFileName,
			contentType: "text/csv",
			write:       func(w io.Writer) error { return article.WriteCSV(w, articles) },
		},
		{
			name:        crawlReportFileName,
			contentType: "application/json",
			write: func(w io.Writer) error {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(crawlSummary{Crawl: report, Stats: stats})
			},
		},
		{
			name:        dailySummaryFileName,
			contentType: "text/csv",
			write:       stats.WriteDailyCSV,
		},
	}
}

// loadCorpus reads the articles to analyze or export. An empty input uses
// the configured checkpoint store; a directory is read as a checkpoint
// directory; anything else is read as an articles CSV.
func loadCorpus(ctx context.Context, a App, input string) ([]article.Article, error) {
	if input == "" {
		snap, err := a.GetCheckpoints().LoadLatest(ctx)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		return snap.Articles, nil
	}

	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}
	if info.IsDir() {
		store, err := checkpoint.NewStore(
			checkpoint.Config{Dir: input, Keep: a.GetConfig().Checkpoint.Keep},
			checkpoint.WithLogger(a.GetLogger().Named("checkpoint")),
			checkpoint.WithValidator(a.GetValidator()),
		)
		if err != nil {
			return nil, err
		}
		snap, err := store.LoadLatest(ctx)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		return snap.Articles, nil
	}

	f, err := os.Open(filepath.Clean(input))
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()
	result, err := article.ReadCSV(f, a.GetValidator())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", input, err)
	}
	if result.Rejected > 0 {
		a.GetLogger().Warn("skipped invalid csv rows", zap.Int("rejected", result.Rejected))
	}
	return result.Articles, nil
}
