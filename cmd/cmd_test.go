package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/app"
	"github.com/Blackmvmba88/q2bs/internal/article"
	"github.com/Blackmvmba88/q2bs/internal/config"
	"github.com/Blackmvmba88/q2bs/internal/similarity"
	"github.com/Blackmvmba88/q2bs/internal/storage/memory"
	"github.com/Blackmvmba88/q2bs/internal/storage/postgres"
)

// execute runs the root command with args and returns the App the command
// built together with everything it printed.
func execute(t *testing.T, args ...string) (*app.App, string, error) {
	t.Helper()
	var captured *app.App
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		captured = a
		return a, nil
	}
	t.Cleanup(func() { newApp = orig })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return captured, out.String(), err
}

func blobKeys(t *testing.T, a *app.App) []string {
	t.Helper()
	require.NotNil(t, a)
	store, ok := a.GetBlobStore().(*memory.BlobStore)
	require.True(t, ok, "expected the memory backend")
	return store.Keys()
}

// hasObject reports whether any key names an object called name.
func hasObject(keys []string, name string) bool {
	for _, k := range keys {
		if path.Base(k) == name {
			return true
		}
	}
	return false
}

func writeCorpusCSV(t *testing.T, dir string) string {
	t.Helper()
	published := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	scraped := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	articles := []article.Article{
		{ID: 3, Title: "AI Writes Music", URL: "https://www.q2bstudio.com/nuestro-blog/3", DatePublished: published, PageNumber: 1, ScrapedAt: scraped},
		{ID: 2, Title: "ai writes music!", URL: "https://www.q2bstudio.com/nuestro-blog/2", DatePublished: published, PageNumber: 1, ScrapedAt: scraped},
		{ID: 1, Title: "Cloud cost control", URL: "https://www.q2bstudio.com/nuestro-blog/1", DatePublished: published.AddDate(0, 0, 1), PageNumber: 2, ScrapedAt: scraped},
	}
	file := filepath.Join(dir, "articles.csv")
	f, err := os.Create(file)
	require.NoError(t, err)
	require.NoError(t, article.WriteCSV(f, articles))
	require.NoError(t, f.Close())
	return file
}

func TestAnalyzeCommand_CSVInput(t *testing.T) {
	dir := t.TempDir()
	input := writeCorpusCSV(t, dir)

	a, out, err := execute(t, "analyze",
		"--input", input,
		"--storage", "memory",
		"--checkpoint-dir", filepath.Join(dir, "checkpoints"),
		"--threshold", "0.5",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "Total articles:      3")
	assert.Contains(t, out, "Duplicate clusters:  1")
	keys := blobKeys(t, a)
	assert.True(t, hasObject(keys, similarity.ReportFileName), "keys: %v", keys)
	assert.True(t, hasObject(keys, similarity.SummaryFileName), "keys: %v", keys)
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "analysis/"), k)
	}
}

func TestAnalyzeCommand_NoCheckpoint(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "analyze",
		"--storage", "memory",
		"--checkpoint-dir", filepath.Join(dir, "checkpoints"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no checkpoint found")
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	_, _, err := execute(t, "analyze", "--storage", "s3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

// listingSite serves a three-page listing with two articles per page. The
// first article on page 1 and the second on page 2 share a title.
func listingSite(t *testing.T) *httptest.Server {
	t.Helper()
	titles := map[int][2]string{
		1: {"AI writes music", "Serverless in practice"},
		2: {"Kubernetes for small teams", "AI Writes Music!"},
		3: {"Designing APIs", "Cloud cost control"},
	}
	page := func(n int) string {
		var b strings.Builder
		b.WriteString("<html><body>")
		for i, title := range titles[n] {
			id := 100 - (n-1)*2 - i
			fmt.Fprintf(&b, `<div class="item-new"><a href="/nuestro-blog/%d">leer</a><div class="title">%s</div>`+
				`<div class="tags"><div class="inner">Tecnología | lunes, %d de enero de 2025</div></div></div>`, id, title, 10+n)
		}
		b.WriteString(`<nav aria-label="Page navigation example"><a class="page-link" href="/blog/page/2">2</a>` +
			`<a class="page-link" href="/blog/page/3">3</a></nav></body></html>`)
		return b.String()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/blog", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, page(1))
	})
	for _, n := range []int{2, 3} {
		mux.HandleFunc(fmt.Sprintf("/blog/page/%d", n), func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, page(n))
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeCrawlConfig(t *testing.T, dir, siteURL string) string {
	t.Helper()
	body := fmt.Sprintf(`
extract:
  base_url: %[1]s
  listing_url: %[1]s/blog
  allowed_host: 127.0.0.1
http:
  delay: 0s
  timeout: 5s
  backoff_base: 1ms
  backoff_max: 5ms
storage:
  backend: memory
checkpoint:
  dir: %[2]s
`, siteURL, filepath.Join(dir, "checkpoints"))
	file := filepath.Join(dir, "q2bs.yaml")
	require.NoError(t, os.WriteFile(file, []byte(body), 0o600))
	return file
}

func TestCrawlCommand_EndToEnd(t *testing.T) {
	srv := listingSite(t)
	dir := t.TempDir()
	cfgPath := writeCrawlConfig(t, dir, srv.URL)

	a, out, err := execute(t, "crawl", "--config", cfgPath, "--checkpoint-every", "2", "--analyze")
	require.NoError(t, err)

	snap, err := a.GetCheckpoints().LoadLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Progress.LastPageCompleted)
	assert.Len(t, snap.Articles, 6)
	assert.Equal(t, int64(95), snap.Progress.MinArticleIDSeen)
	assert.Equal(t, int64(100), snap.Progress.MaxArticleIDSeen)

	keys := blobKeys(t, a)
	for _, name := range []string{articlesFileName, crawlReportFileName, dailySummaryFileName, similarity.ReportFileName} {
		assert.True(t, hasObject(keys, name), "missing %s in %v", name, keys)
	}
	assert.Contains(t, out, "Total articles:      6")
	assert.Contains(t, out, "Duplicate clusters:  1")

	store := a.GetBlobStore().(*memory.BlobStore)
	reports := 0
	for _, k := range keys {
		if path.Base(k) != crawlReportFileName {
			continue
		}
		reports++
		data, _, ok := store.Get(k)
		require.True(t, ok)
		var summary crawlSummary
		require.NoError(t, json.Unmarshal(data, &summary))
		assert.Equal(t, 6, summary.Crawl.TotalArticles)
		assert.Equal(t, 3, summary.Crawl.PagesFetched)
		assert.Equal(t, 3, summary.Stats.Days)
	}
	assert.Equal(t, 1, reports)
}

func TestCrawlCommand_ResumeIsIdempotent(t *testing.T) {
	srv := listingSite(t)
	dir := t.TempDir()
	cfgPath := writeCrawlConfig(t, dir, srv.URL)

	_, _, err := execute(t, "crawl", "--config", cfgPath, "--max-page", "3")
	require.NoError(t, err)

	a, _, err := execute(t, "crawl", "--config", cfgPath, "--max-page", "3", "--resume")
	require.NoError(t, err)

	snap, err := a.GetCheckpoints().LoadLatest(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Articles, 6)
	assert.Equal(t, 3, snap.Progress.LastPageCompleted)
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	input := writeCorpusCSV(t, dir)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	orig := newExporter
	newExporter = func(_ *cobra.Command, cfg postgres.Config, logger *zap.Logger) (*postgres.ArticleExporter, error) {
		return postgres.NewArticleExporterWithPool(mock, cfg, logger)
	}
	t.Cleanup(func() { newExporter = orig })

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS articles`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO articles .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 3))
	mock.ExpectCommit()
	mock.ExpectClose()

	_, out, err := execute(t, "export",
		"--dsn", "postgres://q2bs@localhost/q2bs",
		"--input", input,
		"--storage", "memory",
		"--checkpoint-dir", filepath.Join(dir, "checkpoints"),
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 3 articles to articles")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportCommand_RequiresDSN(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "export",
		"--storage", "memory",
		"--checkpoint-dir", filepath.Join(dir, "checkpoints"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.dsn is required")
}

func TestServeHTTP_ShutsDownOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Storage.Backend = config.StorageMemory
	cfg.Checkpoint.Dir = filepath.Join(dir, "checkpoints")
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHTTP(ctx, ln, newOpsServer(a, nil).Handler(), zap.NewNop()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + ln.Addr().String() + "/api/checkpoint")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
