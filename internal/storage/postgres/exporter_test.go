package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackmvmba88/q2bs/internal/article"
)

func sampleArticles() []article.Article {
	scraped := time.Unix(1737370000, 0).UTC()
	published := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	return []article.Article{
		{ID: 101, Title: "AI Writes Music", URL: "https://www.q2bstudio.com/nuestro-blog/101", DatePublished: published, DateRaw: "20 de enero de 2025", PageNumber: 1, ScrapedAt: scraped},
		{ID: 100, Title: "ai writes music!!", URL: "https://www.q2bstudio.com/nuestro-blog/100", DatePublished: published, PageNumber: 1, ScrapedAt: scraped},
		{ID: 99, Title: "Cloud costs", URL: "https://www.q2bstudio.com/nuestro-blog/99", DatePublished: published, PageNumber: 2, ScrapedAt: scraped},
	}
}

func argsFor(articles ...article.Article) []any {
	var args []any
	for _, a := range articles {
		args = append(args, a.ID, a.Title, a.URL, a.DatePublished, a.DateRaw, a.PageNumber, a.ScrapedAt)
	}
	return args
}

func TestExportUpsertsInBatches(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exporter, err := NewArticleExporterWithPool(mock, Config{BatchSize: 2}, nil)
	require.NoError(t, err)

	articles := sampleArticles()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO articles \(id,title,url,date_published,date_raw,page_number,scraped_at\) VALUES \(\$1,.*\),\(\$8,.*\) ON CONFLICT \(id\) DO UPDATE SET title = EXCLUDED.title`).
		WithArgs(argsFor(articles[0], articles[1])...).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`INSERT INTO articles .* VALUES \(\$1,\$2,\$3,\$4,\$5,\$6,\$7\) ON CONFLICT`).
		WithArgs(argsFor(articles[2])...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	written, err := exporter.Export(context.Background(), articles)
	require.NoError(t, err)
	assert.Equal(t, 3, written)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exporter, err := NewArticleExporterWithPool(mock, Config{Table: "corpus"}, nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO corpus").
		WithArgs(argsFor(sampleArticles()...)...).
		WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	_, err = exporter.Export(context.Background(), sampleArticles())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation does not exist")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exporter, err := NewArticleExporterWithPool(mock, Config{}, nil)
	require.NoError(t, err)

	written, err := exporter.Export(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, written)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exporter, err := NewArticleExporterWithPool(mock, Config{}, nil)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS articles").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, exporter.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewArticleExporterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewArticleExporterWithPool(nil, Config{}, nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewArticleExporterWithPool(mock, Config{Table: "articles; DROP TABLE x"}, nil)
	require.Error(t, err)

	_, err = NewArticleExporter(context.Background(), Config{}, nil)
	require.Error(t, err)
}
