// Package postgres exports the crawled corpus into Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/article"
)

const (
	defaultTable     = "articles"
	defaultBatchSize = 500
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var articleColumns = []string{
	"id",
	"title",
	"url",
	"date_published",
	"date_raw",
	"page_number",
	"scraped_at",
}

// Config controls the Postgres connection pool used for the export.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// Pool is the subset of pgxpool.Pool the exporter needs.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// ArticleExporter upserts articles keyed by id, so repeated exports of a
// growing corpus converge on the same table contents.
type ArticleExporter struct {
	pool      Pool
	table     string
	batchSize int
	builder   sq.StatementBuilderType
	logger    *zap.Logger
}

// NewArticleExporter connects to Postgres using cfg.
func NewArticleExporter(ctx context.Context, cfg Config, logger *zap.Logger) (*ArticleExporter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	exporter, err := NewArticleExporterWithPool(pool, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return exporter, nil
}

// NewArticleExporterWithPool constructs an exporter from an existing pool
// (primarily for testing).
func NewArticleExporterWithPool(pool Pool, cfg Config, logger *zap.Logger) (*ArticleExporter, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleExporter{
		pool:      pool,
		table:     table,
		batchSize: batch,
		builder:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger:    logger,
	}, nil
}

// Close releases the underlying pool resources.
func (e *ArticleExporter) Close() {
	if e == nil || e.pool == nil {
		return
	}
	e.pool.Close()
}

// EnsureSchema creates the export table when it does not exist.
func (e *ArticleExporter) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT PRIMARY KEY,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	date_published DATE NOT NULL,
	date_raw TEXT NOT NULL DEFAULT '',
	page_number INTEGER NOT NULL,
	scraped_at TIMESTAMPTZ NOT NULL
)`, e.table)
	if _, err := e.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", e.table, err)
	}
	return nil
}

// Export upserts articles in batches inside one transaction and returns the
// number of rows written.
func (e *ArticleExporter) Export(ctx context.Context, articles []article.Article) (written int, err error) {
	if len(articles) == 0 {
		return 0, nil
	}
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin export: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				e.logger.Warn("export rollback failed", zap.Error(rbErr))
			}
		}
	}()

	for start := 0; start < len(articles); start += e.batchSize {
		end := min(start+e.batchSize, len(articles))
		query, args, buildErr := e.upsert(articles[start:end])
		if buildErr != nil {
			return 0, fmt.Errorf("build upsert: %w", buildErr)
		}
		tag, execErr := tx.Exec(ctx, query, args...)
		if execErr != nil {
			return 0, fmt.Errorf("upsert articles %d-%d: %w", start, end-1, execErr)
		}
		written += int(tag.RowsAffected())
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit export: %w", err)
	}
	e.logger.Info("articles exported",
		zap.String("table", e.table),
		zap.Int("articles", len(articles)),
		zap.Int("rows", written),
	)
	return written, nil
}

func (e *ArticleExporter) upsert(batch []article.Article) (string, []any, error) {
	insert := e.builder.Insert(e.table).Columns(articleColumns...)
	for _, a := range batch {
		insert = insert.Values(
			a.ID,
			a.Title,
			a.URL,
			a.DatePublished,
			a.DateRaw,
			a.PageNumber,
			a.ScrapedAt,
		)
	}
	updates := make([]string, 0, len(articleColumns)-1)
	for _, col := range articleColumns[1:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return insert.Suffix("ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ", ")).ToSql()
}
