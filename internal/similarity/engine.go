package similarity

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/Blackmvmba88/q2bs/internal/article"
	"github.com/Blackmvmba88/q2bs/internal/metrics"
)

// Defaults applied by DefaultConfig.
const (
	DefaultThreshold       = 0.85
	DefaultPairwiseCeiling = 10000
)

// Config controls the engine.
type Config struct {
	// Threshold is the minimum score for a pair to be reported.
	Threshold float64 `mapstructure:"threshold"`
	// PairwiseCeiling is the largest corpus pairwise scoring runs on.
	PairwiseCeiling int `mapstructure:"pairwise_ceiling"`
	// ShingleSize is the n-gram width in characters.
	ShingleSize int `mapstructure:"shingle_size"`
	// Workers bounds the goroutines used for pairwise scoring.
	Workers int `mapstructure:"workers"`
}

// DefaultConfig returns the standard analysis settings.
func DefaultConfig() Config {
	return Config{
		Threshold:       DefaultThreshold,
		PairwiseCeiling: DefaultPairwiseCeiling,
		ShingleSize:     DefaultShingleSize,
		Workers:         runtime.GOMAXPROCS(0),
	}
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	switch {
	case c.Threshold < 0 || c.Threshold > 1:
		return fmt.Errorf("threshold %v must be within [0,1]", c.Threshold)
	case c.PairwiseCeiling < 0:
		return fmt.Errorf("pairwise ceiling %d must not be negative", c.PairwiseCeiling)
	case c.ShingleSize < 1:
		return fmt.Errorf("shingle size %d must be at least 1", c.ShingleSize)
	case c.Workers < 1:
		return fmt.Errorf("workers %d must be at least 1", c.Workers)
	}
	return nil
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source used for GeneratedAt.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// Engine analyses a read-only corpus.
type Engine struct {
	cfg    Config
	logger *zap.Logger
	clock  Clock
}

// New validates cfg and builds an Engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("similarity config: %w", err)
	}
	e := &Engine{cfg: cfg, logger: zap.NewNop(), clock: utcClock{}}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Analyze clusters articles by normalized title and, when the corpus is
// within the pairwise ceiling, scores every pair. articles is not modified.
func (e *Engine) Analyze(ctx context.Context, articles []article.Article) (Report, error) {
	start := time.Now()
	fold := cases.Fold()
	keys := make([]string, len(articles))
	for i, a := range articles {
		keys[i] = normalizeWith(fold, a.Title)
	}
	clusters := clusterKeys(articles, keys)
	metrics.ObserveSimilarityStage("exact", time.Since(start))

	report := newReport(e.clock.Now(), len(articles), clusters)
	report.Pairwise = PairwiseSummary{
		Ceiling:     e.cfg.PairwiseCeiling,
		Threshold:   e.cfg.Threshold,
		ShingleSize: e.cfg.ShingleSize,
	}
	report.Pairs = []Pair{}

	n := len(articles)
	if n > e.cfg.PairwiseCeiling {
		report.Pairwise.Skipped = true
		report.Pairwise.SkipReason = fmt.Sprintf(
			"corpus of %d articles exceeds pairwise ceiling of %d", n, e.cfg.PairwiseCeiling)
		e.logger.Warn("pairwise scoring skipped",
			zap.Int("articles", n),
			zap.Int("ceiling", e.cfg.PairwiseCeiling),
		)
		metrics.SetSimilarityPairs(0)
		return report, nil
	}

	start = time.Now()
	items := make([]scoredItem, n)
	for i, a := range articles {
		items[i] = scoredItem{
			id:       a.ID,
			title:    a.Title,
			key:      keys[i],
			shingles: Shingles(keys[i], e.cfg.ShingleSize),
		}
	}
	pairs, err := scorePairs(ctx, items, e.cfg.Threshold, e.cfg.Workers)
	if err != nil {
		return Report{}, fmt.Errorf("score pairs: %w", err)
	}
	metrics.ObserveSimilarityStage("pairwise", time.Since(start))
	metrics.SetSimilarityPairs(len(pairs))

	report.Pairwise.Computed = true
	report.Pairwise.Comparisons = int64(n) * int64(n-1) / 2
	report.Pairwise.PairCount = len(pairs)
	report.Pairs = pairs

	e.logger.Info("similarity analysis complete",
		zap.Int("articles", n),
		zap.Int("clusters", report.ExactClusterCount),
		zap.Int("duplicate_clusters", report.DuplicateClusterCount),
		zap.Int("pairs", len(pairs)),
	)
	return report, nil
}

type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}
