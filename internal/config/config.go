// Package config loads and validates q2bs configuration via Viper. Files,
// Q2BS_* environment variables and command-line flags share one key space.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/Blackmvmba88/q2bs/internal/checkpoint"
	"github.com/Blackmvmba88/q2bs/internal/crawl"
	"github.com/Blackmvmba88/q2bs/internal/extract"
	"github.com/Blackmvmba88/q2bs/internal/fetcher"
	collyfetcher "github.com/Blackmvmba88/q2bs/internal/fetcher/colly"
	"github.com/Blackmvmba88/q2bs/internal/similarity"
	"github.com/Blackmvmba88/q2bs/internal/storage/gcs"
	"github.com/Blackmvmba88/q2bs/internal/storage/local"
	"github.com/Blackmvmba88/q2bs/internal/storage/postgres"
)

// EnvPrefix prefixes every environment override, e.g. Q2BS_CRAWLER_SAMPLE.
const EnvPrefix = "Q2BS"

// Storage backends for report artifacts.
const (
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Crawler    CrawlerConfig     `mapstructure:"crawler"`
	HTTP       HTTPConfig        `mapstructure:"http"`
	Extract    ExtractConfig     `mapstructure:"extract"`
	Checkpoint checkpoint.Config `mapstructure:"checkpoint"`
	Similarity SimilarityConfig  `mapstructure:"similarity"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Postgres   postgres.Config   `mapstructure:"postgres"`
	PubSub     PubSubConfig      `mapstructure:"pubsub"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// CrawlerConfig governs one crawl run.
type CrawlerConfig struct {
	crawl.Config `mapstructure:",squash"`
	// Analyze runs the similarity engine on the finished corpus.
	Analyze bool `mapstructure:"analyze"`
}

// HTTPConfig configures the outbound transport and the retry policy.
type HTTPConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Delay          time.Duration `mapstructure:"delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// Fetcher returns the throttle and retry settings.
func (h HTTPConfig) Fetcher() fetcher.Config {
	return fetcher.Config{
		Delay:       h.Delay,
		MaxRetries:  h.MaxRetries,
		BackoffBase: h.BackoffBase,
		BackoffMax:  h.BackoffMax,
	}
}

// Transport returns the colly transport settings.
func (h HTTPConfig) Transport() collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent:      h.UserAgent,
		AcceptLanguage: h.AcceptLanguage,
		RespectRobots:  h.RespectRobots,
		Timeout:        h.Timeout,
	}
}

// ExtractConfig holds listing selectors and the article host allow-list.
type ExtractConfig struct {
	extract.Config `mapstructure:",squash"`
	AllowedHost    string `mapstructure:"allowed_host"`
}

// SimilarityConfig holds engine settings and the analysis input.
type SimilarityConfig struct {
	similarity.Config `mapstructure:",squash"`
	// Input is an articles CSV or a checkpoint directory. Empty means the
	// configured checkpoint directory.
	Input string `mapstructure:"input"`
}

// StorageConfig selects where report artifacts are written.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// PubSubConfig holds metadata for completion notifications. Notifications
// are disabled while ProjectID is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != ""
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"sample":           "crawler.sample",
	"max-page":         "crawler.max_page",
	"resume":           "crawler.resume",
	"analyze":          "crawler.analyze",
	"checkpoint-every": "crawler.checkpoint_every",
	"checkpoint-dir":   "checkpoint.dir",
	"delay":            "http.delay",
	"threshold":        "similarity.threshold",
	"pairwise-ceiling": "similarity.pairwise_ceiling",
	"workers":          "similarity.workers",
	"input":            "similarity.input",
	"output-dir":       "storage.local.base_dir",
	"storage":          "storage.backend",
	"dsn":              "postgres.dsn",
	"addr":             "server.addr",
	"log-level":        "logging.level",
	"dev":              "logging.development",
}

// Load builds a Config from defaults, an optional file, the environment and
// any of flags that carry a known name. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":9090")

	v.SetDefault("crawler.sample", 1)
	v.SetDefault("crawler.max_page", 0)
	v.SetDefault("crawler.resume", false)
	v.SetDefault("crawler.checkpoint_every", 100)
	v.SetDefault("crawler.articles_per_page", crawl.DefaultArticlesPerPage)
	v.SetDefault("crawler.analyze", false)

	fetchDefaults := fetcher.DefaultConfig()
	v.SetDefault("http.user_agent", "q2bs-auditor/1.0")
	v.SetDefault("http.accept_language", "es-ES,es;q=0.9,en;q=0.8")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.delay", fetchDefaults.Delay)
	v.SetDefault("http.max_retries", fetchDefaults.MaxRetries)
	v.SetDefault("http.backoff_base", fetchDefaults.BackoffBase)
	v.SetDefault("http.backoff_max", fetchDefaults.BackoffMax)

	ex := extract.DefaultConfig()
	v.SetDefault("extract.base_url", ex.BaseURL)
	v.SetDefault("extract.listing_url", ex.ListingURL)
	v.SetDefault("extract.item_selector", ex.ItemSelector)
	v.SetDefault("extract.link_selector", ex.LinkSelector)
	v.SetDefault("extract.title_selector", ex.TitleSelector)
	v.SetDefault("extract.date_selector", ex.DateSelector)
	v.SetDefault("extract.date_separator", ex.DateSeparator)
	v.SetDefault("extract.pagination_selector", ex.PaginationSelector)
	v.SetDefault("extract.id_pattern", ex.IDPattern)
	v.SetDefault("extract.allowed_host", "q2bstudio.com")

	v.SetDefault("checkpoint.dir", "q2bs_data/checkpoints")
	v.SetDefault("checkpoint.keep", 3)

	sim := similarity.DefaultConfig()
	v.SetDefault("similarity.threshold", sim.Threshold)
	v.SetDefault("similarity.pairwise_ceiling", sim.PairwiseCeiling)
	v.SetDefault("similarity.shingle_size", sim.ShingleSize)
	v.SetDefault("similarity.workers", sim.Workers)
	v.SetDefault("similarity.input", "")

	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.local.base_dir", "q2bs_data/reports")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "q2bs")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "articles")
	v.SetDefault("postgres.batch_size", 500)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "q2bs-runs")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Crawler.Config.Validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.Delay < 0 {
		return fmt.Errorf("http.delay must be >= 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.BackoffBase <= 0 || c.HTTP.BackoffMax < c.HTTP.BackoffBase {
		return fmt.Errorf("http.backoff_base must be > 0 and <= http.backoff_max")
	}
	if strings.TrimSpace(c.Extract.ListingURL) == "" {
		return fmt.Errorf("extract.listing_url is required")
	}
	if strings.TrimSpace(c.Checkpoint.Dir) == "" {
		return fmt.Errorf("checkpoint.dir is required")
	}
	if c.Checkpoint.Keep < 1 {
		return fmt.Errorf("checkpoint.keep must be >= 1")
	}
	if err := c.Similarity.Config.Validate(); err != nil {
		return fmt.Errorf("similarity: %w", err)
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case StorageGCS:
		if strings.TrimSpace(c.Storage.GCS.Bucket) == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.backend %q must be one of local, gcs, memory", c.Storage.Backend)
	}
	if c.PubSub.Enabled() && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}
