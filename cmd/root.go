package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/app"
	"github.com/Blackmvmba88/q2bs/internal/article"
	"github.com/Blackmvmba88/q2bs/internal/checkpoint"
	"github.com/Blackmvmba88/q2bs/internal/config"
	"github.com/Blackmvmba88/q2bs/internal/logging"
	"github.com/Blackmvmba88/q2bs/internal/metrics"
	"github.com/Blackmvmba88/q2bs/internal/publisher"
	"github.com/Blackmvmba88/q2bs/internal/telemetry"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. It allows tests
// to inject their own services.
type App interface {
	Close()
	GetConfig() config.Config
	GetLogger() *zap.Logger
	GetValidator() *article.Validator
	GetCheckpoints() *checkpoint.Store
	GetBlobStore() app.BlobStore
	GetNotifier() *publisher.Notifier
}

// newApp is the application factory. It is a variable so tests can replace
// it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "q2bs",
		Short: "Audits a paginated blog for publication volume and duplicated content.",
		Long: `q2bs crawls a paginated article listing with a resumable, rate-limited
state machine, checkpoints progress to disk, and analyzes the collected
titles for exact and near-duplicate content.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Loads configuration, then builds the application services and
		// stores them in the context for the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			cfg, err := config.Load(path, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			metrics.Init()
			telemetry.Init()

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		// Shuts services down once the subcommand returns.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().String("config", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().String("log-level", "info", "minimum log level")
	cmd.PersistentFlags().Bool("dev", true, "human-readable development logging")
	cmd.PersistentFlags().String("checkpoint-dir", "q2bs_data/checkpoints", "checkpoint directory")
	cmd.PersistentFlags().String("storage", config.StorageLocal, "artifact storage backend: local, gcs or memory")
	cmd.PersistentFlags().String("output-dir", "q2bs_data/reports", "report directory for the local backend")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		_ = zap.L().Sync()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
