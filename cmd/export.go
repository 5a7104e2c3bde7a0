package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/storage/postgres"
)

// newExportCmd creates the 'export' subcommand, which upserts the corpus
// into PostgreSQL.
func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Upserts the collected articles into PostgreSQL",
		Long: `Loads the corpus from --input (an articles CSV or a checkpoint directory)
or from the latest checkpoint and upserts it into postgres.table, creating
the table when it does not exist. Re-exporting the same corpus is a no-op
apart from refreshed columns.`,
		RunE: runExportCommand,
	}
	cmd.Flags().String("dsn", "", "PostgreSQL connection string")
	cmd.Flags().String("input", "", "articles CSV or checkpoint directory")
	return cmd
}

func runExportCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required for export (set --dsn or Q2BS_POSTGRES_DSN)")
	}

	articles, err := loadCorpus(cmd.Context(), appInstance, cfg.Similarity.Input)
	if err != nil {
		return err
	}

	exporter, err := newExporter(cmd, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer exporter.Close()

	if err := exporter.EnsureSchema(cmd.Context()); err != nil {
		return err
	}
	written, err := exporter.Export(cmd.Context(), articles)
	if err != nil {
		return err
	}
	logger.Info("export finished", zap.Int("articles", len(articles)), zap.Int("rows", written))
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d articles to %s\n", len(articles), cfg.Postgres.Table)
	return nil
}

// newExporter is a variable so tests can substitute a mocked pool.
var newExporter = func(cmd *cobra.Command, cfg postgres.Config, logger *zap.Logger) (*postgres.ArticleExporter, error) {
	return postgres.NewArticleExporter(cmd.Context(), cfg, logger.Named("postgres"))
}
