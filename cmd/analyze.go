package cmd

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/article"
	"github.com/Blackmvmba88/q2bs/internal/clock/system"
	idgen "github.com/Blackmvmba88/q2bs/internal/id/uuid"
	"github.com/Blackmvmba88/q2bs/internal/publisher"
	"github.com/Blackmvmba88/q2bs/internal/similarity"
)

// newAnalyzeCmd creates the 'analyze' subcommand, which runs the similarity
// engine over a finished corpus.
func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Finds exact and near-duplicate article titles",
		Long: `Clusters articles by normalized title and, for corpora below the pairwise
ceiling, scores every pair of titles by shingle Jaccard similarity. The
corpus comes from --input (an articles CSV or a checkpoint directory) or
from the latest checkpoint.`,
		RunE: runAnalyzeCommand,
	}
	defaults := similarity.DefaultConfig()
	cmd.Flags().Float64("threshold", defaults.Threshold, "minimum similarity for a reported pair")
	cmd.Flags().Int("pairwise-ceiling", defaults.PairwiseCeiling, "largest corpus scored pairwise")
	cmd.Flags().Int("workers", defaults.Workers, "goroutines used for pairwise scoring")
	cmd.Flags().String("input", "", "articles CSV or checkpoint directory")
	return cmd
}

func runAnalyzeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()

	articles, err := loadCorpus(cmd.Context(), appInstance, cfg.Similarity.Input)
	if err != nil {
		return err
	}
	runID, err := idgen.NewUUIDGenerator().NewID()
	if err != nil {
		return fmt.Errorf("generate analysis id: %w", err)
	}

	report, uris, err := analyzeCorpus(cmd.Context(), appInstance, runID, articles)
	if err != nil {
		return err
	}
	printAnalysis(cmd.OutOrStdout(), report, uris)
	return nil
}

// analyzeCorpus runs the engine, stores the report under analysis/<runID>
// and announces it.
func analyzeCorpus(ctx context.Context, a App, runID string, articles []article.Article) (similarity.Report, map[string]string, error) {
	cfg := a.GetConfig()
	logger := a.GetLogger().With(zap.String("run_id", runID))

	engine, err := similarity.New(cfg.Similarity.Config,
		similarity.WithLogger(logger.Named("similarity")),
		similarity.WithClock(system.New()),
	)
	if err != nil {
		return similarity.Report{}, nil, err
	}
	start := time.Now()
	report, err := engine.Analyze(ctx, articles)
	if err != nil {
		return similarity.Report{}, nil, fmt.Errorf("analyze: %w", err)
	}

	uris, err := report.Publish(ctx, a.GetBlobStore(), path.Join("analysis", runID))
	if err != nil {
		return report, nil, err
	}
	logger.Info("analysis stored",
		zap.Int("articles", report.TotalArticles),
		zap.Duration("elapsed", time.Since(start)),
		zap.Any("artifacts", uris),
	)

	a.GetNotifier().Notify(ctx, publisher.Event{
		Kind:       publisher.KindAnalysisCompleted,
		RunID:      runID,
		OccurredAt: report.GeneratedAt,
		Artifacts:  uris,
		Summary: map[string]any{
			"total_articles":   report.TotalArticles,
			"duplicate_rate":   report.DuplicationRate,
			"uniqueness_rate":  report.UniquenessRate,
			"pairs":            report.Pairwise.PairCount,
			"pairwise_skipped": report.Pairwise.Skipped,
		},
	})
	return report, uris, nil
}

func printAnalysis(w io.Writer, report similarity.Report, uris map[string]string) {
	fmt.Fprintf(w, "Total articles:      %d\n", report.TotalArticles)
	fmt.Fprintf(w, "Duplicate clusters:  %d\n", report.DuplicateClusterCount)
	fmt.Fprintf(w, "Duplication rate:    %.2f%%\n", report.DuplicationRate*100)
	fmt.Fprintf(w, "Uniqueness rate:     %.2f%%\n", report.UniquenessRate*100)
	if report.Pairwise.Skipped {
		fmt.Fprintf(w, "Similar pairs:       skipped (%s)\n", report.Pairwise.SkipReason)
	} else {
		fmt.Fprintf(w, "Similar pairs:       %d (>= %.2f)\n", report.Pairwise.PairCount, report.Pairwise.Threshold)
	}
	for _, name := range []string{similarity.ReportFileName, similarity.SummaryFileName} {
		if uri, ok := uris[name]; ok {
			fmt.Fprintf(w, "Saved: %s\n", uri)
		}
	}
}
