// Package cmd defines and implements the CLI commands for the q2bs executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/api"
	"github.com/Blackmvmba88/q2bs/internal/clock/system"
	"github.com/Blackmvmba88/q2bs/internal/crawl"
	"github.com/Blackmvmba88/q2bs/internal/extract"
	"github.com/Blackmvmba88/q2bs/internal/fetcher"
	collyfetcher "github.com/Blackmvmba88/q2bs/internal/fetcher/colly"
	idgen "github.com/Blackmvmba88/q2bs/internal/id/uuid"
	"github.com/Blackmvmba88/q2bs/internal/progress"
	"github.com/Blackmvmba88/q2bs/internal/progress/sinks"
	"github.com/Blackmvmba88/q2bs/internal/publisher"
)

const hubCloseTimeout = 5 * time.Second

// progressCollectors registers the run collectors with the default registry
// once per process.
var progressCollectors = sync.OnceValues(func() (*sinks.PrometheusSink, error) {
	return sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
})

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the article listing",
		Long: `Walks the listing pages from 1 to the last page (or every Nth page with
--sample), retrying transient failures with exponential backoff and saving
a checkpoint every --checkpoint-every pages. An interrupted run saves a
final checkpoint and continues from it with --resume.`,
		RunE: runCrawlCommand,
	}
	cmd.Flags().Bool("resume", false, "continue from the latest checkpoint")
	cmd.Flags().Int("sample", 1, "visit every Nth page")
	cmd.Flags().Int("max-page", 0, "fixed page bound; 0 probes the listing")
	cmd.Flags().Int("checkpoint-every", 100, "pages between checkpoints")
	cmd.Flags().Duration("delay", fetcher.DefaultConfig().Delay, "minimum spacing between requests")
	cmd.Flags().Bool("analyze", false, "run similarity analysis on the finished corpus")
	cmd.Flags().Bool("ops", false, "serve health, metrics and run status on server.addr during the crawl")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collectors, err := progressCollectors()
	if err != nil {
		return err
	}
	status := sinks.NewStatusSink()
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		status,
		collectors,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hubCloseTimeout)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("failed to close progress hub", zap.Error(cerr))
		}
	}()

	serveOps, _ := cmd.Flags().GetBool("ops")
	if serveOps {
		stopOps, err := startOps(ctx, appInstance, status)
		if err != nil {
			return err
		}
		defer stopOps()
	}

	machine, err := buildMachine(appInstance, hub)
	if err != nil {
		return err
	}
	report, runErr := machine.Run(ctx)

	// The run's ctx may already be canceled; artifacts are still written.
	outCtx := context.WithoutCancel(ctx)
	articles := machine.Store().Articles()
	uris, err := putArtifacts(outCtx, appInstance.GetBlobStore(), path.Join("runs", report.RunID), crawlArtifacts(report, articles))
	if err != nil {
		logger.Error("failed to store crawl artifacts", zap.Error(err))
	}

	kind := publisher.KindCrawlCompleted
	if runErr != nil {
		kind = publisher.KindCrawlFailed
	}
	appInstance.GetNotifier().Notify(outCtx, publisher.Event{
		Kind:       kind,
		RunID:      report.RunID,
		OccurredAt: report.FinishedAt,
		Artifacts:  uris,
		Summary:    report,
	})

	switch {
	case errors.Is(runErr, context.Canceled):
		logger.Warn("crawl interrupted; continue with --resume",
			zap.Int("last_page_completed", report.LastPageCompleted),
			zap.Int("articles", report.TotalArticles),
		)
		return nil
	case runErr != nil:
		return fmt.Errorf("run crawl: %w", runErr)
	}

	logger.Info("crawl command finished",
		zap.String("run_id", report.RunID),
		zap.Int("articles", report.TotalArticles),
		zap.Int("pages_failed", report.PagesFailed),
		zap.Duration("duration", report.Duration()),
	)

	if !cfg.Crawler.Analyze {
		return nil
	}
	analysis, analysisURIs, err := analyzeCorpus(ctx, appInstance, report.RunID, articles)
	if err != nil {
		return err
	}
	printAnalysis(cmd.OutOrStdout(), analysis, analysisURIs)
	return nil
}

// buildMachine wires the colly transport, the throttled fetcher, the
// listing extractor and the checkpoint store into a crawl Machine.
func buildMachine(a App, events progress.Emitter) (*crawl.Machine, error) {
	cfg := a.GetConfig()
	logger := a.GetLogger()

	transport := collyfetcher.New(cfg.HTTP.Transport())
	pages := fetcher.New(transport, cfg.HTTP.Fetcher(), fetcher.WithLogger(logger.Named("fetcher")))

	extractor, err := extract.NewSelectorExtractor(cfg.Extract.Config)
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	listing := cfg.Extract.ListingURL

	machine, err := crawl.New(cfg.Crawler.Config, crawl.Dependencies{
		Fetcher:     pages,
		Extractor:   extractor,
		Probe:       extract.NewPaginationProbe(pages, cfg.Extract.Config, logger.Named("probe")),
		Checkpoints: a.GetCheckpoints(),
		Validator:   a.GetValidator(),
		PageURL:     func(page int) string { return extract.PageURL(listing, page) },
		Clock:       system.New(),
		IDs:         idgen.NewUUIDGenerator(),
		Events:      events,
		Logger:      logger.Named("crawl"),
	})
	if err != nil {
		return nil, fmt.Errorf("init crawl: %w", err)
	}
	return machine, nil
}

// startOps serves the operator API for the duration of the crawl. The
// returned func stops the server and waits for it.
func startOps(ctx context.Context, a App, runs api.RunLister) (func(), error) {
	addr := a.GetConfig().Server.Addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	opsCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := serveHTTP(opsCtx, ln, newOpsServer(a, runs).Handler(), a.GetLogger().Named("ops")); err != nil {
			a.GetLogger().Warn("ops server stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}
