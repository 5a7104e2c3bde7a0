package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/api"
	"github.com/Blackmvmba88/q2bs/internal/checkpoint"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// newServeCmd creates the 'serve' subcommand, which exposes health, metrics
// and the latest checkpoint over HTTP.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves health, metrics and checkpoint endpoints",
		RunE:  runServeCommand,
	}
	cmd.Flags().String("addr", ":9090", "listen address")
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := newOpsServer(appInstance, nil).Handler()
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	return serveHTTP(ctx, ln, handler, logger)
}

// newOpsServer builds the operator API. runs may be nil outside a crawl.
func newOpsServer(a App, runs api.RunLister) *api.Server {
	checkpoints := a.GetCheckpoints()
	return api.NewServer(api.Options{
		APIKey:      a.GetConfig().Server.APIKey,
		Runs:        runs,
		Checkpoints: checkpoints,
		Readiness: []api.ReadinessCheck{
			{Name: "checkpoint_dir", Check: checkpointDirReady(checkpoints.Dir())},
		},
	}, a.GetLogger().Named("api"))
}

func checkpointDirReady(dir string) func(context.Context) error {
	return func(context.Context) error {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	}
}

// serveHTTP serves handler on ln until ctx is canceled, then shuts the
// server down gracefully.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// ensure the checkpoint store satisfies the API reader.
var _ api.CheckpointReader = (*checkpoint.Store)(nil)
