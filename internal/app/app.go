// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/article"
	"github.com/Blackmvmba88/q2bs/internal/checkpoint"
	"github.com/Blackmvmba88/q2bs/internal/clock/system"
	"github.com/Blackmvmba88/q2bs/internal/config"
	"github.com/Blackmvmba88/q2bs/internal/hash/sha256"
	"github.com/Blackmvmba88/q2bs/internal/publisher"
	memorypublisher "github.com/Blackmvmba88/q2bs/internal/publisher/memory"
	pubsubpublisher "github.com/Blackmvmba88/q2bs/internal/publisher/pubsub"
	"github.com/Blackmvmba88/q2bs/internal/storage/gcs"
	"github.com/Blackmvmba88/q2bs/internal/storage/local"
	"github.com/Blackmvmba88/q2bs/internal/storage/memory"
)

// BlobStore persists report artifacts and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// App holds the shared, long-lived services for one command invocation:
// the logger, the checkpoint store, the artifact store and the notifier.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	validator   *article.Validator
	checkpoints *checkpoint.Store
	blobs       BlobStore
	notifier    *publisher.Notifier
	closers     []func() error
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetValidator returns the record validator bound to the allowed host.
func (a *App) GetValidator() *article.Validator {
	return a.validator
}

// GetCheckpoints returns the checkpoint store for the configured directory.
func (a *App) GetCheckpoints() *checkpoint.Store {
	return a.checkpoints
}

// GetBlobStore exposes the configured artifact store.
func (a *App) GetBlobStore() BlobStore {
	return a.blobs
}

// GetNotifier returns the run notifier.
func (a *App) GetNotifier() *publisher.Notifier {
	return a.notifier
}

// New creates the services described by cfg. It fails fast if any of them
// cannot be initialized and releases whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Debug("initializing application services")

	clock := system.New()
	a.validator = article.NewValidator(article.ValidatorConfig{AllowedHost: cfg.Extract.AllowedHost}, clock)

	checkpoints, err := checkpoint.NewStore(cfg.Checkpoint,
		checkpoint.WithLogger(logger.Named("checkpoint")),
		checkpoint.WithClock(clock),
		checkpoint.WithHasher(sha256.New()),
		checkpoint.WithValidator(a.validator),
	)
	if err != nil {
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}
	a.checkpoints = checkpoints

	if err := a.initBlobStore(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := a.initNotifier(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("init notifier: %w", err)
	}

	logger.Debug("application services initialized",
		zap.String("checkpoint_dir", checkpoints.Dir()),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("pubsub", cfg.PubSub.Enabled()),
	)
	return a, nil
}

func (a *App) initBlobStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.StorageLocal:
		store, err := local.New(a.cfg.Storage.Local)
		if err != nil {
			return err
		}
		a.blobs = store
	case config.StorageGCS:
		store, err := gcs.Dial(ctx, a.cfg.Storage.GCS, gcs.DefaultClientFactory{}, a.logger.Named("gcs"))
		if err != nil {
			return err
		}
		a.blobs = store
		a.closers = append(a.closers, store.Close)
	case config.StorageMemory:
		a.logger.Warn("using in-memory artifact storage; reports are discarded on exit")
		a.blobs = memory.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *App) initNotifier(ctx context.Context) error {
	topic := a.cfg.PubSub.TopicName
	if !a.cfg.PubSub.Enabled() {
		a.notifier = publisher.NewNotifier(memorypublisher.New(), topic, a.logger.Named("notify"))
		return nil
	}
	pub, client, err := pubsubpublisher.Dial(ctx, a.cfg.PubSub.ProjectID, topic)
	if err != nil {
		return err
	}
	a.logger.Info("publishing run notifications", zap.String("topic", topic))
	a.notifier = publisher.NewNotifier(pub, topic, a.logger.Named("notify"))
	a.closers = append(a.closers, func() error {
		pub.Stop()
		return client.Close()
	})
	return nil
}

// Close shuts down every service in reverse order of creation and flushes
// the logger.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
	// Sync fails on console outputs on some platforms; nothing to act on.
	_ = a.logger.Sync()
}
