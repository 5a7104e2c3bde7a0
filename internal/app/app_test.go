package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/config"
	"github.com/Blackmvmba88/q2bs/internal/publisher"
	"github.com/Blackmvmba88/q2bs/internal/storage/local"
	"github.com/Blackmvmba88/q2bs/internal/storage/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Checkpoint.Dir = filepath.Join(dir, "checkpoints")
	cfg.Storage.Local.BaseDir = dir
	return cfg
}

func TestNew_LocalBackend(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.IsType(t, &local.BlobStore{}, a.GetBlobStore())
	assert.Equal(t, cfg.Checkpoint.Dir, a.GetCheckpoints().Dir())
	assert.NotNil(t, a.GetValidator())
	assert.NotNil(t, a.GetNotifier())
	assert.Equal(t, cfg, a.GetConfig())
}

func TestNew_MemoryBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageMemory

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.IsType(t, &memory.BlobStore{}, a.GetBlobStore())
	assert.NotNil(t, a.GetLogger())
}

func TestNew_Errors(t *testing.T) {
	testCases := []struct {
		name        string
		mutate      func(*config.Config)
		expectedErr string
	}{
		{
			name:        "unknown storage backend",
			mutate:      func(c *config.Config) { c.Storage.Backend = "s3" },
			expectedErr: "unknown storage backend: s3",
		},
		{
			name:        "missing local base dir",
			mutate:      func(c *config.Config) { c.Storage.Local.BaseDir = filepath.Join(c.Storage.Local.BaseDir, "missing") },
			expectedErr: "init storage",
		},
		{
			name:        "empty checkpoint dir",
			mutate:      func(c *config.Config) { c.Checkpoint.Dir = " " },
			expectedErr: "init checkpoint store",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)

			_, err := New(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestNew_PubSubNotifier(t *testing.T) {
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	t.Setenv("PUBSUB_EMULATOR_HOST", srv.Addr)

	ctx := context.Background()
	cfg := testConfig(t)
	cfg.PubSub.ProjectID = "proj"
	cfg.PubSub.TopicName = "runs"
	admin, err := pubsub.NewClient(ctx, "proj")
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, "runs")
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	a, err := New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)

	id := a.GetNotifier().Notify(ctx, publisher.Event{Kind: publisher.KindCrawlCompleted, RunID: "r1"})
	assert.NotEmpty(t, id)
	a.Close()

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.Contains(string(msgs[0].Data), `"run_id":"r1"`))
	assert.Equal(t, "runs", msgs[0].Attributes["topic"])
}

func TestClose_ReverseOrderAndErrors(t *testing.T) {
	var order []string
	a := &App{
		logger: zap.NewNop(),
		closers: []func() error{
			func() error { order = append(order, "storage"); return nil },
			func() error { order = append(order, "pubsub"); return errors.New("boom") },
		},
	}

	a.Close()
	a.Close()

	assert.Equal(t, []string{"pubsub", "storage"}, order)
}
