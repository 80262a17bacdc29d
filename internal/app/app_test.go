package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"backtest-lab/internal/config"
	"backtest-lab/internal/storage"
	"backtest-lab/internal/storage/memory"
	"backtest-lab/internal/storage/sqlite"
)

func TestOpenStores_Memory(t *testing.T) {
	stores, cleanup, err := OpenStores(context.Background(), config.StorageConfig{
		QueueBackend: config.BackendMemory,
		BarBackend:   config.BackendMemory,
	}, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.JobQueue{}, stores.Queue)
	assert.IsType(t, &memory.BarStore{}, stores.Bars)
	assert.IsType(t, &memory.SummaryStore{}, stores.Summaries)
}

func TestOpenStores_SQLiteQueue(t *testing.T) {
	ctx := context.Background()
	stores, cleanup, err := OpenStores(ctx, config.StorageConfig{
		QueueBackend: config.BackendSQLite,
		BarBackend:   config.BackendMemory,
		SQLitePath:   filepath.Join(t.TempDir(), "jobs.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	observed, ok := stores.Queue.(*storage.ObservedJobQueue)
	require.True(t, ok, "durable queues record query metrics")
	assert.IsType(t, &sqlite.JobQueue{}, observed.Next)
	assert.Equal(t, "sqlite", observed.Backend)

	coord := NewCoordinator(stores, zap.NewNop())
	job, err := coord.Enqueue(ctx, []byte("{}"), 0, "test")
	require.NoError(t, err)
	got, err := coord.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestNewComponents(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Journal.Dir = filepath.Join(t.TempDir(), "journals")

	stores, cleanup, err := OpenStores(context.Background(), cfg.Storage, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()

	coord := NewCoordinator(stores, zap.NewNop())
	opt, err := NewOptimizer(cfg, stores, zap.NewNop())
	require.NoError(t, err)

	w := NewWorker(cfg, coord, opt, zap.NewNop())
	assert.NotEmpty(t, w.ID(), "a worker without a configured id gets a random one")
	assert.NotNil(t, NewJanitor(cfg, coord, zap.NewNop()))
	assert.DirExists(t, cfg.Journal.Dir)
}
