package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
	"backtest-lab/internal/storage/queuetest"
)

func TestJobQueue(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) storage.JobQueue {
		db, err := Open(filepath.Join(t.TempDir(), "queue.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return NewJobQueue(db)
	})
}

func TestJobQueue_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")

	first, err := Open(path)
	require.NoError(t, err)
	defer first.Close()
	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()

	a, b := NewJobQueue(first), NewJobQueue(second)
	ctx := t.Context()

	require.NoError(t, a.Enqueue(ctx, queuetestJob("shared")))

	got, err := b.Dequeue(ctx, "w-b", 1, 100)
	require.NoError(t, err)
	require.NotNil(t, got)

	again, err := a.Dequeue(ctx, "w-a", 1, 101)
	require.NoError(t, err)
	require.Nil(t, again, "a job claimed through one handle is invisible to another")
}

func queuetestJob(id string) *domain.OptimizationJob {
	return &domain.OptimizationJob{
		ID:         id,
		Parameters: []byte(`{}`),
		Status:     domain.JobStatusQueued,
		CreatedAt:  1,
	}
}
