package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
	"backtest-lab/internal/storage/memory"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCoordinator() (*Coordinator, *testClock) {
	clock := &testClock{t: time.UnixMilli(1_700_000_000_000)}
	n := 0
	c := NewCoordinator(Options{
		Queue: memory.NewJobQueue(),
		Clock: clock.now,
		NewID: func() string {
			n++
			return fmt.Sprintf("job-%02d", n)
		},
	})
	return c, clock
}

func TestCoordinator_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCoordinator()

	job, err := c.Enqueue(ctx, []byte(`{"bot":"ma_cross"}`), 5, "alice")
	require.NoError(t, err)
	assert.Equal(t, "job-01", job.ID)
	assert.Equal(t, domain.JobStatusQueued, job.Status)

	claimed, err := c.Dequeue(ctx, "w1", 1)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, "w1", claimed.WorkerID)
	assert.Equal(t, clock.t.UnixMilli(), claimed.LastHeartbeat)

	clock.advance(time.Second)
	ok, err := c.Heartbeat(ctx, job.ID, "w1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Heartbeat(ctx, job.ID, "w2")
	require.NoError(t, err)
	assert.False(t, ok, "other worker does not own the job")

	ok, err = c.UpdateProgress(ctx, job.ID, "w1", domain.OptimizationProgress{PlannedTotal: 10, Completed: 3})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Complete(ctx, job.ID, "w1", "/results/job-01")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := c.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, "/results/job-01", got.ResultPath)
	require.NotNil(t, got.Progress)
	assert.Equal(t, int64(3), got.Progress.Completed)

	ok, err = c.Fail(ctx, job.ID, "w1", "late")
	require.NoError(t, err)
	assert.False(t, ok, "terminal jobs do not transition")
	ok, err = c.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinator_PriorityThenAge(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCoordinator()

	low, _ := c.Enqueue(ctx, nil, 9, "a")
	clock.advance(time.Millisecond)
	urgentOld, _ := c.Enqueue(ctx, nil, 1, "a")
	clock.advance(time.Millisecond)
	urgentNew, _ := c.Enqueue(ctx, nil, 1, "a")

	var order []string
	for i := 0; i < 3; i++ {
		j, err := c.Dequeue(ctx, fmt.Sprintf("w%d", i), 1)
		require.NoError(t, err)
		require.NotNil(t, j)
		order = append(order, j.ID)
	}
	assert.Equal(t, []string{urgentOld.ID, urgentNew.ID, low.ID}, order)
}

func TestCoordinator_ConcurrencyCap(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator()
	for i := 0; i < 3; i++ {
		_, err := c.Enqueue(ctx, nil, 0, "a")
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		j, err := c.Dequeue(ctx, "w1", 2)
		require.NoError(t, err)
		require.NotNil(t, j)
	}
	j, err := c.Dequeue(ctx, "w1", 2)
	require.NoError(t, err)
	assert.Nil(t, j, "worker is at its cap")

	j, err = c.Dequeue(ctx, "w2", 2)
	require.NoError(t, err)
	assert.NotNil(t, j)
}

func TestCoordinator_CleanupRequeuesStaleAndPurgesOld(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCoordinator()

	stale, _ := c.Enqueue(ctx, nil, 0, "a")
	done, _ := c.Enqueue(ctx, nil, 0, "a")
	_, _ = c.Dequeue(ctx, "w1", 5)
	_, _ = c.Dequeue(ctx, "w1", 5)
	ok, err := c.Complete(ctx, done.ID, "w1", "")
	require.NoError(t, err)
	require.True(t, ok)

	clock.advance(10 * time.Minute)
	n, err := c.Cleanup(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the stale running job is affected")

	got, err := c.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Empty(t, got.WorkerID)

	ok, err = c.Complete(ctx, stale.ID, "w1", "")
	require.NoError(t, err)
	assert.False(t, ok, "reclaimed worker cannot commit")

	clock.advance(48 * time.Hour)
	n, err = c.Cleanup(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = c.Get(ctx, done.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCoordinator_CancelQueuedAndRunning(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator()

	queued, _ := c.Enqueue(ctx, nil, 1, "a")
	running, _ := c.Enqueue(ctx, nil, 0, "a")
	j, _ := c.Dequeue(ctx, "w1", 1)
	require.Equal(t, running.ID, j.ID)

	for _, id := range []string{queued.ID, running.ID} {
		ok, err := c.Cancel(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := c.Heartbeat(ctx, running.ID, "w1")
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Cancelled)
	assert.Equal(t, 0, st.Queued)
}

func TestCoordinator_Validation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator()

	_, err := c.Dequeue(ctx, "", 1)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = c.Dequeue(ctx, "w", 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = c.Cleanup(ctx, -1, 5)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = c.List(ctx, "bogus", 10)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestCoordinator_StatusOldestQueuedAge(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCoordinator()

	_, _ = c.Enqueue(ctx, nil, 0, "a")
	clock.advance(30 * time.Second)
	_, _ = c.Enqueue(ctx, nil, 0, "a")

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Queued)
	assert.Equal(t, int64(30_000), st.OldestQueuedAge)
}
