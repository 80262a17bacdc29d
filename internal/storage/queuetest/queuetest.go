// Package queuetest holds behavioural tests shared by every storage.JobQueue backend.
package queuetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// Factory returns an empty queue. It is called once per subtest.
type Factory func(t *testing.T) storage.JobQueue

// Run executes the suite against the backend produced by newQueue.
func Run(t *testing.T, newQueue Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, q storage.JobQueue)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"EnqueueDuplicate", testEnqueueDuplicate},
		{"DequeueOrder", testDequeueOrder},
		{"DequeueEmpty", testDequeueEmpty},
		{"ConcurrentDequeueSingleWinner", testConcurrentDequeue},
		{"ConcurrencyCap", testConcurrencyCap},
		{"HeartbeatOwnership", testHeartbeatOwnership},
		{"UpdateProgress", testUpdateProgress},
		{"CompleteAndFail", testCompleteAndFail},
		{"Cancel", testCancel},
		{"CleanupRequeuesStale", testCleanupRequeuesStale},
		{"CleanupPurgesRetention", testCleanupPurgesRetention},
		{"ReclaimedWorkerCannotCommit", testReclaimFencing},
		{"Status", testStatus},
		{"List", testList},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newQueue(t))
		})
	}
}

func newJob(id string, priority int, createdAt int64) *domain.OptimizationJob {
	return &domain.OptimizationJob{
		ID:          id,
		Parameters:  []byte(`{"bot":"ma_cross"}`),
		Priority:    priority,
		Status:      domain.JobStatusQueued,
		SubmittedBy: "tester",
		CreatedAt:   createdAt,
	}
}

func enqueue(t *testing.T, q storage.JobQueue, jobs ...*domain.OptimizationJob) {
	t.Helper()
	for _, j := range jobs {
		require.NoError(t, q.Enqueue(context.Background(), j))
	}
}

func testEnqueueAndGet(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q, newJob("job-1", 5, 1000))

	got, err := q.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, "tester", got.SubmittedBy)
	assert.Equal(t, []byte(`{"bot":"ma_cross"}`), got.Parameters)
	assert.Empty(t, got.WorkerID)
	assert.Nil(t, got.Progress)

	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testEnqueueDuplicate(t *testing.T, q storage.JobQueue) {
	enqueue(t, q, newJob("job-1", 0, 1000))
	err := q.Enqueue(context.Background(), newJob("job-1", 0, 1000))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func testDequeueOrder(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q,
		newJob("late-urgent", 1, 3000),
		newJob("lazy", 9, 1000),
		newJob("early-urgent", 1, 2000),
	)

	want := []string{"early-urgent", "late-urgent", "lazy"}
	for i, id := range want {
		j, err := q.Dequeue(ctx, fmt.Sprintf("w%d", i), 0, 5000)
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, id, j.ID)
		assert.Equal(t, domain.JobStatusRunning, j.Status)
		assert.Equal(t, fmt.Sprintf("w%d", i), j.WorkerID)
		assert.Equal(t, int64(5000), j.LastHeartbeat)
	}
}

func testDequeueEmpty(t *testing.T, q storage.JobQueue) {
	j, err := q.Dequeue(context.Background(), "w1", 1, 1000)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func testConcurrentDequeue(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q, newJob("only", 0, 1000))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims []string
	)
	for _, worker := range []string{"w1", "w2"} {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			j, err := q.Dequeue(ctx, worker, 1, 2000)
			assert.NoError(t, err)
			if j != nil {
				mu.Lock()
				claims = append(claims, worker)
				mu.Unlock()
			}
		}(worker)
	}
	wg.Wait()

	require.Len(t, claims, 1)
	got, err := q.Get(ctx, "only")
	require.NoError(t, err)
	assert.Equal(t, claims[0], got.WorkerID)
}

func testConcurrencyCap(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q, newJob("a", 0, 1), newJob("b", 0, 2), newJob("c", 0, 3))

	first, err := q.Dequeue(ctx, "w1", 1, 10)
	require.NoError(t, err)
	require.NotNil(t, first)

	capped, err := q.Dequeue(ctx, "w1", 1, 11)
	require.NoError(t, err)
	assert.Nil(t, capped, "worker at its cap must not claim more")

	other, err := q.Dequeue(ctx, "w2", 1, 12)
	require.NoError(t, err)
	require.NotNil(t, other, "cap counts only jobs the worker owns")

	ok, err := q.Complete(ctx, first.ID, "w1", "", 13)
	require.NoError(t, err)
	require.True(t, ok)

	next, err := q.Dequeue(ctx, "w1", 1, 14)
	require.NoError(t, err)
	assert.NotNil(t, next, "finished jobs free a slot")
}

func testHeartbeatOwnership(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q, newJob("job", 0, 1))

	ok, err := q.Heartbeat(ctx, "job", "w1", 5)
	require.NoError(t, err)
	assert.False(t, ok, "queued job cannot be heartbeated")

	_, err = q.Dequeue(ctx, "w1", 0, 10)
	require.NoError(t, err)

	ok, err = q.Heartbeat(ctx, "job", "w2", 20)
	require.NoError(t, err)
	assert.False(t, ok, "foreign worker cannot heartbeat")

	ok, err = q.Heartbeat(ctx, "job", "w1", 30)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := q.Get(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, int64(30), got.LastHeartbeat)

	ok, err = q.Heartbeat(ctx, "missing", "w1", 40)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testUpdateProgress(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q, newJob("job", 0, 1))
	progress := &domain.OptimizationProgress{PlannedTotal: 6, Queued: 6, Completed: 2, FractionallyCompleted: 2.5, Position: 2}

	ok, err := q.UpdateProgress(ctx, "job", "w1", progress, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = q.Dequeue(ctx, "w1", 0, 10)
	require.NoError(t, err)

	ok, err = q.UpdateProgress(ctx, "job", "w1", progress, 50)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := q.Get(ctx, "job")
	require.NoError(t, err)
	require.NotNil(t, got.Progress)
	assert.Equal(t, int64(2), got.Progress.Completed)
	assert.Equal(t, 2.5, got.Progress.FractionallyCompleted)
	assert.Equal(t, int64(50), got.LastHeartbeat)
}

func testCompleteAndFail(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q, newJob("ok", 0, 1), newJob("bad", 0, 2))

	ok, err := q.Complete(ctx, "ok", "w1", "/results/ok", 5)
	require.NoError(t, err)
	assert.False(t, ok, "queued job cannot complete")

	_, err = q.Dequeue(ctx, "w1", 0, 10)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, "w1", 0, 11)
	require.NoError(t, err)

	ok, err = q.Complete(ctx, "ok", "w1", "/results/ok", 20)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Complete(ctx, "ok", "w1", "/results/again", 21)
	require.NoError(t, err)
	assert.False(t, ok, "completed job cannot complete twice")

	ok, err = q.Fail(ctx, "ok", "w1", "late", 22)
	require.NoError(t, err)
	assert.False(t, ok, "completed job cannot fail")

	ok, err = q.Fail(ctx, "bad", "w1", "boom", 23)
	require.NoError(t, err)
	assert.True(t, ok)

	done, err := q.Get(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, "/results/ok", done.ResultPath)
	assert.Equal(t, int64(20), done.FinishedAt)

	failed, err := q.Get(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.ErrorMessage)
}

func testCancel(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q, newJob("running", 0, 1), newJob("queued", 5, 2))

	_, err := q.Dequeue(ctx, "w1", 0, 10)
	require.NoError(t, err)

	ok, err := q.Cancel(ctx, "queued", 20)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Cancel(ctx, "running", 21)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Cancel(ctx, "running", 22)
	require.NoError(t, err)
	assert.False(t, ok, "cancelled job cannot be cancelled again")

	ok, err = q.Complete(ctx, "running", "w1", "", 23)
	require.NoError(t, err)
	assert.False(t, ok, "cancelled job cannot complete")

	ok, err = q.Heartbeat(ctx, "running", "w1", 24)
	require.NoError(t, err)
	assert.False(t, ok, "heartbeat reports cancellation to the owner")

	got, err := q.Get(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)

	j, err := q.Dequeue(ctx, "w2", 0, 30)
	require.NoError(t, err)
	assert.Nil(t, j, "cancelled jobs are never dequeued")
}

func testCleanupRequeuesStale(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q, newJob("stale", 0, 1), newJob("fresh", 0, 2))

	_, err := q.Dequeue(ctx, "crashed", 0, 100)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, "alive", 0, 100)
	require.NoError(t, err)
	ok, err := q.Heartbeat(ctx, "fresh", "alive", 900)
	require.NoError(t, err)
	require.True(t, ok)

	purged, requeued, err := q.Cleanup(ctx, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
	assert.Equal(t, 1, requeued)

	got, err := q.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Empty(t, got.WorkerID)

	again, err := q.Dequeue(ctx, "rescuer", 1, 1000)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "stale", again.ID)
	assert.Equal(t, "rescuer", again.WorkerID)
}

func testCleanupPurgesRetention(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q, newJob("old", 0, 1), newJob("recent", 0, 2), newJob("waiting", 0, 3))

	_, err := q.Dequeue(ctx, "w1", 0, 10)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, "w1", 0, 11)
	require.NoError(t, err)
	_, err = q.Complete(ctx, "old", "w1", "", 100)
	require.NoError(t, err)
	_, err = q.Fail(ctx, "recent", "w1", "x", 5000)
	require.NoError(t, err)

	purged, requeued, err := q.Cleanup(ctx, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.Equal(t, 0, requeued)

	_, err = q.Get(ctx, "old")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = q.Get(ctx, "recent")
	assert.NoError(t, err)
	_, err = q.Get(ctx, "waiting")
	assert.NoError(t, err, "queued jobs are never purged")
}

func testReclaimFencing(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q, newJob("job", 0, 1))

	_, err := q.Dequeue(ctx, "slow", 0, 10)
	require.NoError(t, err)
	_, _, err = q.Cleanup(ctx, 0, 100)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, "fast", 0, 110)
	require.NoError(t, err)

	ok, err := q.Complete(ctx, "job", "slow", "/slow", 120)
	require.NoError(t, err)
	assert.False(t, ok, "reclaimed worker must not commit")

	ok, err = q.Complete(ctx, "job", "fast", "/fast", 130)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := q.Get(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "/fast", got.ResultPath)
}

func testStatus(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q,
		newJob("a", 0, 100), newJob("b", 0, 200), newJob("c", 0, 300),
		newJob("d", 0, 400), newJob("e", 0, 500),
	)

	_, err := q.Dequeue(ctx, "w1", 0, 600) // a
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, "w1", 0, 600) // b
	require.NoError(t, err)
	_, err = q.Complete(ctx, "b", "w1", "", 700)
	require.NoError(t, err)
	_, err = q.Cancel(ctx, "c", 700)
	require.NoError(t, err)

	st, err := q.Status(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Queued)
	assert.Equal(t, 1, st.Running)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 0, st.Failed)
	assert.Equal(t, 1, st.Cancelled)
	assert.Equal(t, int64(600), st.OldestQueuedAge)
	assert.Equal(t, 5, st.Total())
}

func testList(t *testing.T, q storage.JobQueue) {
	ctx := context.Background()
	enqueue(t, q, newJob("a", 0, 100), newJob("b", 0, 200), newJob("c", 0, 300))
	_, err := q.Dequeue(ctx, "w1", 0, 400)
	require.NoError(t, err)

	all, err := q.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	queued, err := q.List(ctx, domain.JobStatusQueued, 1)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "c", queued[0].ID)
}
