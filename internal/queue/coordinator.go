// Package queue coordinates optimization jobs across workers: submission,
// claiming, liveness, and recovery of jobs whose worker disappeared.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/logging"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/storage"
)

// Options for creating a Coordinator.
type Options struct {
	Queue  storage.JobQueue
	Logger *zap.Logger
	Clock  func() time.Time // defaults to time.Now
	NewID  func() string    // defaults to uuid.NewString
}

// Coordinator is the single logical owner of queue state. Atomicity comes
// from the underlying storage.JobQueue; the coordinator adds IDs, clock,
// validation, logging and metrics.
type Coordinator struct {
	queue  storage.JobQueue
	logger *zap.Logger
	clock  func() time.Time
	newID  func() string
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		queue:  opts.Queue,
		logger: logging.OrNop(opts.Logger),
		clock:  opts.Clock,
		newID:  opts.NewID,
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

func (c *Coordinator) now() int64 { return c.clock().UnixMilli() }

// Enqueue creates a queued job. Lower priority values are dequeued first.
func (c *Coordinator) Enqueue(ctx context.Context, params []byte, priority int, submittedBy string) (*domain.OptimizationJob, error) {
	job := &domain.OptimizationJob{
		ID:          c.newID(),
		Parameters:  params,
		Priority:    priority,
		Status:      domain.JobStatusQueued,
		SubmittedBy: submittedBy,
		CreatedAt:   c.now(),
	}
	err := c.queue.Enqueue(ctx, job)
	observability.RecordQueueOperation("enqueue", err == nil, err)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	c.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.Int("priority", priority),
		zap.String("submitted_by", submittedBy))
	return job, nil
}

// Dequeue claims the most urgent queued job for workerID, or returns nil
// when nothing qualifies or the worker is at maxConcurrent.
func (c *Coordinator) Dequeue(ctx context.Context, workerID string, maxConcurrent int) (*domain.OptimizationJob, error) {
	if workerID == "" || maxConcurrent < 1 {
		return nil, fmt.Errorf("dequeue: %w: worker %q max %d", storage.ErrInvalidInput, workerID, maxConcurrent)
	}
	job, err := c.queue.Dequeue(ctx, workerID, maxConcurrent, c.now())
	observability.RecordQueueOperation("dequeue", job != nil, err)
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if job != nil {
		c.logger.Info("job claimed", zap.String("job_id", job.ID), zap.String("worker_id", workerID))
	}
	return job, nil
}

// Heartbeat refreshes a running job. False means the worker no longer owns it.
func (c *Coordinator) Heartbeat(ctx context.Context, jobID, workerID string) (bool, error) {
	ok, err := c.queue.Heartbeat(ctx, jobID, workerID, c.now())
	return c.transition("heartbeat", jobID, workerID, ok, err)
}

// UpdateProgress stores a progress snapshot; it also counts as a heartbeat.
func (c *Coordinator) UpdateProgress(ctx context.Context, jobID, workerID string, progress domain.OptimizationProgress) (bool, error) {
	ok, err := c.queue.UpdateProgress(ctx, jobID, workerID, &progress, c.now())
	return c.transition("update_progress", jobID, workerID, ok, err)
}

// Complete finishes a running job with an optional result location.
func (c *Coordinator) Complete(ctx context.Context, jobID, workerID, resultPath string) (bool, error) {
	ok, err := c.queue.Complete(ctx, jobID, workerID, resultPath, c.now())
	ok, err = c.transition("complete", jobID, workerID, ok, err)
	if ok {
		c.logger.Info("job completed", zap.String("job_id", jobID), zap.String("result_path", resultPath))
	}
	return ok, err
}

// Fail finishes a running job with an error message.
func (c *Coordinator) Fail(ctx context.Context, jobID, workerID, message string) (bool, error) {
	ok, err := c.queue.Fail(ctx, jobID, workerID, message, c.now())
	ok, err = c.transition("fail", jobID, workerID, ok, err)
	if ok {
		c.logger.Warn("job failed", zap.String("job_id", jobID), zap.String("message", message))
	}
	return ok, err
}

// Cancel stops a queued or running job. A running job's worker observes
// the cancellation on its next status poll.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) (bool, error) {
	ok, err := c.queue.Cancel(ctx, jobID, c.now())
	ok, err = c.transition("cancel", jobID, "", ok, err)
	if ok {
		c.logger.Info("job cancelled", zap.String("job_id", jobID))
	}
	return ok, err
}

// Cleanup purges terminal jobs older than retentionDays and requeues
// running jobs without a heartbeat for staleMinutes. Returns the number of
// jobs affected.
func (c *Coordinator) Cleanup(ctx context.Context, retentionDays, staleMinutes int) (int, error) {
	if retentionDays < 0 || staleMinutes < 1 {
		return 0, fmt.Errorf("cleanup: %w: retention %dd stale %dm", storage.ErrInvalidInput, retentionDays, staleMinutes)
	}
	now := c.clock()
	retention := now.Add(-time.Duration(retentionDays) * 24 * time.Hour).UnixMilli()
	stale := now.Add(-time.Duration(staleMinutes) * time.Minute).UnixMilli()

	purged, requeued, err := c.queue.Cleanup(ctx, retention, stale)
	observability.RecordQueueOperation("cleanup", true, err)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	observability.RecordCleanup(purged, requeued)
	if purged+requeued > 0 {
		c.logger.Info("queue cleanup",
			zap.Int("purged", purged),
			zap.Int("requeued", requeued))
	}
	if requeued > 0 {
		c.logger.Warn("requeued stale jobs", zap.Int("count", requeued), zap.Int("stale_minutes", staleMinutes))
	}
	return purged + requeued, nil
}

// Status aggregates the queue and refreshes the queue gauges.
func (c *Coordinator) Status(ctx context.Context) (domain.QueueStatus, error) {
	st, err := c.queue.Status(ctx, c.now())
	if err != nil {
		return domain.QueueStatus{}, fmt.Errorf("status: %w", err)
	}
	observability.UpdateQueueStatus(map[string]int{
		string(domain.JobStatusQueued):    st.Queued,
		string(domain.JobStatusRunning):   st.Running,
		string(domain.JobStatusCompleted): st.Completed,
		string(domain.JobStatusFailed):    st.Failed,
		string(domain.JobStatusCancelled): st.Cancelled,
	}, float64(st.OldestQueuedAge)/1000)
	return st, nil
}

// Get returns a job by ID.
func (c *Coordinator) Get(ctx context.Context, jobID string) (*domain.OptimizationJob, error) {
	return c.queue.Get(ctx, jobID)
}

// List returns jobs newest first. Empty status lists all.
func (c *Coordinator) List(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.OptimizationJob, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("list: %w: status %q", storage.ErrInvalidInput, status)
	}
	return c.queue.List(ctx, status, limit)
}

func (c *Coordinator) transition(op, jobID, workerID string, ok bool, err error) (bool, error) {
	observability.RecordQueueOperation(op, ok, err)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", op, jobID, err)
	}
	if !ok {
		c.logger.Debug("transition rejected",
			zap.String("op", op),
			zap.String("job_id", jobID),
			zap.String("worker_id", workerID))
	}
	return ok, nil
}
