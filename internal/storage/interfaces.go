package storage

import (
	"context"

	"backtest-lab/internal/domain"
)

// BarStore provides access to historical OHLCV bars.
type BarStore interface {
	// InsertBulk adds bars for one market. Fails entire batch on a duplicate timestamp.
	InsertBulk(ctx context.Context, key domain.MarketKey, bars []domain.Bar) error

	// GetByTimeRange retrieves bars within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, key domain.MarketKey, start, end int64) ([]domain.Bar, error)

	// Exists reports whether any bar is stored for the market.
	Exists(ctx context.Context, key domain.MarketKey) (bool, error)
}

// SummaryStore provides access to backtest_summaries storage.
type SummaryStore interface {
	// InsertBulk adds summaries. Fails entire batch on duplicate (job_id, parameter_id).
	InsertBulk(ctx context.Context, summaries []*domain.BacktestSummary) error

	// GetByJobID retrieves all summaries of a job, ordered by parameter_id ASC.
	GetByJobID(ctx context.Context, jobID string) ([]*domain.BacktestSummary, error)

	// TopByFitness retrieves the best summaries of a job, ordered by fitness DESC.
	TopByFitness(ctx context.Context, jobID string, limit int) ([]*domain.BacktestSummary, error)

	// ClearRetained marks stored summaries of a job as no longer retained.
	// Unknown parameter IDs are ignored.
	ClearRetained(ctx context.Context, jobID string, parameterIDs []string) error
}

// JobQueue persists optimization jobs. Every method is atomic relative to
// every other method on the same queue, across processes for shared backends.
//
// Transition methods return false, not an error, when the job is not in the
// state the transition requires (wrong status or wrong owner).
type JobQueue interface {
	// Enqueue inserts a queued job. Returns ErrDuplicateKey if the ID exists.
	Enqueue(ctx context.Context, job *domain.OptimizationJob) error

	// Dequeue claims the most urgent queued job for workerID (priority ASC,
	// created_at ASC, id ASC). Returns nil when nothing qualifies or the
	// worker already owns maxConcurrent running jobs.
	Dequeue(ctx context.Context, workerID string, maxConcurrent int, now int64) (*domain.OptimizationJob, error)

	// Heartbeat refreshes liveness of a running job owned by workerID.
	Heartbeat(ctx context.Context, jobID, workerID string, now int64) (bool, error)

	// UpdateProgress stores a progress snapshot and refreshes the heartbeat.
	UpdateProgress(ctx context.Context, jobID, workerID string, progress *domain.OptimizationProgress, now int64) (bool, error)

	// Complete moves a running job owned by workerID to completed.
	Complete(ctx context.Context, jobID, workerID, resultPath string, now int64) (bool, error)

	// Fail moves a running job owned by workerID to failed.
	Fail(ctx context.Context, jobID, workerID, message string, now int64) (bool, error)

	// Cancel moves a queued or running job to cancelled.
	Cancel(ctx context.Context, jobID string, now int64) (bool, error)

	// Cleanup deletes terminal jobs finished before retentionCutoff and
	// requeues running jobs whose last heartbeat is before staleCutoff.
	Cleanup(ctx context.Context, retentionCutoff, staleCutoff int64) (purged, requeued int, err error)

	// Status aggregates jobs by status.
	Status(ctx context.Context, now int64) (domain.QueueStatus, error)

	// Get retrieves a job by ID. Returns ErrNotFound if not exists.
	Get(ctx context.Context, jobID string) (*domain.OptimizationJob, error)

	// List retrieves jobs ordered by created_at DESC. Empty status lists all.
	List(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.OptimizationJob, error)
}
