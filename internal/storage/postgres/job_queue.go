package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// JobQueue implements storage.JobQueue using PostgreSQL.
// Dequeue locks candidate rows with FOR UPDATE SKIP LOCKED and serializes
// claims of one worker with a transaction-scoped advisory lock, so the
// per-worker concurrency cap holds across processes.
type JobQueue struct {
	pool *Pool
}

// NewJobQueue creates a new JobQueue.
func NewJobQueue(pool *Pool) *JobQueue {
	return &JobQueue{pool: pool}
}

// Compile-time interface check.
var _ storage.JobQueue = (*JobQueue)(nil)

const jobColumns = `
	id, parameters, priority, status, submitted_by, worker_id,
	created_at, started_at, last_heartbeat, finished_at,
	progress, result_path, error_message
`

// Enqueue inserts a queued job. Returns ErrDuplicateKey if the ID exists.
func (q *JobQueue) Enqueue(ctx context.Context, job *domain.OptimizationJob) error {
	if job == nil || job.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO optimization_jobs (
			id, parameters, priority, status, submitted_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := q.pool.Exec(ctx, query,
		job.ID,
		job.Parameters,
		job.Priority,
		string(domain.JobStatusQueued),
		job.SubmittedBy,
		job.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Dequeue claims the most urgent queued job for workerID.
func (q *JobQueue) Dequeue(ctx context.Context, workerID string, maxConcurrent int, now int64) (*domain.OptimizationJob, error) {
	if workerID == "" {
		return nil, storage.ErrInvalidInput
	}

	var claimed *domain.OptimizationJob
	err := pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, workerID); err != nil {
			return fmt.Errorf("lock worker: %w", err)
		}

		if maxConcurrent > 0 {
			var owned int
			err := tx.QueryRow(ctx, `
				SELECT count(*) FROM optimization_jobs
				WHERE status = $1 AND worker_id = $2
			`, string(domain.JobStatusRunning), workerID).Scan(&owned)
			if err != nil {
				return fmt.Errorf("count owned jobs: %w", err)
			}
			if owned >= maxConcurrent {
				return nil
			}
		}

		var id string
		err := tx.QueryRow(ctx, `
			SELECT id FROM optimization_jobs
			WHERE status = $1
			ORDER BY priority ASC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, string(domain.JobStatusQueued)).Scan(&id)
		if err != nil {
			if isNotFoundError(err) {
				return nil
			}
			return fmt.Errorf("select queued job: %w", err)
		}

		row := tx.QueryRow(ctx, `
			UPDATE optimization_jobs
			SET status = $2, worker_id = $3, started_at = $4, last_heartbeat = $4
			WHERE id = $1
			RETURNING `+jobColumns, id, string(domain.JobStatusRunning), workerID, now)
		job, err := scanJob(row)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return claimed, nil
}

// Heartbeat refreshes liveness of a running job owned by workerID.
func (q *JobQueue) Heartbeat(ctx context.Context, jobID, workerID string, now int64) (bool, error) {
	return q.transition(ctx, "heartbeat", `
		UPDATE optimization_jobs SET last_heartbeat = $3
		WHERE id = $1 AND worker_id = $2 AND status = 'running'
	`, jobID, workerID, now)
}

// UpdateProgress stores a progress snapshot and refreshes the heartbeat.
func (q *JobQueue) UpdateProgress(ctx context.Context, jobID, workerID string, progress *domain.OptimizationProgress, now int64) (bool, error) {
	if progress == nil {
		return false, storage.ErrInvalidInput
	}
	data, err := json.Marshal(progress)
	if err != nil {
		return false, fmt.Errorf("encode progress: %w", err)
	}
	return q.transition(ctx, "update progress", `
		UPDATE optimization_jobs SET progress = $3, last_heartbeat = $4
		WHERE id = $1 AND worker_id = $2 AND status = 'running'
	`, jobID, workerID, data, now)
}

// Complete moves a running job owned by workerID to completed.
func (q *JobQueue) Complete(ctx context.Context, jobID, workerID, resultPath string, now int64) (bool, error) {
	return q.transition(ctx, "complete", `
		UPDATE optimization_jobs SET status = 'completed', result_path = $3, finished_at = $4
		WHERE id = $1 AND worker_id = $2 AND status = 'running'
	`, jobID, workerID, resultPath, now)
}

// Fail moves a running job owned by workerID to failed.
func (q *JobQueue) Fail(ctx context.Context, jobID, workerID, message string, now int64) (bool, error) {
	return q.transition(ctx, "fail", `
		UPDATE optimization_jobs SET status = 'failed', error_message = $3, finished_at = $4
		WHERE id = $1 AND worker_id = $2 AND status = 'running'
	`, jobID, workerID, message, now)
}

// Cancel moves a queued or running job to cancelled.
func (q *JobQueue) Cancel(ctx context.Context, jobID string, now int64) (bool, error) {
	return q.transition(ctx, "cancel", `
		UPDATE optimization_jobs SET status = 'cancelled', finished_at = $2
		WHERE id = $1 AND status IN ('queued', 'running')
	`, jobID, now)
}

// transition runs a guarded UPDATE and reports whether a row matched.
func (q *JobQueue) transition(ctx context.Context, op, query string, args ...any) (bool, error) {
	tag, err := q.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Cleanup purges old terminal jobs and requeues stale running jobs.
func (q *JobQueue) Cleanup(ctx context.Context, retentionCutoff, staleCutoff int64) (int, int, error) {
	var purged, requeued int64
	err := pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM optimization_jobs
			WHERE status IN ('completed', 'failed', 'cancelled') AND finished_at < $1
		`, retentionCutoff)
		if err != nil {
			return fmt.Errorf("purge terminal jobs: %w", err)
		}
		purged = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `
			UPDATE optimization_jobs
			SET status = 'queued', worker_id = NULL, started_at = 0, last_heartbeat = 0
			WHERE status = 'running' AND last_heartbeat < $1
		`, staleCutoff)
		if err != nil {
			return fmt.Errorf("requeue stale jobs: %w", err)
		}
		requeued = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("cleanup: %w", err)
	}
	return int(purged), int(requeued), nil
}

// Status aggregates jobs by status.
func (q *JobQueue) Status(ctx context.Context, now int64) (domain.QueueStatus, error) {
	var st domain.QueueStatus

	rows, err := q.pool.Query(ctx, `
		SELECT status, count(*), COALESCE(min(created_at), 0)
		FROM optimization_jobs
		GROUP BY status
	`)
	if err != nil {
		return st, fmt.Errorf("query status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
			oldest int64
		)
		if err := rows.Scan(&status, &count, &oldest); err != nil {
			return st, fmt.Errorf("scan status: %w", err)
		}
		switch domain.JobStatus(status) {
		case domain.JobStatusQueued:
			st.Queued = count
			if now > oldest {
				st.OldestQueuedAge = now - oldest
			}
		case domain.JobStatusRunning:
			st.Running = count
		case domain.JobStatusCompleted:
			st.Completed = count
		case domain.JobStatusFailed:
			st.Failed = count
		case domain.JobStatusCancelled:
			st.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("iterate status: %w", err)
	}
	return st, nil
}

// Get retrieves a job by ID. Returns ErrNotFound if not exists.
func (q *JobQueue) Get(ctx context.Context, jobID string) (*domain.OptimizationJob, error) {
	row := q.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM optimization_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List retrieves jobs ordered by created_at DESC.
func (q *JobQueue) List(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.OptimizationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM optimization_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := q.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.OptimizationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// scanJob scans a single row into OptimizationJob.
func scanJob(row pgx.Row) (*domain.OptimizationJob, error) {
	var (
		j        domain.OptimizationJob
		status   string
		workerID *string
		progress []byte
	)
	err := row.Scan(
		&j.ID,
		&j.Parameters,
		&j.Priority,
		&status,
		&j.SubmittedBy,
		&workerID,
		&j.CreatedAt,
		&j.StartedAt,
		&j.LastHeartbeat,
		&j.FinishedAt,
		&progress,
		&j.ResultPath,
		&j.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	j.Status = domain.JobStatus(status)
	if workerID != nil {
		j.WorkerID = *workerID
	}
	if len(progress) > 0 {
		var p domain.OptimizationProgress
		if err := json.Unmarshal(progress, &p); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
		j.Progress = &p
	}
	return &j, nil
}
