package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// JobQueue implements storage.JobQueue on SQLite.
type JobQueue struct {
	db *DB
}

// NewJobQueue creates a new JobQueue.
func NewJobQueue(db *DB) *JobQueue {
	return &JobQueue{db: db}
}

// Compile-time interface check.
var _ storage.JobQueue = (*JobQueue)(nil)

const jobColumns = `id, parameters, priority, status, submitted_by, worker_id,
	created_at, started_at, last_heartbeat, finished_at,
	progress, result_path, error_message`

// Enqueue inserts a queued job. Returns ErrDuplicateKey if the ID exists.
func (q *JobQueue) Enqueue(ctx context.Context, job *domain.OptimizationJob) error {
	if job == nil || job.ID == "" {
		return storage.ErrInvalidInput
	}

	params := job.Parameters
	if params == nil {
		params = []byte{}
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO optimization_jobs (id, parameters, priority, status, submitted_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, params, job.Priority, string(domain.JobStatusQueued), job.SubmittedBy, job.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
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
	err := q.db.withTx(ctx, func(tx *sql.Tx) error {
		if maxConcurrent > 0 {
			var owned int
			err := tx.QueryRowContext(ctx,
				`SELECT count(*) FROM optimization_jobs WHERE status = 'running' AND worker_id = ?`,
				workerID,
			).Scan(&owned)
			if err != nil {
				return fmt.Errorf("count owned jobs: %w", err)
			}
			if owned >= maxConcurrent {
				return nil
			}
		}

		var id string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM optimization_jobs
			WHERE status = 'queued'
			ORDER BY priority ASC, created_at ASC, id ASC
			LIMIT 1`,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select queued job: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE optimization_jobs
			SET status = 'running', worker_id = ?, started_at = ?, last_heartbeat = ?
			WHERE id = ?`,
			workerID, now, now, id,
		); err != nil {
			return fmt.Errorf("claim job: %w", err)
		}

		job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM optimization_jobs WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("reload job: %w", err)
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
		UPDATE optimization_jobs SET last_heartbeat = ?
		WHERE id = ? AND worker_id = ? AND status = 'running'`,
		now, jobID, workerID)
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
		UPDATE optimization_jobs SET progress = ?, last_heartbeat = ?
		WHERE id = ? AND worker_id = ? AND status = 'running'`,
		string(data), now, jobID, workerID)
}

// Complete moves a running job owned by workerID to completed.
func (q *JobQueue) Complete(ctx context.Context, jobID, workerID, resultPath string, now int64) (bool, error) {
	return q.transition(ctx, "complete", `
		UPDATE optimization_jobs SET status = 'completed', result_path = ?, finished_at = ?
		WHERE id = ? AND worker_id = ? AND status = 'running'`,
		resultPath, now, jobID, workerID)
}

// Fail moves a running job owned by workerID to failed.
func (q *JobQueue) Fail(ctx context.Context, jobID, workerID, message string, now int64) (bool, error) {
	return q.transition(ctx, "fail", `
		UPDATE optimization_jobs SET status = 'failed', error_message = ?, finished_at = ?
		WHERE id = ? AND worker_id = ? AND status = 'running'`,
		message, now, jobID, workerID)
}

// Cancel moves a queued or running job to cancelled.
func (q *JobQueue) Cancel(ctx context.Context, jobID string, now int64) (bool, error) {
	return q.transition(ctx, "cancel", `
		UPDATE optimization_jobs SET status = 'cancelled', finished_at = ?
		WHERE id = ? AND status IN ('queued', 'running')`,
		now, jobID)
}

func (q *JobQueue) transition(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n == 1, nil
}

// Cleanup purges old terminal jobs and requeues stale running jobs.
func (q *JobQueue) Cleanup(ctx context.Context, retentionCutoff, staleCutoff int64) (int, int, error) {
	var purged, requeued int64
	err := q.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM optimization_jobs
			WHERE status IN ('completed', 'failed', 'cancelled') AND finished_at < ?`,
			retentionCutoff)
		if err != nil {
			return fmt.Errorf("purge terminal jobs: %w", err)
		}
		if purged, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE optimization_jobs
			SET status = 'queued', worker_id = NULL, started_at = 0, last_heartbeat = 0
			WHERE status = 'running' AND last_heartbeat < ?`,
			staleCutoff)
		if err != nil {
			return fmt.Errorf("requeue stale jobs: %w", err)
		}
		requeued, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("cleanup: %w", err)
	}
	return int(purged), int(requeued), nil
}

// Status aggregates jobs by status.
func (q *JobQueue) Status(ctx context.Context, now int64) (domain.QueueStatus, error) {
	var st domain.QueueStatus

	rows, err := q.db.QueryContext(ctx, `
		SELECT status, count(*), COALESCE(min(created_at), 0)
		FROM optimization_jobs GROUP BY status`)
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
	return st, rows.Err()
}

// Get retrieves a job by ID. Returns ErrNotFound if not exists.
func (q *JobQueue) Get(ctx context.Context, jobID string) (*domain.OptimizationJob, error) {
	job, err := scanJob(q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM optimization_jobs WHERE id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List retrieves jobs ordered by created_at DESC.
func (q *JobQueue) List(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.OptimizationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM optimization_jobs
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, id ASC`
	args := []any{string(status), string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
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
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.OptimizationJob, error) {
	var (
		j        domain.OptimizationJob
		status   string
		workerID sql.NullString
		progress sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.Parameters, &j.Priority, &status, &j.SubmittedBy, &workerID,
		&j.CreatedAt, &j.StartedAt, &j.LastHeartbeat, &j.FinishedAt,
		&progress, &j.ResultPath, &j.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	j.Status = domain.JobStatus(status)
	j.WorkerID = workerID.String
	if progress.Valid && progress.String != "" {
		var p domain.OptimizationProgress
		if err := json.Unmarshal([]byte(progress.String), &p); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
		j.Progress = &p
	}
	return &j, nil
}

// isUniqueViolation matches SQLITE_CONSTRAINT_PRIMARYKEY / UNIQUE messages.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: optimization_jobs.id")
}
