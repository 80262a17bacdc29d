package memory

import (
	"context"
	"sort"
	"sync"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// JobQueue is an in-memory implementation of storage.JobQueue.
// A single mutex serializes every operation.
type JobQueue struct {
	mu   sync.Mutex
	jobs map[string]*domain.OptimizationJob
}

// NewJobQueue creates a new in-memory job queue.
func NewJobQueue() *JobQueue {
	return &JobQueue{
		jobs: make(map[string]*domain.OptimizationJob),
	}
}

// Compile-time interface check.
var _ storage.JobQueue = (*JobQueue)(nil)

// Enqueue inserts a queued job. Returns ErrDuplicateKey if the ID exists.
func (q *JobQueue) Enqueue(_ context.Context, job *domain.OptimizationJob) error {
	if job == nil || job.ID == "" {
		return storage.ErrInvalidInput
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobs[job.ID]; exists {
		return storage.ErrDuplicateKey
	}

	stored := job.Clone()
	stored.Status = domain.JobStatusQueued
	stored.WorkerID = ""
	q.jobs[job.ID] = stored
	return nil
}

// Dequeue claims the most urgent queued job for workerID.
func (q *JobQueue) Dequeue(_ context.Context, workerID string, maxConcurrent int, now int64) (*domain.OptimizationJob, error) {
	if workerID == "" {
		return nil, storage.ErrInvalidInput
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var best *domain.OptimizationJob
	owned := 0
	for _, j := range q.jobs {
		switch j.Status {
		case domain.JobStatusRunning:
			if j.WorkerID == workerID {
				owned++
			}
		case domain.JobStatusQueued:
			if best == nil || moreUrgent(j, best) {
				best = j
			}
		}
	}
	if best == nil || (maxConcurrent > 0 && owned >= maxConcurrent) {
		return nil, nil
	}

	best.Status = domain.JobStatusRunning
	best.WorkerID = workerID
	best.StartedAt = now
	best.LastHeartbeat = now
	return best.Clone(), nil
}

// moreUrgent orders by priority ASC, created_at ASC, id ASC.
func moreUrgent(a, b *domain.OptimizationJob) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}

// Heartbeat refreshes liveness of a running job owned by workerID.
func (q *JobQueue) Heartbeat(_ context.Context, jobID, workerID string, now int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.owned(jobID, workerID)
	if !ok {
		return false, nil
	}
	j.LastHeartbeat = now
	return true, nil
}

// UpdateProgress stores a progress snapshot and refreshes the heartbeat.
func (q *JobQueue) UpdateProgress(_ context.Context, jobID, workerID string, progress *domain.OptimizationProgress, now int64) (bool, error) {
	if progress == nil {
		return false, storage.ErrInvalidInput
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.owned(jobID, workerID)
	if !ok {
		return false, nil
	}
	p := *progress
	j.Progress = &p
	j.LastHeartbeat = now
	return true, nil
}

// Complete moves a running job owned by workerID to completed.
func (q *JobQueue) Complete(_ context.Context, jobID, workerID, resultPath string, now int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.owned(jobID, workerID)
	if !ok {
		return false, nil
	}
	j.Status = domain.JobStatusCompleted
	j.ResultPath = resultPath
	j.FinishedAt = now
	return true, nil
}

// Fail moves a running job owned by workerID to failed.
func (q *JobQueue) Fail(_ context.Context, jobID, workerID, message string, now int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.owned(jobID, workerID)
	if !ok {
		return false, nil
	}
	j.Status = domain.JobStatusFailed
	j.ErrorMessage = message
	j.FinishedAt = now
	return true, nil
}

// Cancel moves a queued or running job to cancelled.
func (q *JobQueue) Cancel(_ context.Context, jobID string, now int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return false, nil
	}
	if j.Status != domain.JobStatusQueued && j.Status != domain.JobStatusRunning {
		return false, nil
	}
	j.Status = domain.JobStatusCancelled
	j.FinishedAt = now
	return true, nil
}

// Cleanup purges old terminal jobs and requeues stale running jobs.
func (q *JobQueue) Cleanup(_ context.Context, retentionCutoff, staleCutoff int64) (int, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	purged, requeued := 0, 0
	for id, j := range q.jobs {
		switch {
		case j.Status.IsTerminal() && j.FinishedAt < retentionCutoff:
			delete(q.jobs, id)
			purged++
		case j.Status == domain.JobStatusRunning && j.LastHeartbeat < staleCutoff:
			j.Status = domain.JobStatusQueued
			j.WorkerID = ""
			j.StartedAt = 0
			j.LastHeartbeat = 0
			requeued++
		}
	}
	return purged, requeued, nil
}

// Status aggregates jobs by status.
func (q *JobQueue) Status(_ context.Context, now int64) (domain.QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var st domain.QueueStatus
	oldest := int64(-1)
	for _, j := range q.jobs {
		switch j.Status {
		case domain.JobStatusQueued:
			st.Queued++
			if oldest < 0 || j.CreatedAt < oldest {
				oldest = j.CreatedAt
			}
		case domain.JobStatusRunning:
			st.Running++
		case domain.JobStatusCompleted:
			st.Completed++
		case domain.JobStatusFailed:
			st.Failed++
		case domain.JobStatusCancelled:
			st.Cancelled++
		}
	}
	if oldest >= 0 && now > oldest {
		st.OldestQueuedAge = now - oldest
	}
	return st, nil
}

// Get retrieves a job by ID. Returns ErrNotFound if not exists.
func (q *JobQueue) Get(_ context.Context, jobID string) (*domain.OptimizationJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return j.Clone(), nil
}

// List retrieves jobs ordered by created_at DESC.
func (q *JobQueue) List(_ context.Context, status domain.JobStatus, limit int) ([]*domain.OptimizationJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result []*domain.OptimizationJob
	for _, j := range q.jobs {
		if status == "" || j.Status == status {
			result = append(result, j.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// owned returns the job if it is running and owned by workerID. Caller holds mu.
func (q *JobQueue) owned(jobID, workerID string) (*domain.OptimizationJob, bool) {
	j, ok := q.jobs[jobID]
	if !ok || j.Status != domain.JobStatusRunning || j.WorkerID != workerID {
		return nil, false
	}
	return j, true
}
