package storage

import (
	"context"
	"errors"
	"time"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/observability"
)

// ObservedJobQueue records the duration and errors of every call to Next
// under the database label Backend.
type ObservedJobQueue struct {
	Next    JobQueue
	Backend string
}

// ObservedBarStore records the duration and errors of every call to Next.
type ObservedBarStore struct {
	Next    BarStore
	Backend string
}

// ObservedSummaryStore records the duration and errors of every call to Next.
type ObservedSummaryStore struct {
	Next    SummaryStore
	Backend string
}

// Compile-time interface checks.
var (
	_ JobQueue     = (*ObservedJobQueue)(nil)
	_ BarStore     = (*ObservedBarStore)(nil)
	_ SummaryStore = (*ObservedSummaryStore)(nil)
)

// observe records one call. Sentinel answers such as ErrNotFound are not
// counted as query errors.
func observe(backend, operation string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrInvalidInput) {
		err = nil
	}
	observability.RecordDBQuery(backend, operation, time.Since(start).Seconds(), err)
}

func (q *ObservedJobQueue) Enqueue(ctx context.Context, job *domain.OptimizationJob) error {
	start := time.Now()
	err := q.Next.Enqueue(ctx, job)
	observe(q.Backend, "enqueue", start, err)
	return err
}

func (q *ObservedJobQueue) Dequeue(ctx context.Context, workerID string, maxConcurrent int, now int64) (*domain.OptimizationJob, error) {
	start := time.Now()
	job, err := q.Next.Dequeue(ctx, workerID, maxConcurrent, now)
	observe(q.Backend, "dequeue", start, err)
	return job, err
}

func (q *ObservedJobQueue) Heartbeat(ctx context.Context, jobID, workerID string, now int64) (bool, error) {
	start := time.Now()
	ok, err := q.Next.Heartbeat(ctx, jobID, workerID, now)
	observe(q.Backend, "heartbeat", start, err)
	return ok, err
}

func (q *ObservedJobQueue) UpdateProgress(ctx context.Context, jobID, workerID string, progress *domain.OptimizationProgress, now int64) (bool, error) {
	start := time.Now()
	ok, err := q.Next.UpdateProgress(ctx, jobID, workerID, progress, now)
	observe(q.Backend, "update_progress", start, err)
	return ok, err
}

func (q *ObservedJobQueue) Complete(ctx context.Context, jobID, workerID, resultPath string, now int64) (bool, error) {
	start := time.Now()
	ok, err := q.Next.Complete(ctx, jobID, workerID, resultPath, now)
	observe(q.Backend, "complete", start, err)
	return ok, err
}

func (q *ObservedJobQueue) Fail(ctx context.Context, jobID, workerID, message string, now int64) (bool, error) {
	start := time.Now()
	ok, err := q.Next.Fail(ctx, jobID, workerID, message, now)
	observe(q.Backend, "fail", start, err)
	return ok, err
}

func (q *ObservedJobQueue) Cancel(ctx context.Context, jobID string, now int64) (bool, error) {
	start := time.Now()
	ok, err := q.Next.Cancel(ctx, jobID, now)
	observe(q.Backend, "cancel", start, err)
	return ok, err
}

func (q *ObservedJobQueue) Cleanup(ctx context.Context, retentionCutoff, staleCutoff int64) (int, int, error) {
	start := time.Now()
	purged, requeued, err := q.Next.Cleanup(ctx, retentionCutoff, staleCutoff)
	observe(q.Backend, "cleanup", start, err)
	return purged, requeued, err
}

func (q *ObservedJobQueue) Status(ctx context.Context, now int64) (domain.QueueStatus, error) {
	start := time.Now()
	st, err := q.Next.Status(ctx, now)
	observe(q.Backend, "status", start, err)
	return st, err
}

func (q *ObservedJobQueue) Get(ctx context.Context, jobID string) (*domain.OptimizationJob, error) {
	start := time.Now()
	job, err := q.Next.Get(ctx, jobID)
	observe(q.Backend, "get", start, err)
	return job, err
}

func (q *ObservedJobQueue) List(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.OptimizationJob, error) {
	start := time.Now()
	jobs, err := q.Next.List(ctx, status, limit)
	observe(q.Backend, "list", start, err)
	return jobs, err
}

func (s *ObservedBarStore) InsertBulk(ctx context.Context, key domain.MarketKey, bars []domain.Bar) error {
	start := time.Now()
	err := s.Next.InsertBulk(ctx, key, bars)
	observe(s.Backend, "insert_bars", start, err)
	return err
}

func (s *ObservedBarStore) GetByTimeRange(ctx context.Context, key domain.MarketKey, from, to int64) ([]domain.Bar, error) {
	start := time.Now()
	bars, err := s.Next.GetByTimeRange(ctx, key, from, to)
	observe(s.Backend, "get_bars", start, err)
	return bars, err
}

func (s *ObservedBarStore) Exists(ctx context.Context, key domain.MarketKey) (bool, error) {
	start := time.Now()
	ok, err := s.Next.Exists(ctx, key)
	observe(s.Backend, "bars_exist", start, err)
	return ok, err
}

func (s *ObservedSummaryStore) InsertBulk(ctx context.Context, summaries []*domain.BacktestSummary) error {
	start := time.Now()
	err := s.Next.InsertBulk(ctx, summaries)
	observe(s.Backend, "insert_summaries", start, err)
	return err
}

func (s *ObservedSummaryStore) GetByJobID(ctx context.Context, jobID string) ([]*domain.BacktestSummary, error) {
	start := time.Now()
	sums, err := s.Next.GetByJobID(ctx, jobID)
	observe(s.Backend, "get_summaries", start, err)
	return sums, err
}

func (s *ObservedSummaryStore) TopByFitness(ctx context.Context, jobID string, limit int) ([]*domain.BacktestSummary, error) {
	start := time.Now()
	sums, err := s.Next.TopByFitness(ctx, jobID, limit)
	observe(s.Backend, "top_summaries", start, err)
	return sums, err
}

func (s *ObservedSummaryStore) ClearRetained(ctx context.Context, jobID string, parameterIDs []string) error {
	start := time.Now()
	err := s.Next.ClearRetained(ctx, jobID, parameterIDs)
	observe(s.Backend, "clear_retained", start, err)
	return err
}
