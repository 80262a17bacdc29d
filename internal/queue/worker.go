package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/logging"
	"backtest-lab/internal/observability"
)

var (
	errJobCancelled   = errors.New("job cancelled")
	errLostOwnership  = errors.New("job no longer owned by this worker")
	defaultPoll       = 2 * time.Second
	defaultHeartbeat  = 15 * time.Second
	defaultConcurrent = 1
)

// JobRunner executes one job. report may be called at any time with the
// latest progress; it is forwarded to the queue on the next heartbeat.
// RunJob must return promptly once ctx is cancelled.
type JobRunner interface {
	RunJob(ctx context.Context, job *domain.OptimizationJob, report func(domain.OptimizationProgress)) (resultPath string, err error)
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Coordinator       *Coordinator
	Runner            JobRunner
	WorkerID          string        // defaults to a random UUID
	MaxConcurrent     int           // jobs run at once, default 1
	PollInterval      time.Duration // minimum gap between dequeue attempts, default 2s
	HeartbeatInterval time.Duration // default 15s; keep well below the stale timeout
	Logger            *zap.Logger
}

// Worker claims jobs and runs them until its context is cancelled.
type Worker struct {
	coord     *Coordinator
	runner    JobRunner
	id        string
	max       int
	heartbeat time.Duration
	limiter   *rate.Limiter
	logger    *zap.Logger

	sem     chan struct{}
	wg      sync.WaitGroup
	running atomic.Int32
}

// NewWorker creates a worker.
func NewWorker(opts WorkerOptions) *Worker {
	if opts.WorkerID == "" {
		opts.WorkerID = uuid.NewString()
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = defaultConcurrent
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPoll
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	return &Worker{
		coord:     opts.Coordinator,
		runner:    opts.Runner,
		id:        opts.WorkerID,
		max:       opts.MaxConcurrent,
		heartbeat: opts.HeartbeatInterval,
		limiter:   rate.NewLimiter(rate.Every(opts.PollInterval), 1),
		logger:    logging.OrNop(opts.Logger).With(zap.String("worker_id", opts.WorkerID)),
		sem:       make(chan struct{}, opts.MaxConcurrent),
	}
}

// ID returns the worker identity used for ownership.
func (w *Worker) ID() string { return w.id }

// Running returns the number of jobs in flight.
func (w *Worker) Running() int { return int(w.running.Load()) }

// Run polls for jobs until ctx is cancelled, then waits for in-flight jobs
// to stop. Jobs interrupted by shutdown stay running in the queue and are
// reclaimed by cleanup.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", zap.Int("max_concurrent", w.max))
	defer w.wg.Wait()

	for {
		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return nil
		}
		if err := w.limiter.Wait(ctx); err != nil {
			<-w.sem
			w.logger.Info("worker stopping")
			return nil
		}

		job, err := w.coord.Dequeue(ctx, w.id, w.max)
		if err != nil {
			<-w.sem
			if ctx.Err() == nil {
				w.logger.Warn("dequeue failed", zap.Error(err))
			}
			continue
		}
		if job == nil {
			<-w.sem
			continue
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.process(ctx, job)
		}()
	}
}

// progressBox holds the latest unsent progress report.
type progressBox struct {
	mu    sync.Mutex
	p     domain.OptimizationProgress
	dirty bool
}

func (b *progressBox) set(p domain.OptimizationProgress) {
	b.mu.Lock()
	b.p = p
	b.dirty = true
	b.mu.Unlock()
}

func (b *progressBox) take() (domain.OptimizationProgress, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.dirty
	b.dirty = false
	return b.p, d
}

func (b *progressBox) restore() {
	b.mu.Lock()
	b.dirty = true
	b.mu.Unlock()
}

func (w *Worker) process(parent context.Context, job *domain.OptimizationJob) {
	start := time.Now()
	n := w.running.Add(1)
	observability.UpdateRunningJobs(int(n))
	defer func() {
		observability.UpdateRunningJobs(int(w.running.Add(-1)))
	}()

	log := w.logger.With(zap.String("job_id", job.ID))
	log.Info("job started")

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	box := &progressBox{}
	if job.Progress != nil {
		box.p = *job.Progress
	}

	stopped := make(chan struct{})
	keepAliveDone := make(chan struct{})
	go func() {
		defer close(keepAliveDone)
		w.keepAlive(ctx, cancel, job.ID, box, stopped)
	}()

	resultPath, runErr := w.runner.RunJob(ctx, job, box.set)
	close(stopped)
	<-keepAliveDone

	switch cause := context.Cause(ctx); {
	case errors.Is(cause, errJobCancelled):
		log.Info("job cancelled while running")
		observability.RecordJobFinished(string(domain.JobStatusCancelled), time.Since(start).Seconds(), time.Now().Unix())
		return
	case errors.Is(cause, errLostOwnership):
		log.Warn("job reclaimed by another worker, dropping result")
		return
	case parent.Err() != nil:
		log.Info("worker shutting down, job left for reclamation")
		return
	}

	// commits use the parent context so they are not cut short by the job's own cancel
	if p, dirty := box.take(); dirty {
		if _, err := w.coord.UpdateProgress(parent, job.ID, w.id, p); err != nil {
			log.Warn("final progress update failed", zap.Error(err))
		}
	}

	status := domain.JobStatusCompleted
	var ok bool
	var err error
	if runErr != nil {
		status = domain.JobStatusFailed
		ok, err = w.coord.Fail(parent, job.ID, w.id, runErr.Error())
	} else {
		ok, err = w.coord.Complete(parent, job.ID, w.id, resultPath)
	}
	switch {
	case err != nil:
		log.Error("commit failed", zap.String("status", string(status)), zap.Error(err))
	case !ok:
		log.Warn("commit rejected, job no longer owned", zap.String("status", string(status)))
	default:
		observability.RecordJobFinished(string(status), time.Since(start).Seconds(), time.Now().Unix())
	}
}

// keepAlive heartbeats the job, sending progress when there is new progress.
// A rejected heartbeat means the job was cancelled or reclaimed; the job
// context is cancelled with the matching cause.
func (w *Worker) keepAlive(ctx context.Context, cancel context.CancelCauseFunc, jobID string, box *progressBox, stopped <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stopped:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var ok bool
		var err error
		if p, dirty := box.take(); dirty {
			ok, err = w.coord.UpdateProgress(ctx, jobID, w.id, p)
			if err != nil {
				box.restore()
			}
		} else {
			ok, err = w.coord.Heartbeat(ctx, jobID, w.id)
		}
		if err != nil {
			w.logger.Warn("heartbeat failed", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		if ok {
			continue
		}

		job, err := w.coord.Get(ctx, jobID)
		if err == nil && job.Status == domain.JobStatusCancelled {
			cancel(errJobCancelled)
		} else {
			cancel(errLostOwnership)
		}
		return
	}
}
