package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"backtest-lab/internal/logging"
)

// JanitorOptions configures a Janitor.
type JanitorOptions struct {
	RetentionDays int           // terminal jobs older than this are purged
	StaleMinutes  int           // running jobs without heartbeat this long are requeued
	Interval      time.Duration // default 1m
	Logger        *zap.Logger
}

// Janitor runs Cleanup periodically. It is the only path by which jobs of
// crashed workers return to the queue.
type Janitor struct {
	coord  *Coordinator
	opts   JanitorOptions
	logger *zap.Logger
}

// NewJanitor creates a janitor.
func NewJanitor(coord *Coordinator, opts JanitorOptions) *Janitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Janitor{coord: coord, opts: opts, logger: logging.OrNop(opts.Logger)}
}

// RunOnce performs one cleanup pass.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	return j.coord.Cleanup(ctx, j.opts.RetentionDays, j.opts.StaleMinutes)
}

// Run cleans up immediately and then on every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn("cleanup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
