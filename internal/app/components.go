package app

import (
	"fmt"

	"go.uber.org/zap"

	"backtest-lab/internal/config"
	"backtest-lab/internal/journal"
	"backtest-lab/internal/optimizer"
	"backtest-lab/internal/queue"
)

// NewCoordinator creates the queue coordinator over the configured queue.
func NewCoordinator(stores *Stores, logger *zap.Logger) *queue.Coordinator {
	return queue.NewCoordinator(queue.Options{
		Queue:  stores.Queue,
		Logger: logger,
	})
}

// NewOptimizer creates the job runner, writing journals to cfg.Journal.Dir.
func NewOptimizer(cfg *config.Config, stores *Stores, logger *zap.Logger) (*optimizer.Optimizer, error) {
	journals, err := journal.NewFileStore(cfg.Journal.Dir)
	if err != nil {
		return nil, fmt.Errorf("journal store: %w", err)
	}
	return optimizer.New(optimizer.Options{
		BarStore:     stores.Bars,
		JournalStore: journals,
		SummaryStore: stores.Summaries,
		Parallelism:  cfg.Worker.Parallelism,
		Warmup:       cfg.Worker.Warmup,
		FeeRate:      cfg.Worker.FeeRate,
		Logger:       logger,
	}), nil
}

// NewWorker creates a queue worker running jobs with runner.
func NewWorker(cfg *config.Config, coord *queue.Coordinator, runner queue.JobRunner, logger *zap.Logger) *queue.Worker {
	return queue.NewWorker(queue.WorkerOptions{
		Coordinator:       coord,
		Runner:            runner,
		WorkerID:          cfg.Worker.ID,
		MaxConcurrent:     cfg.Worker.MaxConcurrent,
		PollInterval:      cfg.Worker.PollInterval,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		Logger:            logger,
	})
}

// NewJanitor creates the cleanup loop.
func NewJanitor(cfg *config.Config, coord *queue.Coordinator, logger *zap.Logger) *queue.Janitor {
	return queue.NewJanitor(coord, queue.JanitorOptions{
		RetentionDays: cfg.Queue.RetentionDays,
		StaleMinutes:  cfg.Queue.StaleMinutes,
		Interval:      cfg.Queue.CleanupInterval,
		Logger:        logger,
	})
}
