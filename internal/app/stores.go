// Package app wires configured storage backends into the components the
// commands run.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"backtest-lab/internal/config"
	"backtest-lab/internal/storage"
	chstore "backtest-lab/internal/storage/clickhouse"
	"backtest-lab/internal/storage/memory"
	"backtest-lab/internal/storage/migrations"
	pgstore "backtest-lab/internal/storage/postgres"
	"backtest-lab/internal/storage/sqlite"
)

// Stores holds the storage implementations selected by configuration.
type Stores struct {
	Queue     storage.JobQueue
	Bars      storage.BarStore
	Summaries storage.SummaryStore
}

// OpenStores connects the configured backends. The returned cleanup closes
// every connection that was opened.
func OpenStores(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*Stores, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	stores := &Stores{}

	switch cfg.QueueBackend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if cfg.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		stores.Queue = &storage.ObservedJobQueue{Next: pgstore.NewJobQueue(pool), Backend: "postgres"}
	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		stores.Queue = &storage.ObservedJobQueue{Next: sqlite.NewJobQueue(db), Backend: "sqlite"}
	default:
		stores.Queue = memory.NewJobQueue()
	}

	switch cfg.BarBackend {
	case config.BackendClickhouse:
		var conn *chstore.Conn
		var err error
		if cfg.Migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		} else {
			conn, err = chstore.NewConn(ctx, cfg.ClickhouseDSN)
		}
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		stores.Bars = &storage.ObservedBarStore{Next: chstore.NewBarStore(conn), Backend: "clickhouse"}
		stores.Summaries = &storage.ObservedSummaryStore{Next: chstore.NewSummaryStore(conn), Backend: "clickhouse"}
	default:
		stores.Bars = memory.NewBarStore()
		stores.Summaries = memory.NewSummaryStore()
	}

	logger.Info("storage ready",
		zap.String("queue_backend", cfg.QueueBackend),
		zap.String("bar_backend", cfg.BarBackend),
		zap.Bool("migrated", cfg.Migrate),
	)
	return stores, cleanup, nil
}
