// Package main runs a queue worker that claims and executes optimization jobs.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"backtest-lab/internal/app"
	"backtest-lab/internal/config"
	"backtest-lab/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	workerID := flag.String("worker-id", "", "Worker ID (overrides config)")
	maxConcurrent := flag.Int("max-concurrent", 0, "Jobs run at once (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *workerID != "" {
		cfg.Worker.ID = *workerID
	}
	if *maxConcurrent > 0 {
		cfg.Worker.MaxConcurrent = *maxConcurrent
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := app.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("open stores", zap.Error(err))
	}
	defer cleanup()

	coord := app.NewCoordinator(stores, logger)
	opt, err := app.NewOptimizer(cfg, stores, logger)
	if err != nil {
		logger.Fatal("create optimizer", zap.Error(err))
	}
	worker := app.NewWorker(cfg, coord, opt, logger)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down, waiting for running jobs", zap.String("signal", sig.String()))
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("shutdown timed out")
			os.Exit(1)
		}
	}()

	logger.Info("worker starting",
		zap.String("worker_id", worker.ID()),
		zap.String("queue_backend", cfg.Storage.QueueBackend),
		zap.String("bar_backend", cfg.Storage.BarBackend))
	if err := worker.Run(ctx); err != nil {
		logger.Error("worker stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
