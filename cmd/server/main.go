// Package main runs the HTTP API together with queue housekeeping and,
// optionally, an embedded worker.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"backtest-lab/internal/api"
	"backtest-lab/internal/app"
	"backtest-lab/internal/config"
	"backtest-lab/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	embedded := flag.Bool("embedded-worker", false, "Also run a worker in this process")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *embedded {
		cfg.Server.EmbeddedWorker = true
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
	apiOpts := api.Options{
		Coordinator:    coord,
		StreamInterval: cfg.Server.StreamInterval,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.EmbeddedWorker {
		opt, err := app.NewOptimizer(cfg, stores, logger)
		if err != nil {
			logger.Fatal("create optimizer", zap.Error(err))
		}
		apiOpts.Control = opt
		worker := app.NewWorker(cfg, coord, opt, logger)
		g.Go(func() error { return worker.Run(gctx) })
	}

	janitor := app.NewJanitor(cfg, coord, logger)
	g.Go(func() error { return janitor.Run(gctx) })

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(apiOpts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return httpServer.Shutdown(shutdownCtx)
	})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out")
			os.Exit(1)
		}
	}()

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
