package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threescale-authorizer/internal/app"
	"threescale-authorizer/internal/config"
	"threescale-authorizer/internal/infra/logging"
)

func main() {
	cfg := config.Load()

	logging.InitLogger(logging.Options{
		File:       cfg.Logger.File,
		Level:      cfg.Logger.Level,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
		Compress:   cfg.Logger.Compress,
	})
	logging.SetLogLevel(cfg.Logger.Level)

	rdb := app.NewRedis(cfg)
	defer rdb.Close()

	consumer, err := app.SetupWorker(cfg, rdb)
	if err != nil {
		logging.Error("Worker setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			logging.Error("Reporting worker failed", "error", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	logging.Warn("Shutdown signal received, draining in-flight reports...")

	// The current batch finishes on its own context; give it a bounded grace period.
	select {
	case err := <-done:
		if err != nil {
			logging.Error("Reporting worker stopped with error", "error", err)
		}
		logging.Info("Worker stopped cleanly")
	case <-time.After(app.DrainTimeout(cfg)):
		logging.Error("Worker forced to stop with reports in flight")
	}
}
