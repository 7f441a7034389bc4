package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fiberApp, err := app.SetupApp(ctx, cfg, rdb)
	if err != nil {
		logging.Error("Authorizer setup failed", "error", err)
		os.Exit(1)
	}

	idleConnsClosed := make(chan struct{})
	startServer(fiberApp, cfg, idleConnsClosed)
	<-idleConnsClosed
}

// startServer starts the Fiber app and blocks until a shutdown signal arrives.
func startServer(fiberApp *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		logging.Info("Authorizer listening", "addr", cfg.ListenAddr(), "mode", cfg.Authority.AuthType)
		if err := fiberApp.Listen(cfg.ListenAddr()); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := fiberApp.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}
