// Package main implements the entry point for the Critic execution core:
// the asynchronous job runner, cancellation registry and webhook dispatcher
// behind the code-review backend.
package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/critichq/critic-api/internal/config"
	"github.com/critichq/critic-api/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.Setup(logger.Config{Level: cfg.Server.LogLevel})
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	app, err := newApplication(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	app.Start()
	appLogger.Info("Critic execution core started",
		slog.String("log_level", cfg.Server.LogLevel),
		slog.Int("worker_count", cfg.Analysis.WorkerCount))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	appLogger.Info("Shutdown signal received", slog.String("signal", sig.String()))
	app.Shutdown()
	appLogger.Info("Shutdown complete")
}
