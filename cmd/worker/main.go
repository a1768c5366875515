// Package main implements the entry point for the task worker. It consumes
// task ids from the broker, executes the work, and records terminal statuses
// in the database.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/tasktide/tasktide/internal/config"
	"github.com/tasktide/tasktide/internal/platform/logger"
	"github.com/tasktide/tasktide/internal/platform/postgres"
	"github.com/tasktide/tasktide/internal/worker"
)

// redialDelay is the pause before reconnecting after losing the broker.
const redialDelay = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	workerLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := setupDatabase(cfg, workerLogger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			workerLogger.Error("error closing database connection", "error", err)
		}
	}()

	taskStore := postgres.NewPostgresTaskStore(db, workerLogger)
	executor := &worker.FixedDelayExecutor{Delay: cfg.Worker.ProcessDelay}
	consumer := worker.NewConsumer(cfg.Broker, taskStore, executor, workerLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Reconnect on broker loss until the process is told to stop.
	for {
		err := consumer.Run(ctx)
		if err == nil {
			workerLogger.Info("worker stopped")
			return nil
		}
		if !errors.Is(err, worker.ErrBrokerUnavailable) {
			return err
		}

		workerLogger.Warn("lost broker connection, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", redialDelay))

		select {
		case <-ctx.Done():
			workerLogger.Info("worker stopped")
			return nil
		case <-time.After(redialDelay):
		}
	}
}
