package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/tasktide/tasktide/internal/config"
	"github.com/tasktide/tasktide/internal/events"
	"github.com/tasktide/tasktide/internal/platform/postgres"
	"github.com/tasktide/tasktide/internal/queue"
	"github.com/tasktide/tasktide/internal/service"
	"github.com/tasktide/tasktide/internal/store"
)

// application holds the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	taskStore    store.TaskStore
	taskService  service.TaskService
	gateway      *queue.Gateway
	eventEmitter events.EventEmitter
}

// newApplication creates an application instance with all dependencies
// initialized. The broker connection is lazy: a broker outage at startup
// does not prevent the API from serving requests.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	app.taskStore = postgres.NewPostgresTaskStore(db, logger)

	app.gateway = queue.NewGateway(cfg.Broker, logger)

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(events.NewQueuePublishHandler(
		app.gateway,
		logger.With("component", "queue_publish_handler"),
	))
	app.eventEmitter = emitter

	taskService, err := service.NewTaskService(db, app.taskStore, app.eventEmitter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}
	app.taskService = taskService

	logger.Info("application initialized")
	return app, nil
}

// Run starts the HTTP server and blocks until shutdown.
func (app *application) Run(ctx context.Context) error {
	// Warm up the broker connection; failure is logged, not fatal, because
	// Enqueue re-dials on demand.
	if err := app.gateway.Initialize(ctx); err != nil {
		app.logger.Warn("broker not reachable at startup, will retry on publish",
			"error", err.Error())
	}

	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.gateway != nil {
		if err := app.gateway.Close(); err != nil {
			app.logger.Error("error closing broker gateway", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
