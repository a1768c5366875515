// Package service contains the application services that sit between the
// HTTP handlers and the stores. Services own transactions and post-commit
// side effects such as emitting events towards the broker.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tasktide/tasktide/internal/domain"
	"github.com/tasktide/tasktide/internal/events"
	"github.com/tasktide/tasktide/internal/store"
)

// TaskService provides task submission operations.
type TaskService interface {
	// CreateTask persists a new task and emits a created event for
	// asynchronous processing. The event is emitted only after the
	// database transaction has committed.
	CreateTask(
		ctx context.Context,
		title, description string,
		priority domain.TaskPriority,
	) (*domain.Task, error)
}

// TaskServiceError wraps errors from the task service with context.
type TaskServiceError struct {
	// Operation is the operation that failed (e.g., "create_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

func (e *TaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}

// newTaskServiceError wraps err unless it is a sentinel the caller is
// expected to match on, in which case it is returned as-is.
func newTaskServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, store.ErrInvalidEntity) {
		return err
	}
	return &TaskServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

type taskServiceImpl struct {
	db           *sql.DB
	taskStore    store.TaskStore
	eventEmitter events.EventEmitter
	logger       *slog.Logger
}

// NewTaskService creates a new TaskService.
// It returns an error if any of the required dependencies are nil.
func NewTaskService(
	db *sql.DB,
	taskStore store.TaskStore,
	eventEmitter events.EventEmitter,
	logger *slog.Logger,
) (TaskService, error) {
	if db == nil {
		return nil, &TaskServiceError{Operation: "create_service", Message: "db cannot be nil"}
	}
	if taskStore == nil {
		return nil, &TaskServiceError{Operation: "create_service", Message: "taskStore cannot be nil"}
	}
	if eventEmitter == nil {
		return nil, &TaskServiceError{Operation: "create_service", Message: "eventEmitter cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &taskServiceImpl{
		db:           db,
		taskStore:    taskStore,
		eventEmitter: eventEmitter,
		logger:       logger.With("component", "task_service"),
	}, nil
}

// CreateTask creates a task record inside a transaction and emits the
// created event after the commit. An emit failure is logged and swallowed:
// the committed record stays visible and cancellable, so losing the message
// must not fail the request.
func (s *taskServiceImpl) CreateTask(
	ctx context.Context,
	title, description string,
	priority domain.TaskPriority,
) (*domain.Task, error) {
	task, err := domain.NewTask(title, description, priority)
	if err != nil {
		s.logger.Debug("rejected invalid task",
			"error", err,
			"title_length", len(title))
		return nil, newTaskServiceError("create_task", "invalid task", err)
	}

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.taskStore.WithTx(tx).Create(ctx, task); err != nil {
			s.logger.Error("failed to create task in transaction",
				"error", err,
				"task_id", task.ID)
			return newTaskServiceError("create_task", "failed to save task", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task created",
		"task_id", task.ID,
		"priority", task.Priority)

	if err := s.eventEmitter.EmitEvent(ctx, events.NewTaskCreatedEvent(task.ID)); err != nil {
		s.logger.Warn("failed to emit task created event",
			"error", err,
			"task_id", task.ID)
	}

	return task, nil
}
