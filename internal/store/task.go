package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/tasktide/tasktide/internal/domain"
)

// TaskFilter narrows List results. Nil fields match everything.
// Offset and Limit paginate; Limit of zero or less falls back to the
// implementation's default.
type TaskFilter struct {
	Status   *domain.TaskStatus
	Priority *domain.TaskPriority
	Offset   int
	Limit    int
}

// TaskStore defines the interface for task data persistence. The store is
// the single source of truth for task status; every status transition is a
// single atomic conditional update so that concurrent writers (the API's
// cancel path and the consumer) cannot lose updates to each other.
type TaskStore interface {
	// Create saves a new task to the store.
	// It handles domain validation internally.
	// Returns validation errors from the domain Task if data is invalid.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List retrieves tasks matching the filter in stable creation order.
	// Returns an empty slice if no tasks match.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// UpdateStatus sets the status of an existing task without any guard.
	// Returns ErrTaskNotFound if the task does not exist and validation
	// errors if the status is outside the closed set. Lifecycle-guarded
	// transitions should use MarkStarted/MarkCompleted/MarkFailed/Cancel.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus) error

	// MarkStarted transitions a NEW or PENDING task to IN_PROGRESS and
	// stamps started_at, all in one conditional update.
	// Returns ErrTaskNotFound if the task does not exist and ErrNotEligible
	// if its current status does not permit execution (for example it was
	// cancelled between enqueue and delivery).
	MarkStarted(ctx context.Context, id uuid.UUID, startedAt time.Time) (*domain.Task, error)

	// MarkCompleted transitions an IN_PROGRESS task to COMPLETED, stamping
	// finished_at and the result payload. Returns ErrTaskNotFound if the
	// task does not exist and ErrNotInProgress if the task is no longer
	// IN_PROGRESS, which means a concurrent cancel won and the completion
	// must be discarded.
	MarkCompleted(ctx context.Context, id uuid.UUID, finishedAt time.Time, result string) (*domain.Task, error)

	// MarkFailed transitions an IN_PROGRESS task to FAILED, stamping
	// finished_at and the error payload. Same guard semantics as
	// MarkCompleted.
	MarkFailed(ctx context.Context, id uuid.UUID, finishedAt time.Time, errMsg string) (*domain.Task, error)

	// Cancel atomically moves a non-terminal task to CANCELLED.
	// Returns ErrTaskNotCancellable both when the task does not exist and
	// when its status is already terminal; see the error's documentation
	// for why the cases are not distinguished.
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// WithTx returns a new TaskStore instance that uses the provided
	// transaction. The transaction should be created and managed by the
	// caller.
	WithTx(tx *sql.Tx) TaskStore
}
