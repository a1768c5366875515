package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tasktide/tasktide/internal/domain"
	"github.com/tasktide/tasktide/internal/platform/logger"
	"github.com/tasktide/tasktide/internal/store"
)

// defaultListLimit bounds List when the caller does not provide a limit.
const defaultListLimit = 100

// taskColumns is the select list shared by every query returning full rows.
const taskColumns = `id, title, description, priority, status, created_at, started_at, finished_at, result, error`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the
// TaskStore interface. It accepts a database connection or transaction that
// should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx returns a new TaskStore that runs all operations on the
// provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.TaskStore.Create
// It saves a new task to the database, handling domain validation.
// Returns validation errors from the domain Task if data is invalid.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		INSERT INTO tasks (id, title, description, priority, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.Title,
		nullString(task.Description),
		task.Priority,
		task.Status,
		task.CreatedAt,
	)

	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	log.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("priority", string(task.Priority)),
		slog.String("status", string(task.Status)))
	return nil
}

// GetByID implements store.TaskStore.GetByID
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}

	return task, nil
}

// List implements store.TaskStore.List
// Results come back in creation order so pagination is stable across calls.
func (s *PostgresTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	// Build the WHERE clause from the optional filters. Placeholders are
	// numbered dynamically so the argument list stays aligned.
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	where := ""

	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = ` WHERE status = $1`
	}
	if filter.Priority != nil {
		args = append(args, *filter.Priority)
		if where == "" {
			where = ` WHERE priority = $1`
		} else {
			where += ` AND priority = $2`
		}
	}

	query += where
	switch len(args) {
	case 0:
		query += ` ORDER BY created_at, id LIMIT $1 OFFSET $2`
	case 1:
		query += ` ORDER BY created_at, id LIMIT $2 OFFSET $3`
	case 2:
		query += ` ORDER BY created_at, id LIMIT $3 OFFSET $4`
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to list tasks",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row",
				slog.String("error", err.Error()))
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		log.Error("error after scanning rows",
			slog.String("error", err.Error()))
		return nil, err
	}

	log.Debug("listed tasks", slog.Int("count", len(tasks)))
	return tasks, nil
}

// UpdateStatus implements store.TaskStore.UpdateStatus
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !status.IsValid() {
		return domain.ErrInvalidStatus
	}

	query := `UPDATE tasks SET status = $1 WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		log.Error("failed to update task status",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()),
			slog.String("status", string(status)))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Error("failed to get rows affected",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return err
	}

	if rowsAffected == 0 {
		return store.ErrTaskNotFound
	}

	log.Info("task status updated",
		slog.String("task_id", id.String()),
		slog.String("status", string(status)))
	return nil
}

// MarkStarted implements store.TaskStore.MarkStarted
// The transition and the started_at stamp happen in one conditional update:
// only NEW and PENDING tasks are eligible, so a task cancelled between
// enqueue and delivery is never started.
func (s *PostgresTaskStore) MarkStarted(ctx context.Context, id uuid.UUID, startedAt time.Time) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = $1, started_at = $2
		WHERE id = $3 AND status IN ($4, $5)
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(
		ctx,
		query,
		domain.TaskStatusInProgress,
		startedAt,
		id,
		domain.TaskStatusNew,
		domain.TaskStatusPending,
	))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyConditionalMiss(ctx, id, store.ErrNotEligible)
		}
		log.Error("failed to mark task started",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}

	log.Info("task started",
		slog.String("task_id", id.String()))
	return task, nil
}

// MarkCompleted implements store.TaskStore.MarkCompleted
// The guard on IN_PROGRESS means a cancel that won the race is never
// overwritten by the completion write.
func (s *PostgresTaskStore) MarkCompleted(ctx context.Context, id uuid.UUID, finishedAt time.Time, result string) (*domain.Task, error) {
	return s.finalize(ctx, id, domain.TaskStatusCompleted, finishedAt, result, "")
}

// MarkFailed implements store.TaskStore.MarkFailed
// Same IN_PROGRESS guard as MarkCompleted, recording the error payload.
func (s *PostgresTaskStore) MarkFailed(ctx context.Context, id uuid.UUID, finishedAt time.Time, errMsg string) (*domain.Task, error) {
	return s.finalize(ctx, id, domain.TaskStatusFailed, finishedAt, "", errMsg)
}

// finalize performs the terminal write shared by MarkCompleted and
// MarkFailed. Exactly one of result and errMsg is populated, matching the
// terminal status.
func (s *PostgresTaskStore) finalize(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	finishedAt time.Time,
	result string,
	errMsg string,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = $1, finished_at = $2, result = $3, error = $4
		WHERE id = $5 AND status = $6
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(
		ctx,
		query,
		status,
		finishedAt,
		nullString(result),
		nullString(errMsg),
		id,
		domain.TaskStatusInProgress,
	))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyConditionalMiss(ctx, id, store.ErrNotInProgress)
		}
		log.Error("failed to finalize task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()),
			slog.String("status", string(status)))
		return nil, MapError(err)
	}

	log.Info("task finalized",
		slog.String("task_id", id.String()),
		slog.String("status", string(status)))
	return task, nil
}

// Cancel implements store.TaskStore.Cancel
// A single conditional update, so two concurrent cancel calls can never
// both succeed: the loser sees zero rows and gets ErrTaskNotCancellable.
// started_at and finished_at are left untouched.
func (s *PostgresTaskStore) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = $1
		WHERE id = $2 AND status NOT IN ($3, $4, $5)
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(
		ctx,
		query,
		domain.TaskStatusCancelled,
		id,
		domain.TaskStatusCompleted,
		domain.TaskStatusFailed,
		domain.TaskStatusCancelled,
	))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Unknown id and terminal status both land here; the contract
			// deliberately does not distinguish them.
			log.Debug("task not cancellable",
				slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotCancellable
		}
		log.Error("failed to cancel task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}

	log.Info("task cancelled",
		slog.String("task_id", id.String()))
	return task, nil
}

// classifyConditionalMiss turns a zero-row conditional update into either
// ErrTaskNotFound (the id is unknown) or the provided guard error (the row
// exists but its status blocked the transition).
func (s *PostgresTaskStore) classifyConditionalMiss(ctx context.Context, id uuid.UUID, guardErr error) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return MapError(err)
	}
	if !exists {
		return store.ErrTaskNotFound
	}
	return guardErr
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row into a domain.Task, converting nullable
// columns to their Go representations.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task        domain.Task
		priority    string
		status      string
		description sql.NullString
		startedAt   sql.NullTime
		finishedAt  sql.NullTime
		result      sql.NullString
		errMsg      sql.NullString
	)

	err := row.Scan(
		&task.ID,
		&task.Title,
		&description,
		&priority,
		&status,
		&task.CreatedAt,
		&startedAt,
		&finishedAt,
		&result,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}

	task.Priority = domain.TaskPriority(priority)
	task.Status = domain.TaskStatus(status)
	task.Description = description.String
	task.Result = result.String
	task.Error = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		task.FinishedAt = &t
	}

	return &task, nil
}

// nullString maps an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
