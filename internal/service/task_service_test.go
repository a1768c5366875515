package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasktide/tasktide/internal/domain"
	"github.com/tasktide/tasktide/internal/events"
	"github.com/tasktide/tasktide/internal/platform/logger"
	"github.com/tasktide/tasktide/internal/store"
)

// stubTaskStore records transactional usage and delegates Create to a
// configurable function.
type stubTaskStore struct {
	createFn func(ctx context.Context, task *domain.Task) error
	lastTx   *sql.Tx
	created  []*domain.Task
}

func (s *stubTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if s.createFn != nil {
		if err := s.createFn(ctx, task); err != nil {
			return err
		}
	}
	s.created = append(s.created, task)
	return nil
}

func (s *stubTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return nil, store.ErrTaskNotFound
}

func (s *stubTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	return nil, nil
}

func (s *stubTaskStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus) error {
	return nil
}

func (s *stubTaskStore) MarkStarted(ctx context.Context, id uuid.UUID, startedAt time.Time) (*domain.Task, error) {
	return nil, store.ErrTaskNotFound
}

func (s *stubTaskStore) MarkCompleted(ctx context.Context, id uuid.UUID, finishedAt time.Time, result string) (*domain.Task, error) {
	return nil, store.ErrTaskNotFound
}

func (s *stubTaskStore) MarkFailed(ctx context.Context, id uuid.UUID, finishedAt time.Time, errMsg string) (*domain.Task, error) {
	return nil, store.ErrTaskNotFound
}

func (s *stubTaskStore) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return nil, store.ErrTaskNotCancellable
}

func (s *stubTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	s.lastTx = tx
	return s
}

var _ store.TaskStore = (*stubTaskStore)(nil)

type stubEmitter struct {
	events  []*events.TaskCreatedEvent
	emitErr error
}

func (e *stubEmitter) EmitEvent(ctx context.Context, event *events.TaskCreatedEvent) error {
	e.events = append(e.events, event)
	return e.emitErr
}

func newServiceUnderTest(t *testing.T, taskStore store.TaskStore, emitter events.EventEmitter) (TaskService, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log, _ := logger.GetTestLogger(t)
	svc, err := NewTaskService(db, taskStore, emitter, log)
	require.NoError(t, err)
	return svc, mock
}

func TestNewTaskServiceValidation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	taskStore := &stubTaskStore{}
	emitter := &stubEmitter{}

	_, err = NewTaskService(nil, taskStore, emitter, nil)
	assert.Error(t, err)

	_, err = NewTaskService(db, nil, emitter, nil)
	assert.Error(t, err)

	_, err = NewTaskService(db, taskStore, nil, nil)
	assert.Error(t, err)

	_, err = NewTaskService(db, taskStore, emitter, nil)
	assert.NoError(t, err)
}

func TestCreateTask(t *testing.T) {
	taskStore := &stubTaskStore{}
	emitter := &stubEmitter{}
	svc, mock := newServiceUnderTest(t, taskStore, emitter)

	mock.ExpectBegin()
	mock.ExpectCommit()

	task, err := svc.CreateTask(context.Background(), "T1", "details", domain.TaskPriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, "T1", task.Title)
	assert.Equal(t, domain.TaskStatusNew, task.Status)

	// Insert ran inside the transaction, event fired after the commit
	require.Len(t, taskStore.created, 1)
	assert.NotNil(t, taskStore.lastTx)
	require.Len(t, emitter.events, 1)
	assert.Equal(t, task.ID, emitter.events[0].TaskID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTaskInvalidTitle(t *testing.T) {
	taskStore := &stubTaskStore{}
	emitter := &stubEmitter{}
	svc, mock := newServiceUnderTest(t, taskStore, emitter)

	_, err := svc.CreateTask(context.Background(), "", "", domain.TaskPriorityLow)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// Nothing touched the database or the broker
	assert.Empty(t, taskStore.created)
	assert.Empty(t, emitter.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTaskStoreFailureRollsBack(t *testing.T) {
	taskStore := &stubTaskStore{
		createFn: func(ctx context.Context, task *domain.Task) error {
			return errors.New("insert failed")
		},
	}
	emitter := &stubEmitter{}
	svc, mock := newServiceUnderTest(t, taskStore, emitter)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.CreateTask(context.Background(), "T1", "", domain.TaskPriorityLow)
	require.Error(t, err)

	var svcErr *TaskServiceError
	assert.ErrorAs(t, err, &svcErr)
	assert.Empty(t, emitter.events, "no event without a committed record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTaskEmitFailureIsSwallowed(t *testing.T) {
	taskStore := &stubTaskStore{}
	emitter := &stubEmitter{emitErr: errors.New("broker unreachable")}
	svc, mock := newServiceUnderTest(t, taskStore, emitter)

	mock.ExpectBegin()
	mock.ExpectCommit()

	task, err := svc.CreateTask(context.Background(), "T1", "", domain.TaskPriorityLow)
	require.NoError(t, err, "a lost message must not fail the request")
	assert.NotNil(t, task)
	assert.NoError(t, mock.ExpectationsWereMet())
}
