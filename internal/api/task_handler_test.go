package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasktide/tasktide/internal/api"
	"github.com/tasktide/tasktide/internal/domain"
	"github.com/tasktide/tasktide/internal/events"
	"github.com/tasktide/tasktide/internal/platform/logger"
	"github.com/tasktide/tasktide/internal/store"
)

// fakeTaskStore is an in-memory store.TaskStore preserving insertion order.
type fakeTaskStore struct {
	tasks   []*domain.Task
	listErr error
}

func (f *fakeTaskStore) find(id uuid.UUID) *domain.Task {
	for _, task := range f.tasks {
		if task.ID == id {
			return task
		}
	}
	return nil
}

func (f *fakeTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	copied := *task
	f.tasks = append(f.tasks, &copied)
	return nil
}

func (f *fakeTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task := f.find(id)
	if task == nil {
		return nil, store.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

func (f *fakeTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	matched := []*domain.Task{}
	for _, task := range f.tasks {
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		if filter.Priority != nil && task.Priority != *filter.Priority {
			continue
		}
		copied := *task
		matched = append(matched, &copied)
	}

	if filter.Offset >= len(matched) {
		return []*domain.Task{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (f *fakeTaskStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus) error {
	task := f.find(id)
	if task == nil {
		return store.ErrTaskNotFound
	}
	task.Status = status
	return nil
}

func (f *fakeTaskStore) MarkStarted(ctx context.Context, id uuid.UUID, startedAt time.Time) (*domain.Task, error) {
	return nil, fmt.Errorf("not supported in this test")
}

func (f *fakeTaskStore) MarkCompleted(ctx context.Context, id uuid.UUID, finishedAt time.Time, result string) (*domain.Task, error) {
	return nil, fmt.Errorf("not supported in this test")
}

func (f *fakeTaskStore) MarkFailed(ctx context.Context, id uuid.UUID, finishedAt time.Time, errMsg string) (*domain.Task, error) {
	return nil, fmt.Errorf("not supported in this test")
}

func (f *fakeTaskStore) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task := f.find(id)
	if task == nil || task.Status.IsTerminal() {
		return nil, store.ErrTaskNotCancellable
	}
	task.Status = domain.TaskStatusCancelled
	copied := *task
	return &copied, nil
}

func (f *fakeTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return f
}

var _ store.TaskStore = (*fakeTaskStore)(nil)

// recordingEmitter captures emitted events.
type recordingEmitter struct {
	events  []*events.TaskCreatedEvent
	emitErr error
}

func (e *recordingEmitter) EmitEvent(ctx context.Context, event *events.TaskCreatedEvent) error {
	e.events = append(e.events, event)
	return e.emitErr
}

// fakeTaskService mirrors the production service without a real database:
// persist first, then emit, swallowing emit failures.
type fakeTaskService struct {
	store   store.TaskStore
	emitter events.EventEmitter
}

func (s *fakeTaskService) CreateTask(
	ctx context.Context,
	title, description string,
	priority domain.TaskPriority,
) (*domain.Task, error) {
	task, err := domain.NewTask(title, description, priority)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}
	_ = s.emitter.EmitEvent(ctx, events.NewTaskCreatedEvent(task.ID))
	return task, nil
}

func newTestRouter(t *testing.T, taskStore store.TaskStore, emitter events.EventEmitter) http.Handler {
	t.Helper()

	log, _ := logger.GetTestLogger(t)
	handler := api.NewTaskHandler(&fakeTaskService{store: taskStore, emitter: emitter}, taskStore, log)

	r := chi.NewRouter()
	r.Route("/api/v1/tasks", func(r chi.Router) {
		r.Post("/", handler.Create)
		r.Get("/", handler.List)
		r.Get("/{id}", handler.Get)
		r.Get("/{id}/status", handler.GetStatus)
		r.Delete("/{id}", handler.Cancel)
	})
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) api.TaskResponse {
	t.Helper()

	var resp api.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func seedTask(t *testing.T, s *fakeTaskStore, title string, priority domain.TaskPriority, status domain.TaskStatus) *domain.Task {
	t.Helper()

	task, err := domain.NewTask(title, "", priority)
	require.NoError(t, err)
	task.Status = status
	require.NoError(t, s.Create(context.Background(), task))
	return task
}

func TestCreateTask(t *testing.T) {
	s := &fakeTaskStore{}
	emitter := &recordingEmitter{}
	router := newTestRouter(t, s, emitter)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/tasks", map[string]string{
		"title":       "Resize images",
		"description": "batch 42",
		"priority":    "HIGH",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeTask(t, rec)
	assert.Equal(t, "Resize images", resp.Title)
	assert.Equal(t, "batch 42", resp.Description)
	assert.Equal(t, "HIGH", resp.Priority)
	assert.Equal(t, "NEW", resp.Status)
	assert.NotEmpty(t, resp.ID)
	assert.False(t, resp.CreatedAt.IsZero())
	assert.Nil(t, resp.StartedAt)

	// The record is committed and the created event carries its id
	require.Len(t, s.tasks, 1)
	require.Len(t, emitter.events, 1)
	assert.Equal(t, resp.ID, emitter.events[0].TaskID.String())
}

func TestCreateTaskValidation(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"missing title", map[string]string{"priority": "LOW"}},
		{"missing priority", map[string]string{"title": "T1"}},
		{"unknown priority", map[string]string{"title": "T1", "priority": "URGENT"}},
		{"title too long", map[string]string{"title": string(make([]byte, 256)), "priority": "LOW"}},
		{"malformed json", `{"title": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeTaskStore{}
			emitter := &recordingEmitter{}
			router := newTestRouter(t, s, emitter)

			rec := doRequest(t, router, http.MethodPost, "/api/v1/tasks", tt.body)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Empty(t, s.tasks, "invalid requests must not persist a task")
			assert.Empty(t, emitter.events)
		})
	}
}

func TestCreateTaskSucceedsWhenEmitFails(t *testing.T) {
	s := &fakeTaskStore{}
	emitter := &recordingEmitter{emitErr: fmt.Errorf("broker unreachable")}
	router := newTestRouter(t, s, emitter)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/tasks", map[string]string{
		"title":    "T1",
		"priority": "LOW",
	})

	// Enqueue failures are not surfaced: the record exists and is cancellable
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, s.tasks, 1)
}

func TestListTasks(t *testing.T) {
	s := &fakeTaskStore{}
	seedTask(t, s, "T1", domain.TaskPriorityLow, domain.TaskStatusNew)
	seedTask(t, s, "T2", domain.TaskPriorityHigh, domain.TaskStatusCompleted)
	seedTask(t, s, "T3", domain.TaskPriorityHigh, domain.TaskStatusNew)
	router := newTestRouter(t, s, &recordingEmitter{})

	tests := []struct {
		name       string
		query      string
		wantTitles []string
	}{
		{"all", "", []string{"T1", "T2", "T3"}},
		{"by status", "?status=NEW", []string{"T1", "T3"}},
		{"by priority", "?priority=HIGH", []string{"T2", "T3"}},
		{"combined", "?status=NEW&priority=HIGH", []string{"T3"}},
		{"paginated", "?skip=1&limit=1", []string{"T2"}},
		{"skip past end", "?skip=10", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, "/api/v1/tasks"+tt.query, nil)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp []api.TaskResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

			titles := []string{}
			for _, task := range resp {
				titles = append(titles, task.Title)
			}
			assert.Equal(t, tt.wantTitles, titles)
		})
	}
}

func TestListTasksEmptySerializesAsArray(t *testing.T) {
	router := newTestRouter(t, &fakeTaskStore{}, &recordingEmitter{})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/tasks", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestListTasksBadFilters(t *testing.T) {
	router := newTestRouter(t, &fakeTaskStore{}, &recordingEmitter{})

	for _, query := range []string{
		"?status=DONE",
		"?priority=urgent",
		"?skip=-1",
		"?skip=abc",
		"?limit=0",
		"?limit=-5",
	} {
		t.Run(query, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, "/api/v1/tasks"+query, nil)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		})
	}
}

func TestGetTask(t *testing.T) {
	s := &fakeTaskStore{}
	task := seedTask(t, s, "T1", domain.TaskPriorityMedium, domain.TaskStatusNew)
	router := newTestRouter(t, s, &recordingEmitter{})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/tasks/"+task.ID.String(), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeTask(t, rec)
	assert.Equal(t, task.ID.String(), resp.ID)
	assert.Equal(t, "T1", resp.Title)
}

func TestGetTaskNotFound(t *testing.T) {
	router := newTestRouter(t, &fakeTaskStore{}, &recordingEmitter{})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/tasks/"+uuid.New().String(), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskMalformedID(t *testing.T) {
	router := newTestRouter(t, &fakeTaskStore{}, &recordingEmitter{})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/tasks/not-a-uuid", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetTaskStatus(t *testing.T) {
	s := &fakeTaskStore{}
	task := seedTask(t, s, "T1", domain.TaskPriorityMedium, domain.TaskStatusInProgress)
	router := newTestRouter(t, s, &recordingEmitter{})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/tasks/"+task.ID.String()+"/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.TaskStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, task.ID.String(), resp.ID)
	assert.Equal(t, "IN_PROGRESS", resp.Status)
}

func TestGetTaskStatusNotFound(t *testing.T) {
	router := newTestRouter(t, &fakeTaskStore{}, &recordingEmitter{})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/tasks/"+uuid.New().String()+"/status", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTask(t *testing.T) {
	s := &fakeTaskStore{}
	task := seedTask(t, s, "T1", domain.TaskPriorityMedium, domain.TaskStatusNew)
	router := newTestRouter(t, s, &recordingEmitter{})

	rec := doRequest(t, router, http.MethodDelete, "/api/v1/tasks/"+task.ID.String(), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.TaskStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CANCELLED", resp.Status)

	stored, err := s.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, stored.Status)
}

func TestCancelTaskInProgress(t *testing.T) {
	s := &fakeTaskStore{}
	task := seedTask(t, s, "T1", domain.TaskPriorityMedium, domain.TaskStatusInProgress)
	router := newTestRouter(t, s, &recordingEmitter{})

	rec := doRequest(t, router, http.MethodDelete, "/api/v1/tasks/"+task.ID.String(), nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelTaskRejected(t *testing.T) {
	s := &fakeTaskStore{}
	completed := seedTask(t, s, "T1", domain.TaskPriorityMedium, domain.TaskStatusCompleted)
	cancelled := seedTask(t, s, "T2", domain.TaskPriorityMedium, domain.TaskStatusCancelled)
	router := newTestRouter(t, s, &recordingEmitter{})

	// Unknown ids and terminal tasks are indistinguishable to the caller
	for _, path := range []string{
		"/api/v1/tasks/" + uuid.New().String(),
		"/api/v1/tasks/" + completed.ID.String(),
		"/api/v1/tasks/" + cancelled.ID.String(),
		"/api/v1/tasks/not-a-uuid",
	} {
		rec := doRequest(t, router, http.MethodDelete, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestCancelTaskIsNotIdempotent(t *testing.T) {
	s := &fakeTaskStore{}
	task := seedTask(t, s, "T1", domain.TaskPriorityMedium, domain.TaskStatusNew)
	router := newTestRouter(t, s, &recordingEmitter{})

	first := doRequest(t, router, http.MethodDelete, "/api/v1/tasks/"+task.ID.String(), nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(t, router, http.MethodDelete, "/api/v1/tasks/"+task.ID.String(), nil)
	assert.Equal(t, http.StatusBadRequest, second.Code)
}
