package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tasktide/tasktide/internal/api/shared"
	"github.com/tasktide/tasktide/internal/domain"
	"github.com/tasktide/tasktide/internal/service"
	"github.com/tasktide/tasktide/internal/store"
)

const (
	// defaultListLimit is used when the limit query parameter is omitted.
	defaultListLimit = 100

	// maxListLimit caps a single page regardless of what the client asks for.
	maxListLimit = 1000
)

// TaskHandler handles task-related HTTP requests. Task creation goes through
// the task service so the insert and the post-commit enqueue stay together;
// reads and cancellation hit the store directly.
type TaskHandler struct {
	taskService service.TaskService
	taskStore   store.TaskStore
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(
	taskService service.TaskService,
	taskStore store.TaskStore,
	logger *slog.Logger,
) *TaskHandler {
	if taskService == nil {
		panic("taskService cannot be nil")
	}
	if taskStore == nil {
		panic("taskStore cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		taskService: taskService,
		taskStore:   taskStore,
		validator:   validator.New(),
		logger:      logger,
	}
}

// Create handles POST /api/v1/tasks requests.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusUnprocessableEntity, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusUnprocessableEntity, SanitizeValidationError(err))
		return
	}

	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	task, err := h.taskService.CreateTask(r.Context(), req.Title, req.Description, priority)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), "Failed to create task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(task))
}

// List handles GET /api/v1/tasks requests with optional status, priority and
// pagination query parameters.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusUnprocessableEntity, GetSafeErrorMessage(err), err)
		return
	}

	tasks, err := h.taskStore.List(r.Context(), filter)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), "Failed to list tasks", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, tasksToResponse(tasks))
}

// Get handles GET /api/v1/tasks/{id} requests.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathTaskID(r)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	task, err := h.taskStore.GetByID(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// GetStatus handles GET /api/v1/tasks/{id}/status requests.
func (h *TaskHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathTaskID(r)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	task, err := h.taskStore.GetByID(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TaskStatusResponse{
		ID:     task.ID.String(),
		Status: string(task.Status),
	})
}

// Cancel handles DELETE /api/v1/tasks/{id} requests. Unknown ids and tasks
// already in a terminal state both yield 400: the contract deliberately does
// not distinguish them.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathTaskID(r)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Task could not be cancelled", err)
		return
	}

	task, err := h.taskStore.Cancel(r.Context(), taskID)
	if err != nil {
		status := MapErrorToStatusCode(err)
		if status == http.StatusNotFound {
			status = http.StatusBadRequest
		}
		shared.RespondWithErrorAndLog(w, r, status, "Task could not be cancelled", err)
		return
	}

	h.logger.Info("task cancelled", slog.String("task_id", taskID.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, TaskStatusResponse{
		ID:     task.ID.String(),
		Status: string(task.Status),
	})
}

// getPathTaskID extracts and parses the task UUID from the URL path.
func getPathTaskID(r *http.Request) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, "id")
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%w: missing task id", domain.ErrInvalidID)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", domain.ErrInvalidID, err)
	}
	return id, nil
}

// parseListFilter builds a store.TaskFilter from the request's query
// parameters, rejecting unknown enum values and negative pagination.
func parseListFilter(r *http.Request) (store.TaskFilter, error) {
	filter := store.TaskFilter{Limit: defaultListLimit}
	query := r.URL.Query()

	if raw := query.Get("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return store.TaskFilter{}, err
		}
		filter.Status = &status
	}

	if raw := query.Get("priority"); raw != "" {
		priority, err := domain.ParsePriority(raw)
		if err != nil {
			return store.TaskFilter{}, err
		}
		filter.Priority = &priority
	}

	if raw := query.Get("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 {
			return store.TaskFilter{}, fmt.Errorf("%w: skip must be a non-negative integer", domain.ErrValidation)
		}
		filter.Offset = skip
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return store.TaskFilter{}, fmt.Errorf("%w: limit must be a positive integer", domain.ErrValidation)
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}

	return filter, nil
}
