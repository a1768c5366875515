package api

import (
	"time"

	"github.com/tasktide/tasktide/internal/domain"
)

// CreateTaskRequest defines the payload for the task submission endpoint.
type CreateTaskRequest struct {
	Title       string `json:"title"       validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"omitempty"`
	Priority    string `json:"priority"    validate:"required,oneof=LOW MEDIUM HIGH"`
}

// TaskResponse is the full task record returned by the API.
type TaskResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// TaskStatusResponse carries only the lifecycle status of a task.
type TaskStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// taskToResponse converts a domain.Task to its API representation.
func taskToResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          task.ID.String(),
		Title:       task.Title,
		Description: task.Description,
		Priority:    string(task.Priority),
		Status:      string(task.Status),
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		FinishedAt:  task.FinishedAt,
		Result:      task.Result,
		Error:       task.Error,
	}
}

// tasksToResponse converts a slice of tasks, never returning nil so that an
// empty result serializes as [] instead of null.
func tasksToResponse(tasks []*domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, taskToResponse(task))
	}
	return out
}
