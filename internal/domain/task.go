package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskPriority represents the relative importance of a task.
type TaskPriority string

// Possible task priority values
const (
	TaskPriorityLow    TaskPriority = "LOW"
	TaskPriorityMedium TaskPriority = "MEDIUM"
	TaskPriorityHigh   TaskPriority = "HIGH"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusNew        TaskStatus = "NEW"
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrEmptyTaskTitle   = errors.New("task title cannot be empty")
	ErrTaskTitleTooLong = errors.New("task title cannot exceed 255 characters")
)

// MaxTitleLength is the longest title the store will accept.
const MaxTitleLength = 255

// Task represents a unit of schedulable work and its status record.
// The store is the single source of truth for Status; StartedAt is set
// exactly once when execution begins, FinishedAt exactly once when the
// task reaches COMPLETED or FAILED. Result and Error are mutually
// exclusive, matching COMPLETED and FAILED respectively.
type Task struct {
	ID          uuid.UUID    `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	Result      string       `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// NewTask creates a new Task with the given title, description and priority.
// It generates a new UUID for the task ID, sets the status to NEW,
// and sets the creation timestamp. Returns an error if validation fails.
func NewTask(title, description string, priority TaskPriority) (*Task, error) {
	task := &Task{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      TaskStatusNew,
		CreatedAt:   time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Title == "" {
		return ErrEmptyTaskTitle
	}

	if len(t.Title) > MaxTitleLength {
		return ErrTaskTitleTooLong
	}

	if !t.Priority.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, t.Priority)
	}

	if !t.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}

	return nil
}

// IsValid reports whether the priority is one of the closed set of values.
func (p TaskPriority) IsValid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh:
		return true
	default:
		return false
	}
}

// ParsePriority converts a wire-representation string into a TaskPriority.
// Returns ErrInvalidPriority for values outside the closed set.
func ParsePriority(s string) (TaskPriority, error) {
	p := TaskPriority(s)
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}

// IsValid reports whether the status is one of the closed set of values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusNew, TaskStatusPending, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status permits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsCancellable reports whether a cancel request may move the task to
// CANCELLED. Any non-terminal status is cancellable, including
// IN_PROGRESS: in-flight tasks are cancellable, the consumer does not
// re-check cancellation once started.
func (s TaskStatus) IsCancellable() bool {
	return s.IsValid() && !s.IsTerminal()
}

// ParseStatus converts a wire-representation string into a TaskStatus.
// Returns ErrInvalidStatus for values outside the closed set.
func ParseStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// CanTransition reports whether the lifecycle state machine permits
// moving from one status to another. Status only ever moves forward:
// NEW/PENDING feed IN_PROGRESS or CANCELLED, IN_PROGRESS resolves to
// COMPLETED, FAILED or CANCELLED, and terminal statuses have no
// outgoing transitions.
func CanTransition(from, to TaskStatus) bool {
	if from.IsTerminal() {
		return false
	}

	switch to {
	case TaskStatusInProgress:
		return from == TaskStatusNew || from == TaskStatusPending
	case TaskStatusCompleted, TaskStatusFailed:
		return from == TaskStatusInProgress
	case TaskStatusCancelled:
		return from.IsCancellable()
	case TaskStatusPending:
		return from == TaskStatusNew
	default:
		return false
	}
}
