package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskCreatedEvent signals that a task record was committed and should be
// handed to the broker for asynchronous processing.
type TaskCreatedEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// TaskID is the identifier of the committed task record
	TaskID uuid.UUID `json:"task_id"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewTaskCreatedEvent creates a new TaskCreatedEvent for the given task.
func NewTaskCreatedEvent(taskID uuid.UUID) *TaskCreatedEvent {
	return &TaskCreatedEvent{
		ID:        uuid.New(),
		TaskID:    taskID,
		CreatedAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskCreatedEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the API layer to publish events without direct knowledge of
// handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *TaskCreatedEvent) error
}
