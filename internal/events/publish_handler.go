package events

import (
	"context"
	"log/slog"
)

// Enqueuer is the queue-gateway surface the publish handler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string) error
}

// QueuePublishHandler forwards committed task ids to the queue gateway.
// Publish failures are logged as warnings and swallowed: the task record is
// already durable and the creating request must not fail because the broker
// is down. The message is lost in that case, an accepted gap at the enqueue
// boundary.
type QueuePublishHandler struct {
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewQueuePublishHandler creates a handler publishing through the given
// enqueuer. If logger is nil, a default logger will be used.
func NewQueuePublishHandler(enqueuer Enqueuer, logger *slog.Logger) *QueuePublishHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &QueuePublishHandler{
		enqueuer: enqueuer,
		logger:   logger.With(slog.String("component", "queue_publish_handler")),
	}
}

// Ensure QueuePublishHandler implements EventHandler
var _ EventHandler = (*QueuePublishHandler)(nil)

// HandleEvent publishes the event's task id to the broker.
// Always returns nil; see the type documentation.
func (h *QueuePublishHandler) HandleEvent(ctx context.Context, event *TaskCreatedEvent) error {
	if err := h.enqueuer.Enqueue(ctx, event.TaskID.String()); err != nil {
		h.logger.Warn("failed to enqueue task, message lost",
			"error", err,
			"event_id", event.ID,
			"task_id", event.TaskID)
		return nil
	}

	h.logger.Debug("task id published",
		"event_id", event.ID,
		"task_id", event.TaskID)
	return nil
}
