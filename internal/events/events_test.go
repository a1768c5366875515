package events

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasktide/tasktide/internal/platform/logger"
)

// recordingHandler captures events and optionally fails.
type recordingHandler struct {
	events []*TaskCreatedEvent
	err    error
}

func (h *recordingHandler) HandleEvent(ctx context.Context, event *TaskCreatedEvent) error {
	h.events = append(h.events, event)
	return h.err
}

func TestNewTaskCreatedEvent(t *testing.T) {
	taskID := uuid.New()
	event := NewTaskCreatedEvent(taskID)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, taskID, event.TaskID)
	assert.False(t, event.CreatedAt.IsZero())
}

func TestEmitEventDispatchesToAllHandlers(t *testing.T) {
	log, _ := logger.GetTestLogger(t)
	emitter := NewInMemoryEventEmitter(log)

	h1 := &recordingHandler{}
	h2 := &recordingHandler{}
	emitter.RegisterHandler(h1)
	emitter.RegisterHandler(h2)

	event := NewTaskCreatedEvent(uuid.New())
	require.NoError(t, emitter.EmitEvent(context.Background(), event))

	assert.Len(t, h1.events, 1)
	assert.Len(t, h2.events, 1)
}

func TestEmitEventContinuesPastFailingHandler(t *testing.T) {
	log, _ := logger.GetTestLogger(t)
	emitter := NewInMemoryEventEmitter(log)

	failing := &recordingHandler{err: errors.New("handler broke")}
	succeeding := &recordingHandler{}
	emitter.RegisterHandler(failing)
	emitter.RegisterHandler(succeeding)

	err := emitter.EmitEvent(context.Background(), NewTaskCreatedEvent(uuid.New()))
	assert.Error(t, err)
	assert.Len(t, succeeding.events, 1, "later handlers still run after a failure")
}

func TestEmitEventNoHandlers(t *testing.T) {
	log, logBuf := logger.GetTestLogger(t)
	emitter := NewInMemoryEventEmitter(log)

	err := emitter.EmitEvent(context.Background(), NewTaskCreatedEvent(uuid.New()))
	assert.NoError(t, err)
	logger.AssertLogContains(t, logBuf, "no handlers registered")
}

// failingEnqueuer always errors.
type failingEnqueuer struct {
	calls int
}

func (f *failingEnqueuer) Enqueue(ctx context.Context, taskID string) error {
	f.calls++
	return errors.New("broker unreachable")
}

// recordingEnqueuer captures enqueued ids.
type recordingEnqueuer struct {
	ids []string
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, taskID string) error {
	r.ids = append(r.ids, taskID)
	return nil
}

func TestQueuePublishHandlerPublishes(t *testing.T) {
	log, _ := logger.GetTestLogger(t)
	enqueuer := &recordingEnqueuer{}
	handler := NewQueuePublishHandler(enqueuer, log)

	taskID := uuid.New()
	require.NoError(t, handler.HandleEvent(context.Background(), NewTaskCreatedEvent(taskID)))

	require.Len(t, enqueuer.ids, 1)
	assert.Equal(t, taskID.String(), enqueuer.ids[0])
}

func TestQueuePublishHandlerSwallowsPublishFailure(t *testing.T) {
	log, logBuf := logger.GetTestLogger(t)
	enqueuer := &failingEnqueuer{}
	handler := NewQueuePublishHandler(enqueuer, log)

	// Publish failure never fails the request path
	err := handler.HandleEvent(context.Background(), NewTaskCreatedEvent(uuid.New()))
	assert.NoError(t, err)
	assert.Equal(t, 1, enqueuer.calls)
	logger.AssertLogContains(t, logBuf, "message lost")
}
