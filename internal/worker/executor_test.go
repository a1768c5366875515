package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasktide/tasktide/internal/domain"
)

func TestFixedDelayExecutor(t *testing.T) {
	task, err := domain.NewTask("T1", "", domain.TaskPriorityLow)
	require.NoError(t, err)

	executor := &FixedDelayExecutor{Delay: 5 * time.Millisecond}

	start := time.Now()
	result, err := executor.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "Processed successfully", result)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestFixedDelayExecutorContextCancelled(t *testing.T) {
	task, err := domain.NewTask("T1", "", domain.TaskPriorityLow)
	require.NoError(t, err)

	executor := &FixedDelayExecutor{Delay: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = executor.Execute(ctx, task)
	assert.ErrorIs(t, err, context.Canceled)
}
