package worker

import (
	"context"
	"time"

	"github.com/tasktide/tasktide/internal/domain"
)

// Executor runs the unit of work for one task. Implementations may take
// arbitrarily long and may fail; the consumer records the outcome in the
// task's terminal status. Execute must respect context cancellation.
type Executor interface {
	// Execute processes the task and returns the result payload to record
	// on COMPLETED, or an error to record on FAILED.
	Execute(ctx context.Context, task *domain.Task) (string, error)
}

// successResult is the payload recorded by FixedDelayExecutor.
const successResult = "Processed successfully"

// FixedDelayExecutor simulates task work by sleeping for a fixed duration
// and reporting success. It stands in for real business logic.
type FixedDelayExecutor struct {
	Delay time.Duration
}

// Ensure FixedDelayExecutor implements Executor
var _ Executor = (*FixedDelayExecutor)(nil)

// Execute sleeps for the configured delay, honoring context cancellation.
func (e *FixedDelayExecutor) Execute(ctx context.Context, task *domain.Task) (string, error) {
	timer := time.NewTimer(e.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return successResult, nil
	}
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *domain.Task) (string, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task *domain.Task) (string, error) {
	return f(ctx, task)
}
