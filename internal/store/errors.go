package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update operation fails, for example
	// because the entity does not exist or the update violates constraints.
	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrTaskNotCancellable is returned by Cancel when the task either does
	// not exist or has already reached a terminal status. The two cases are
	// deliberately not distinguished: cancellation is a single conditional
	// update, and callers that need to know which case occurred must look
	// the task up first.
	ErrTaskNotCancellable = errors.New("task cannot be cancelled")

	// ErrNotInProgress is returned when a terminal status write finds the
	// task no longer IN_PROGRESS, typically because it was cancelled while
	// executing. The terminal write is discarded in that case.
	ErrNotInProgress = errors.New("task is not in progress")

	// ErrNotEligible is returned when starting a task whose current status
	// does not permit execution (anything other than NEW or PENDING).
	ErrNotEligible = errors.New("task is not eligible for execution")
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
