package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidPriority is returned when a priority value is outside the
	// closed set of LOW, MEDIUM, HIGH.
	ErrInvalidPriority = errors.New("invalid task priority")

	// ErrInvalidStatus is returned when a status value is outside the
	// closed set of lifecycle states.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrInvalidTransition is returned when a status change violates the
	// lifecycle state machine, for example cancelling a COMPLETED task.
	ErrInvalidTransition = errors.New("invalid status transition")
)
