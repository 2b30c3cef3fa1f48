package orchestrator

import "errors"

// Sentinel errors for the orchestrator package.
var (
	// ErrAssignmentNotFound is returned when a TRIGGER payload names an
	// assignment id the store no longer recognizes.
	ErrAssignmentNotFound = errors.New("orchestrator: assignment not found")

	// ErrStagePast is returned when a TRIGGER names a stage whose deadline
	// has already passed — the payload must carry queued information
	// about a stage still in the future.
	ErrStagePast = errors.New("orchestrator: referenced stage is no longer in the future")

	// ErrInvalidPayload is returned when a trigger filename doesn't decode
	// to a valid (assignment id, component id) pair.
	ErrInvalidPayload = errors.New("orchestrator: invalid trigger payload")

	// ErrRunnerBusy is returned when a TRIGGER arrives while a
	// DeadlineRunner is already executing. Per design, a concurrent
	// TRIGGER is rejected rather than queued.
	ErrRunnerBusy = errors.New("orchestrator: a deadline runner is already in progress")
)
