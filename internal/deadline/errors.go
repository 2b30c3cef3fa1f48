package deadline

import "errors"

// Sentinel errors for the deadline package.
var (
	// ErrAssignmentNotFound is returned when a runner entry point is
	// invoked for an assignment name the store does not recognize.
	ErrAssignmentNotFound = errors.New("deadline: assignment not found")
)
