package scratch

import "errors"

var (
	// ErrCollision is returned after exhausting retries on scratch path
	// collisions.
	ErrCollision = errors.New("scratch: failed to allocate a unique scratch path")

	// ErrProvisionFailed wraps a git init failure while provisioning a
	// scratch repo.
	ErrProvisionFailed = errors.New("scratch: failed to provision repo")

	// ErrUnsafeRemove is returned when asked to remove a path outside the
	// pool's root.
	ErrUnsafeRemove = errors.New("scratch: refusing to remove path outside pool root")
)
