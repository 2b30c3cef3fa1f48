package gitbackend

import "errors"

// Sentinel errors for the gitbackend package. Using sentinels instead of
// ad-hoc fmt.Errorf allows callers to match with errors.Is.
var (
	// ErrNotGitRepo is returned when an operation is attempted outside a git repository.
	ErrNotGitRepo = errors.New("gitbackend: not a git repository")

	// ErrResolveHEAD is returned when HEAD cannot be resolved in the scratch repo.
	ErrResolveHEAD = errors.New("gitbackend: unable to resolve HEAD commit")

	// ErrApplyConflict is returned when a single `git am` attempt fails to
	// apply a patch; any relaxed retry is up to the caller.
	ErrApplyConflict = errors.New("gitbackend: patch failed to apply")

	// ErrTagExists is returned by CreateTag whenever the tag name is already
	// taken, whatever its target; the existing tag is left untouched.
	ErrTagExists = errors.New("gitbackend: tag already exists")

	// ErrPushFailed is returned when a push operation fails; it wraps the
	// underlying git error. The Orchestrator/DeadlineRunner decide whether to
	// retry via the manual trigger path — this package never retries internally.
	ErrPushFailed = errors.New("gitbackend: push failed")

	// ErrNoRemote is returned when a push/fetch operation is attempted with no
	// remote configured.
	ErrNoRemote = errors.New("gitbackend: no remote configured")
)
