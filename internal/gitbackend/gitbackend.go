// Package gitbackend implements GitBackend: clone/init, tag creation and
// promotion, notes on refs/notes/grade and refs/notes/denis, and push/pull
// to a single remote. Every write identity is either "mailman" (submission
// ingestion) or "denis" (deadline processing and grading feedback),
// matching the two historical committer identities the grading repository
// expects.
package gitbackend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Identity names a committer used for a class of operations.
type Identity struct {
	Name  string
	Email string
}

// Mailman is the identity used by the submission pipeline.
var Mailman = Identity{Name: "mailman", Email: "mailman@localhost"}

// Denis is the identity used by the deadline processor.
var Denis = Identity{Name: "denis", Email: "denis@localhost"}

// DefaultTimeout bounds every git subprocess invocation.
const DefaultTimeout = 2 * time.Minute

// Repo wraps a working tree (or bare clone) of the shared grading
// repository and the single remote it pushes to and pulls from.
type Repo struct {
	// Path is the working directory of the repository.
	Path string

	// RemoteURL is the single remote used for push/pull.
	RemoteURL string

	// Timeout bounds each git subprocess call.
	Timeout time.Duration

	breaker *gobreaker.CircuitBreaker
}

// New returns a Repo rooted at path with its own push circuit breaker.
// Breaker state is held by the Repo value and is not shared with other
// Repo values, even ones for the same remote URL.
func New(path, remoteURL string) *Repo {
	return &Repo{
		Path:      path,
		RemoteURL: remoteURL,
		Timeout:   DefaultTimeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "git-push:" + remoteURL,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Init creates a new git repository at r.Path.
func (r *Repo) Init() error {
	if err := os.MkdirAll(r.Path, 0755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	_, err := r.run(nil, "init")
	return err
}

// CloneFrom clones url into r.Path with the given extra args (e.g.
// ["--branch", ref, "--single-branch", "--no-tags"] for a peer-review
// reviewer clone).
func (r *Repo) CloneFrom(url string, extraArgs ...string) error {
	if err := os.MkdirAll(filepath.Dir(r.Path), 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	args := append([]string{"clone"}, extraArgs...)
	args = append(args, url, r.Path)
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("clone %s: %w (output: %s)", url, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// run executes a git subcommand in r.Path under the given identity
// (nil for operations that do not commit) with advice.mergeConflict
// suppressed, matching the shared grading repository's push/commit
// convention.
func (r *Repo) run(ident *Identity, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	fullArgs := append([]string{"-c", "advice.mergeConflict=false"}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	cmd.Dir = r.Path
	cmd.Env = append(os.Environ(), identityEnv(ident)...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return out.String(), fmt.Errorf("git %s timed out after %s", args[0], r.Timeout)
	}
	return out.String(), err
}

func identityEnv(ident *Identity) []string {
	if ident == nil {
		return nil
	}
	return []string{
		"GIT_AUTHOR_NAME=" + ident.Name,
		"GIT_AUTHOR_EMAIL=" + ident.Email,
		"GIT_COMMITTER_NAME=" + ident.Name,
		"GIT_COMMITTER_EMAIL=" + ident.Email,
	}
}

// ApplyMail applies a single mbox-format patch file via `git am`. The
// caller decides whether to pass strict whitespace handling; on failure
// the in-progress am session is left for the caller to abort via
// AbortApply.
func (r *Repo) ApplyMail(patchPath string, strictWhitespace bool) error {
	args := []string{"am", "--keep"}
	if strictWhitespace {
		args = append(args, "--whitespace=error-all")
	}
	args = append(args, patchPath)

	out, err := r.run(&Mailman, args...)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrApplyConflict, strings.TrimSpace(out))
	}
	return nil
}

// ApplyMailAllowEmpty applies a patch file permitting an empty diff — used
// for cover-letter validation, where the first attempt requires non-empty
// content and the retry permits an empty one.
func (r *Repo) ApplyMailAllowEmpty(patchPath string) error {
	_, err := r.run(&Mailman, "am", "--keep", "--empty=keep", patchPath)
	if err != nil {
		return fmt.Errorf("%w: apply allowing empty diff", ErrApplyConflict)
	}
	return nil
}

// AbortApply aborts an in-progress `git am` session.
func (r *Repo) AbortApply() error {
	_, err := r.run(nil, "am", "--abort")
	return err
}

// CommitEmpty creates an --allow-empty commit with the given message,
// used when a patchset fails fatally but a tag still needs something to
// point at.
func (r *Repo) CommitEmpty(ident Identity, message string) (string, error) {
	if _, err := r.run(&ident, "commit", "--allow-empty", "-m", message); err != nil {
		return "", fmt.Errorf("create empty commit: %w", err)
	}
	return r.headCommit()
}

// CommitEmptyFromFile creates an --allow-empty commit whose message is the
// full contents of msgPath, used when a patchset fails fatally and the
// raw patch text itself becomes the commit message (so the tag still
// refers to something, and nothing from the original patch is lost).
func (r *Repo) CommitEmptyFromFile(ident Identity, msgPath string) (string, error) {
	if _, err := r.run(&ident, "commit", "--allow-empty", "--allow-empty-message", "-F", msgPath); err != nil {
		return "", fmt.Errorf("create empty commit from %s: %w", msgPath, err)
	}
	return r.headCommit()
}

func (r *Repo) headCommit() (string, error) {
	out, err := r.run(nil, "rev-parse", "HEAD")
	if err != nil {
		return "", ErrResolveHEAD
	}
	sha := strings.TrimSpace(out)
	if sha == "" {
		return "", ErrResolveHEAD
	}
	return sha, nil
}

// ResolveCommit resolves ref (a tag, branch, or SHA) to its commit SHA.
func (r *Repo) ResolveCommit(ref string) (string, error) {
	out, err := r.run(nil, "rev-parse", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	sha := strings.TrimSpace(out)
	if sha == "" {
		return "", ErrResolveHEAD
	}
	return sha, nil
}

// TagExists reports whether a tag with the given name exists.
func (r *Repo) TagExists(name string) bool {
	_, err := r.run(nil, "rev-parse", "--verify", "refs/tags/"+name)
	return err == nil
}

// CreateTag creates a tag pointing at ref (defaulting to HEAD if empty)
// with the given annotation message. If the tag already exists it is left
// untouched and ErrTagExists is returned so callers can treat "already
// pushed by the Ingestor" as a non-fatal signal.
func (r *Repo) CreateTag(ident Identity, name, ref, message string) error {
	if r.TagExists(name) {
		return ErrTagExists
	}
	if ref == "" {
		ref = "HEAD"
	}
	args := []string{"tag", "-a", name, ref, "-m", message}
	if _, err := r.run(&ident, args...); err != nil {
		return fmt.Errorf("create tag %s: %w", name, err)
	}
	return nil
}

// PushTags pushes all local tags to the configured remote, wrapped in a
// circuit breaker so repeated network failures through the same Repo value
// fail fast instead of hammering the remote. On any failure
// the caller (Orchestrator/DeadlineRunner) decides whether to retry; this
// method never retries internally.
func (r *Repo) PushTags() error {
	if r.RemoteURL == "" {
		return ErrNoRemote
	}
	_, err := r.breaker.Execute(func() (any, error) {
		out, err := r.run(nil, "push", r.RemoteURL, "--tags")
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPushFailed, strings.TrimSpace(out))
		}
		return nil, nil
	})
	return err
}

// FetchNotes fetches the notes refs (grade, denis) from the remote into
// the local repository so AddNote can build on the latest state.
func (r *Repo) FetchNotes() error {
	if r.RemoteURL == "" {
		return ErrNoRemote
	}
	_, err := r.run(nil, "fetch", r.RemoteURL,
		"refs/notes/grade:refs/notes/grade", "refs/notes/denis:refs/notes/denis")
	return err
}

// AddNote attaches (or replaces) a note on ref for target with the given body.
func (r *Repo) AddNote(ref, target, body string) error {
	_, err := r.run(&Denis, "notes", "--ref="+ref, "add", "-f", "-m", body, target)
	if err != nil {
		return fmt.Errorf("add note on %s: %w", target, err)
	}
	return nil
}

// PushNotes pushes the given notes ref to the remote, wrapped in the same
// breaker as PushTags.
func (r *Repo) PushNotes(ref string) error {
	if r.RemoteURL == "" {
		return ErrNoRemote
	}
	refSpec := fmt.Sprintf("refs/notes/%s:refs/notes/%s", ref, ref)
	_, err := r.breaker.Execute(func() (any, error) {
		out, err := r.run(nil, "push", r.RemoteURL, refSpec)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPushFailed, strings.TrimSpace(out))
		}
		return nil, nil
	})
	return err
}

// DiffStatSummary returns `git diff --stat --summary from..to`, used by
// DeadlineRunner's diffstat automated check.
func (r *Repo) DiffStatSummary(from, to string) (string, error) {
	out, err := r.run(nil, "diff", "--stat", "--summary", from+".."+to)
	if err != nil {
		return "", fmt.Errorf("diffstat %s..%s: %w", from, to, err)
	}
	return out, nil
}

// CommitsBetween lists commit SHAs from..to in forward chronological order.
func (r *Repo) CommitsBetween(from, to string) ([]string, error) {
	out, err := r.run(nil, "rev-list", "--reverse", from+".."+to)
	if err != nil {
		return nil, fmt.Errorf("rev-list %s..%s: %w", from, to, err)
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// CommitMessage returns the full commit message body for sha.
func (r *Repo) CommitMessage(sha string) (string, error) {
	out, err := r.run(nil, "show", "-s", "--format=%B", sha)
	if err != nil {
		return "", fmt.Errorf("show %s: %w", sha, err)
	}
	return out, nil
}

// RepoRoot returns the top-level directory of the git repository containing dir.
func RepoRoot(dir string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", ErrNotGitRepo
	}
	return strings.TrimSpace(string(out)), nil
}
