// Package scratch provisions and tears down ephemeral scratch git
// repositories for PatchsetValidator, one per validation run. Each
// submission is validated against its own freshly `git init`'d repository
// so concurrent validations never share working-tree state; the repo is
// discarded once the check completes.
//
// The provisioning and safe-teardown discipline here (collision-retrying
// path generation, refusing to remove anything outside the pool's root)
// is adapted from the CLI's sibling-worktree provisioner, generalized from
// "isolated checkout of the current repo, later merged back" to "disposable
// repo, never merged, torn down immediately after use."
package scratch

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/underground-software/singularity/internal/gitbackend"
)

// maxCreateAttempts bounds retries when a generated scratch path already
// exists (astronomically unlikely, but cheap to guard).
const maxCreateAttempts = 3

// Pool provisions scratch repositories under a shared root directory.
type Pool struct {
	// Root is the directory holding one subdirectory per scratch repo.
	Root string
}

// NewPool returns a Pool rooted at dir.
func NewPool(dir string) *Pool {
	return &Pool{Root: dir}
}

// Create provisions a fresh, empty git repository at a unique path under
// p.Root and returns a Repo wrapping it. The caller is responsible for
// calling Remove when finished.
func (p *Pool) Create() (*gitbackend.Repo, error) {
	if err := os.MkdirAll(p.Root, 0700); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		path := filepath.Join(p.Root, "scratch-"+newScratchID())
		if _, err := os.Stat(path); err == nil {
			continue // collision, retry with a fresh id
		}

		repo := gitbackend.New(path, "")
		if err := repo.Init(); err != nil {
			lastErr = err
			continue
		}
		return repo, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisionFailed, lastErr)
	}
	return nil, ErrCollision
}

// Remove deletes a scratch repo's working directory. It refuses to touch
// anything outside p.Root, mirroring the prefix-validated deletion the
// teacher's worktree teardown performs before any rm -rf.
func (p *Pool) Remove(repo *gitbackend.Repo) error {
	if repo == nil {
		return nil
	}
	absRoot, err := filepath.Abs(p.Root)
	if err != nil {
		return fmt.Errorf("resolve scratch root: %w", err)
	}
	absPath, err := filepath.Abs(repo.Path)
	if err != nil {
		return fmt.Errorf("resolve scratch path: %w", err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s is not under %s", ErrUnsafeRemove, absPath, absRoot)
	}
	return os.RemoveAll(absPath)
}

// newScratchID returns a 12-char crypto-random hex identifier, falling
// back to a clock-derived value if the CSPRNG is unavailable.
func newScratchID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%012x", time.Now().UnixNano()&0xffffffffffff)
	}
	return hex.EncodeToString(b)
}
