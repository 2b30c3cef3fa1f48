// Package deadline implements DeadlineRunner: the one-shot per-(assignment,
// stage) processor that releases held submissions into the shared journal,
// forms peer-review pairings, promotes per-user tags in the grading
// repository, and runs the automated feedback checks whose output is
// published as a Git note.
package deadline

import (
	"bytes"
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/underground-software/singularity/internal/gitbackend"
	"github.com/underground-software/singularity/internal/journal"
	"github.com/underground-software/singularity/internal/store"
)

// newWorkID returns a 12-char crypto-random hex identifier for naming an
// ephemeral grading-repo clone directory, falling back to a clock-derived
// value if the CSPRNG is unavailable.
func newWorkID() string {
	b := make([]byte, 6)
	if _, err := cryptorand.Read(b); err != nil {
		return fmt.Sprintf("%012x", time.Now().UnixNano()&0xffffffffffff)
	}
	return hex.EncodeToString(b)
}

// emptyTag is the root tag every per-user tag falls back to when a user has
// no gradeable for a stage.
const emptyTag = "EMPTY"

// denisNotesRef is the notes ref automated-check output is published to.
const denisNotesRef = "denis"

// Runner drives one (assignment, stage) DeadlineRunner invocation.
type Runner struct {
	Store   *store.Store
	Journal *journal.Store
	Logger  *zap.Logger

	// PatchsetRoot holds one released-submission file per submission_id,
	// read fresh at release time (never cached), matching the reference
	// implementation's release_subs behavior.
	PatchsetRoot string

	// RemoteURL is the shared grading repository every tag and note is
	// pushed to.
	RemoteURL string

	// WorkRoot is the directory ephemeral grading-repo clones are made
	// under for the lifetime of this one-shot invocation.
	WorkRoot string

	// shuffle is overridable for deterministic pairing tests.
	shuffle shuffleFunc
}

// New returns a Runner. patchsetRoot, remoteURL, and workRoot are resolved
// from the ambient Config by callers (the deadline-runner binary).
func New(s *store.Store, j *journal.Store, patchsetRoot, remoteURL, workRoot string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Store:        s,
		Journal:      j,
		Logger:       logger,
		PatchsetRoot: patchsetRoot,
		RemoteURL:    remoteURL,
		WorkRoot:     workRoot,
		shuffle:      defaultShuffle,
	}
}

func (r *Runner) gradingRepo() (*gitbackend.Repo, error) {
	path := filepath.Join(r.WorkRoot, "grading-"+newWorkID())
	repo := gitbackend.New(path, r.RemoteURL)
	if r.RemoteURL != "" {
		if err := repo.CloneFrom(r.RemoteURL); err != nil {
			return nil, fmt.Errorf("clone grading repo: %w", err)
		}
	} else if err := repo.Init(); err != nil {
		return nil, fmt.Errorf("init grading repo: %w", err)
	}
	return repo, nil
}

func (r *Runner) releaseRepo(repo *gitbackend.Repo) {
	if repo == nil {
		return
	}
	if err := os.RemoveAll(repo.Path); err != nil {
		r.Logger.Warn("failed to clean up grading repo clone", zap.String("path", repo.Path), zap.Error(err))
	}
}

// Initial runs the initial-stage deadline: visibility denial for
// non-submitters, peer-review pairing, release, and tag promotion.
func (r *Runner) Initial(ctx context.Context, assignmentName string) error {
	asn, err := r.Store.GetAssignmentByName(ctx, assignmentName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAssignmentNotFound, assignmentName)
		}
		return fmt.Errorf("lookup assignment %s: %w", assignmentName, err)
	}

	usersToSubs, err := r.Store.LatestGradeablePerUser(ctx, asn.Name, store.ComponentInitial)
	if err != nil {
		return fmt.Errorf("load initial gradeables for %s: %w", asn.Name, err)
	}

	var submitters []string
	for user, g := range usersToSubs {
		if g == nil {
			if err := r.Journal.SetVisibility(user, journal.Deny); err != nil {
				r.Logger.Error("failed to deny journal visibility", zap.String("user", user), zap.Error(err))
			}
			continue
		}
		submitters = append(submitters, user)
	}

	pairings := formPairings(asn.Name, submitters, r.shuffle)
	if err := r.Store.ReplacePeerReviewAssignments(ctx, asn.Name, pairings); err != nil {
		return fmt.Errorf("persist peer review pairings for %s: %w", asn.Name, err)
	}

	r.release(usersToSubs)

	repo, err := r.gradingRepo()
	if err != nil {
		return fmt.Errorf("provision grading repo: %w", err)
	}
	defer r.releaseRepo(repo)

	if err := r.updateTags(ctx, repo, asn, store.ComponentInitial, usersToSubs); err != nil {
		return err
	}
	return r.runAutomatedChecks(ctx, repo, asn, store.ComponentInitial, usersToSubs, false)
}

// PeerReview runs the peer-review-stage deadline: release both review
// components, update both sets of tags, and run checks with peer=true
// (skipping signed-off-by and subject-tag checks).
func (r *Runner) PeerReview(ctx context.Context, assignmentName string) error {
	asn, err := r.Store.GetAssignmentByName(ctx, assignmentName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAssignmentNotFound, assignmentName)
		}
		return fmt.Errorf("lookup assignment %s: %w", assignmentName, err)
	}

	review1, err := r.Store.LatestGradeablePerUser(ctx, asn.Name, store.ComponentReview1)
	if err != nil {
		return fmt.Errorf("load review1 gradeables for %s: %w", asn.Name, err)
	}
	review2, err := r.Store.LatestGradeablePerUser(ctx, asn.Name, store.ComponentReview2)
	if err != nil {
		return fmt.Errorf("load review2 gradeables for %s: %w", asn.Name, err)
	}

	r.release(review1)
	r.release(review2)

	repo, err := r.gradingRepo()
	if err != nil {
		return fmt.Errorf("provision grading repo: %w", err)
	}
	defer r.releaseRepo(repo)

	if err := r.updateTags(ctx, repo, asn, store.ComponentReview1, review1); err != nil {
		return err
	}
	if err := r.updateTags(ctx, repo, asn, store.ComponentReview2, review2); err != nil {
		return err
	}
	if err := r.runAutomatedChecks(ctx, repo, asn, store.ComponentReview1, review1, true); err != nil {
		return err
	}
	return r.runAutomatedChecks(ctx, repo, asn, store.ComponentReview2, review2, true)
}

// Final runs the final-stage deadline: Oopsie-driven visibility re-grant,
// release, tag promotion, and non-peer automated checks.
func (r *Runner) Final(ctx context.Context, assignmentName string) error {
	asn, err := r.Store.GetAssignmentByName(ctx, assignmentName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAssignmentNotFound, assignmentName)
		}
		return fmt.Errorf("lookup assignment %s: %w", assignmentName, err)
	}

	usersToSubs, err := r.Store.LatestGradeablePerUser(ctx, asn.Name, store.ComponentFinal)
	if err != nil {
		return fmt.Errorf("load final gradeables for %s: %w", asn.Name, err)
	}

	oopsies, err := r.Store.OopsiesFor(ctx, asn.Name)
	if err != nil {
		return fmt.Errorf("load oopsies for %s: %w", asn.Name, err)
	}
	for _, o := range oopsies {
		if g, ok := usersToSubs[o.User]; ok && g != nil {
			if err := r.Journal.SetVisibility(o.User, journal.Allow); err != nil {
				r.Logger.Error("failed to re-grant journal visibility", zap.String("user", o.User), zap.Error(err))
			}
		}
	}

	r.release(usersToSubs)

	repo, err := r.gradingRepo()
	if err != nil {
		return fmt.Errorf("provision grading repo: %w", err)
	}
	defer r.releaseRepo(repo)

	if err := r.updateTags(ctx, repo, asn, store.ComponentFinal, usersToSubs); err != nil {
		return err
	}
	return r.runAutomatedChecks(ctx, repo, asn, store.ComponentFinal, usersToSubs, false)
}

// release reads each non-null gradeable's patchset file fresh from disk and
// appends it to the journal. A missing file or append failure is logged as
// TransientIO and does not abort the rest of the batch.
func (r *Runner) release(usersToSubs map[string]*store.Gradeable) {
	for user, g := range usersToSubs {
		if g == nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.PatchsetRoot, g.SubmissionID))
		if err != nil {
			r.Logger.Error("failed to read patchset for release", zap.String("user", user), zap.String("submission_id", g.SubmissionID), zap.Error(err))
			continue
		}
		if err := r.Journal.Append(data); err != nil {
			r.Logger.Error("failed to append patchset to journal", zap.String("user", user), zap.String("submission_id", g.SubmissionID), zap.Error(err))
		}
	}
}

// updateTags implements the tag promotion algorithm: ensure the EMPTY root
// tag exists, then for each user form "<asn>_<component>_<user>" and create
// it (if missing) pointing at the submission's own tag commit, or EMPTY if
// no gradeable or no prior tag exists.
func (r *Runner) updateTags(ctx context.Context, repo *gitbackend.Repo, asn *store.Assignment, component store.Component, usersToSubs map[string]*store.Gradeable) error {
	if err := r.ensureEmptyTag(repo); err != nil {
		return fmt.Errorf("ensure EMPTY tag: %w", err)
	}

	for user, g := range usersToSubs {
		tagName := fmt.Sprintf("%s_%s_%s", asn.Name, component, user)
		if repo.TagExists(tagName) {
			continue
		}

		target := emptyTag
		message := "No gradeable submission"
		if g != nil {
			message = g.AutoFeedback
			if message == "" {
				message = "No gradeable submission"
			}
			if repo.TagExists(g.SubmissionID) {
				target = g.SubmissionID
			}
		}

		if err := repo.CreateTag(gitbackend.Denis, tagName, target, message); err != nil && err != gitbackend.ErrTagExists {
			return fmt.Errorf("create tag %s: %w", tagName, err)
		}
	}

	if err := repo.PushTags(); err != nil {
		return fmt.Errorf("push tags for %s/%s: %w", asn.Name, component, err)
	}
	return nil
}

func (r *Runner) ensureEmptyTag(repo *gitbackend.Repo) error {
	if repo.TagExists(emptyTag) {
		return nil
	}
	sha, err := repo.CommitEmpty(gitbackend.Denis, emptyTag)
	if err != nil {
		return err
	}
	if err := repo.CreateTag(gitbackend.Denis, emptyTag, sha, emptyTag); err != nil && err != gitbackend.ErrTagExists {
		return err
	}
	return nil
}

// runAutomatedChecks runs the corruption/signed-off-by/subject-tag/diffstat
// checks for each per-user tag formed this run and publishes the
// concatenated result as a note on refs/notes/denis. peer skips the
// signed-off-by and subject-tag checks, which assume a student's own
// submission rather than a reviewer's reply.
func (r *Runner) runAutomatedChecks(ctx context.Context, repo *gitbackend.Repo, asn *store.Assignment, component store.Component, usersToSubs map[string]*store.Gradeable, peer bool) error {
	if err := repo.FetchNotes(); err != nil {
		r.Logger.Warn("failed to fetch existing notes before appending", zap.Error(err))
	}

	wroteAny := false
	for user, g := range usersToSubs {
		tagName := fmt.Sprintf("%s_%s_%s", asn.Name, component, user)

		var body string
		block, fatal := corruptionCheck(g)
		body += block + "\n"

		if !fatal {
			if !peer {
				u, err := r.Store.GetUser(ctx, user)
				fullName := user
				if err == nil {
					fullName = u.FullName
				}
				body += signedOffByCheck(repo, emptyTag, tagName, fullName, user) + "\n"
				body += subjectTagCheck(ctx, r.Store, repo, emptyTag, tagName, asn, user, component) + "\n"
			}
			cover := r.coverLetterText(g)
			body += diffstatCheck(repo, emptyTag, tagName, cover) + "\n"
		}

		if err := repo.AddNote(denisNotesRef, tagName, body); err != nil {
			r.Logger.Error("failed to add note", zap.String("tag", tagName), zap.Error(err))
			continue
		}
		wroteAny = true
	}

	if !wroteAny {
		return nil
	}
	if err := repo.PushNotes(denisNotesRef); err != nil {
		return fmt.Errorf("push notes for %s/%s: %w", asn.Name, component, err)
	}
	return nil
}

// coverLetterText extracts the first mbox message (the cover letter) from
// a gradeable's released patchset file, for the diffstat check to compare
// against. Returns "" if there's no gradeable or the file can't be read.
func (r *Runner) coverLetterText(g *store.Gradeable) string {
	if g == nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(r.PatchsetRoot, g.SubmissionID))
	if err != nil {
		return ""
	}
	sep := []byte("\nFrom ")
	if idx := bytes.Index(data[1:], sep); idx >= 0 {
		return string(data[:idx+1])
	}
	return string(data)
}
