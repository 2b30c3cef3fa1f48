// Package validator implements PatchsetValidator: applying a submitted
// patchset into an ephemeral scratch repository, checking it against the
// path-namespace and rubric contracts, and producing the terminal
// AutoFeedback string whose trailing punctuation (".", "?", "!") downstream
// stages branch on.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/underground-software/singularity/internal/gitbackend"
	"github.com/underground-software/singularity/internal/mailsession"
	"github.com/underground-software/singularity/internal/rubric"
	"github.com/underground-software/singularity/internal/scratch"
)

// Validator applies patchsets against a scratch repo pool and tags the
// result in the shared grading repository.
type Validator struct {
	// MailRoot holds the raw per-message files, keyed by message id.
	MailRoot string

	// Scratch provisions the ephemeral repo each validation runs in.
	Scratch *scratch.Pool

	// RemoteURL is the grading repository every tag gets pushed to.
	RemoteURL string
}

// New returns a Validator reading mail from mailRoot and pushing tags to
// remoteURL, provisioning scratch repos from pool.
func New(mailRoot string, pool *scratch.Pool, remoteURL string) *Validator {
	return &Validator{MailRoot: mailRoot, Scratch: pool, RemoteURL: remoteURL}
}

var fromHeaderAngle = regexp.MustCompile(`(?m)^From:.*<([^@>\s]+)@`)
var fromHeaderBare = regexp.MustCompile(`(?m)^From:\s*([^@\s<]+)@`)

func extractAuthor(content string) (string, bool) {
	if m := fromHeaderAngle.FindStringSubmatch(content); m != nil {
		return m[1], true
	}
	if m := fromHeaderBare.FindStringSubmatch(content); m != nil {
		return m[1], true
	}
	return "", false
}

// changeLines returns every "--- path" / "+++ path" line from a patch,
// in order, matching the unified-diff hunk headers a patch file carries.
func changeLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
			lines = append(lines, line)
		}
	}
	return lines
}

func changePath(changeline string) string {
	fields := strings.Fields(changeline)
	if len(fields) < 2 {
		return ""
	}
	return strings.TrimSpace(fields[1])
}

// firstDirComponent returns the first path segment after a leading a/ or
// b/ prefix, or "" if the path has no such segment (e.g. /dev/null).
func firstDirComponent(path string) string {
	if path == "/dev/null" {
		return ""
	}
	rest := path
	if len(path) > 2 && (path[:2] == "a/" || path[:2] == "b/") {
		rest = path[2:]
	}
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		return rest[:slash]
	}
	return ""
}

// stripABPrefix removes a leading a/ or b/ from a changeline path, used
// when reporting the offending path back to the student.
func stripABPrefix(path string) string {
	if len(path) > 2 && (path[:2] == "a/" || path[:2] == "b/") {
		return path[2:]
	}
	return path
}

func (v *Validator) path(msgID string) string {
	return filepath.Join(v.MailRoot, msgID)
}

// Validate runs the PatchsetValidator algorithm over an ordered patchset
// and returns the terminal AutoFeedback string. The scratch repo's
// resulting commits are always tagged with submissionID and pushed to the
// grading remote, whatever the outcome.
func (v *Validator) Validate(cover mailsession.Email, patches []mailsession.Email, rub *rubric.Rubric, submissionID string) (string, error) {
	repo, err := v.Scratch.Create()
	if err != nil {
		return "", fmt.Errorf("provision scratch repo: %w", err)
	}
	defer v.Scratch.Remove(repo)
	repo.RemoteURL = v.RemoteURL

	feedback, invariantErr := v.runChecks(repo, cover, patches, rub)

	if strings.HasSuffix(feedback, "!") {
		for _, patch := range patches {
			if _, err := repo.CommitEmptyFromFile(gitbackend.Mailman, v.path(patch.MsgID)); err != nil {
				return feedback, fmt.Errorf("commit empty for %s: %w", patch.MsgID, err)
			}
		}
	}

	if err := repo.CreateTag(gitbackend.Mailman, submissionID, "", feedback); err != nil && err != gitbackend.ErrTagExists {
		return feedback, fmt.Errorf("tag submission %s: %w", submissionID, err)
	}
	if err := repo.PushTags(); err != nil {
		return feedback, fmt.Errorf("push submission tag %s: %w", submissionID, err)
	}
	return feedback, invariantErr
}

func (v *Validator) runChecks(repo *gitbackend.Repo, cover mailsession.Email, patches []mailsession.Email, rub *rubric.Rubric) (string, error) {
	coverPath := v.path(cover.MsgID)

	if err := repo.ApplyMail(coverPath, false); err == nil {
		return "missing cover letter!", nil
	}
	if err := repo.AbortApply(); err != nil {
		return "", fmt.Errorf("abort cover letter apply: %w", err)
	}
	if err := repo.ApplyMailAllowEmpty(coverPath); err != nil {
		return "missing cover letter and first patch failed to apply!", nil
	}

	if k := rub.Len(); k != 0 && k != len(patches) {
		return fmt.Sprintf("patch count %d violates expected rubric patch count of %d!", len(patches), k), nil
	}

	var whitespaceErrors []string

	for i, patch := range patches {
		patchAbspath := v.path(patch.MsgID)
		content, err := os.ReadFile(patchAbspath)
		if err != nil {
			return "", fmt.Errorf("read patch %s: %w", patch.MsgID, err)
		}

		author, ok := extractAuthor(string(content))
		if !ok {
			return fmt.Sprintf("illegal patch %d: missing author!", i+1), ErrMalformedAuthor
		}

		lines := changeLines(string(content))
		for _, line := range lines {
			path := changePath(line)
			if path == "" || path == "/dev/null" {
				continue
			}
			if dir := firstDirComponent(path); dir != author {
				return fmt.Sprintf("illegal patch %d: permission denied for path %s!", i+1, stripABPrefix(path)), nil
			}
		}

		if rub != nil {
			counters := rub.Counters(i)
			for j := 0; j+1 < len(lines); j += 2 {
				from := rub.Normalize(changePath(lines[j]), author)
				to := rub.Normalize(changePath(lines[j+1]), author)
				pair := rubric.ChangePair{From: from, To: to}
				if _, tracked := counters[pair]; tracked {
					counters[pair]++
				}
			}
			for _, count := range counters {
				if count < 1 {
					return fmt.Sprintf("patch %d violates the assignment rubric!", i+1), nil
				}
			}
		}

		if singlePatchFileAddition(lines) {
			if err := repo.ApplyMail(patchAbspath, false); err != nil {
				return fmt.Sprintf("patch %d failed to apply!", i+1), nil
			}
			continue
		}

		if err := repo.ApplyMail(patchAbspath, true); err == nil {
			continue
		}
		if err := repo.AbortApply(); err != nil {
			return "", fmt.Errorf("abort strict apply of patch %d: %w", i+1, err)
		}
		if err := repo.ApplyMail(patchAbspath, false); err == nil {
			whitespaceErrors = append(whitespaceErrors, strconv.Itoa(i+1))
			continue
		}
		if err := repo.AbortApply(); err != nil {
			return "", fmt.Errorf("abort relaxed apply of patch %d: %w", i+1, err)
		}
		return fmt.Sprintf("patch %d failed to apply!", i+1), nil
	}

	if len(whitespaceErrors) > 0 {
		plural := ""
		if len(whitespaceErrors) > 1 {
			plural = "es"
		}
		return fmt.Sprintf("whitespace error patch%s %s?", plural, strings.Join(whitespaceErrors, ",")), nil
	}
	return "patchset applies.", nil
}

// singlePatchFileAddition reports whether a patch's only hunk adds a
// single file whose name ends in .patch, the one case the default
// (non-strict) apply path is used unconditionally.
func singlePatchFileAddition(lines []string) bool {
	if len(lines) != 2 {
		return false
	}
	from, to := changePath(lines[0]), changePath(lines[1])
	return from == "/dev/null" && strings.HasSuffix(to, ".patch")
}

// ValidatePeerReview clones the reviewed submission's tagged branch,
// applies a single peer-review reply patch permitting an empty diff, and
// tags the result with the new submission id. Unlike Validate, failure
// here leaves nothing committed or tagged — a peer review that doesn't
// apply is simply reported, not preserved as an empty commit.
func (v *Validator) ValidatePeerReview(reply mailsession.Email, reviewedSubmissionID, newSubmissionID string) string {
	repo, err := v.Scratch.Create()
	if err != nil {
		return "failed to apply peer review"
	}
	defer v.Scratch.Remove(repo)

	// Create leaves an initialized repo at repo.Path; git clone refuses a
	// non-empty destination, so clear it first.
	if err := os.RemoveAll(repo.Path); err != nil {
		return "failed to apply peer review"
	}
	if err := repo.CloneFrom(v.RemoteURL, "--branch", reviewedSubmissionID, "--single-branch", "--no-tags"); err != nil {
		return "failed to apply peer review"
	}
	repo.RemoteURL = v.RemoteURL

	if err := repo.ApplyMailAllowEmpty(v.path(reply.MsgID)); err != nil {
		return "failed to apply peer review"
	}
	if err := repo.CreateTag(gitbackend.Mailman, newSubmissionID, "", ""); err != nil && err != gitbackend.ErrTagExists {
		return "failed to apply peer review"
	}
	if err := repo.PushTags(); err != nil {
		return "failed to apply peer review"
	}
	return "successfully stored peer review"
}
