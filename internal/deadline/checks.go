package deadline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/underground-software/singularity/internal/gitbackend"
	"github.com/underground-software/singularity/internal/store"
)

// heading underlines a check's title the way the reference feedback notes
// format each block, e.g.:
//
//	Corruption Check
//	----------------
func heading(title string) string {
	return title + "\n" + strings.Repeat("-", len(title)) + "\n"
}

// corruptionCheck is the first automated check: a gradeable that's missing
// or whose AutoFeedback ends in "!" earns an automatic failing note and the
// remaining checks never run for that tag.
func corruptionCheck(g *store.Gradeable) (block string, fatal bool) {
	title := heading("Corruption Check")
	if g == nil {
		return title + "0 - no gradeable submission\n", true
	}
	if strings.HasSuffix(g.AutoFeedback, "!") {
		return title + "0 - corrupt or fatal submission: " + g.AutoFeedback + "\n", true
	}
	return title + "PASS\n", false
}

var signedOffByLine = regexp.MustCompile(`(?m)^Signed-off-by:\s*(.+?)\s*<([^@>]+)@([^>]+)>\s*$`)

// signedOffByCheck requires every commit in the tag's history to carry a
// Signed-off-by trailer matching the submitting user's roster identity.
func signedOffByCheck(repo *gitbackend.Repo, base, tag string, fullName, username string) string {
	title := heading("Signed-off-by Check")
	commits, err := repo.CommitsBetween(base, tag)
	if err != nil {
		return title + "ERROR: " + err.Error() + "\n"
	}

	var problems []string
	for _, sha := range commits {
		msg, err := repo.CommitMessage(sha)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: unreadable commit message", sha[:12]))
			continue
		}
		m := signedOffByLine.FindStringSubmatch(msg)
		if m == nil {
			problems = append(problems, fmt.Sprintf("%s: missing Signed-off-by", sha[:12]))
			continue
		}
		if m[1] != fullName || m[2] != username {
			problems = append(problems, fmt.Sprintf("%s: malformed Signed-off-by (got %q <%s@%s>)", sha[:12], m[1], m[2], m[3]))
		}
	}
	if len(problems) == 0 {
		return title + "PASS\n"
	}
	return title + strings.Join(problems, "\n") + "\n"
}

// subjectTagPrefix returns the subject-line tag prefix expected for a
// stage: "[RFC PATCH" for initial, "[PATCH" for final.
func subjectTagPrefix(component store.Component) string {
	if component == store.ComponentInitial {
		return "[RFC PATCH"
	}
	return "[PATCH"
}

// subjectTagCheck walks commits in forward chronological order and checks
// each subject line for the expected "[RFC PATCH vN i/M]" (initial) or
// "[PATCH vN i/M]" (final) form, where N is the count of prior submissions
// addressed to this assignment by this user, i is the 0-based commit
// index, and M is len(commits)-1.
func subjectTagCheck(ctx context.Context, st *store.Store, repo *gitbackend.Repo, base, tag string, asn *store.Assignment, user string, component store.Component) string {
	title := heading("Subject Tag Check")
	commits, err := repo.CommitsBetween(base, tag)
	if err != nil {
		return title + "ERROR: " + err.Error() + "\n"
	}
	n, err := st.CountSubmissionsFor(ctx, asn.Name, user)
	if err != nil {
		return title + "ERROR: " + err.Error() + "\n"
	}
	prefix := subjectTagPrefix(component)
	m := len(commits) - 1

	var problems []string
	for i, sha := range commits {
		msg, err := repo.CommitMessage(sha)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: unreadable commit message", sha[:12]))
			continue
		}
		lines := strings.SplitN(msg, "\n", 2)
		subject := lines[0]
		expected := fmt.Sprintf("%s v%d %d/%d]", prefix, n, i, m)
		if !strings.Contains(subject, expected) {
			problems = append(problems, fmt.Sprintf("%s: expected tag %q, got subject %q", sha[:12], expected, subject))
		}
	}
	if len(problems) == 0 {
		return title + "PASS\n"
	}
	return title + strings.Join(problems, "\n") + "\n"
}

// diffstatBlock extracts the diffstat text the cover letter places after a
// line consisting solely of "--", the conventional git-format-patch
// signature sentinel.
func diffstatBlock(coverLetter string) string {
	lines := strings.Split(coverLetter, "\n")
	for i, line := range lines {
		if strings.TrimRight(line, " \t") == "--" {
			rest := lines[i+1:]
			var out []string
			for _, l := range rest {
				if strings.TrimSpace(l) == "" && len(out) > 0 {
					break
				}
				out = append(out, l)
			}
			return strings.Join(out, "\n")
		}
	}
	return ""
}

// diffstatCheck compares `git diff --stat --summary base..tag` against the
// diffstat block the cover letter advertises, line by line.
func diffstatCheck(repo *gitbackend.Repo, base, tag, coverLetter string) string {
	title := heading("Diffstat Check")
	actual, err := repo.DiffStatSummary(base, tag)
	if err != nil {
		return title + "ERROR: " + err.Error() + "\n"
	}
	expected := diffstatBlock(coverLetter)
	if expected == "" {
		return title + "no diffstat found in cover letter\n"
	}
	diff := lineDiff(expected, actual)
	if diff == "" {
		return title + "PASS\n"
	}
	return title + diff + "\n"
}

// lineDiff returns a minimal unified-style line diff between expected and
// actual, or "" if every line matches via a longest-common-subsequence
// alignment. Trailing whitespace is trimmed per line since `git diff --stat` output
// is sensitive to terminal width padding that doesn't reflect a real
// discrepancy.
func lineDiff(expected, actual string) string {
	a := normalizeLines(expected)
	b := normalizeLines(actual)
	if equalLines(a, b) {
		return ""
	}

	lcs := lcsTable(a, b)
	var out []string
	i, j := len(a), len(b)
	var rev []string
	for i > 0 && j > 0 {
		switch {
		case a[i-1] == b[j-1]:
			rev = append(rev, "  "+a[i-1])
			i--
			j--
		case lcs[i-1][j] >= lcs[i][j-1]:
			rev = append(rev, "- "+a[i-1])
			i--
		default:
			rev = append(rev, "+ "+b[j-1])
			j--
		}
	}
	for ; i > 0; i-- {
		rev = append(rev, "- "+a[i-1])
	}
	for ; j > 0; j-- {
		rev = append(rev, "+ "+b[j-1])
	}
	for k := len(rev) - 1; k >= 0; k-- {
		out = append(out, rev[k])
	}
	return strings.Join(out, "\n")
}

func normalizeLines(s string) []string {
	raw := strings.Split(strings.TrimRight(s, "\n"), "\n")
	out := make([]string, len(raw))
	for i, l := range raw {
		out[i] = strings.TrimRight(l, " \t")
	}
	return out
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// lcsTable computes the standard prefix-based longest-common-subsequence
// table: table[i][j] is the LCS length of a[:i] and b[:j].
func lcsTable(a, b []string) [][]int {
	table := make([][]int, len(a)+1)
	for i := range table {
		table[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				table[i][j] = table[i-1][j-1] + 1
			} else if table[i-1][j] >= table[i][j-1] {
				table[i][j] = table[i-1][j]
			} else {
				table[i][j] = table[i][j-1]
			}
		}
	}
	return table
}
