package validator

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/underground-software/singularity/internal/mailsession"
	"github.com/underground-software/singularity/internal/rubric"
	"github.com/underground-software/singularity/internal/scratch"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func newBareRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "--bare", "-q")
	return dir
}

// buildPatchset commits a single file under author's own namespace and
// returns a cover letter and one-patch series written into mailRoot,
// addressed to recipient asn1.
func buildPatchset(t *testing.T, mailRoot, author, relPath string) (mailsession.Email, []mailsession.Email) {
	t.Helper()
	src := t.TempDir()
	runGit(t, src, "init", "-q")
	runGit(t, src, "config", "user.name", author)
	runGit(t, src, "config", "user.email", author+"@example.com")

	full := filepath.Join(src, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, src, "add", ".")
	runGit(t, src, "commit", "-q", "-m", "add "+relPath)

	out := runGit(t, src, "format-patch", "--cover-letter", "-1", "-o", src)
	files := strings.Fields(out)
	if len(files) != 2 {
		t.Fatalf("format-patch produced %d files, want 2: %v", len(files), files)
	}

	store := func(id, name string) mailsession.Email {
		data, err := os.ReadFile(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(mailRoot, id), data, 0o644); err != nil {
			t.Fatal(err)
		}
		return mailsession.Email{Recipient: "asn1", MsgID: id}
	}

	cover := store(author+"-cover", files[0])
	patch := store(author+"-patch1", files[1])
	return cover, []mailsession.Email{patch}
}

func TestValidate_CleanPatchsetApplies(t *testing.T) {
	mailRoot := t.TempDir()
	cover, patches := buildPatchset(t, mailRoot, "alice", "alice/hello.txt")

	v := New(mailRoot, scratch.NewPool(t.TempDir()), newBareRemote(t))
	feedback, err := v.Validate(cover, patches, nil, "sub-clean")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if feedback != "patchset applies." {
		t.Errorf("Validate() feedback = %q, want %q", feedback, "patchset applies.")
	}
}

func TestValidate_WrongNamespaceIsFatal(t *testing.T) {
	mailRoot := t.TempDir()
	cover, patches := buildPatchset(t, mailRoot, "alice", "bob/hello.txt")

	v := New(mailRoot, scratch.NewPool(t.TempDir()), newBareRemote(t))
	feedback, err := v.Validate(cover, patches, nil, "sub-wrong-ns")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	want := "illegal patch 1: permission denied for path bob/hello.txt!"
	if feedback != want {
		t.Errorf("Validate() feedback = %q, want %q", feedback, want)
	}
}

func TestValidate_SwappedCoverLetterIsMissing(t *testing.T) {
	mailRoot := t.TempDir()
	_, patches := buildPatchset(t, mailRoot, "alice", "alice/hello.txt")

	v := New(mailRoot, scratch.NewPool(t.TempDir()), newBareRemote(t))
	feedback, err := v.Validate(patches[0], nil, nil, "sub-swapped")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if feedback != "missing cover letter!" {
		t.Errorf("Validate() feedback = %q, want %q", feedback, "missing cover letter!")
	}
}

func TestValidate_RubricCountMismatch(t *testing.T) {
	mailRoot := t.TempDir()
	cover, patches := buildPatchset(t, mailRoot, "alice", "alice/hello.txt")
	rub := &rubric.Rubric{Patches: []rubric.PatchRubric{{}, {}}}

	v := New(mailRoot, scratch.NewPool(t.TempDir()), newBareRemote(t))
	feedback, err := v.Validate(cover, patches, rub, "sub-rubric-count")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	want := "patch count 1 violates expected rubric patch count of 2!"
	if feedback != want {
		t.Errorf("Validate() feedback = %q, want %q", feedback, want)
	}
}

func TestValidatePeerReview(t *testing.T) {
	mailRoot := t.TempDir()
	_, patches := buildPatchset(t, mailRoot, "alice", "alice/hello.txt")

	remote := newBareRemote(t)

	seed := t.TempDir()
	runGit(t, seed, "init", "-q")
	runGit(t, seed, "config", "user.name", "mailman")
	runGit(t, seed, "config", "user.email", "mailman@localhost")
	runGit(t, seed, "commit", "--allow-empty", "-q", "-m", "seed")
	runGit(t, seed, "tag", "reviewed-1")
	runGit(t, seed, "push", remote, "reviewed-1")

	v := New(mailRoot, scratch.NewPool(t.TempDir()), remote)
	got := v.ValidatePeerReview(patches[0], "reviewed-1", "review-reply-1")
	if got != "successfully stored peer review" {
		t.Errorf("ValidatePeerReview() = %q, want success", got)
	}
}

func TestValidatePeerReview_NoSuchReviewedTag(t *testing.T) {
	mailRoot := t.TempDir()
	_, patches := buildPatchset(t, mailRoot, "alice", "alice/hello.txt")

	v := New(mailRoot, scratch.NewPool(t.TempDir()), newBareRemote(t))
	got := v.ValidatePeerReview(patches[0], "does-not-exist", "review-reply-2")
	if got != "failed to apply peer review" {
		t.Errorf("ValidatePeerReview() = %q, want failure", got)
	}
}

func TestExtractAuthor(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
		wantOK  bool
	}{
		{"angle", "From: Alice A <alice@example.com>\n", "alice", true},
		{"bare", "From: alice@example.com\n", "alice", true},
		{"missing", "Subject: no from header\n", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := extractAuthor(c.content)
			if ok != c.wantOK || got != c.want {
				t.Errorf("extractAuthor(%q) = (%q, %v), want (%q, %v)", c.content, got, ok, c.want, c.wantOK)
			}
		})
	}
}

func TestFirstDirComponent(t *testing.T) {
	cases := map[string]string{
		"a/alice/hello.txt": "alice",
		"b/bob/x.c":         "bob",
		"/dev/null":         "",
	}
	for path, want := range cases {
		if got := firstDirComponent(path); got != want {
			t.Errorf("firstDirComponent(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestSinglePatchFileAddition(t *testing.T) {
	if !singlePatchFileAddition([]string{"--- /dev/null", "+++ b/alice/extra.patch"}) {
		t.Error("singlePatchFileAddition() = false, want true for a single added .patch file")
	}
	if singlePatchFileAddition([]string{"--- /dev/null", "+++ b/alice/hello.txt"}) {
		t.Error("singlePatchFileAddition() = true, want false for a non-.patch file")
	}
	if singlePatchFileAddition([]string{"--- a/x", "+++ b/x", "--- a/y", "+++ b/y"}) {
		t.Error("singlePatchFileAddition() = true, want false for multiple hunks")
	}
}
