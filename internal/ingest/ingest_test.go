package ingest

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/underground-software/singularity/internal/mailsession"
	"github.com/underground-software/singularity/internal/scratch"
	"github.com/underground-software/singularity/internal/store"
	"github.com/underground-software/singularity/internal/validator"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "singularity.db")
	s, err := store.Open(dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeSessionLog(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func newTestIngestor(t *testing.T, s *store.Store, mailRoot string) *Ingestor {
	t.Helper()
	remote := t.TempDir()
	runGit(t, remote, "init", "--bare", "-q")
	v := validator.New(mailRoot, scratch.NewPool(t.TempDir()), remote)
	return New(s, v, mailRoot, t.TempDir(), nil)
}

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

// buildPatchset commits a file under author's own namespace addressed to
// recipient, writes the resulting cover letter + one-patch series into
// mailRoot, and returns the corresponding mail session emails.
func buildPatchset(t *testing.T, mailRoot, author, recipient string) []mailsession.Email {
	t.Helper()
	src := t.TempDir()
	runGit(t, src, "init", "-q")
	runGit(t, src, "config", "user.name", author)
	runGit(t, src, "config", "user.email", author+"@example.com")

	full := filepath.Join(src, author, "hello.txt")
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, src, "add", ".")
	runGit(t, src, "commit", "-q", "-m", "add hello")

	out := runGit(t, src, "format-patch", "--cover-letter", "-1", "-o", src)
	files := strings.Fields(out)
	if len(files) != 2 {
		t.Fatalf("format-patch produced %d files, want 2: %v", len(files), files)
	}

	save := func(id, name string) mailsession.Email {
		data, err := os.ReadFile(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(mailRoot, id), data, 0o644); err != nil {
			t.Fatal(err)
		}
		return mailsession.Email{Recipient: recipient, MsgID: id}
	}

	return []mailsession.Email{
		save(author+"-cover", files[0]),
		save(author+"-patch1", files[1]),
	}
}

func TestRun_IdleSession(t *testing.T) {
	s := openTestStore(t)
	mailRoot := t.TempDir()
	logDir := t.TempDir()
	writeSessionLog(t, logDir, "sess-idle", "1700000000 alice\n")

	in := newTestIngestor(t, s, mailRoot)
	status, err := in.Run(context.Background(), logDir, "sess-idle")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if status != "OK" {
		t.Errorf("Run() status = %q, want OK", status)
	}
}

func TestRun_MalformedLogIsNoop(t *testing.T) {
	s := openTestStore(t)
	mailRoot := t.TempDir()
	logDir := t.TempDir()
	writeSessionLog(t, logDir, "sess-bad", "not a header\n")

	in := newTestIngestor(t, s, mailRoot)
	status, err := in.Run(context.Background(), logDir, "sess-bad")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if status != "" {
		t.Errorf("Run() status = %q, want empty", status)
	}
}

func TestRun_MissingPatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateAssignment(ctx, store.Assignment{
		Name: "programming1", InitialDue: 2000000000, PeerReviewDue: 2100000000, FinalDue: 2200000000,
	}); err != nil {
		t.Fatalf("CreateAssignment() error = %v", err)
	}

	mailRoot := t.TempDir()
	logDir := t.TempDir()
	writeSessionLog(t, logDir, "sess-1", "1700000000 alice\nprogramming1 m1\n")

	in := newTestIngestor(t, s, mailRoot)
	status, err := in.Run(ctx, logDir, "sess-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if status != "missing patches" {
		t.Errorf("Run() status = %q, want %q", status, "missing patches")
	}
}

func TestRun_PastDue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateAssignment(ctx, store.Assignment{
		Name: "programming1", InitialDue: 100, PeerReviewDue: 200, FinalDue: 300,
	}); err != nil {
		t.Fatalf("CreateAssignment() error = %v", err)
	}

	mailRoot := t.TempDir()
	logDir := t.TempDir()
	writeSessionLog(t, logDir, "sess-1", "1700000000 alice\nprogramming1 m1\nprogramming1 m2\n")

	in := newTestIngestor(t, s, mailRoot)
	status, err := in.Run(ctx, logDir, "sess-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if status != "programming1 past due" {
		t.Errorf("Run() status = %q, want %q", status, "programming1 past due")
	}
}

func TestRun_MisaddressedPatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateAssignment(ctx, store.Assignment{
		Name: "programming1", InitialDue: 2000000000, PeerReviewDue: 2100000000, FinalDue: 2200000000,
	}); err != nil {
		t.Fatalf("CreateAssignment() error = %v", err)
	}

	mailRoot := t.TempDir()
	logDir := t.TempDir()
	writeSessionLog(t, logDir, "sess-1", "1700000000 alice\nprogramming1 m1\nwrong-recipient m2\n")

	in := newTestIngestor(t, s, mailRoot)
	status, err := in.Run(ctx, logDir, "sess-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if status != "patch 1 not addressed to programming1" {
		t.Errorf("Run() status = %q, want %q", status, "patch 1 not addressed to programming1")
	}
}

func TestRun_NotRecognizedRecipient(t *testing.T) {
	s := openTestStore(t)
	mailRoot := t.TempDir()
	logDir := t.TempDir()
	writeSessionLog(t, logDir, "sess-1", "1700000000 alice\nnobody m1\nnobody m2\n")

	in := newTestIngestor(t, s, mailRoot)
	status, err := in.Run(context.Background(), logDir, "sess-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if status != "Not a recognized recipient" {
		t.Errorf("Run() status = %q, want %q", status, "Not a recognized recipient")
	}
}

func TestRun_CleanAssignmentSubmission(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateAssignment(ctx, store.Assignment{
		Name: "programming1", InitialDue: 2000000000, PeerReviewDue: 2100000000, FinalDue: 2200000000,
	}); err != nil {
		t.Fatalf("CreateAssignment() error = %v", err)
	}

	mailRoot := t.TempDir()
	emails := buildPatchset(t, mailRoot, "alice", "programming1")

	var body strings.Builder
	body.WriteString("1700000000 alice\n")
	for _, e := range emails {
		body.WriteString(e.Recipient + " " + e.MsgID + "\n")
	}
	logDir := t.TempDir()
	writeSessionLog(t, logDir, "sess-1", body.String())

	in := newTestIngestor(t, s, mailRoot)
	status, err := in.Run(ctx, logDir, "sess-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if status != "programming1: initial" {
		t.Errorf("Run() status = %q, want %q", status, "programming1: initial")
	}

	g, err := s.GradeableBySubmissionID(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GradeableBySubmissionID() error = %v", err)
	}
	if g.AutoFeedback != "patchset applies." {
		t.Errorf("Gradeable.AutoFeedback = %q, want %q", g.AutoFeedback, "patchset applies.")
	}
}

func TestRun_IdempotentReingest(t *testing.T) {
	s := openTestStore(t)
	mailRoot := t.TempDir()
	logDir := t.TempDir()
	writeSessionLog(t, logDir, "sess-1", "1700000000 alice\nnobody m1\nnobody m2\n")

	in := newTestIngestor(t, s, mailRoot)
	ctx := context.Background()
	if _, err := in.Run(ctx, logDir, "sess-1"); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	status, err := in.Run(ctx, logDir, "sess-1")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if status != "" {
		t.Errorf("second Run() status = %q, want empty (idempotent no-op)", status)
	}
}

func TestMaskMessageID(t *testing.T) {
	cases := map[string]string{
		"abcdef01": "abcd0000",
		"ab":       "0000"[:2],
	}
	for in, want := range cases {
		if got := maskMessageID(in); got != want {
			t.Errorf("maskMessageID(%q) = %q, want %q", in, got, want)
		}
	}
}
