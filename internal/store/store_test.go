package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "singularity.db")
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetAssignment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateAssignment(ctx, Assignment{
		Name: "programming1", InitialDue: 100, PeerReviewDue: 200, FinalDue: 300,
	})
	if err != nil {
		t.Fatalf("CreateAssignment() error = %v", err)
	}

	got, err := s.GetAssignmentByName(ctx, "programming1")
	if err != nil {
		t.Fatalf("GetAssignmentByName() error = %v", err)
	}
	want := &Assignment{ID: id, Name: "programming1", InitialDue: 100, PeerReviewDue: 200, FinalDue: 300}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetAssignmentByName() mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateAssignment_DuplicateNameConflicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateAssignment(ctx, Assignment{Name: "dup", FinalDue: FarFuture}); err != nil {
		t.Fatalf("first CreateAssignment() error = %v", err)
	}
	_, err := s.CreateAssignment(ctx, Assignment{Name: "dup", FinalDue: FarFuture})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("CreateAssignment() error = %v, want ErrConflict", err)
	}
}

func TestAlterAssignment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateAssignment(ctx, Assignment{Name: "a1", InitialDue: 1, PeerReviewDue: 2, FinalDue: 3}); err != nil {
		t.Fatalf("CreateAssignment() error = %v", err)
	}

	newFinal := int64(999)
	n, err := s.AlterAssignment(ctx, "a1", nil, nil, &newFinal)
	if err != nil {
		t.Fatalf("AlterAssignment() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("AlterAssignment() rows affected = %d, want 1", n)
	}

	got, err := s.GetAssignmentByName(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAssignmentByName() error = %v", err)
	}
	if got.FinalDue != 999 || got.InitialDue != 1 {
		t.Errorf("AlterAssignment() left state = %+v, want InitialDue=1 FinalDue=999", got)
	}
}

func TestAlterAssignment_NoAlterations(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.AlterAssignment(context.Background(), "missing", nil, nil, nil); !errors.Is(err, ErrNoAlterations) {
		t.Errorf("AlterAssignment() error = %v, want ErrNoAlterations", err)
	}
}

func TestRemoveAssignment_NoSuchName(t *testing.T) {
	s := openTestStore(t)
	n, err := s.RemoveAssignment(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("RemoveAssignment() error = %v", err)
	}
	if n != 0 {
		t.Errorf("RemoveAssignment() rows affected = %d, want 0", n)
	}
}

func TestCreateSubmission_IdempotentReingest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub := Submission{SubmissionID: "sess-1", Timestamp: 1, User: "alice", Recipient: "programming1", EmailCount: 3, Status: "new"}
	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("first CreateSubmission() error = %v", err)
	}
	if err := s.CreateSubmission(ctx, sub); !errors.Is(err, ErrConflict) {
		t.Errorf("re-ingesting same submission_id error = %v, want ErrConflict", err)
	}
}

func TestLatestGradeablePerUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob"} {
		if err := s.CreateUser(ctx, User{Username: u, FullName: u}); err != nil {
			t.Fatalf("CreateUser(%s) error = %v", u, err)
		}
	}
	for _, sub := range []Submission{
		{SubmissionID: "s1", Timestamp: 1, User: "alice", Recipient: "asn1", EmailCount: 2, Status: "ok"},
		{SubmissionID: "s2", Timestamp: 2, User: "alice", Recipient: "asn1", EmailCount: 2, Status: "ok"},
	} {
		if err := s.CreateSubmission(ctx, sub); err != nil {
			t.Fatalf("CreateSubmission(%s) error = %v", sub.SubmissionID, err)
		}
	}
	if err := s.CreateGradeable(ctx, Gradeable{SubmissionID: "s1", Timestamp: 1, User: "alice", Assignment: "asn1", Component: ComponentInitial, AutoFeedback: "patchset applies."}); err != nil {
		t.Fatalf("CreateGradeable(s1) error = %v", err)
	}
	if err := s.CreateGradeable(ctx, Gradeable{SubmissionID: "s2", Timestamp: 2, User: "alice", Assignment: "asn1", Component: ComponentInitial, AutoFeedback: "patchset applies."}); err != nil {
		t.Fatalf("CreateGradeable(s2) error = %v", err)
	}

	latest, err := s.LatestGradeablePerUser(ctx, "asn1", ComponentInitial)
	if err != nil {
		t.Fatalf("LatestGradeablePerUser() error = %v", err)
	}
	if latest["alice"] == nil || latest["alice"].SubmissionID != "s2" {
		t.Errorf("LatestGradeablePerUser()[alice] = %+v, want submission_id s2", latest["alice"])
	}
	if latest["bob"] != nil {
		t.Errorf("LatestGradeablePerUser()[bob] = %+v, want nil", latest["bob"])
	}
}

func TestReplacePeerReviewAssignments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bob := "bob"
	carol := "carol"
	pairings := []PeerReviewAssignment{
		{Assignment: "asn1", Reviewer: "alice", Reviewee1: &bob, Reviewee2: &carol},
	}
	if err := s.ReplacePeerReviewAssignments(ctx, "asn1", pairings); err != nil {
		t.Fatalf("ReplacePeerReviewAssignments() error = %v", err)
	}

	got, err := s.PeerReviewAssignmentFor(ctx, "asn1", "alice")
	if err != nil {
		t.Fatalf("PeerReviewAssignmentFor() error = %v", err)
	}
	if got == nil || *got.Reviewee1 != "bob" || *got.Reviewee2 != "carol" {
		t.Errorf("PeerReviewAssignmentFor() = %+v, want reviewee1=bob reviewee2=carol", got)
	}

	// Replacing clears the prior set.
	if err := s.ReplacePeerReviewAssignments(ctx, "asn1", nil); err != nil {
		t.Fatalf("ReplacePeerReviewAssignments(empty) error = %v", err)
	}
	got, err = s.PeerReviewAssignmentFor(ctx, "asn1", "alice")
	if err != nil {
		t.Fatalf("PeerReviewAssignmentFor() error = %v", err)
	}
	if got != nil {
		t.Errorf("PeerReviewAssignmentFor() after clear = %+v, want nil", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, User{Username: "alice", FullName: "Alice"}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := s.CreateSession(ctx, Session{Token: "tok1", Username: "alice", Expiry: 1000}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	// Creating a second session for the same user replaces the first.
	if err := s.CreateSession(ctx, Session{Token: "tok2", Username: "alice", Expiry: 2000}); err != nil {
		t.Fatalf("CreateSession() (replace) error = %v", err)
	}
	if _, err := s.GetSession(ctx, "tok1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(tok1) error = %v, want ErrNotFound after replacement", err)
	}
	got, err := s.GetSession(ctx, "tok2")
	if err != nil {
		t.Fatalf("GetSession(tok2) error = %v", err)
	}
	if got.Username != "alice" {
		t.Errorf("GetSession(tok2).Username = %q, want alice", got.Username)
	}

	if err := s.DeleteSession(ctx, "tok2"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := s.GetSession(ctx, "tok2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession() after delete error = %v, want ErrNotFound", err)
	}
}

func TestSetUserPassword(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sid := int64(42)

	if err := s.CreateUser(ctx, User{Username: "alice", StudentID: &sid, FullName: "Alice"}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := s.SetUserPassword(ctx, "alice", "hash1"); err != nil {
		t.Fatalf("SetUserPassword() error = %v", err)
	}
	if err := s.SetUserPassword(ctx, "ghost", "hash1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetUserPassword(ghost) error = %v, want ErrNotFound", err)
	}
}
