package journal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore_Init(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "journal-root")

	s := New(root)
	if err := s.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		t.Errorf("Init() did not create root directory %s", root)
	}
}

func TestStore_AppendPreservesOrder(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}

	records := [][]byte{[]byte("first\n"), []byte("second\n"), []byte("third\n")}
	for _, r := range records {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := os.ReadFile(filepath.Join(s.Root, JournalFile))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	want := "first\nsecond\nthird\n"
	if string(got) != want {
		t.Errorf("journal contents = %q, want %q", got, want)
	}
}

func TestStore_VisibilityDefaultsToAllow(t *testing.T) {
	s := New(t.TempDir())

	v, err := s.VisibilityOf("alice")
	if err != nil {
		t.Fatalf("VisibilityOf() error = %v", err)
	}
	if v != Allow {
		t.Errorf("VisibilityOf() = %v, want %v", v, Allow)
	}
}

func TestStore_SetVisibilityRoundTrips(t *testing.T) {
	s := New(t.TempDir())

	if err := s.SetVisibility("alice", Deny); err != nil {
		t.Fatalf("SetVisibility() error = %v", err)
	}

	v, err := s.VisibilityOf("alice")
	if err != nil {
		t.Fatalf("VisibilityOf() error = %v", err)
	}
	if v != Deny {
		t.Errorf("VisibilityOf() = %v, want %v", v, Deny)
	}

	if err := s.SetVisibility("alice", Allow); err != nil {
		t.Fatalf("SetVisibility() error = %v", err)
	}
	v, err = s.VisibilityOf("alice")
	if err != nil {
		t.Fatalf("VisibilityOf() error = %v", err)
	}
	if v != Allow {
		t.Errorf("VisibilityOf() after re-allow = %v, want %v", v, Allow)
	}
}

func TestStore_SetVisibilityRequiresUser(t *testing.T) {
	s := New(t.TempDir())
	if err := s.SetVisibility("", Deny); err != ErrUserRequired {
		t.Errorf("SetVisibility(\"\") error = %v, want %v", err, ErrUserRequired)
	}
}

func TestStore_RecordVisiblePreservesPreDenyPrefix(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}

	before := []byte("before-deny\n")
	if err := s.Append(before); err != nil {
		t.Fatal(err)
	}
	beforeOffset := int64(0)

	if err := s.SetVisibility("alice", Deny); err != nil {
		t.Fatal(err)
	}

	afterOffset := int64(len(before))
	if err := s.Append([]byte("after-deny\n")); err != nil {
		t.Fatal(err)
	}

	visible, err := s.RecordVisible("alice", beforeOffset)
	if err != nil {
		t.Fatalf("RecordVisible() error = %v", err)
	}
	if !visible {
		t.Errorf("RecordVisible(pre-deny offset) = false, want true")
	}

	hidden, err := s.RecordVisible("alice", afterOffset)
	if err != nil {
		t.Fatalf("RecordVisible() error = %v", err)
	}
	if hidden {
		t.Errorf("RecordVisible(post-deny offset) = true, want false")
	}

	if err := s.SetVisibility("alice", Allow); err != nil {
		t.Fatal(err)
	}
	visible, err = s.RecordVisible("alice", afterOffset)
	if err != nil {
		t.Fatalf("RecordVisible() error = %v", err)
	}
	if !visible {
		t.Errorf("RecordVisible(post-deny offset) after re-allow = false, want true")
	}
}

func TestStore_VisibilityIsPerUser(t *testing.T) {
	s := New(t.TempDir())

	if err := s.SetVisibility("alice", Deny); err != nil {
		t.Fatal(err)
	}
	if err := s.SetVisibility("bob", Allow); err != nil {
		t.Fatal(err)
	}

	aliceV, err := s.VisibilityOf("alice")
	if err != nil {
		t.Fatal(err)
	}
	bobV, err := s.VisibilityOf("bob")
	if err != nil {
		t.Fatal(err)
	}

	if aliceV != Deny {
		t.Errorf("alice visibility = %v, want %v", aliceV, Deny)
	}
	if bobV != Allow {
		t.Errorf("bob visibility = %v, want %v", bobV, Allow)
	}
}
