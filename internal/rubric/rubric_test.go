package rubric

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAndCounters(t *testing.T) {
	doc := `
template_author: template
patches:
  - changes:
      - from: /dev/null
        to: b/template/main.c
  - changes:
      - from: a/template/main.c
        to: b/template/main.c
`
	path := filepath.Join(t.TempDir(), "rubric.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}

	counters := r.Counters(1)
	want := ChangePair{From: "a/template/main.c", To: "b/template/main.c"}
	if _, ok := counters[want]; !ok {
		t.Fatalf("Counters(1) missing %+v, got %+v", want, counters)
	}
	counters[want]++
	if counters[want] != 1 {
		t.Errorf("Counters(1)[want] = %d, want 1", counters[want])
	}
}

func TestNormalize(t *testing.T) {
	r := &Rubric{TemplateAuthor: "template"}

	tests := []struct {
		path, author, want string
	}{
		{"a/alice/main.c", "alice", "a/template/main.c"},
		{"b/alice/tests/x.c", "alice", "b/template/tests/x.c"},
		{"/dev/null", "alice", "/dev/null"},
		{"a/bob/main.c", "alice", "a/bob/main.c"}, // no match, left alone
	}
	for _, tt := range tests {
		if got := r.Normalize(tt.path, tt.author); got != tt.want {
			t.Errorf("Normalize(%q, %q) = %q, want %q", tt.path, tt.author, got, tt.want)
		}
	}
}

func TestLen_NilRubric(t *testing.T) {
	var r *Rubric
	if r.Len() != 0 {
		t.Errorf("Len() on nil rubric = %d, want 0", r.Len())
	}
}
