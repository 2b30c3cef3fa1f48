// Package rubric loads and evaluates the expected shape of a patchset: an
// ordered sequence of multisets of (from-path, to-path) change pairs that a
// correct submission's patches must exercise.
package rubric

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChangePair identifies a single "--- from" / "+++ to" pair from a unified
// diff hunk header, with paths taken verbatim, including any leading a/ or b/.
type ChangePair struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// PatchRubric is the expected multiset of change pairs for one patch in the
// patchset, in submission order.
type PatchRubric struct {
	Changes []ChangePair `yaml:"changes"`
}

// Rubric is the expected shape of an entire patchset.
type Rubric struct {
	// TemplateAuthor is the path component substituted for the real
	// author's local-part before a change pair is looked up, since the
	// rubric was authored against one reference username.
	TemplateAuthor string `yaml:"template_author"`

	// Patches is the per-patch expected change-pair multiset, in order.
	Patches []PatchRubric `yaml:"patches"`
}

// Load reads a rubric YAML document from path.
func Load(path string) (*Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rubric %s: %w", path, err)
	}
	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse rubric %s: %w", path, err)
	}
	return &r, nil
}

// Len returns the expected number of patches, used for the rubric
// patch-count gate.
func (r *Rubric) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Patches)
}

// Normalize replaces the first path component of path with the rubric's
// template author, leaving /dev/null untouched. author is the real patch
// author's local-part as extracted from the From header.
func (r *Rubric) Normalize(path, author string) string {
	if path == "/dev/null" || author == "" {
		return path
	}
	return replaceFirstComponent(path, author, r.TemplateAuthor)
}

// replaceFirstComponent rewrites the first path segment after a leading a/
// or b/ prefix from `from` to `to`, leaving the rest of the path untouched.
// It is a no-op if the first segment does not match `from`.
func replaceFirstComponent(path, from, to string) string {
	prefix := ""
	rest := path
	if len(path) > 2 && (path[:2] == "a/" || path[:2] == "b/") {
		prefix, rest = path[:2], path[2:]
	}
	slash := indexByte(rest, '/')
	if slash < 0 {
		if rest == from {
			return prefix + to
		}
		return path
	}
	if rest[:slash] != from {
		return path
	}
	return prefix + to + rest[slash:]
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Counters returns a fresh, zeroed tally of every change pair expected for
// patch index i, to be incremented as the corresponding patch's hunks are
// scanned and checked for all-nonzero afterward. Duplicate entries in the
// source YAML collapse to a single counter, matching the reference rubric
// generator's dict-literal semantics.
func (r *Rubric) Counters(i int) map[ChangePair]int {
	if r == nil || i < 0 || i >= len(r.Patches) {
		return nil
	}
	counters := make(map[ChangePair]int, len(r.Patches[i].Changes))
	for _, c := range r.Patches[i].Changes {
		counters[c] = 0
	}
	return counters
}
