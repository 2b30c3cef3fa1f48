// Package journal implements the append-only email journal with per-user
// visibility gates described for JournalStore.
package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	// JournalFile is the name of the append-only journal file within Root.
	JournalFile = "journal"

	// VisibilityFile is the name of the per-user visibility side-file within Root.
	VisibilityFile = "visibility"
)

// Visibility is a per-user gate on journal records delivered after it was
// last set.
type Visibility string

const (
	Allow Visibility = "allow"
	Deny  Visibility = "deny"
)

// Store is an append-only file of concatenated email records plus a
// per-user visibility side-file. A user with Deny visibility must not
// receive any record appended between that Deny and the next Allow;
// records delivered before the most recent Deny remain visible.
type Store struct {
	// Root is the directory containing the journal file and the
	// visibility side-file.
	Root string

	mu sync.Mutex
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{Root: dir}
}

// Init creates the journal root directory.
func (s *Store) Init() error {
	return os.MkdirAll(s.Root, 0700)
}

func (s *Store) journalPath() string {
	return filepath.Join(s.Root, JournalFile)
}

func (s *Store) visibilityPath() string {
	return filepath.Join(s.Root, VisibilityFile)
}

// Append writes record to the end of the journal, fsyncing on success.
// The append is serialized by an in-process mutex plus an OS advisory
// lock on the journal file, so concurrent appenders from different
// processes still interleave safely.
func (s *Store) Append(record []byte) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.Root, 0700); err != nil {
		return fmt.Errorf("create journal root: %w", err)
	}

	f, err := os.OpenFile(s.journalPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	defer unlockFile(f) //nolint:errcheck // best-effort unlock, fd close follows

	if _, err := f.Write(record); err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	return f.Sync()
}

// visEntry is one user's visibility-file row: the gate state plus, for a
// Deny, the journal size at the moment it was set. Records appended before
// that boundary predate the deny and stay visible; Allow has no boundary
// since every record is visible.
type visEntry struct {
	state  Visibility
	offset int64
}

// SetVisibility atomically rewrites the visibility side-file entry for user.
// Setting Deny records the journal's current size as the boundary past which
// records are hidden; records already appended remain visible.
func (s *Store) SetVisibility(user string, v Visibility) error {
	if user == "" {
		return ErrUserRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readVisibility()
	if err != nil {
		return err
	}
	if entries == nil {
		entries = map[string]visEntry{}
	}

	e := visEntry{state: v}
	if v == Deny {
		size, err := s.journalSize()
		if err != nil {
			return err
		}
		e.offset = size
	}
	entries[user] = e

	return s.writeVisibility(entries)
}

func (s *Store) journalSize() (int64, error) {
	info, err := os.Stat(s.journalPath())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat journal: %w", err)
	}
	return info.Size(), nil
}

// VisibilityOf returns the current visibility gate for user. Users with no
// recorded entry default to Allow.
func (s *Store) VisibilityOf(user string) (Visibility, error) {
	entries, err := s.readVisibility()
	if err != nil {
		return "", err
	}
	if e, ok := entries[user]; ok {
		return e.state, nil
	}
	return Allow, nil
}

// RecordVisible reports whether a journal record starting at byte offset
// recordOffset is visible to user under the current gate. A user who has
// never been denied, or is currently Allowed, sees every record; a denied
// user sees only records that predate the most recent Deny's boundary.
func (s *Store) RecordVisible(user string, recordOffset int64) (bool, error) {
	entries, err := s.readVisibility()
	if err != nil {
		return false, err
	}
	e, ok := entries[user]
	if !ok || e.state == Allow {
		return true, nil
	}
	return recordOffset < e.offset, nil
}

func (s *Store) readVisibility() (map[string]visEntry, error) {
	f, err := os.Open(s.visibilityPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open visibility file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	entries := map[string]visEntry{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		e := visEntry{state: Visibility(parts[1])}
		if len(parts) >= 3 {
			if offset, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
				e.offset = offset
			}
		}
		entries[parts[0]] = e
	}
	return entries, scanner.Err()
}

// writeVisibility atomically replaces the visibility side-file via a
// temp-file-plus-rename, mirroring the journal's own atomic-append
// discipline for the much smaller "rewrite whole file" case.
func (s *Store) writeVisibility(entries map[string]visEntry) error {
	if err := os.MkdirAll(s.Root, 0700); err != nil {
		return fmt.Errorf("create journal root: %w", err)
	}

	tmp, err := os.CreateTemp(s.Root, ".visibility-*")
	if err != nil {
		return fmt.Errorf("create temp visibility file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		}
	}()

	w := bufio.NewWriter(tmp)
	for user, e := range entries {
		if _, err := fmt.Fprintf(w, "%s %s %d\n", user, e.state, e.offset); err != nil {
			_ = tmp.Close() //nolint:errcheck // cleanup in error path
			return fmt.Errorf("write visibility entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("flush visibility file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync visibility file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp visibility file: %w", err)
	}

	if err := os.Rename(tmpPath, s.visibilityPath()); err != nil {
		return fmt.Errorf("rename visibility file: %w", err)
	}
	success = true
	return nil
}
