// Package store implements PersistentStore: durable tables for
// assignments, users, submissions, gradeables, peer-review pairings,
// sessions, and oopsies, backed by sqlite through sqlx. Every multi-row
// write goes through Atomic so a caller either commits every insert or
// none of them.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// FarFuture is the sentinel deadline meaning "disabled".
const FarFuture = 253401417420

// Store wraps a sqlite database handle opened against a single DSN file.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the sqlite database at dsn and ensures
// the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite serializes writers; avoid SQLITE_BUSY thrash
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS assignments (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL UNIQUE,
	initial_due     INTEGER NOT NULL,
	peer_review_due INTEGER NOT NULL,
	final_due       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	username   TEXT PRIMARY KEY,
	pwdhash    TEXT,
	student_id INTEGER UNIQUE,
	fullname   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
	submission_id TEXT PRIMARY KEY,
	timestamp     INTEGER NOT NULL,
	user          TEXT NOT NULL,
	recipient     TEXT NOT NULL,
	email_count   INTEGER NOT NULL,
	in_reply_to   TEXT,
	status        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS gradeables (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	submission_id TEXT NOT NULL REFERENCES submissions(submission_id),
	timestamp     INTEGER NOT NULL,
	user          TEXT NOT NULL,
	assignment    TEXT NOT NULL,
	component     TEXT NOT NULL CHECK (component IN ('initial','final','review1','review2')),
	auto_feedback TEXT NOT NULL,
	UNIQUE(submission_id, component)
);

CREATE TABLE IF NOT EXISTS peer_review_assignments (
	assignment TEXT NOT NULL,
	reviewer   TEXT NOT NULL,
	reviewee1  TEXT,
	reviewee2  TEXT,
	PRIMARY KEY (assignment, reviewer)
);

CREATE TABLE IF NOT EXISTS sessions (
	token    TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	expiry   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS oopsies (
	user       TEXT PRIMARY KEY,
	assignment TEXT NOT NULL,
	timestamp  INTEGER NOT NULL
);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Atomic runs fn under a write transaction. If fn returns an error, or
// panics, the transaction is rolled back; otherwise it is committed.
func (s *Store) Atomic(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback() //nolint:errcheck // already panicking
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ErrConflict signals a unique-constraint violation. Callers are expected
// to log it and move on rather than retry.
var ErrConflict = errors.New("store: conflict")

// ErrNotFound signals that a row lookup matched nothing.
var ErrNotFound = errors.New("store: not found")

// ErrNoAlterations signals an alter call with nothing to change.
var ErrNoAlterations = errors.New("store: no alterations specified")

// isConflict reports whether err represents a unique/primary-key violation
// from the sqlite3 driver.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// wrapConflict maps a raw driver error to ErrConflict when it represents a
// uniqueness violation, leaving all other errors untouched.
func wrapConflict(err error) error {
	if isConflict(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
