package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CreateAssignment inserts a new assignment row.
func (s *Store) CreateAssignment(ctx context.Context, a Assignment) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO assignments (name, initial_due, peer_review_due, final_due) VALUES (?, ?, ?, ?)`,
		a.Name, a.InitialDue, a.PeerReviewDue, a.FinalDue)
	if err != nil {
		return 0, wrapConflict(err)
	}
	return res.LastInsertId()
}

// AlterAssignment updates whichever deadlines are non-nil. Returns the
// number of rows affected (0 means no assignment with that name).
func (s *Store) AlterAssignment(ctx context.Context, name string, initial, peerReview, final *int64) (int64, error) {
	if initial == nil && peerReview == nil && final == nil {
		return 0, ErrNoAlterations
	}
	q := `UPDATE assignments SET
		initial_due = COALESCE(?, initial_due),
		peer_review_due = COALESCE(?, peer_review_due),
		final_due = COALESCE(?, final_due)
		WHERE name = ?`
	res, err := s.db.ExecContext(ctx, q, initial, peerReview, final, name)
	if err != nil {
		return 0, fmt.Errorf("alter assignment %s: %w", name, err)
	}
	return res.RowsAffected()
}

// RemoveAssignment deletes the assignment with the given name. Returns the
// number of rows affected.
func (s *Store) RemoveAssignment(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assignments WHERE name = ?`, name)
	if err != nil {
		return 0, fmt.Errorf("remove assignment %s: %w", name, err)
	}
	return res.RowsAffected()
}

// GetAssignmentByName fetches an assignment by name.
func (s *Store) GetAssignmentByName(ctx context.Context, name string) (*Assignment, error) {
	var a Assignment
	err := s.db.GetContext(ctx, &a, `SELECT * FROM assignments WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment %s: %w", name, err)
	}
	return &a, nil
}

// GetAssignmentByID fetches an assignment by its primary key.
func (s *Store) GetAssignmentByID(ctx context.Context, id int64) (*Assignment, error) {
	var a Assignment
	err := s.db.GetContext(ctx, &a, `SELECT * FROM assignments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment id %d: %w", id, err)
	}
	return &a, nil
}

// ListAssignments returns every assignment row.
func (s *Store) ListAssignments(ctx context.Context) ([]Assignment, error) {
	var rows []Assignment
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM assignments ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return rows, nil
}

// UpdateAssignmentDeadlineToNow sets the deadline field for component to now,
// used by the Orchestrator's TRIGGER handler.
func (s *Store) UpdateAssignmentDeadlineToNow(ctx context.Context, tx *sqlx.Tx, assignmentID int64, column string, now int64) error {
	q := fmt.Sprintf(`UPDATE assignments SET %s = ? WHERE id = ?`, column) //nolint:gosec // column is one of a fixed enum, never user input
	_, err := tx.ExecContext(ctx, q, now, assignmentID)
	if err != nil {
		return fmt.Errorf("set %s to now for assignment %d: %w", column, assignmentID, err)
	}
	return nil
}

// CreateUser inserts a user row. An existing username (or student_id) is
// reported as ErrConflict; the existing row is not updated. Registration
// sets the pwdhash later through SetUserPassword.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, pwdhash, student_id, fullname) VALUES (?, ?, ?, ?)`,
		u.Username, u.PwdHash, u.StudentID, u.FullName)
	if err != nil {
		return wrapConflict(err)
	}
	return nil
}

// GetUser fetches a user by username.
func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return &u, nil
}

// GetUserByStudentID fetches a user by their (nullable-unique) student_id.
func (s *Store) GetUserByStudentID(ctx context.Context, studentID int64) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE student_id = ?`, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by student id %d: %w", studentID, err)
	}
	return &u, nil
}

// ListUsers returns the full roster.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var rows []User
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM users ORDER BY username`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return rows, nil
}

// SetUserPassword atomically exchanges a student_id placeholder row for a
// real pwdhash, used during registration. Fails with ErrNotFound both when
// the username does not exist and when it already has a pwdhash.
func (s *Store) SetUserPassword(ctx context.Context, username, pwdhash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET pwdhash = ? WHERE username = ? AND pwdhash IS NULL`,
		pwdhash, username)
	if err != nil {
		return fmt.Errorf("set password for %s: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set password for %s: %w", username, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSubmission inserts a new submission row. Re-ingesting the same
// submission_id is reported as ErrConflict so the Ingestor can treat the
// first writer as authoritative and exit cleanly.
func (s *Store) CreateSubmission(ctx context.Context, sub Submission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (submission_id, timestamp, user, recipient, email_count, in_reply_to, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.SubmissionID, sub.Timestamp, sub.User, sub.Recipient, sub.EmailCount, sub.InReplyTo, sub.Status)
	if err != nil {
		return wrapConflict(err)
	}
	return nil
}

// SetSubmissionStatus updates the free-text status of an existing submission.
func (s *Store) SetSubmissionStatus(ctx context.Context, submissionID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE submissions SET status = ? WHERE submission_id = ?`, status, submissionID)
	if err != nil {
		return fmt.Errorf("set status for submission %s: %w", submissionID, err)
	}
	return nil
}

// GetSubmission fetches a submission by its submission_id.
func (s *Store) GetSubmission(ctx context.Context, submissionID string) (*Submission, error) {
	var sub Submission
	err := s.db.GetContext(ctx, &sub, `SELECT * FROM submissions WHERE submission_id = ?`, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission %s: %w", submissionID, err)
	}
	return &sub, nil
}

// CountSubmissionsFor returns the number of prior submissions addressed to
// recipient by user, used to number the subject-tag version counter.
func (s *Store) CountSubmissionsFor(ctx context.Context, recipient, user string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM submissions WHERE recipient = ? AND user = ?`, recipient, user)
	if err != nil {
		return 0, fmt.Errorf("count submissions for %s/%s: %w", recipient, user, err)
	}
	return n, nil
}

// CreateGradeable inserts a new gradeable row. It runs on the store's own
// handle, outside any transaction.
func (s *Store) CreateGradeable(ctx context.Context, g Gradeable) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gradeables (submission_id, timestamp, user, assignment, component, auto_feedback)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		g.SubmissionID, g.Timestamp, g.User, g.Assignment, g.Component, g.AutoFeedback)
	if err != nil {
		return wrapConflict(err)
	}
	return nil
}

// LatestGradeablePerUser returns, for every user in the roster, the most
// recent gradeable (by timestamp) for (assignment, component), or nil if
// that user has none. This is the userToSub helper DeadlineRunner's three
// entry points share.
func (s *Store) LatestGradeablePerUser(ctx context.Context, assignment string, component Component) (map[string]*Gradeable, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	var rows []Gradeable
	err = s.db.SelectContext(ctx, &rows,
		`SELECT * FROM gradeables WHERE assignment = ? AND component = ? ORDER BY timestamp DESC`,
		assignment, component)
	if err != nil {
		return nil, fmt.Errorf("list gradeables for %s/%s: %w", assignment, component, err)
	}

	latest := make(map[string]*Gradeable, len(users))
	for _, u := range users {
		latest[u.Username] = nil
	}
	for i := range rows {
		g := rows[i]
		if _, ok := latest[g.User]; ok && latest[g.User] == nil {
			latest[g.User] = &g
		}
	}
	return latest, nil
}

// LatestGradeableForUser returns the most recent gradeable for a single
// (user, assignment, component), or nil if none exists.
func (s *Store) LatestGradeableForUser(ctx context.Context, user, assignment string, component Component) (*Gradeable, error) {
	var g Gradeable
	err := s.db.GetContext(ctx, &g,
		`SELECT * FROM gradeables WHERE user = ? AND assignment = ? AND component = ? ORDER BY timestamp DESC LIMIT 1`,
		user, assignment, component)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest gradeable for %s/%s/%s: %w", user, assignment, component, err)
	}
	return &g, nil
}

// GradeableBySubmissionID finds the gradeable created for a given
// submission, regardless of stage. Used to resolve an in_reply_to mask to
// its originating gradeable.
func (s *Store) GradeableBySubmissionID(ctx context.Context, submissionID string) (*Gradeable, error) {
	var g Gradeable
	err := s.db.GetContext(ctx, &g, `SELECT * FROM gradeables WHERE submission_id = ? LIMIT 1`, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get gradeable for submission %s: %w", submissionID, err)
	}
	return &g, nil
}

// ReplacePeerReviewAssignments atomically deletes and re-inserts the
// pairings for an assignment's initial-stage run.
func (s *Store) ReplacePeerReviewAssignments(ctx context.Context, assignment string, pairings []PeerReviewAssignment) error {
	return s.Atomic(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM peer_review_assignments WHERE assignment = ?`, assignment); err != nil {
			return fmt.Errorf("clear peer review assignments for %s: %w", assignment, err)
		}
		for _, p := range pairings {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO peer_review_assignments (assignment, reviewer, reviewee1, reviewee2) VALUES (?, ?, ?, ?)`,
				p.Assignment, p.Reviewer, p.Reviewee1, p.Reviewee2)
			if err != nil {
				return wrapConflict(err)
			}
		}
		return nil
	})
}

// PeerReviewAssignmentFor looks up the pairing for (assignment, reviewer).
func (s *Store) PeerReviewAssignmentFor(ctx context.Context, assignment, reviewer string) (*PeerReviewAssignment, error) {
	var p PeerReviewAssignment
	err := s.db.GetContext(ctx, &p,
		`SELECT * FROM peer_review_assignments WHERE assignment = ? AND reviewer = ?`, assignment, reviewer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get peer review assignment for %s/%s: %w", assignment, reviewer, err)
	}
	return &p, nil
}

// CreateSession inserts a new session token row, replacing any existing
// live session for the username (at most one live session per user).
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	return s.Atomic(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE username = ?`, sess.Username); err != nil {
			return fmt.Errorf("clear existing session for %s: %w", sess.Username, err)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO sessions (token, username, expiry) VALUES (?, ?, ?)`,
			sess.Token, sess.Username, sess.Expiry)
		if err != nil {
			return wrapConflict(err)
		}
		return nil
	})
}

// GetSession fetches a session by token. Callers are responsible for
// checking Expiry and sweeping if past.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE token = ?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session row (used for lazy-sweep of expired tokens).
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CreateOopsie inserts a one-shot oopsie row for a user.
func (s *Store) CreateOopsie(ctx context.Context, o Oopsie) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oopsies (user, assignment, timestamp) VALUES (?, ?, ?)`,
		o.User, o.Assignment, o.Timestamp)
	if err != nil {
		return wrapConflict(err)
	}
	return nil
}

// OopsiesFor returns every oopsie recorded for an assignment.
func (s *Store) OopsiesFor(ctx context.Context, assignment string) ([]Oopsie, error) {
	var rows []Oopsie
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM oopsies WHERE assignment = ?`, assignment)
	if err != nil {
		return nil, fmt.Errorf("list oopsies for %s: %w", assignment, err)
	}
	return rows, nil
}
