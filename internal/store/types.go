package store

// Assignment is a named work unit with three ordered deadlines.
type Assignment struct {
	ID            int64  `db:"id"`
	Name          string `db:"name"`
	InitialDue    int64  `db:"initial_due"`
	PeerReviewDue int64  `db:"peer_review_due"`
	FinalDue      int64  `db:"final_due"`
}

// User is a roster entry. PwdHash is nil for an unregistered placeholder.
type User struct {
	Username  string  `db:"username"`
	PwdHash   *string `db:"pwdhash"`
	StudentID *int64  `db:"student_id"`
	FullName  string  `db:"fullname"`
}

// Submission is the raw mail-session record.
type Submission struct {
	SubmissionID string  `db:"submission_id"`
	Timestamp    int64   `db:"timestamp"`
	User         string  `db:"user"`
	Recipient    string  `db:"recipient"`
	EmailCount   int     `db:"email_count"`
	InReplyTo    *string `db:"in_reply_to"`
	Status       string  `db:"status"`
}

// Component identifies the stage a Gradeable belongs to.
type Component string

const (
	ComponentInitial Component = "initial"
	ComponentFinal   Component = "final"
	ComponentReview1 Component = "review1"
	ComponentReview2 Component = "review2"
)

// Gradeable is a per-stage work item pointing at the submission currently
// in play for a user, assignment, and stage.
type Gradeable struct {
	ID           int64     `db:"id"`
	SubmissionID string    `db:"submission_id"`
	Timestamp    int64     `db:"timestamp"`
	User         string    `db:"user"`
	Assignment   string    `db:"assignment"`
	Component    Component `db:"component"`
	AutoFeedback string    `db:"auto_feedback"`
}

// PeerReviewAssignment pairs a reviewer with up to two reviewees.
type PeerReviewAssignment struct {
	Assignment string  `db:"assignment"`
	Reviewer   string  `db:"reviewer"`
	Reviewee1  *string `db:"reviewee1"`
	Reviewee2  *string `db:"reviewee2"`
}

// Session is a live login token. At most one row exists per username.
type Session struct {
	Token    string `db:"token"`
	Username string `db:"username"`
	Expiry   int64  `db:"expiry"`
}

// Oopsie is a one-shot per-semester excuse waiving the initial-submission
// visibility penalty.
type Oopsie struct {
	User       string `db:"user"`
	Assignment string `db:"assignment"`
	Timestamp  int64  `db:"timestamp"`
}
