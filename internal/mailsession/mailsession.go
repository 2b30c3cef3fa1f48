// Package mailsession parses MailSessionLog files: the per-session record
// the mail server writes and the Ingestor consumes. The file's header line
// carries the session timestamp and username; every following line names
// one delivered email as "recipient msg_id".
package mailsession

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Email is one delivered message within a session.
type Email struct {
	Recipient string
	MsgID     string
}

// Session is a fully parsed MailSessionLog.
type Session struct {
	// SubmissionID is the log filename, which doubles as the submission_id.
	SubmissionID string

	Timestamp int64
	User      string
	Emails    []Email
}

// Load reads and parses the session log at filepath.Join(logDir, logFile).
// Malformed input is reported as an error; callers treat that as
// InputMalformed and no-op rather than propagate.
func Load(logDir, logFile string) (*Session, error) {
	path := filepath.Join(logDir, logFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session log %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, fmt.Errorf("%w: %s: empty file", ErrMalformed, path)
	}
	header := strings.Fields(scanner.Text())
	if len(header) != 2 {
		return nil, fmt.Errorf("%w: %s: malformed header %q", ErrMalformed, path, scanner.Text())
	}
	ts, err := strconv.ParseInt(header[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: bad timestamp %q", ErrMalformed, path, header[0])
	}

	sess := &Session{SubmissionID: logFile, Timestamp: ts, User: header[1]}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %s: malformed email line %q", ErrMalformed, path, line)
		}
		sess.Emails = append(sess.Emails, Email{Recipient: fields[0], MsgID: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan session log %s: %w", path, err)
	}

	return sess, nil
}
