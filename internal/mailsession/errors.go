package mailsession

import "errors"

// ErrMalformed signals a session log that could not be parsed. Per spec,
// this is InputMalformed: the Ingestor treats it as a no-op with a logged
// warning rather than a failure.
var ErrMalformed = errors.New("mailsession: malformed log")
