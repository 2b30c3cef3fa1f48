package journal

import "errors"

// ErrUserRequired is returned when a visibility operation is given an empty username.
var ErrUserRequired = errors.New("journal: user is required")
