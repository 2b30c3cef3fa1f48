package validator

import "errors"

var (
	// ErrMalformedAuthor signals a patch with no parseable From header —
	// an impossible-input condition since every ingested email has one.
	ErrMalformedAuthor = errors.New("validator: patch has no parseable From header")
)
