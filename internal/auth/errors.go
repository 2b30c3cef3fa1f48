package auth

import "errors"

var (
	// ErrInvalidCredentials is returned by Login when the username/password
	// pair does not check out.
	ErrInvalidCredentials = errors.New("auth: invalid username or password")

	// ErrSessionExpired is returned by SessionFromCookie for an unknown or
	// expired token; the caller treats it the same as "not logged in".
	ErrSessionExpired = errors.New("auth: session expired")

	// ErrAlreadyRegistered is returned by Register when the matching user
	// row already has a password set.
	ErrAlreadyRegistered = errors.New("auth: user already registered")
)
