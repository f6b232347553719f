package domain

import "errors"

var (
	// ErrDigestNotFound is returned when a referenced digest does not exist.
	ErrDigestNotFound = errors.New("digest not found")
	// ErrUserNotFound is returned when a user lookup misses.
	ErrUserNotFound = errors.New("user not found")
)
