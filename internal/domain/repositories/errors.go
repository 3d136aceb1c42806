package repositories

import "errors"

// Domain-specific repository errors
var (
	// ErrUserNotFound is returned when a user cannot be found
	ErrUserNotFound = errors.New("user not found")

	// ErrSessionNotFound is returned when a session is missing or expired
	ErrSessionNotFound = errors.New("session not found")

	// ErrCreatureNotFound is returned when a creature cannot be found
	ErrCreatureNotFound = errors.New("creature not found")
)
