// Package apperr defines the error kinds that cross the HTTP boundary and
// their status code mapping.
package apperr

import (
	"errors"
	"net/http"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidToken    = errors.New("invalid token")
	ErrUpstreamAuth    = errors.New("authentication provider rejected the credentials")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrUpstreamService = errors.New("upstream service error")
)

// Error pairs an error kind with a message that is safe to show to callers.
type Error struct {
	Kind    error
	Message string
	Err     error
}

// New returns an Error of the given kind with a public message.
func New(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error of the given kind that keeps err as its cause.
func Wrap(kind error, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status maps an error to the HTTP status code the API answers with.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrUpstreamAuth),
		errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstreamService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message to put in an error response body.
// In production, upstream and internal failures get a generic message so
// provider or driver details never reach the client.
func PublicMessage(err error, production bool) string {
	status := Status(err)

	var appErr *Error
	hasPublic := errors.As(err, &appErr) && appErr.Message != ""

	if status >= http.StatusInternalServerError {
		if production || !hasPublic {
			if status == http.StatusBadGateway {
				return "Upstream service unavailable"
			}
			return "Internal server error"
		}
		return appErr.Error()
	}

	if hasPublic {
		return appErr.Message
	}
	switch status {
	case http.StatusBadRequest:
		return "Invalid request"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "Not found"
	}
	return err.Error()
}
