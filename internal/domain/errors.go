package domain

import (
	"context"
	"errors"
)

// Sentinel errors for the application.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrUnauthorized  = errors.New("unauthorized access")
	ErrForbidden     = errors.New("forbidden")
	ErrConflict      = errors.New("resource already exists")
	ErrInternal      = errors.New("internal server error")
	ErrInvalidInput  = errors.New("invalid input")
	ErrPartialCreate = errors.New("chat created without all participants")
	ErrNotReady      = errors.New("session identity not ready")
	ErrSessionClosed = errors.New("session closed")
	ErrTopicDead     = errors.New("subscription topic failed permanently")
	ErrInvalidEvent  = errors.New("invalid change event")
)

// IsTerminal reports whether err should be surfaced to the caller rather than
// retried. Anything not recognised is treated as transient network trouble.
func IsTerminal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrPartialCreate),
		errors.Is(err, ErrSessionClosed),
		errors.Is(err, context.Canceled):
		return true
	}
	return false
}
