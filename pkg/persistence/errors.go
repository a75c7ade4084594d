package persistence

import "errors"

var (
	ErrEntityNotFound = errors.New("entity not found")
	// ErrUnavailable means the database could not be reached. Callers map it
	// to a retryable failure.
	ErrUnavailable = errors.New("database unavailable")
)
