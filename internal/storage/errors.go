package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a symbol has no recorded samples.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
