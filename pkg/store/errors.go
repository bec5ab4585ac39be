package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidState is returned when an operation is forbidden in the
	// record's current status (pausing a completed run, resuming a
	// running run).
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrInvalidInput is returned for empty IDs or malformed records.
	ErrInvalidInput = errors.New("invalid input")
)
