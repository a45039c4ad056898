package errors

import "errors"

var (
	ErrNotFound = errors.New("booking not found")

	ErrInvalidID = errors.New("invalid booking ID format")

	// ErrDuplicate means the partial unique index rejected a second active
	// booking for the same user and class.
	ErrDuplicate = errors.New("active booking already exists")

	// ErrBookingChanged means a guarded state flip matched no document: the
	// booking was cancelled or checked in by a concurrent request.
	ErrBookingChanged = errors.New("booking changed concurrently")
)
