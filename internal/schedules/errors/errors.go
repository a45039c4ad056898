package errors

import "errors"

var (
	ErrNotFound = errors.New("class schedule not found")

	ErrInvalidID = errors.New("invalid class schedule ID format")

	// ErrNoSlots means the guarded decrement matched no document: another
	// transaction took the last slot first.
	ErrNoSlots = errors.New("no available slots")

	// ErrCapacityReached means the guarded increment matched no document:
	// available_slots is already at capacity.
	ErrCapacityReached = errors.New("available slots already at capacity")
)
