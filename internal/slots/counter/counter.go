// Package counter defines the fast-path slot counter boundary: a key/value
// store that serializes operations per key, so its check-and-decrement is the
// single mutual-exclusion point for all concurrent bookers of one class.
package counter

import "context"

// Result of an atomic decrement-if-positive.
type Result int

const (
	Decremented Result = iota
	Exhausted
	Absent
)

func (r Result) String() string {
	switch r {
	case Decremented:
		return "decremented"
	case Exhausted:
		return "exhausted"
	default:
		return "absent"
	}
}

// Counter mirrors each class's available-slot count. It is never
// authoritative; the ledger's available_slots column is.
type Counter interface {
	// Get returns the mirrored value and whether the key exists.
	Get(ctx context.Context, classID string) (int, bool, error)

	// SetIfAbsent initializes the mirror only when no value exists, so two
	// concurrent initializers cannot inflate the count. Reports whether this
	// call set the value.
	SetIfAbsent(ctx context.Context, classID string, value int) (bool, error)

	// DecrementIfPositive atomically decrements the value when it is > 0.
	// Must be a single server-side operation, never get-then-set.
	DecrementIfPositive(ctx context.Context, classID string) (Result, error)

	// Increment releases one slot back to the mirror.
	Increment(ctx context.Context, classID string) error

	// Delete drops the mirror; the next reservation reinitializes it from
	// the ledger.
	Delete(ctx context.Context, classID string) error

	Ping(ctx context.Context) error
}
