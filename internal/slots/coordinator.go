// Package slots decides, for one booking attempt, whether a slot exists.
// It owns the fast-path/fallback choice; the ledger's available_slots column
// stays authoritative in both modes.
package slots

import (
	"context"
	"time"

	"classbook/internal/slots/counter"
	"classbook/pkg/logger"
)

// Outcome of a reservation attempt.
type Outcome int

const (
	// ReservedFastPath means the mirrored counter was decremented. The caller
	// owes a Release unless a booking transaction commits, and must resync
	// the ledger from the mirror inside that transaction.
	ReservedFastPath Outcome = iota

	// ReservedFallback means the fast path was disabled or degraded for this
	// attempt; the guarded ledger decrement inside the transaction decides.
	ReservedFallback

	// Exhausted means the mirror reported zero slots. No transaction is
	// opened.
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case ReservedFastPath:
		return "fast_path"
	case ReservedFallback:
		return "ledger_fallback"
	default:
		return "exhausted"
	}
}

type Coordinator struct {
	counter   counter.Counter // nil disables the fast path
	opTimeout time.Duration
	log       *logger.Logger
}

func NewCoordinator(c counter.Counter, opTimeout time.Duration, log *logger.Logger) *Coordinator {
	return &Coordinator{
		counter:   c,
		opTimeout: opTimeout,
		log:       log,
	}
}

// Reserve attempts to take one slot for classID. ledgerAvailable is the
// ledger's available_slots read by the caller just before; it seeds the
// mirror when the key is absent. Any counter failure degrades this attempt
// only; there is no persistent mode switch.
func (c *Coordinator) Reserve(ctx context.Context, classID string, ledgerAvailable int) Outcome {
	if c.counter == nil {
		return ReservedFallback
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	_, present, err := c.counter.Get(opCtx, classID)
	if err != nil {
		c.log.Warn("Fast path degraded on counter read, falling back to ledger",
			"class_id", classID,
			"error", err,
		)
		return ReservedFallback
	}

	if !present {
		if _, err := c.counter.SetIfAbsent(opCtx, classID, ledgerAvailable); err != nil {
			c.log.Warn("Fast path degraded on counter init, falling back to ledger",
				"class_id", classID,
				"error", err,
			)
			return ReservedFallback
		}
	}

	// One retry covers the key vanishing between init and decrement
	// (e.g. an operator flushed the mirror).
	for attempt := 0; attempt < 2; attempt++ {
		result, err := c.counter.DecrementIfPositive(opCtx, classID)
		if err != nil {
			c.log.Warn("Fast path degraded on decrement, falling back to ledger",
				"class_id", classID,
				"error", err,
			)
			return ReservedFallback
		}

		switch result {
		case counter.Decremented:
			c.log.Debug("Slot reserved via fast path", "class_id", classID)
			return ReservedFastPath
		case counter.Exhausted:
			return Exhausted
		case counter.Absent:
			if _, err := c.counter.SetIfAbsent(opCtx, classID, ledgerAvailable); err != nil {
				c.log.Warn("Fast path degraded on counter reinit, falling back to ledger",
					"class_id", classID,
					"error", err,
				)
				return ReservedFallback
			}
		}
	}

	return ReservedFallback
}

// Release undoes a fast-path reservation that was not followed by a committed
// booking. It runs detached from the request context: an abandoned request
// must still compensate, or the slot is lost until the next mirror rebuild.
func (c *Coordinator) Release(ctx context.Context, classID string) error {
	if c.counter == nil {
		return nil
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opTimeout)
	defer cancel()

	return c.counter.Increment(opCtx, classID)
}

// Resync reads the mirror value for the in-transaction ledger write-back.
// ok=false degrades the caller to a guarded ledger decrement, which is
// equally consistent (mirror and ledger then each went down by one).
func (c *Coordinator) Resync(ctx context.Context, classID string) (int, bool) {
	if c.counter == nil {
		return 0, false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	value, present, err := c.counter.Get(opCtx, classID)
	if err != nil {
		c.log.Warn("Failed to read mirror for ledger resync",
			"class_id", classID,
			"error", err,
		)
		return 0, false
	}
	if !present {
		return 0, false
	}
	return value, true
}

// Announce pushes a post-commit slot release (cancellation) to the mirror.
// Best effort: the mirror self-corrects on the next rebuild, so failure only
// logs a recoverable inconsistency.
func (c *Coordinator) Announce(ctx context.Context, classID string) {
	if c.counter == nil {
		return
	}

	if err := c.Release(ctx, classID); err != nil {
		c.log.Warn("Recoverable inconsistency: mirror not incremented after cancellation",
			"class_id", classID,
			"error", err,
		)
	}
}

// Invalidate drops the mirror so the next reservation rebuilds it from the
// ledger. Used after administrative capacity changes.
func (c *Coordinator) Invalidate(ctx context.Context, classID string) {
	if c.counter == nil {
		return
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opTimeout)
	defer cancel()

	if err := c.counter.Delete(opCtx, classID); err != nil {
		c.log.Warn("Failed to invalidate slot mirror",
			"class_id", classID,
			"error", err,
		)
	}
}

// Healthy reports whether the fast path is configured and reachable.
func (c *Coordinator) Healthy(ctx context.Context) bool {
	if c.counter == nil {
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	return c.counter.Ping(opCtx) == nil
}
