package service

import (
	"fmt"
	"math"
	"time"

	apperrors "classbook/pkg/errors"
)

const (
	// checkInOpensBefore is how long before class start the check-in window
	// opens. The window closes when the class ends.
	checkInOpensBefore = 15 * time.Minute

	// refundThreshold is the minimum notice before class start for a
	// cancellation to refund its credits.
	refundThreshold = 4 * time.Hour
)

// evaluateCheckInWindow returns nil when now falls inside
// [start - checkInOpensBefore, end].
func evaluateCheckInWindow(now, start, end time.Time) error {
	opens := start.Add(-checkInOpensBefore)

	if now.Before(opens) {
		minutes := int(math.Ceil(opens.Sub(now).Minutes()))
		return apperrors.Conflict(apperrors.ReasonCheckInTooEarly,
			fmt.Sprintf("Check-in opens in %d minute(s)", minutes),
		).WithDetails(map[string]any{
			"opens_at": opens,
		})
	}

	if now.After(end) {
		return apperrors.Conflict(apperrors.ReasonCheckInClosed,
			"Check-in closed when the class ended")
	}

	return nil
}

// refundEligible applies the cancellation refund policy: full refund with at
// least refundThreshold notice, no refund otherwise.
func refundEligible(now, start time.Time) bool {
	return start.Sub(now) >= refundThreshold
}

// withinCheckInWindow is the boolean form used for list-view hints.
func withinCheckInWindow(now, start, end time.Time) bool {
	return evaluateCheckInWindow(now, start, end) == nil
}
