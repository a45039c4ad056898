package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingserrors "classbook/internal/bookings/errors"
	"classbook/internal/bookings/events"
	"classbook/internal/bookings/repository"
	packageserrors "classbook/internal/packages/errors"
	packagesrepo "classbook/internal/packages/repository"
	scheduleserrors "classbook/internal/schedules/errors"
	schedulesrepo "classbook/internal/schedules/repository"
	"classbook/internal/slots"
	"classbook/pkg/config"
	apperrors "classbook/pkg/errors"
	"classbook/pkg/model"

	"go.mongodb.org/mongo-driver/mongo"
)

type BookingService interface {
	Book(ctx context.Context, userID string, classID string) (*model.BookingReceipt, error)
	Cancel(ctx context.Context, userID string, bookingID string) (*model.CancelResult, error)
	CheckIn(ctx context.Context, userID string, bookingID string) (*model.CheckInResult, error)
	List(ctx context.Context, userID string, status string, limit int, offset int64) ([]*model.BookingSummary, int64, error)
}

type bookingService struct {
	bookings    repository.BookingRepository
	classes     schedulesrepo.ClassRepository
	grants      packagesrepo.GrantRepository
	coordinator *slots.Coordinator
	publisher   events.Publisher
	cfg         *config.Config
}

func NewBookingService(
	bookings repository.BookingRepository,
	classes schedulesrepo.ClassRepository,
	grants packagesrepo.GrantRepository,
	coordinator *slots.Coordinator,
	publisher events.Publisher,
	cfg *config.Config,
) BookingService {
	return &bookingService{
		bookings:    bookings,
		classes:     classes,
		grants:      grants,
		coordinator: coordinator,
		publisher:   publisher,
		cfg:         cfg,
	}
}

// Book reserves a slot, charges credits, and records the booking atomically.
// The slot coordinator decides per attempt whether the fast-path counter or
// the guarded ledger decrement arbitrates capacity; the ledger write always
// happens inside the transaction either way.
func (s *bookingService) Book(ctx context.Context, userID string, classID string) (*model.BookingReceipt, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("User ID cannot be empty")
	}
	if classID == "" {
		return nil, apperrors.InvalidInput("Class ID cannot be empty")
	}

	class, err := s.loadClass(ctx, classID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.checkBookingPreconditions(ctx, userID, class, now); err != nil {
		return nil, err
	}

	outcome := s.coordinator.Reserve(ctx, classID, class.AvailableSlots)
	if outcome == slots.Exhausted {
		return nil, apperrors.Conflict(apperrors.ReasonClassFull, "Class is fully booked")
	}
	fastPath := outcome == slots.ReservedFastPath

	// A fast-path reservation must be handed back if the transaction does
	// not commit, or the counter undercounts until the next rebuild.
	releaseOwed := fastPath
	defer func() {
		if releaseOwed {
			if err := s.coordinator.Release(ctx, classID); err != nil {
				s.cfg.Log.Warn("Recoverable inconsistency: reserved slot not released after failed booking",
					"class_id", classID,
					"user_id", userID,
					"error", err,
				)
			}
		}
	}()

	var booking *model.Booking
	var grant *model.CreditGrant

	err = s.bookings.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		// Re-check the duplicate under the transaction; the partial unique
		// index is the final backstop.
		if _, err := s.bookings.FindActiveByUserAndClass(sessCtx, userID, classID); err == nil {
			return apperrors.Conflict(apperrors.ReasonAlreadyBooked, "You already have an active booking for this class")
		} else if !errors.Is(err, bookingserrors.ErrNotFound) {
			return apperrors.Internal("Failed to check for existing booking", err)
		}

		grant, err = s.grants.FindEligibleGrant(sessCtx, userID, class.RequiredCredits, now)
		if err != nil {
			if errors.Is(err, packageserrors.ErrNoEligibleGrant) {
				return apperrors.InsufficientCredits("Not enough credits in any valid package")
			}
			return apperrors.Internal("Failed to select credit grant", err)
		}

		if err := s.grants.DeductCredits(sessCtx, grant.ID, class.RequiredCredits, now); err != nil {
			if errors.Is(err, packageserrors.ErrGrantChanged) {
				return apperrors.InsufficientCredits("Credits were spent by a concurrent request")
			}
			return apperrors.Internal("Failed to deduct credits", err)
		}

		if err := s.applySlotDecrement(sessCtx, class, fastPath); err != nil {
			return err
		}

		booking = &model.Booking{
			UserID:      userID,
			ClassID:     classID,
			GrantID:     grant.ID,
			CreditsUsed: class.RequiredCredits,
			BookedAt:    now,
			Status:      model.BookingConfirmed,
		}
		if err := s.bookings.Create(sessCtx, booking); err != nil {
			if errors.Is(err, bookingserrors.ErrDuplicate) {
				return apperrors.Conflict(apperrors.ReasonAlreadyBooked, "You already have an active booking for this class")
			}
			return apperrors.Internal("Failed to create booking", err)
		}
		return nil
	})
	if err != nil {
		s.cfg.Log.Warn("Booking attempt failed",
			"user_id", userID,
			"class_id", classID,
			"fast_path", fastPath,
			"error", err,
		)
		return nil, err
	}

	// Committed: the counter decrement is now accounted for in the ledger.
	releaseOwed = false

	s.cfg.Log.Info("Booking confirmed",
		"booking_id", booking.ID,
		"user_id", userID,
		"class_id", classID,
		"credits_used", booking.CreditsUsed,
		"fast_path", fastPath,
	)

	s.publisher.Publish(ctx, events.EventBookingConfirmed, events.BookingEvent{
		BookingID:   booking.ID,
		UserID:      userID,
		ClassID:     classID,
		ClassTitle:  class.Title,
		StartTime:   class.StartTime,
		CreditsUsed: booking.CreditsUsed,
		OccurredAt:  now,
	})

	return &model.BookingReceipt{
		BookingID:        booking.ID,
		ClassTitle:       class.Title,
		StartTime:        class.StartTime,
		EndTime:          class.EndTime,
		CreditsUsed:      booking.CreditsUsed,
		RemainingCredits: grant.RemainingCredits - booking.CreditsUsed,
		Status:           booking.Status,
		Message:          fmt.Sprintf("Booked %s for %d credit(s)", class.Title, booking.CreditsUsed),
	}, nil
}

// Cancel releases the slot and refunds credits when the cancellation gives
// enough notice. The refund goes to the grant the booking was paid from.
func (s *bookingService) Cancel(ctx context.Context, userID string, bookingID string) (*model.CancelResult, error) {
	booking, err := s.loadOwnedBooking(ctx, userID, bookingID)
	if err != nil {
		return nil, err
	}

	if booking.IsCancelled {
		return nil, apperrors.Conflict(apperrors.ReasonAlreadyCancelled, "Booking is already cancelled")
	}

	class, err := s.loadClass(ctx, booking.ClassID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !class.StartTime.After(now) {
		return nil, apperrors.Conflict(apperrors.ReasonClassStarted, "Class has already started")
	}

	refunded := refundEligible(now, class.StartTime)

	err = s.bookings.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		if err := s.bookings.MarkCancelled(sessCtx, booking.ID, now, refunded); err != nil {
			if errors.Is(err, bookingserrors.ErrBookingChanged) {
				return apperrors.Conflict(apperrors.ReasonAlreadyCancelled, "Booking was already cancelled")
			}
			return apperrors.Internal("Failed to cancel booking", err)
		}

		if err := s.classes.IncrementSlots(sessCtx, booking.ClassID); err != nil {
			// A full ledger means a capacity shrink already absorbed this
			// slot; the cancellation itself still stands.
			if !errors.Is(err, scheduleserrors.ErrCapacityReached) {
				return apperrors.Internal("Failed to release slot", err)
			}
			s.cfg.Log.Warn("Slot not released: available already at capacity",
				"booking_id", booking.ID,
				"class_id", booking.ClassID,
			)
		}

		if refunded {
			if err := s.grants.RefundCredits(sessCtx, booking.GrantID, booking.CreditsUsed); err != nil {
				return apperrors.Internal("Failed to refund credits", err)
			}
		}
		return nil
	})
	if err != nil {
		s.cfg.Log.Warn("Cancellation failed",
			"booking_id", booking.ID,
			"user_id", userID,
			"error", err,
		)
		return nil, err
	}

	// Mirror update is post-commit and best effort.
	s.coordinator.Announce(ctx, booking.ClassID)

	s.cfg.Log.Info("Booking cancelled",
		"booking_id", booking.ID,
		"user_id", userID,
		"class_id", booking.ClassID,
		"refunded", refunded,
	)

	s.publisher.Publish(ctx, events.EventBookingCancelled, events.BookingEvent{
		BookingID:   booking.ID,
		UserID:      userID,
		ClassID:     booking.ClassID,
		ClassTitle:  class.Title,
		StartTime:   class.StartTime,
		CreditsUsed: booking.CreditsUsed,
		Refunded:    refunded,
		OccurredAt:  now,
	})

	result := &model.CancelResult{
		Success:  true,
		Refunded: refunded,
	}
	if refunded {
		result.RefundedCredits = booking.CreditsUsed
		result.Message = fmt.Sprintf("Booking cancelled, %d credit(s) refunded", booking.CreditsUsed)
	} else {
		result.Message = "Booking cancelled without refund: less than 4 hours before class start"
	}
	return result, nil
}

func (s *bookingService) CheckIn(ctx context.Context, userID string, bookingID string) (*model.CheckInResult, error) {
	booking, err := s.loadOwnedBooking(ctx, userID, bookingID)
	if err != nil {
		return nil, err
	}

	if booking.IsCancelled {
		return nil, apperrors.Conflict(apperrors.ReasonAlreadyCancelled, "Cancelled bookings cannot check in")
	}
	if booking.CheckedInAt != nil {
		return nil, apperrors.Conflict(apperrors.ReasonAlreadyCheckedIn, "Booking is already checked in")
	}

	class, err := s.loadClass(ctx, booking.ClassID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := evaluateCheckInWindow(now, class.StartTime, class.EndTime); err != nil {
		return nil, err
	}

	if err := s.bookings.MarkCheckedIn(ctx, booking.ID, now); err != nil {
		if errors.Is(err, bookingserrors.ErrBookingChanged) {
			return nil, apperrors.Conflict(apperrors.ReasonAlreadyCheckedIn, "Booking was already checked in or cancelled")
		}
		s.cfg.Log.Error("Failed to check in booking",
			"booking_id", booking.ID,
			"error", err,
		)
		return nil, apperrors.Internal("Failed to check in booking", err)
	}

	s.cfg.Log.Info("Booking checked in",
		"booking_id", booking.ID,
		"user_id", userID,
		"class_id", booking.ClassID,
	)

	s.publisher.Publish(ctx, events.EventBookingCheckedIn, events.BookingEvent{
		BookingID:   booking.ID,
		UserID:      userID,
		ClassID:     booking.ClassID,
		ClassTitle:  class.Title,
		StartTime:   class.StartTime,
		CreditsUsed: booking.CreditsUsed,
		OccurredAt:  now,
	})

	return &model.CheckInResult{
		Success:     true,
		CheckedInAt: now,
		Message:     fmt.Sprintf("Checked in to %s", class.Title),
	}, nil
}

func (s *bookingService) List(ctx context.Context, userID string, status string, limit int, offset int64) ([]*model.BookingSummary, int64, error) {
	if userID == "" {
		return nil, 0, apperrors.InvalidInput("User ID cannot be empty")
	}
	switch status {
	case "", model.BookingConfirmed, model.BookingCheckedIn, model.BookingCancelled:
	default:
		return nil, 0, apperrors.InvalidInput("Invalid status filter: " + status)
	}

	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	rows, err := s.bookings.ListByUser(ctx, userID, status, limit, offset)
	if err != nil {
		s.cfg.Log.Error("Failed to list bookings",
			"user_id", userID,
			"error", err,
		)
		return nil, 0, apperrors.Internal("Failed to retrieve bookings", err)
	}

	count, err := s.bookings.CountByUser(ctx, userID, status)
	if err != nil {
		s.cfg.Log.Error("Failed to count bookings",
			"user_id", userID,
			"error", err,
		)
		return nil, 0, apperrors.Internal("Failed to count bookings", err)
	}

	now := time.Now().UTC()
	summaries := make([]*model.BookingSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, &model.BookingSummary{
			ID:          row.ID,
			ClassID:     row.ClassID,
			ClassTitle:  row.Class.Title,
			StartTime:   row.Class.StartTime,
			EndTime:     row.Class.EndTime,
			CreditsUsed: row.CreditsUsed,
			BookedAt:    row.BookedAt,
			CheckedInAt: row.CheckedInAt,
			Status:      row.Status,
			IsCancelled: row.IsCancelled,
			IsRefunded:  row.IsRefunded,
			CanCancel:   !row.IsCancelled && now.Before(row.Class.StartTime),
			CanCheckIn:  !row.IsCancelled && row.CheckedInAt == nil && withinCheckInWindow(now, row.Class.StartTime, row.Class.EndTime),
		})
	}

	return summaries, count, nil
}

// checkBookingPreconditions runs the cheap rejections before any slot is
// reserved: class state, duplicate, overlap, then credit availability.
func (s *bookingService) checkBookingPreconditions(ctx context.Context, userID string, class *model.ClassSchedule, now time.Time) error {
	if !class.IsActive {
		return apperrors.Conflict(apperrors.ReasonClassInactive, "Class is not open for booking")
	}
	if !class.StartTime.After(now) {
		return apperrors.Conflict(apperrors.ReasonClassStarted, "Class has already started")
	}

	if _, err := s.bookings.FindActiveByUserAndClass(ctx, userID, class.ID); err == nil {
		return apperrors.Conflict(apperrors.ReasonAlreadyBooked, "You already have an active booking for this class")
	} else if !errors.Is(err, bookingserrors.ErrNotFound) {
		return apperrors.Internal("Failed to check for existing booking", err)
	}

	if overlap, err := s.bookings.FindOverlapping(ctx, userID, class.StartTime, class.EndTime); err == nil {
		return apperrors.Conflict(apperrors.ReasonOverlap, "Booking overlaps with "+overlap.Class.Title).
			WithDetails(map[string]any{
				"conflicting_booking_id": overlap.ID,
				"conflicting_class_id":   overlap.ClassID,
			})
	} else if !errors.Is(err, bookingserrors.ErrNotFound) {
		return apperrors.Internal("Failed to check for overlapping bookings", err)
	}

	if _, err := s.grants.FindEligibleGrant(ctx, userID, class.RequiredCredits, now); err != nil {
		if errors.Is(err, packageserrors.ErrNoEligibleGrant) {
			return apperrors.InsufficientCredits("Not enough credits in any valid package")
		}
		return apperrors.Internal("Failed to check credit balance", err)
	}

	return nil
}

// applySlotDecrement keeps the ledger's available_slots consistent with the
// reservation mode. After a fast-path reservation the mirror already counted
// this booking, so the ledger is rewritten from the mirror; otherwise the
// guarded decrement inside the transaction arbitrates the last slot.
func (s *bookingService) applySlotDecrement(sessCtx mongo.SessionContext, class *model.ClassSchedule, fastPath bool) error {
	if fastPath {
		if mirror, ok := s.coordinator.Resync(sessCtx, class.ID); ok {
			if mirror < 0 {
				mirror = 0
			}
			if mirror > class.Capacity {
				mirror = class.Capacity
			}
			if err := s.classes.SyncSlots(sessCtx, class.ID, mirror); err != nil {
				return apperrors.Internal("Failed to sync available slots", err)
			}
			return nil
		}
		// Mirror unreadable: fall back to the guarded decrement, which keeps
		// both counters moving down by one.
		if err := s.classes.DecrementSlots(sessCtx, class.ID); err != nil {
			if errors.Is(err, scheduleserrors.ErrNoSlots) {
				return apperrors.Conflict(apperrors.ReasonSlotContention, "Slot could not be confirmed, please retry")
			}
			return apperrors.Internal("Failed to decrement available slots", err)
		}
		return nil
	}

	if err := s.classes.DecrementSlots(sessCtx, class.ID); err != nil {
		if errors.Is(err, scheduleserrors.ErrNoSlots) {
			return apperrors.Conflict(apperrors.ReasonClassFull, "Class is fully booked")
		}
		return apperrors.Internal("Failed to decrement available slots", err)
	}
	return nil
}

func (s *bookingService) loadClass(ctx context.Context, classID string) (*model.ClassSchedule, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, scheduleserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Class schedule", classID)
		}
		if errors.Is(err, scheduleserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid class ID format")
		}
		s.cfg.Log.Error("Failed to load class schedule",
			"class_id", classID,
			"error", err,
		)
		return nil, apperrors.Internal("Failed to load class schedule", err)
	}
	return class, nil
}

// loadOwnedBooking fetches a booking and hides other users' bookings behind
// a not-found.
func (s *bookingService) loadOwnedBooking(ctx context.Context, userID string, bookingID string) (*model.Booking, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("User ID cannot be empty")
	}
	if bookingID == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}

	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, bookingserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Booking", bookingID)
		}
		if errors.Is(err, bookingserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid booking ID format")
		}
		s.cfg.Log.Error("Failed to load booking",
			"booking_id", bookingID,
			"error", err,
		)
		return nil, apperrors.Internal("Failed to load booking", err)
	}

	if booking.UserID != userID {
		return nil, apperrors.NotFoundWithID("Booking", bookingID)
	}
	return booking, nil
}
