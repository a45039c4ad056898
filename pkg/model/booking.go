package model

import "time"

const (
	BookingConfirmed = "Confirmed"
	BookingCheckedIn = "CheckedIn"
	BookingCancelled = "Cancelled"
)

// Booking records one reservation. CreditsUsed is copied from the class at
// booking time and never changes afterwards, even if the class cost is edited.
// Bookings are never deleted; cancellation is terminal.
type Booking struct {
	ID          string     `json:"id,omitempty" bson:"_id,omitempty"`
	UserID      string     `json:"user_id" bson:"user_id"`
	ClassID     string     `json:"class_id" bson:"class_id"`
	GrantID     string     `json:"grant_id" bson:"grant_id"`
	CreditsUsed int        `json:"credits_used" bson:"credits_used"`
	BookedAt    time.Time  `json:"booked_at" bson:"booked_at"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty" bson:"checked_in_at,omitempty"`
	IsCancelled bool       `json:"is_cancelled" bson:"is_cancelled"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	IsRefunded  bool       `json:"is_refunded" bson:"is_refunded"`
	Status      string     `json:"status" bson:"status"`
}

// BookingReceipt is the success payload of a booking attempt.
type BookingReceipt struct {
	BookingID        string    `json:"booking_id"`
	ClassTitle       string    `json:"class_title"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	CreditsUsed      int       `json:"credits_used"`
	RemainingCredits int       `json:"remaining_credits"`
	Status           string    `json:"status"`
	Message          string    `json:"message"`
}

type CancelResult struct {
	Success         bool   `json:"success"`
	Refunded        bool   `json:"refunded"`
	RefundedCredits int    `json:"refunded_credits"`
	Message         string `json:"message"`
}

type CheckInResult struct {
	Success     bool      `json:"success"`
	CheckedInAt time.Time `json:"checked_in_at"`
	Message     string    `json:"message"`
}

// BookingSummary is the list-endpoint view: a point-in-time snapshot, so the
// can_* hints are computed at read time and not stored.
type BookingSummary struct {
	ID          string     `json:"id"`
	ClassID     string     `json:"class_id"`
	ClassTitle  string     `json:"class_title"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	CreditsUsed int        `json:"credits_used"`
	BookedAt    time.Time  `json:"booked_at"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	Status      string     `json:"status"`
	IsCancelled bool       `json:"is_cancelled"`
	IsRefunded  bool       `json:"is_refunded"`
	CanCancel   bool       `json:"can_cancel"`
	CanCheckIn  bool       `json:"can_check_in"`
}
