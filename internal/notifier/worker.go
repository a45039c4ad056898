// Package notifier turns booking lifecycle events into user notifications.
// It consumes the booking events topic and hands each event to a Sender.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"classbook/internal/bookings/events"
	"classbook/pkg/kafka"
	"classbook/pkg/logger"
)

// Sender delivers one rendered notification.
type Sender interface {
	Send(ctx context.Context, userID string, subject string, body string) error
}

// LogSender is a mock delivery channel: notifications are written to the
// log instead of being sent through a mail provider.
type LogSender struct {
	Log *logger.Logger
}

func (s *LogSender) Send(_ context.Context, userID string, subject string, body string) error {
	s.Log.Info("Notification sent",
		"user_id", userID,
		"subject", subject,
		"body", body,
	)
	return nil
}

type Worker struct {
	sender Sender
	log    *logger.Logger
}

func NewWorker(sender Sender, log *logger.Logger) *Worker {
	return &Worker{
		sender: sender,
		log:    log,
	}
}

// Handle is the consumer callback. Unknown event types are skipped, not
// failed, so adding event types never poisons older consumers.
func (w *Worker) Handle(ctx context.Context, msg kafka.Message) error {
	eventType := msg.Headers[kafka.HeaderEventType]

	var event events.BookingEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to decode booking event: %w", err)
	}

	subject, body, ok := render(eventType, event)
	if !ok {
		w.log.Debug("Skipping unhandled event type",
			"event_type", eventType,
			"event_id", msg.Headers[kafka.HeaderEventID],
		)
		return nil
	}

	if err := w.sender.Send(ctx, event.UserID, subject, body); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	w.log.Debug("Notification delivered",
		"event_type", eventType,
		"booking_id", event.BookingID,
		"user_id", event.UserID,
	)
	return nil
}

func render(eventType string, event events.BookingEvent) (subject string, body string, ok bool) {
	start := event.StartTime.Format("Mon Jan 2 15:04")

	switch eventType {
	case events.EventBookingConfirmed:
		return fmt.Sprintf("Booking confirmed: %s", event.ClassTitle),
			fmt.Sprintf("Your spot in %s on %s is confirmed. %d credit(s) were used.",
				event.ClassTitle, start, event.CreditsUsed),
			true

	case events.EventBookingCancelled:
		if event.Refunded {
			return fmt.Sprintf("Booking cancelled: %s", event.ClassTitle),
				fmt.Sprintf("Your booking for %s on %s was cancelled and %d credit(s) were refunded.",
					event.ClassTitle, start, event.CreditsUsed),
				true
		}
		return fmt.Sprintf("Booking cancelled: %s", event.ClassTitle),
			fmt.Sprintf("Your booking for %s on %s was cancelled. No refund was issued.",
				event.ClassTitle, start),
			true

	case events.EventBookingCheckedIn:
		return fmt.Sprintf("Checked in: %s", event.ClassTitle),
			fmt.Sprintf("You are checked in to %s. Enjoy the class!", event.ClassTitle),
			true
	}

	return "", "", false
}
