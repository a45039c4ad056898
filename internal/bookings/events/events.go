// Package events publishes booking lifecycle facts for downstream consumers.
// Publishing is always post-commit and best effort: a broker outage never
// fails a booking.
package events

import (
	"context"
	"time"

	"classbook/pkg/kafka"
	"classbook/pkg/logger"
)

const (
	Topic = "booking-events"

	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingCheckedIn = "booking.checked_in"

	source = "classbook-api"
)

type BookingEvent struct {
	BookingID   string    `json:"booking_id"`
	UserID      string    `json:"user_id"`
	ClassID     string    `json:"class_id"`
	ClassTitle  string    `json:"class_title"`
	StartTime   time.Time `json:"start_time"`
	CreditsUsed int       `json:"credits_used"`
	Refunded    bool      `json:"refunded,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, eventType string, event BookingEvent)
}

type kafkaPublisher struct {
	producer *kafka.Producer
	log      *logger.Logger
}

func NewKafkaPublisher(producer *kafka.Producer, log *logger.Logger) Publisher {
	return &kafkaPublisher{
		producer: producer,
		log:      log,
	}
}

func (p *kafkaPublisher) Publish(ctx context.Context, eventType string, event BookingEvent) {
	// Keyed by class so all events for one class stay ordered.
	msg, err := kafka.NewMessage().
		WithKey(event.ClassID).
		WithValue(event).
		WithEventType(eventType).
		WithSource(source).
		Build()
	if err != nil {
		p.log.Warn("Failed to build booking event",
			"event_type", eventType,
			"booking_id", event.BookingID,
			"error", err,
		)
		return
	}

	if err := p.producer.Publish(ctx, msg); err != nil {
		p.log.Warn("Failed to publish booking event",
			"event_type", eventType,
			"booking_id", event.BookingID,
			"error", err,
		)
		return
	}

	p.log.Debug("Booking event published",
		"event_type", eventType,
		"booking_id", event.BookingID,
		"class_id", event.ClassID,
	)
}

// NopPublisher drops every event. Used when the broker is not configured and
// in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, BookingEvent) {}
