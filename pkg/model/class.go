package model

import "time"

// ClassSchedule is one bookable session. AvailableSlots is the authoritative
// slot count; the fast-path counter only mirrors it.
type ClassSchedule struct {
	ID              string    `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	Title           string    `json:"title" bson:"title" validate:"required,min=2,max=100"`
	Description     string    `json:"description,omitempty" bson:"description,omitempty" validate:"omitempty,max=1000"`
	StartTime       time.Time `json:"start_time" bson:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" bson:"end_time" validate:"required,gtfield=StartTime"`
	Capacity        int       `json:"capacity" bson:"capacity" validate:"required,min=1,max=500"`
	AvailableSlots  int       `json:"available_slots" bson:"available_slots"`
	RequiredCredits int       `json:"required_credits" bson:"required_credits" validate:"required,min=1"`
	IsActive        bool      `json:"is_active" bson:"is_active"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" bson:"updated_at"`
}

type ClassScheduleUpdate struct {
	Title           string     `json:"title,omitempty" validate:"omitempty,min=2,max=100"`
	Description     *string    `json:"description,omitempty" validate:"omitempty,max=1000"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	RequiredCredits *int       `json:"required_credits,omitempty" validate:"omitempty,min=1"`
	IsActive        *bool      `json:"is_active,omitempty"`
}
