package validator

import (
	"testing"
	"time"

	"classbook/pkg/logger"
	"classbook/pkg/model"
)

func newValidator() *ClassValidator {
	return NewClassValidator(logger.New(logger.Config{
		Level:   logger.ERROR,
		Format:  logger.TEXT,
		Service: "test",
	}))
}

func validClass() *model.ClassSchedule {
	start := time.Now().UTC().Add(48 * time.Hour)
	return &model.ClassSchedule{
		Title:           "Spin Class",
		StartTime:       start,
		EndTime:         start.Add(45 * time.Minute),
		Capacity:        20,
		RequiredCredits: 1,
	}
}

func TestValidate_AcceptsValidClass(t *testing.T) {
	if err := newValidator().Validate(validClass(), true); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.ClassSchedule)
	}{
		{"missing title", func(c *model.ClassSchedule) { c.Title = "" }},
		{"short title", func(c *model.ClassSchedule) { c.Title = "A" }},
		{"zero capacity", func(c *model.ClassSchedule) { c.Capacity = 0 }},
		{"oversized capacity", func(c *model.ClassSchedule) { c.Capacity = 1000 }},
		{"zero credits", func(c *model.ClassSchedule) { c.RequiredCredits = 0 }},
		{"end before start", func(c *model.ClassSchedule) { c.EndTime = c.StartTime.Add(-time.Minute) }},
	}

	v := newValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class := validClass()
			tt.mutate(class)
			if err := v.Validate(class, true); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_PastStartOnlyRejectedForNewClasses(t *testing.T) {
	v := newValidator()

	class := validClass()
	class.StartTime = time.Now().UTC().Add(-2 * time.Hour)
	class.EndTime = class.StartTime.Add(time.Hour)

	if err := v.Validate(class, true); err == nil {
		t.Error("expected error for new class starting in the past")
	}
	if err := v.Validate(class, false); err != nil {
		t.Errorf("existing class with past start must revalidate, got %v", err)
	}
}
