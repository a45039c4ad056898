package validator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"classbook/pkg/logger"
	"classbook/pkg/model"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

type ClassValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewClassValidator(log *logger.Logger) *ClassValidator {
	return &ClassValidator{
		validate: validator.New(),
		logger:   log,
	}
}

// Validate checks the struct tags plus the scheduling rules the tags cannot
// express. New classes must start in the future; forFuture is false when
// revalidating an existing class whose start may already have passed.
func (v *ClassValidator) Validate(class *model.ClassSchedule, forFuture bool) error {
	if err := v.validate.Struct(class); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.translateValidationErrors(validationErrs)
		}
		return err
	}

	var schedulingErrs ValidationErrors

	if forFuture && !class.StartTime.After(time.Now().UTC()) {
		schedulingErrs = append(schedulingErrs, ValidationError{
			Field:   "StartTime",
			Message: "start_time must be in the future",
		})
	}

	if !class.EndTime.After(class.StartTime) {
		schedulingErrs = append(schedulingErrs, ValidationError{
			Field:   "EndTime",
			Message: "end_time must be after start_time",
		})
	}

	if len(schedulingErrs) > 0 {
		return schedulingErrs
	}
	return nil
}

func (v *ClassValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "gtfield":
			message = fmt.Sprintf("%s must be after %s", err.Field(), err.Param())
		case "mongodb":
			message = fmt.Sprintf("%s must be a valid object ID", err.Field())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
