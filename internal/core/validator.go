package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"eventbell/internal/schedule"
	"eventbell/internal/types"
)

// ValidationError describes one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects the failures of a struct.
type ValidationResult struct {
	Errors []ValidationError `json:"errors,omitempty"`
}

// IsValid reports whether no field failed.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator with the domain tags:
//
//	is_timezone  IANA zone name loadable by time.LoadLocation
//	time_of_day  "H:mm" or "HH:mm"
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the custom tags registered. Field
// names in errors use the json tag.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("is_timezone", validateTimezone)
	_ = v.RegisterValidation("time_of_day", validateTimeOfDay)

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s. Failures become one AppError whose code is that
// of the first failing field and whose details list every failure under
// "validation_errors".
func (v *Validator) ValidateStruct(s any) error {
	result := v.validateAll(s)
	if result.IsValid() {
		return nil
	}
	first := result.Errors[0]
	return types.NewAppErrorWithDetails(
		types.ErrorCode(first.Code),
		first.Message,
		nil,
		map[string]any{"validation_errors": result.Errors},
	)
}

func (v *Validator) validateAll(s any) ValidationResult {
	err := v.validate.Struct(s)
	if err == nil {
		return ValidationResult{}
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.logger.Error("validator misuse", "error", err)
		return ValidationResult{Errors: []ValidationError{{
			Code:    string(types.ErrCodeValidationInvalidField),
			Message: "request could not be validated",
		}}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    tagToErrorCode(fe.Tag()),
			Message: fieldMessage(fe),
		})
	}
	return ValidationResult{Errors: out}
}

func tagToErrorCode(tag string) string {
	switch tag {
	case "required", "required_if", "required_with":
		return string(types.ErrCodeValidationMissingField)
	case "is_timezone", "timezone":
		return string(types.ErrCodeValidationTimezone)
	case "time_of_day":
		return string(types.ErrCodeValidationTimeOfDay)
	default:
		return string(types.ErrCodeValidationInvalidField)
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "is_timezone":
		return fmt.Sprintf("%s must be an IANA time zone", fe.Field())
	case "time_of_day":
		return fmt.Sprintf("%s must be a time of day like 08:00", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func validateTimezone(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	// LoadLocation accepts "Local", which depends on the host.
	if s == "Local" {
		return false
	}
	_, err := time.LoadLocation(s)
	return err == nil
}

func validateTimeOfDay(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, _, err := schedule.ParseTimeOfDay(s)
	return err == nil
}
