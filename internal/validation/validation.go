package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

	// validate holds the shared struct validator for request DTOs.
	validate = validator.New()
)

func init() {
	// notblank: non-empty after trimming.
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateStruct runs the tag-based validator over a request DTO and folds
// the first failure into a ValidationError.
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return &ValidationError{Field: "request", Message: "is invalid"}
	}

	e := errs[0]
	field := strings.ToLower(e.Field())
	switch e.Tag() {
	case "required":
		return &ValidationError{Field: field, Message: "is required"}
	case "email":
		return &ValidationError{Field: field, Message: "must be a valid email address"}
	case "uuid4":
		return &ValidationError{Field: field, Message: "must be a valid UUID v4"}
	case "min":
		return &ValidationError{Field: field, Message: "is too short"}
	case "max":
		return &ValidationError{Field: field, Message: "is too long"}
	case "notblank":
		return &ValidationError{Field: field, Message: "must not be blank"}
	default:
		return &ValidationError{Field: field, Message: "is invalid"}
	}
}

// SanitizeString strips control characters and trims whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ValidateUUID checks that id is a well-formed UUID v4.
func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID v4",
		}
	}

	return nil
}
