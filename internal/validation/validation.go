// Package validation checks candidate values against the rules declared in
// their struct tags. It has no side effects and is safe for concurrent use.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// Violation describes one failed rule.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is returned when a candidate breaks one or more rules.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// New returns an Error with a single violation.
func New(field, message string) *Error {
	return &Error{Violations: []Violation{{Field: field, Message: message}}}
}

// Checker is implemented by values with rules that span several fields.
// Check runs only after every tag rule passed.
type Checker interface {
	Check() error
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	// Report JSON names so violations match request payloads.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
}

// Struct validates candidate, which must be a struct or a pointer to one.
// It returns nil or an *Error.
func Struct(candidate any) error {
	err := validate.Struct(candidate)
	if err == nil {
		if c, ok := candidate.(Checker); ok {
			return c.Check()
		}
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &Error{Violations: make([]Violation, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Violations = append(out.Violations, Violation{
			Field:   fe.Field(),
			Message: message(fe),
		})
	}
	return out
}

// IsValidation reports whether err carries violations.
func IsValidation(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

func message(fe validator.FieldError) string {
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max", "lte":
		if isString {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "min", "gte":
		if isString {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return "must be at least " + fe.Param()
	}
	return "failed rule " + fe.Tag()
}
