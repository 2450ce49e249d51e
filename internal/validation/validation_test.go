package validation_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/bibliodigit/internal/validation"
)

type book struct {
	Title    string `json:"title" validate:"notblank,max=255"`
	Year     int    `json:"year" validate:"gte=1000,lte=9999"`
	AuthorID string `json:"authorId" validate:"required"`
	Internal string `json:"-"`
}

type account struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"min=6"`
	Role     string `json:"role" validate:"omitempty,oneof=ADMIN STUDENT"`
}

type yearRange struct {
	Start int `json:"start" validate:"gte=1000"`
	End   int `json:"end" validate:"gte=1000"`
}

func (r yearRange) Check() error {
	if r.Start > r.End {
		return validation.New("start", "must not be after end")
	}
	return nil
}

func TestStruct_Valid(t *testing.T) {
	require.NoError(t, validation.Struct(&book{Title: "Dune", Year: 1965, AuthorID: "a1"}))
	require.NoError(t, validation.Struct(account{Email: "a@example.com", Password: "secret"}))
}

func TestStruct_Violations(t *testing.T) {
	err := validation.Struct(&book{Title: "   ", Year: 99})

	var ve *validation.Error
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []validation.Violation{
		{Field: "title", Message: "must not be blank"},
		{Field: "year", Message: "must be at least 1000"},
		{Field: "authorId", Message: "is required"},
	}, ve.Violations)
	assert.True(t, validation.IsValidation(err))
	assert.Contains(t, err.Error(), "title: must not be blank")
}

func TestStruct_Messages(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		field   string
		message string
	}{
		{"max string", book{Title: strings.Repeat("x", 256), Year: 2000, AuthorID: "a"}, "title", "must be at most 255 characters"},
		{"max number", book{Title: "t", Year: 10000, AuthorID: "a"}, "year", "must be at most 9999"},
		{"email", account{Email: "nope", Password: "secret"}, "email", "must be a valid email address"},
		{"min string", account{Email: "a@example.com", Password: "123"}, "password", "must be at least 6 characters"},
		{"oneof", account{Email: "a@example.com", Password: "secret", Role: "ROOT"}, "role", "must be one of: ADMIN STUDENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ve *validation.Error
			require.ErrorAs(t, validation.Struct(tt.in), &ve)
			require.Len(t, ve.Violations, 1)
			assert.Equal(t, tt.field, ve.Violations[0].Field)
			assert.Equal(t, tt.message, ve.Violations[0].Message)
		})
	}
}

func TestStruct_Checker(t *testing.T) {
	require.NoError(t, validation.Struct(yearRange{Start: 1960, End: 1970}))

	err := validation.Struct(yearRange{Start: 1980, End: 1970})
	var ve *validation.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "start", ve.Violations[0].Field)

	// Tag rules win over the cross-field check.
	err = validation.Struct(yearRange{Start: 5, End: 1})
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Violations, 2)
}

func TestStruct_NotAStruct(t *testing.T) {
	err := validation.Struct("plain")
	require.Error(t, err)
	assert.False(t, validation.IsValidation(err))
}

func TestIsValidation_Wrapped(t *testing.T) {
	err := fmt.Errorf("create book: %w", validation.New("title", "must not be blank"))
	assert.True(t, validation.IsValidation(err))
	assert.False(t, validation.IsValidation(errors.New("other")))
}
