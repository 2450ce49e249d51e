package library_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/bibliodigit/internal/library"
	"github.com/jacentio/bibliodigit/internal/validation"
	"github.com/jacentio/bibliodigit/store"
)

func TestUserTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ut := &library.UserType{Type: " visitor ", Description: "Day visitor"}
	require.NoError(t, f.lib.CreateUserType(ctx, ut))
	assert.Equal(t, "VISITOR", ut.Type)

	got, err := f.lib.UserTypeByName(ctx, "Visitor")
	require.NoError(t, err)
	assert.Equal(t, ut.ID, got.ID)

	ok, err := f.lib.UserTypeExists(ctx, "visitor")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.lib.UserTypeExists(ctx, "alumni")
	require.NoError(t, err)
	assert.False(t, ok)

	err = f.lib.CreateUserType(ctx, &library.UserType{Type: "Visitor"})
	assert.ErrorIs(t, err, store.ErrDuplicateValue)

	err = f.lib.CreateUserType(ctx, &library.UserType{Type: "X"})
	assert.True(t, validation.IsValidation(err))

	all, err := f.lib.UserTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	ut.Description = "Visitor for a day"
	require.NoError(t, f.lib.UpdateUserType(ctx, ut, ut.Version))
	require.NoError(t, f.lib.DeleteUserType(ctx, ut.ID))
	_, err = f.lib.UserType(ctx, ut.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteUserType_WithUsers(t *testing.T) {
	f := newFixture(t)
	f.user(t, "student@example.com", "STUDENT")

	err := f.lib.DeleteUserType(context.Background(), f.types["STUDENT"].ID)
	assert.ErrorIs(t, err, store.ErrHasChildren)
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.lib.CreateUser(ctx, library.NewUser{
		Name:     "Ana",
		Email:    " Ana@Example.COM ",
		Password: "secret1",
		TypeID:   f.types["STUDENT"].ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.True(t, u.Active)
	assert.NotEqual(t, "secret1", u.PasswordHash)
	assert.Zero(t, u.ActiveLoans)

	_, err = f.lib.CreateUser(ctx, library.NewUser{Name: "Ana 2", Email: "ANA@example.com", Password: "secret1", TypeID: f.types["STUDENT"].ID})
	assert.ErrorIs(t, err, store.ErrDuplicateValue)

	_, err = f.lib.CreateUser(ctx, library.NewUser{Name: "Bo", Email: "bo@example.com", Password: "secret1", TypeID: "missing"})
	assert.ErrorIs(t, err, store.ErrParentNotFound)

	_, err = f.lib.CreateUser(ctx, library.NewUser{Name: "", Email: "not-an-email", Password: "123"})
	var ve *validation.Error
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Violations, 4)
}

func TestUpdateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "reader@example.com", "STUDENT")

	password := "another1"
	updated, err := f.lib.UpdateUser(ctx, u.ID, library.UserUpdate{
		Name:     "Reader",
		Email:    "Reader@Example.com",
		TypeID:   f.types["TEACHER"].ID,
		Password: &password,
		Version:  u.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, "Reader", updated.Name)
	assert.Equal(t, f.types["TEACHER"].ID, updated.TypeID)

	_, err = f.lib.Login(ctx, "reader@example.com", "secret1")
	assert.ErrorIs(t, err, library.ErrInvalidCredentials)
	_, err = f.lib.Login(ctx, "reader@example.com", "another1")
	require.NoError(t, err)

	_, err = f.lib.UpdateUser(ctx, u.ID, library.UserUpdate{Name: "Reader", Email: "reader@example.com", TypeID: f.types["TEACHER"].ID, Version: u.Version})
	assert.ErrorIs(t, err, store.ErrConcurrentModification)

	short := "123"
	_, err = f.lib.UpdateUser(ctx, u.ID, library.UserUpdate{Name: "Reader", Email: "reader@example.com", TypeID: f.types["TEACHER"].ID, Password: &short})
	assert.True(t, validation.IsValidation(err))

	teachers, err := f.lib.UsersByType(ctx, f.types["TEACHER"].ID)
	require.NoError(t, err)
	require.Len(t, teachers, 1)
	students, err := f.lib.UsersByType(ctx, f.types["STUDENT"].ID)
	require.NoError(t, err)
	assert.Empty(t, students)
}

func TestUpdateUser_DeactivateRevokesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "reader@example.com", "STUDENT")
	s, err := f.lib.Login(ctx, u.Email, "secret1")
	require.NoError(t, err)

	inactive := false
	_, err = f.lib.UpdateUser(ctx, u.ID, library.UserUpdate{Name: u.Name, Email: u.Email, TypeID: u.TypeID, Active: &inactive})
	require.NoError(t, err)

	_, err = f.lib.Authenticate(ctx, s.Token)
	assert.ErrorIs(t, err, library.ErrInvalidToken)
}

func TestToggleUserActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "reader@example.com", "STUDENT")
	f.user(t, "other@example.com", "STUDENT")

	s, err := f.lib.Login(ctx, u.Email, "secret1")
	require.NoError(t, err)

	toggled, err := f.lib.ToggleUserActive(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Active)
	assert.Empty(t, toggled.TokenHash)

	_, err = f.lib.Authenticate(ctx, s.Token)
	assert.ErrorIs(t, err, library.ErrInvalidToken)

	inactive, err := f.lib.UsersByActive(ctx, false)
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, u.ID, inactive[0].ID)

	toggled, err = f.lib.ToggleUserActive(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Active)

	active, err := f.lib.UsersByActive(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = f.lib.ToggleUserActive(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "reader@example.com", "STUDENT")

	require.NoError(t, f.lib.DeleteUser(ctx, u.ID))
	_, err := f.lib.User(ctx, u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The email is free again.
	f.user(t, "reader@example.com", "STUDENT")
}
