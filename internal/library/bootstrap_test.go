package library_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/bibliodigit/internal/config"
)

func TestBootstrap_Admin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := config.Default().Bootstrap
	seed.Admin = config.AdminSeed{Email: "Admin@Example.com", Password: "changeme"}

	require.NoError(t, f.lib.Bootstrap(ctx, seed))
	require.NoError(t, f.lib.Bootstrap(ctx, seed), "bootstrap runs on every start")

	types, err := f.lib.UserTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 4)

	s, err := f.lib.Login(ctx, "admin@example.com", "changeme")
	require.NoError(t, err)
	assert.Equal(t, "Administrator", s.User.Name)

	p, err := f.lib.Authenticate(ctx, s.Token)
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())

	users, err := f.lib.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestBootstrap_CreatesMissingAdminType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.lib.DeleteUserType(ctx, f.types["ADMIN"].ID))
	err := f.lib.Bootstrap(ctx, config.BootstrapConfig{
		Admin: config.AdminSeed{Name: "Root", Email: "root@example.com", Password: "changeme"},
	})
	require.NoError(t, err)

	u, err := f.lib.UserByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	ut, err := f.lib.UserType(ctx, u.TypeID)
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", ut.Type)
	assert.Equal(t, "Root", u.Name)

	_, err = f.lib.UserTypeByName(ctx, "admin")
	require.NoError(t, err)
}
