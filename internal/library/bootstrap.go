package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/bibliodigit/internal/config"
	"github.com/jacentio/bibliodigit/store"
)

// Bootstrap makes sure the seeded user types exist and creates the
// configured administrator unless an account with that email exists.
// It is safe to run on every start.
func (l *Library) Bootstrap(ctx context.Context, seed config.BootstrapConfig) error {
	for _, s := range seed.UserTypes {
		exists, err := l.UserTypeExists(ctx, s.Type)
		if err != nil {
			return fmt.Errorf("bootstrap user type %s: %w", s.Type, err)
		}
		if exists {
			continue
		}
		err = l.CreateUserType(ctx, &UserType{Type: s.Type, Description: s.Description})
		// Another instance may have created it meanwhile.
		if err != nil && !errors.Is(err, store.ErrDuplicateValue) {
			return fmt.Errorf("bootstrap user type %s: %w", s.Type, err)
		}
	}

	admin := seed.Admin
	if admin.Email == "" {
		return nil
	}
	_, err := l.UserByEmail(ctx, admin.Email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	adminType, err := l.UserTypeByName(ctx, "ADMIN")
	if errors.Is(err, store.ErrNotFound) {
		adminType = &UserType{Type: "ADMIN", Description: "Library administrator"}
		err = l.CreateUserType(ctx, adminType)
	}
	if err != nil {
		return fmt.Errorf("bootstrap admin type: %w", err)
	}

	name := admin.Name
	if name == "" {
		name = "Administrator"
	}
	u, err := l.CreateUser(ctx, NewUser{
		Name:     name,
		Email:    admin.Email,
		Password: admin.Password,
		TypeID:   adminType.ID,
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateValue) {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if u != nil {
		l.logger.Info("administrator created", "id", u.ID, "email", u.Email)
	}
	return nil
}
