package library

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/jacentio/bibliodigit/internal/validation"
	"github.com/jacentio/bibliodigit/store"
)

// --- User types ---

func (l *Library) CreateUserType(ctx context.Context, t *UserType) error {
	t.Type = NormalizeType(t.Type)
	if err := l.userTypes.Create(ctx, t); err != nil {
		return err
	}
	l.logger.Info("user type created", "id", t.ID, "type", t.Type)
	return nil
}

func (l *Library) UserType(ctx context.Context, id string) (*UserType, error) {
	return l.userTypes.Get(ctx, id)
}

// UserTypeByName looks a type up by name, ignoring case.
func (l *Library) UserTypeByName(ctx context.Context, name string) (*UserType, error) {
	return l.userTypes.First(ctx, store.Query{
		Filters: []store.Filter{store.Eq("type", NormalizeType(name))},
	})
}

func (l *Library) UserTypeExists(ctx context.Context, name string) (bool, error) {
	return l.userTypes.Exists(ctx, store.Query{
		Filters: []store.Filter{store.Eq("type", NormalizeType(name))},
	})
}

func (l *Library) UpdateUserType(ctx context.Context, t *UserType, version int64) error {
	t.Type = NormalizeType(t.Type)
	return updateAt(ctx, l.userTypes, t, version)
}

// DeleteUserType fails with store.ErrHasChildren while users have the type.
func (l *Library) DeleteUserType(ctx context.Context, id string) error {
	return l.userTypes.Delete(ctx, id)
}

func (l *Library) UserTypes(ctx context.Context) ([]*UserType, error) {
	return l.userTypes.Find(ctx, store.Query{OrderBy: "type"})
}

// --- Users ---

// NewUser is the input for creating an account.
type NewUser struct {
	Name     string `json:"name" validate:"notblank,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"min=6,max=72"`
	TypeID   string `json:"typeId" validate:"required"`
}

// UserUpdate changes an account. Nil fields are left as they are.
type UserUpdate struct {
	Name     string
	Email    string
	TypeID   string
	Password *string
	Active   *bool

	// Version is the version the caller read. Zero skips the check.
	Version int64
}

// CreateUser creates an active account. The type must exist.
func (l *Library) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	in.Email = NormalizeEmail(in.Email)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	hash, err := l.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Name:         strings.TrimSpace(in.Name),
		Email:        in.Email,
		PasswordHash: hash,
		TypeID:       in.TypeID,
		Active:       true,
	}
	if err := l.users.Create(ctx, u); err != nil {
		return nil, err
	}
	l.logger.Info("user created", "id", u.ID, "typeId", u.TypeID)
	return u, nil
}

func (l *Library) User(ctx context.Context, id string) (*User, error) {
	return l.users.Get(ctx, id)
}

// UserByEmail looks an account up by email, ignoring case.
func (l *Library) UserByEmail(ctx context.Context, email string) (*User, error) {
	return l.users.First(ctx, store.Query{
		Filters: []store.Filter{store.Eq("email", NormalizeEmail(email))},
	})
}

// UpdateUser applies upd to the account. Deactivating revokes its token.
func (l *Library) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	u, err := l.users.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Name = strings.TrimSpace(upd.Name)
	u.Email = NormalizeEmail(upd.Email)
	u.TypeID = upd.TypeID
	if upd.Password != nil {
		if len(*upd.Password) < 6 {
			return nil, validation.New("password", "must be at least 6 characters")
		}
		if u.PasswordHash, err = l.hashPassword(*upd.Password); err != nil {
			return nil, err
		}
	}
	if upd.Active != nil {
		u.Active = *upd.Active
		if !u.Active {
			revoke(u)
		}
	}
	if upd.Version != 0 {
		u.Version = upd.Version
	}
	if err := l.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteUser fails with store.ErrHasChildren while the user has books out.
func (l *Library) DeleteUser(ctx context.Context, id string) error {
	return l.users.Delete(ctx, id)
}

func (l *Library) Users(ctx context.Context) ([]*User, error) {
	return l.users.Find(ctx, store.Query{OrderBy: "name"})
}

func (l *Library) UsersByType(ctx context.Context, typeID string) ([]*User, error) {
	return l.users.Find(ctx, store.Query{
		Parent:  store.NewRef(KindUserType, typeID),
		OrderBy: "name",
	})
}

func (l *Library) UsersByActive(ctx context.Context, active bool) ([]*User, error) {
	return l.users.Find(ctx, store.Query{
		Filters: []store.Filter{store.Eq("active", active)},
		OrderBy: "name",
	})
}

// ToggleUserActive flips the account's active flag. Deactivation revokes
// the account's token.
func (l *Library) ToggleUserActive(ctx context.Context, id string) (*User, error) {
	u, err := modify(ctx, l.users, id, func(u *User) error {
		u.Active = !u.Active
		if !u.Active {
			revoke(u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("user status changed", "id", id, "active", u.Active)
	return u, nil
}

func (l *Library) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.auth.BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func revoke(u *User) {
	u.TokenHash = ""
	u.TokenIssuedAt = nil
}
