package library

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jacentio/bibliodigit/store"
)

// Session is the result of a successful register or login.
type Session struct {
	User      *User
	Type      *UserType
	Token     string
	ExpiresAt time.Time
}

// Principal is the authenticated caller of a request.
type Principal struct {
	User *User
	Type *UserType
}

// IsAdmin reports whether the caller has the ADMIN role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Type != nil && p.Type.Type == "ADMIN"
}

// Register creates an account and logs it in. Administrators are only
// created by other administrators.
func (l *Library) Register(ctx context.Context, in NewUser) (*Session, error) {
	t, err := l.userTypes.Get(ctx, in.TypeID)
	switch {
	case err == nil && t.Type == "ADMIN":
		return nil, ErrAdminRegistration
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	u, err := l.CreateUser(ctx, in)
	if err != nil {
		return nil, err
	}
	return l.startSession(ctx, u)
}

// Login checks the credentials and issues a new token, replacing any
// previous one.
func (l *Library) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := l.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrInactiveUser
	}
	s, err := l.startSession(ctx, u)
	if err != nil {
		return nil, err
	}
	l.logger.Info("user logged in", "id", u.ID)
	return s, nil
}

// Logout revokes token. Unknown tokens are ignored.
func (l *Library) Logout(ctx context.Context, token string) error {
	u, err := l.userByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = modify(ctx, l.users, u.ID, func(u *User) error {
		if u.TokenHash == hashToken(token) {
			revoke(u)
		}
		return nil
	})
	return err
}

// Authenticate resolves a bearer token to its active, unexpired user.
func (l *Library) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	u, err := l.userByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !u.Active || u.TokenIssuedAt == nil || !l.clock().Before(u.TokenIssuedAt.Add(l.auth.TokenTTL)) {
		return nil, ErrInvalidToken
	}
	t, err := l.userTypes.Get(ctx, u.TypeID)
	if err != nil {
		return nil, fmt.Errorf("type of user %s: %w", u.ID, err)
	}
	return &Principal{User: u, Type: t}, nil
}

func (l *Library) startSession(ctx context.Context, u *User) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	issued := l.clock()
	u, err = modify(ctx, l.users, u.ID, func(u *User) error {
		u.TokenHash = hashToken(token)
		u.TokenIssuedAt = &issued
		return nil
	})
	if err != nil {
		return nil, err
	}
	t, err := l.userTypes.Get(ctx, u.TypeID)
	if err != nil {
		return nil, fmt.Errorf("type of user %s: %w", u.ID, err)
	}
	return &Session{User: u, Type: t, Token: token, ExpiresAt: issued.Add(l.auth.TokenTTL)}, nil
}

func (l *Library) userByToken(ctx context.Context, token string) (*User, error) {
	return l.users.First(ctx, store.Query{
		Filters: []store.Filter{store.Eq("tokenHash", hashToken(token))},
	})
}

// newToken returns 256 random bits, URL-safe encoded.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
