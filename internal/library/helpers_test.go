package library_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jacentio/bibliodigit/internal/config"
	"github.com/jacentio/bibliodigit/internal/library"
	"github.com/jacentio/bibliodigit/internal/logging"
	"github.com/jacentio/bibliodigit/store/sqlstore"
)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	lib   *library.Library
	clock *clock
	types map[string]*library.UserType
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := sqlstore.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "library.db")
	backend, err := sqlstore.Open(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	defaults := config.Default()
	defaults.Auth.BcryptCost = bcrypt.MinCost

	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	lib := library.New(backend, library.Options{
		Auth:   defaults.Auth,
		Loans:  defaults.Loans,
		Logger: logging.Discard(),
		Now:    c.Now,
	})
	require.NoError(t, lib.Bootstrap(ctx, defaults.Bootstrap))

	f := &fixture{lib: lib, clock: c, types: map[string]*library.UserType{}}
	for _, name := range []string{"ADMIN", "STUDENT", "TEACHER", "EXTERNAL"} {
		ut, err := lib.UserTypeByName(ctx, name)
		require.NoError(t, err)
		f.types[name] = ut
	}
	return f
}

func (f *fixture) author(t *testing.T, name, nationality string) *library.Author {
	t.Helper()
	a := &library.Author{Name: name, Nationality: nationality}
	require.NoError(t, f.lib.CreateAuthor(context.Background(), a))
	return a
}

func (f *fixture) category(t *testing.T, name string) *library.Category {
	t.Helper()
	c := &library.Category{Name: name, Description: name + " books"}
	require.NoError(t, f.lib.CreateCategory(context.Background(), c))
	return c
}

func (f *fixture) book(t *testing.T, title string, year int, a *library.Author, c *library.Category) *library.Book {
	t.Helper()
	b := &library.Book{Title: title, Year: year, AuthorID: a.ID, CategoryID: c.ID}
	require.NoError(t, f.lib.CreateBook(context.Background(), b))
	return b
}

// stockedBook creates a book with n copies.
func (f *fixture) stockedBook(t *testing.T, title string, n int) *library.Book {
	t.Helper()
	a := f.author(t, "Author of "+title, "Chilean")
	c := f.category(t, "Category of "+title)
	b := f.book(t, title, 1990, a, c)
	_, err := f.lib.AddCopies(context.Background(), b.ID, n)
	require.NoError(t, err)
	return b
}

func (f *fixture) user(t *testing.T, email, typeName string) *library.User {
	t.Helper()
	u, err := f.lib.CreateUser(context.Background(), library.NewUser{
		Name:     "User " + email,
		Email:    email,
		Password: "secret1",
		TypeID:   f.types[typeName].ID,
	})
	require.NoError(t, err)
	return u
}

func titles(books []*library.Book) []string {
	out := make([]string, len(books))
	for i, b := range books {
		out[i] = b.Title
	}
	return out
}
