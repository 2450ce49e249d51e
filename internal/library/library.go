// Package library implements the catalog, membership, authentication and
// loan operations of the digital library on top of the record store.
//
// Every entity is a record. Multi-record flows such as Borrow and Return
// are sequences of optimistic per-record updates: each step is retried when
// it loses a version race, and earlier steps are compensated when a later
// one fails.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacentio/bibliodigit/internal/config"
	"github.com/jacentio/bibliodigit/internal/validation"
	"github.com/jacentio/bibliodigit/store"
)

// maxAttempts bounds read-modify-write retries on version conflicts.
const maxAttempts = 5

// Options configures a Library.
type Options struct {
	Auth   config.AuthConfig
	Loans  config.LoansConfig
	Logger *slog.Logger

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// Library is the application service behind the HTTP API.
type Library struct {
	backend    store.Backend
	authors    *store.Repository[*Author]
	categories *store.Repository[*Category]
	books      *store.Repository[*Book]
	userTypes  *store.Repository[*UserType]
	users      *store.Repository[*User]
	copies     *store.Repository[*Copy]
	loans      *store.Repository[*Loan]

	auth   config.AuthConfig
	policy config.LoansConfig
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Library over backend.
func New(backend store.Backend, opts Options) *Library {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Auth.TokenTTL <= 0 {
		opts.Auth.TokenTTL = 24 * time.Hour
	}
	if opts.Auth.BcryptCost == 0 {
		opts.Auth.BcryptCost = 10
	}

	reg := Registry()
	with := []store.Option{store.WithValidator(validation.Struct), store.WithRegistry(reg)}
	return &Library{
		backend:    backend,
		authors:    store.NewRepository(backend, func() *Author { return &Author{} }, with...),
		categories: store.NewRepository(backend, func() *Category { return &Category{} }, with...),
		books:      store.NewRepository(backend, func() *Book { return &Book{} }, with...),
		userTypes:  store.NewRepository(backend, func() *UserType { return &UserType{} }, with...),
		users:      store.NewRepository(backend, func() *User { return &User{} }, with...),
		copies:     store.NewRepository(backend, func() *Copy { return &Copy{} }, with...),
		loans:      store.NewRepository(backend, func() *Loan { return &Loan{} }, with...),
		auth:       opts.Auth,
		policy:     opts.Loans,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Ping checks the backing store.
func (l *Library) Ping(ctx context.Context) error {
	return l.backend.Ping(ctx)
}

// clock returns the current time in UTC, truncated to whole seconds so
// stored timestamps compare as strings.
func (l *Library) clock() time.Time {
	return l.now().UTC().Truncate(time.Second)
}

// modify reads the entity, applies fn and writes it back, starting over
// when another writer updated it in between.
func modify[T store.Entity](ctx context.Context, repo *store.Repository[T], id string, fn func(T) error) (T, error) {
	var zero T
	for attempt := 0; attempt < maxAttempts; attempt++ {
		e, err := repo.Get(ctx, id)
		if err != nil {
			return zero, err
		}
		if err := fn(e); err != nil {
			return zero, err
		}
		err = repo.Update(ctx, e)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, store.ErrConcurrentModification) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%s %s: %w", repo.Kind(), id, store.ErrConcurrentModification)
}

// updateAt writes e expecting version. A zero version means "whatever is
// stored now".
func updateAt[T store.Entity](ctx context.Context, repo *store.Repository[T], e T, version int64) error {
	m := e.Metadata()
	if version == 0 {
		current, err := repo.Get(ctx, m.ID)
		if err != nil {
			return err
		}
		version = current.Metadata().Version
	}
	m.Version = version
	return repo.Update(ctx, e)
}
