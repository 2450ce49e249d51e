package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
)

// Option configures a Repository.
type Option func(*options)

type options struct {
	validate func(any) error
	registry *Registry
}

// WithValidator runs fn on every entity before it is created or updated.
// A non-nil result aborts the write and is returned unchanged.
func WithValidator(fn func(any) error) Option {
	return func(o *options) { o.validate = fn }
}

// WithRegistry derives delete behaviour from the registered relationships.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// Repository is the typed record store for one entity kind.
type Repository[T Entity] struct {
	backend  Backend
	kind     string
	newFn    func() T
	validate func(any) error
	registry *Registry
}

// NewRepository creates a repository for the kind of the entities newFn builds.
func NewRepository[T Entity](b Backend, newFn func() T, opts ...Option) *Repository[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[T]{
		backend:  b,
		kind:     newFn().Kind(),
		newFn:    newFn,
		validate: o.validate,
		registry: o.registry,
	}
}

// Kind returns the entity kind served by the repository.
func (r *Repository[T]) Kind() string {
	return r.kind
}

// Ref returns the reference for id in this repository.
func (r *Repository[T]) Ref(id string) Ref {
	return Ref{Kind: r.kind, ID: id}
}

// Create validates e, assigns it a new ID and stores it. On success the
// entity's metadata reflects the stored record.
func (r *Repository[T]) Create(ctx context.Context, e T) error {
	if err := r.check(e); err != nil {
		return err
	}
	rec, err := r.toRecord(e)
	if err != nil {
		return err
	}
	if rec.ID, err = NewID(); err != nil {
		return fmt.Errorf("generate id: %w", err)
	}
	if err := r.backend.Create(ctx, rec); err != nil {
		return err
	}
	setMeta(e, rec)
	return nil
}

// Get returns the entity with the given ID.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if id == "" {
		return zero, ErrNotFound
	}
	rec, err := r.backend.Get(ctx, r.Ref(id))
	if err != nil {
		return zero, err
	}
	return r.fromRecord(rec)
}

// Update validates e and replaces the stored entity if its version still
// equals e's version. Invalid entities never reach the backend.
func (r *Repository[T]) Update(ctx context.Context, e T) error {
	if err := r.check(e); err != nil {
		return err
	}
	meta := e.Metadata()
	if meta.ID == "" {
		return ErrNotFound
	}
	rec, err := r.toRecord(e)
	if err != nil {
		return err
	}
	rec.ID = meta.ID
	if err := r.backend.Update(ctx, rec, meta.Version); err != nil {
		return err
	}
	setMeta(e, rec)
	return nil
}

// Delete removes the entity, applying the registry's delete policies.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	return r.backend.Delete(ctx, r.Ref(id), r.registry.DeleteOptions(r.kind))
}

// Cursor runs q against the repository's kind.
func (r *Repository[T]) Cursor(ctx context.Context, q Query) (*Cursor, error) {
	q.Kind = r.kind
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return r.backend.Query(ctx, q)
}

// Each iterates over the entities matching q.
func (r *Repository[T]) Each(ctx context.Context, q Query) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		cur, err := r.Cursor(ctx, q)
		if err != nil {
			yield(zero, err)
			return
		}
		for rec, err := range cur.All(ctx) {
			if err != nil {
				yield(zero, err)
				return
			}
			e, err := r.fromRecord(rec)
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Find returns all entities matching q.
func (r *Repository[T]) Find(ctx context.Context, q Query) ([]T, error) {
	var out []T
	for e, err := range r.Each(ctx, q) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Where is shorthand for Find with only filters.
func (r *Repository[T]) Where(ctx context.Context, filters ...Filter) ([]T, error) {
	return r.Find(ctx, Query{Filters: filters})
}

// First returns the first entity matching q, or ErrNotFound.
func (r *Repository[T]) First(ctx context.Context, q Query) (T, error) {
	q.Limit = 1
	var zero T
	for e, err := range r.Each(ctx, q) {
		return e, err
	}
	return zero, ErrNotFound
}

// Count returns the number of entities matching q.
func (r *Repository[T]) Count(ctx context.Context, q Query) (int, error) {
	cur, err := r.Cursor(ctx, q)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, err := range cur.All(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Exists reports whether any entity matches q.
func (r *Repository[T]) Exists(ctx context.Context, q Query) (bool, error) {
	_, err := r.First(ctx, q)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (r *Repository[T]) check(e T) error {
	if r.validate == nil {
		return nil
	}
	return r.validate(e)
}

// toRecord maps an entity's JSON form to record fields.
func (r *Repository[T]) toRecord(e T) (*Record, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.kind, err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.kind, err)
	}

	rec := &Record{Kind: r.kind, Fields: fields}
	if p, ok := any(e).(Parented); ok {
		for _, ref := range p.Parents() {
			if !ref.IsZero() {
				rec.Parents = append(rec.Parents, ref)
			}
		}
	}
	if uf, ok := any(e).(UniqueFielder); ok {
		rec.Unique = make(map[string]string)
		for field, value := range uf.UniqueFields() {
			if value != "" {
				rec.Unique[field] = value
			}
		}
	}
	return rec, nil
}

func (r *Repository[T]) fromRecord(rec *Record) (T, error) {
	e := r.newFn()
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return e, fmt.Errorf("decode %s %s: %w", r.kind, rec.ID, err)
	}
	if err := json.Unmarshal(data, any(e)); err != nil {
		return e, fmt.Errorf("decode %s %s: %w", r.kind, rec.ID, err)
	}
	setMeta(e, rec)
	return e, nil
}

func setMeta(e Entity, rec *Record) {
	m := e.Metadata()
	m.ID = rec.ID
	m.Version = rec.Version
	m.CreatedAt = rec.CreatedAt
	m.UpdatedAt = rec.UpdatedAt
}
