package store

import (
	"fmt"
	"strings"
	"time"
)

// Ref is a type-qualified record reference, rendered as "kind#id".
type Ref struct {
	Kind string
	ID   string
}

// NewRef returns the reference for a record of the given kind.
func NewRef(kind, id string) Ref {
	return Ref{Kind: kind, ID: id}
}

func (r Ref) String() string {
	return r.Kind + "#" + r.ID
}

// IsZero reports whether r has no ID.
func (r Ref) IsZero() bool {
	return r.ID == ""
}

// ParseRef parses a "kind#id" reference.
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, "#")
	if !ok || kind == "" || id == "" {
		return Ref{}, fmt.Errorf("store: malformed reference %q", s)
	}
	return Ref{Kind: kind, ID: id}, nil
}

// Record is the backend representation of a stored entity.
type Record struct {
	// Kind is the entity type name (e.g., "book").
	Kind string

	// ID is assigned on creation and never reused.
	ID string

	// Version is the optimistic lock version. It is 1 after creation.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time

	// Parents are the records this one depends on. Creating or updating
	// fails with ErrParentNotFound when any of them is missing.
	Parents []Ref

	// Unique maps field names to values that must be unique within Kind.
	Unique map[string]string

	// Fields holds the entity's own data.
	Fields map[string]any
}

// Ref returns the record's reference.
func (r *Record) Ref() Ref {
	return Ref{Kind: r.Kind, ID: r.ID}
}

// Meta carries the store-managed fields of an entity. Embed it in domain
// types to satisfy the Meta half of [Entity].
type Meta struct {
	ID        string    `json:"-"`
	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Metadata returns m so embedding types expose their metadata.
func (m *Meta) Metadata() *Meta { return m }

// Entity is the base interface for all storable types.
type Entity interface {
	// Kind returns the entity type name (e.g., "book").
	Kind() string

	// Metadata returns the store-managed fields.
	Metadata() *Meta
}

// Parented is implemented by entities that depend on other records.
type Parented interface {
	// Parents returns the references that must exist for the entity to be
	// stored. Empty refs are ignored.
	Parents() []Ref
}

// UniqueFielder is implemented by entities with unique field constraints.
type UniqueFielder interface {
	// UniqueFields returns field name to value mappings for fields
	// that must be unique within the entity kind.
	UniqueFields() map[string]string
}

// RefOf returns the reference of a stored entity.
func RefOf(e Entity) Ref {
	return Ref{Kind: e.Kind(), ID: e.Metadata().ID}
}
