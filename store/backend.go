package store

import (
	"context"

	"github.com/google/uuid"
)

// Backend is implemented by the persistence engines behind a [Repository].
//
// Implementations must make every mutation atomic per record: the version
// condition, the parent checks, and the unique-constraint and relationship
// writes either all commit or none do.
type Backend interface {
	// Create stores a new record. rec.ID must be set. On success the backend
	// sets rec.Version to 1 and both timestamps to the creation time.
	Create(ctx context.Context, rec *Record) error

	// Get returns the record, or ErrNotFound if it is missing or deleted.
	Get(ctx context.Context, ref Ref) (*Record, error)

	// Update replaces the record's fields, parents and unique values when the
	// stored version equals expectedVersion. On success rec.Version is
	// expectedVersion+1 and rec.UpdatedAt the modification time.
	Update(ctx context.Context, rec *Record, expectedVersion int64) error

	// Delete removes the record. Deleted identifiers are never reused.
	Delete(ctx context.Context, ref Ref, opts DeleteOptions) error

	// Query returns matching live records as a single-use cursor.
	Query(ctx context.Context, q Query) (*Cursor, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// DeleteOptions configures delete behavior.
type DeleteOptions struct {
	// Restrict lists child kinds whose active records block the delete
	// with ErrHasChildren.
	Restrict []string

	// Cascade deletes all remaining children (recursively) with the record.
	Cascade bool
}

// NewID returns a new time-ordered record identifier.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
