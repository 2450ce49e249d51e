package store

import "errors"

var (
	// ErrParentNotFound is returned when a parent record doesn't exist or is deleted.
	ErrParentNotFound = errors.New("store: parent record not found")

	// ErrNotFound is returned when a record doesn't exist or is deleted.
	ErrNotFound = errors.New("store: record not found")

	// ErrAlreadyExists is returned when attempting to create a record with an existing ID.
	ErrAlreadyExists = errors.New("store: record already exists")

	// ErrHasChildren is returned when deleting a record that still has restricting children.
	ErrHasChildren = errors.New("store: record has active children")

	// ErrConcurrentModification is returned when optimistic lock fails (version mismatch).
	ErrConcurrentModification = errors.New("store: record was modified concurrently")

	// ErrDuplicateValue is returned when a unique constraint is violated.
	ErrDuplicateValue = errors.New("store: duplicate value for unique field")

	// ErrInvalidQuery is returned for queries a backend cannot express.
	ErrInvalidQuery = errors.New("store: invalid query")
)

// IsConflict reports whether err means the write lost against state
// written by someone else.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateValue) ||
		errors.Is(err, ErrHasChildren) ||
		errors.Is(err, ErrAlreadyExists)
}
