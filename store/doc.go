// Package store provides a generic record store with referential integrity.
//
// Entities are persisted as [Record] values through a [Backend]. Two
// backends ship with the module: sqlstore (SQLite, the default) and
// dynamostore (DynamoDB). Both enforce the same contract.
//
// # Key Features
//
//   - Parent validation on create and update (atomic with the write)
//   - Orphan protection (restrict deleting parents with active children)
//   - Cascading deletes
//   - Unique field constraints within an entity kind
//   - Optimistic locking with a version field
//   - Time-ordered IDs that are never reused
//
// # Entity Interfaces
//
// All entities implement [Entity], usually by embedding [Meta]:
//
//	type Book struct {
//	    store.Meta
//	    Title string `json:"title"`
//	}
//
//	func (*Book) Kind() string { return "book" }
//
// Entities that depend on other records implement [Parented], and
// entities with unique fields implement [UniqueFielder].
//
// # Repositories
//
// A [Repository] wraps a backend for one entity kind. It assigns IDs,
// runs the configured validator before every write and derives delete
// behaviour from a [Registry] of relationships.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - entity doesn't exist or is deleted
//   - [ErrParentNotFound] - parent validation failed
//   - [ErrAlreadyExists] - entity with ID already exists
//   - [ErrHasChildren] - cannot delete entity with children
//   - [ErrConcurrentModification] - optimistic lock failed
//   - [ErrDuplicateValue] - unique constraint violated
//   - [ErrInvalidQuery] - query cannot be translated safely
package store
