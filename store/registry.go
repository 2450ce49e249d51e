package store

// DeletePolicy decides what happens to children when their parent is deleted.
type DeletePolicy int

const (
	// Restrict fails the delete while active children of the kind exist.
	Restrict DeletePolicy = iota

	// Cascade deletes the children together with the parent.
	Cascade
)

func (p DeletePolicy) String() string {
	switch p {
	case Restrict:
		return "restrict"
	case Cascade:
		return "cascade"
	default:
		return "unknown"
	}
}

// Relationship defines a parent-child relationship between record kinds.
type Relationship struct {
	// ParentKind is the parent entity kind (e.g., "author").
	ParentKind string

	// ChildKind is the child entity kind (e.g., "book").
	ChildKind string

	// OnDelete is applied to children of ChildKind when the parent is deleted.
	OnDelete DeletePolicy
}

// Registry holds all known relationships between record kinds.
type Registry struct {
	relationships []Relationship
	byParent      map[string][]Relationship
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		relationships: []Relationship{},
		byParent:      make(map[string][]Relationship),
	}
}

// Register adds a relationship to the registry.
func (r *Registry) Register(rel Relationship) {
	r.relationships = append(r.relationships, rel)
	r.byParent[rel.ParentKind] = append(r.byParent[rel.ParentKind], rel)
}

// ChildrenOf returns all child relationships for a given parent kind.
func (r *Registry) ChildrenOf(parentKind string) []Relationship {
	return r.byParent[parentKind]
}

// AllRelationships returns all registered relationships.
func (r *Registry) AllRelationships() []Relationship {
	return r.relationships
}

// HasChildren returns true if the parent kind has any registered child relationships.
func (r *Registry) HasChildren(parentKind string) bool {
	return len(r.byParent[parentKind]) > 0
}

// DeleteOptions derives the delete behaviour for a record of parentKind.
// A nil registry yields the zero options (no checks, no cascade).
func (r *Registry) DeleteOptions(parentKind string) DeleteOptions {
	var opts DeleteOptions
	if r == nil {
		return opts
	}
	for _, rel := range r.byParent[parentKind] {
		switch rel.OnDelete {
		case Restrict:
			opts.Restrict = append(opts.Restrict, rel.ChildKind)
		case Cascade:
			opts.Cascade = true
		}
	}
	return opts
}
