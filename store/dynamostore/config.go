package dynamostore

// Config holds configuration for the Store.
type Config struct {
	// RecordTable is the name of the table holding every record, keyed by
	// (kind, id).
	// Default: "bibliodigit_records"
	RecordTable string

	// RelationshipTable is the name of the relationship table.
	// Default: "bibliodigit_relationships"
	RelationshipTable string

	// UniqueTable is the name of the unique constraints table.
	// Default: "bibliodigit_unique_constraints"
	UniqueTable string

	// NumShards is the number of shards for the relationship table.
	// Higher values increase write throughput per parent but require more
	// parallel queries when listing children.
	// Default: 1 (no sharding, single query)
	// Max: 256
	NumShards int

	// InlineCascade deletes children during Delete instead of leaving them
	// to the stream handler.
	InlineCascade bool
}

const (
	defaultRecordTable       = "bibliodigit_records"
	defaultRelationshipTable = "bibliodigit_relationships"
	defaultUniqueTable       = "bibliodigit_unique_constraints"
)

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		RecordTable:       defaultRecordTable,
		RelationshipTable: defaultRelationshipTable,
		UniqueTable:       defaultUniqueTable,
		NumShards:         1,
		InlineCascade:     true,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.RecordTable == "" {
		c.RecordTable = defaultRecordTable
	}
	if c.RelationshipTable == "" {
		c.RelationshipTable = defaultRelationshipTable
	}
	if c.UniqueTable == "" {
		c.UniqueTable = defaultUniqueTable
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
}
