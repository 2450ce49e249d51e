// Package shard provides partition key generation for the relationship and
// unique-constraint tables.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// RelationshipPK computes the sharded partition key for a relationship record.
// With numShards=1, all records go to shard "00".
// With numShards>1, records are distributed across shards based on childRef hash.
func RelationshipPK(parentRef, childRef string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", parentRef)
	}
	h := fnv.New32a()
	h.Write([]byte(childRef))
	shard := h.Sum32() % uint32(numShards)
	return fmt.Sprintf("%s#%02x", parentRef, shard)
}

// RelationshipShards lists every partition key RelationshipPK can produce
// for parentRef.
func RelationshipShards(parentRef string, numShards int) []string {
	if numShards <= 1 {
		return []string{fmt.Sprintf("%s#00", parentRef)}
	}
	pks := make([]string, numShards)
	for i := range pks {
		pks[i] = fmt.Sprintf("%s#%02x", parentRef, i)
	}
	return pks
}

// UniqueConstraintPK computes a hash-distributed key for a unique value of
// a field within a record kind. Parts are length-prefixed so that
// ("ab", "c") and ("a", "bc") never collide.
func UniqueConstraintPK(kind, field, value string) string {
	data := fmt.Sprintf("%d:%s#%d:%s#%s", len(kind), kind, len(field), field, value)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16]) // 128-bit hash as hex
}
