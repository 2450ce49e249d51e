package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/bibliodigit/internal/shard"
	"github.com/jacentio/bibliodigit/store"
)

// ChildRef identifies a child found in the relationship table.
type ChildRef struct {
	Ref     store.Ref
	ShardPK string
}

// HasActiveChildren reports whether parent has live children of any of
// the given kinds. An empty kinds list matches every kind.
func (s *Store) HasActiveChildren(ctx context.Context, parent store.Ref, kinds []string) (bool, error) {
	now := s.now()
	shards := shard.RelationshipShards(parent.String(), s.config.NumShards)

	// Fast path for single shard (default)
	if len(shards) == 1 {
		return s.shardHasChildren(ctx, shards[0], kinds, now)
	}

	// Multi-shard fan-out with early cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		found    atomic.Bool
		mu       sync.Mutex
		firstErr error
	)
	for _, pk := range shards {
		wg.Add(1)
		go func(pk string) {
			defer wg.Done()
			ok, err := s.shardHasChildren(ctx, pk, kinds, now)
			switch {
			case err != nil:
				if found.Load() && errors.Is(err, context.Canceled) {
					return
				}
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("shard %s: %w", pk, err)
				}
				mu.Unlock()
				cancel()
			case ok:
				found.Store(true)
				cancel()
			}
		}(pk)
	}
	wg.Wait()

	if found.Load() {
		return true, nil
	}
	return false, firstErr
}

func (s *Store) shardHasChildren(ctx context.Context, pk string, kinds []string, now time.Time) (bool, error) {
	filter := TTLFilterExpr()
	names := ttlNames()
	values := mergeExprValues(nowValues(now), map[string]types.AttributeValue{
		":pk": stringAttr(pk),
	})
	if len(kinds) > 0 {
		filter += " AND #child_kind IN ("
		for i, kind := range kinds {
			key := fmt.Sprintf(":kind%d", i)
			if i > 0 {
				filter += ", "
			}
			filter += key
			values[key] = stringAttr(kind)
		}
		filter += ")"
		names = mergeExprNames(names, map[string]string{"#child_kind": "child_kind"})
	}

	// Limit applies before the filter, so page until a match or the end.
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.RelationshipTable),
		KeyConditionExpression:    aws.String("pk = :pk"),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return false, err
		}
		if len(page.Items) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// QueryAllChildren returns every child listed under parent across all shards.
func (s *Store) QueryAllChildren(ctx context.Context, parent store.Ref) ([]ChildRef, error) {
	shards := shard.RelationshipShards(parent.String(), s.config.NumShards)

	// Fast path for single shard (default)
	if len(shards) == 1 {
		return s.queryShardChildren(ctx, shards[0])
	}

	// Multi-shard fan-out
	var (
		mu          sync.Mutex
		wg          sync.WaitGroup
		allChildren []ChildRef
	)
	errs := make(chan error, len(shards))

	for _, pk := range shards {
		wg.Add(1)
		go func(pk string) {
			defer wg.Done()
			children, err := s.queryShardChildren(ctx, pk)
			if err != nil {
				errs <- fmt.Errorf("shard %s: %w", pk, err)
				return
			}
			mu.Lock()
			allChildren = append(allChildren, children...)
			mu.Unlock()
		}(pk)
	}

	wg.Wait()
	close(errs)
	if err, ok := <-errs; ok {
		return nil, err
	}
	return allChildren, nil
}

func (s *Store) queryShardChildren(ctx context.Context, pk string) ([]ChildRef, error) {
	var children []ChildRef
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.config.RelationshipTable),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": stringAttr(pk),
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			children = append(children, unmarshalChildRef(item, pk))
		}
	}
	return children, nil
}

// ExpireRecord sets the TTL on a live record and flags it for cascading.
// Used by the stream handler to propagate deletes to children.
func (s *Store) ExpireRecord(ctx context.Context, ref store.Ref, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.RecordTable),
		Key:                 recordKey(ref),
		UpdateExpression:    aws.String("SET #ttl = :ttl, #cascade = :cascade, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     "ttl",
			"#cascade": "_cascade",
			"#version": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl":     numberAttr(ttl),
			":cascade": &types.AttributeValueMemberBOOL{Value: true},
			":one":     numberAttr(1),
		},
	})
	return ignoreConditionFailure(err)
}

// SetRelationshipTTL sets TTL on the relationship record linking child to parent.
func (s *Store) SetRelationshipTTL(ctx context.Context, child, parent store.Ref, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.config.RelationshipTable),
		Key: map[string]types.AttributeValue{
			"pk":        stringAttr(s.relationshipPK(parent, child)),
			"child_ref": stringAttr(child.String()),
		},
		UpdateExpression:          aws.String("SET #ttl = :ttl"),
		ConditionExpression:       aws.String("attribute_exists(pk) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames:  ttlNames(),
		ExpressionAttributeValues: map[string]types.AttributeValue{":ttl": numberAttr(ttl)},
	})
	return ignoreConditionFailure(err)
}

// SetUniqueConstraintTTL sets TTL on a unique constraint record, releasing
// its value.
func (s *Store) SetUniqueConstraintTTL(ctx context.Context, pk string, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.config.UniqueTable),
		Key: map[string]types.AttributeValue{
			"pk": stringAttr(pk),
			"sk": stringAttr(constraintSK),
		},
		UpdateExpression:          aws.String("SET #ttl = :ttl"),
		ConditionExpression:       aws.String("attribute_exists(pk) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames:  ttlNames(),
		ExpressionAttributeValues: map[string]types.AttributeValue{":ttl": numberAttr(ttl)},
	})
	return ignoreConditionFailure(err)
}

// ignoreConditionFailure treats an already expired or missing item as done.
func ignoreConditionFailure(err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// unmarshalChildRef converts a relationship item to a ChildRef.
func unmarshalChildRef(item map[string]types.AttributeValue, shardPK string) ChildRef {
	return ChildRef{
		Ref:     store.NewRef(stringValue(item, "child_kind"), stringValue(item, "child_id")),
		ShardPK: shardPK,
	}
}
