// Package dynamostore implements store.Backend on DynamoDB.
//
// Records live in one table keyed by (kind, id) with their fields in a map
// attribute. Parent links are mirrored into a sharded relationship table
// and unique values into a hashed constraint table. Every mutation is a
// single TransactWriteItems call guarded by condition expressions. Deletes
// set the ttl attribute, so deleted identifiers are never reused while the
// item is retained.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/bibliodigit/internal/shard"
	"github.com/jacentio/bibliodigit/store"
)

// API is the subset of the DynamoDB client used by the Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

const constraintSK = "CONSTRAINT"

// Store provides DynamoDB operations with hierarchical record support.
type Store struct {
	client API
	config Config
	logger *slog.Logger
	now    func() time.Time
}

var _ store.Backend = (*Store)(nil)

// New creates a new Store instance.
func New(client API, config Config, logger *slog.Logger) *Store {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.config
}

// Ping checks that the record table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.config.RecordTable),
	})
	return err
}

// Close is a no-op; the client owns no resources.
func (s *Store) Close() error {
	return nil
}

// relationshipPK computes the sharded partition key for a relationship record.
func (s *Store) relationshipPK(parent, child store.Ref) string {
	return shard.RelationshipPK(parent.String(), child.String(), s.config.NumShards)
}

func recordKey(ref store.Ref) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"kind": stringAttr(ref.Kind),
		"id":   stringAttr(ref.ID),
	}
}

// Create creates a new record with parent validation and unique constraints.
func (s *Store) Create(ctx context.Context, rec *store.Record) error {
	if rec.ID == "" {
		return errors.New("dynamostore: record id is required")
	}
	now := s.now().UTC()
	ref := rec.Ref()
	var tx transaction

	// 1. Parents must exist and be live.
	for _, p := range rec.Parents {
		tx.add(s.parentCheck(p, now), role{kind: roleParent, detail: p.String()})
	}

	// 2. Unique constraints.
	for _, field := range slices.Sorted(maps.Keys(rec.Unique)) {
		value := rec.Unique[field]
		if value == "" {
			continue
		}
		tx.add(s.uniquePut(ref, field, value, now), role{kind: roleUnique, detail: rec.Kind + "." + field})
	}

	// 3. The record itself.
	item, err := s.encodeItem(rec, now)
	if err != nil {
		return err
	}
	tx.add(types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(s.config.RecordTable),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	}, role{kind: roleRecordPut})

	// 4. Relationship records, one per parent.
	for _, p := range rec.Parents {
		tx.add(s.relationshipPut(p, ref), role{kind: roleRelationship})
	}

	if err := s.commit(ctx, tx); err != nil {
		return err
	}
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

// Get retrieves a record, returning ErrNotFound if deleted or missing.
func (s *Store) Get(ctx context.Context, ref store.Ref) (*store.Record, error) {
	raw, err := s.getItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	return decodeItem(raw)
}

func (s *Store) getItem(ctx context.Context, ref store.Ref) (map[string]types.AttributeValue, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.RecordTable),
		Key:            recordKey(ref),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil || IsDeleted(result.Item, s.now()) {
		return nil, store.ErrNotFound
	}
	return result.Item, nil
}

// Update replaces a record with optimistic locking. Changed unique values
// and parents are swapped in the same transaction.
func (s *Store) Update(ctx context.Context, rec *store.Record, expectedVersion int64) error {
	current, err := s.Get(ctx, rec.Ref())
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return store.ErrConcurrentModification
	}

	now := s.now().UTC()
	ref := rec.Ref()
	var tx transaction

	for _, p := range rec.Parents {
		tx.add(s.parentCheck(p, now), role{kind: roleParent, detail: p.String()})
	}

	// Swap changed unique values.
	for _, field := range slices.Sorted(maps.Keys(rec.Unique)) {
		value, old := rec.Unique[field], current.Unique[field]
		if value == old {
			continue
		}
		if old != "" {
			tx.add(s.uniqueDelete(rec.Kind, field, old), role{kind: roleUnique})
		}
		if value != "" {
			tx.add(s.uniquePut(ref, field, value, now), role{kind: roleUnique, detail: rec.Kind + "." + field})
		}
	}
	for _, field := range slices.Sorted(maps.Keys(current.Unique)) {
		if _, kept := rec.Unique[field]; !kept && current.Unique[field] != "" {
			tx.add(s.uniqueDelete(rec.Kind, field, current.Unique[field]), role{kind: roleUnique})
		}
	}

	// Move relationship records.
	for _, p := range current.Parents {
		if !slices.Contains(rec.Parents, p) {
			tx.add(s.relationshipDelete(p, ref), role{kind: roleRelationship})
		}
	}
	for _, p := range rec.Parents {
		if !slices.Contains(current.Parents, p) {
			tx.add(s.relationshipPut(p, ref), role{kind: roleRelationship})
		}
	}

	fields, err := marshalFields(rec.Fields)
	if err != nil {
		return err
	}
	tx.add(types.TransactWriteItem{
		Update: &types.Update{
			TableName: aws.String(s.config.RecordTable),
			Key:       recordKey(ref),
			UpdateExpression: aws.String("SET #fields = :fields, #parents = :parents, #unique = :unique, " +
				"#unique_pks = :unique_pks, #updated_at = :updated_at, #version = #version + :one"),
			ConditionExpression: aws.String(liveVersionCondition()),
			ExpressionAttributeNames: map[string]string{
				"#fields":     "fields",
				"#parents":    "parents",
				"#unique":     "unique",
				"#unique_pks": "_unique_pks",
				"#updated_at": "updated_at",
				"#version":    "version",
				"#ttl":        "ttl",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":fields":           fields,
				":parents":          parentsAttr(rec.Parents),
				":unique":           uniqueAttr(rec.Unique),
				":unique_pks":       uniquePKsAttr(rec.Kind, rec.Unique),
				":updated_at":       stringAttr(now.Format(time.RFC3339Nano)),
				":one":              numberAttr(1),
				":expected_version": numberAttr(expectedVersion),
			},
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}, role{kind: roleRecordUpdate})

	if err := s.commit(ctx, tx); err != nil {
		return err
	}
	rec.Version = expectedVersion + 1
	rec.CreatedAt = current.CreatedAt
	rec.UpdatedAt = now
	return nil
}

// Delete marks a record deleted by setting its TTL. Unique values and the
// record's own relationship entries are released in the same transaction.
func (s *Store) Delete(ctx context.Context, ref store.Ref, opts store.DeleteOptions) error {
	current, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	if len(opts.Restrict) > 0 {
		has, err := s.HasActiveChildren(ctx, ref, opts.Restrict)
		if err != nil {
			return err
		}
		if has {
			return store.ErrHasChildren
		}
	}

	now := s.now().UTC()
	if err := s.expire(ctx, current, now, opts.Cascade); err != nil {
		return err
	}
	if opts.Cascade && s.config.InlineCascade {
		return s.cascade(ctx, ref, now, map[store.Ref]bool{ref: true})
	}
	return nil
}

func (s *Store) expire(ctx context.Context, rec *store.Record, now time.Time, cascade bool) error {
	var tx transaction
	tx.add(types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(s.config.RecordTable),
			Key:                 recordKey(rec.Ref()),
			UpdateExpression:    aws.String("SET #ttl = :now, #cascade = :cascade, #version = #version + :one"),
			ConditionExpression: aws.String(liveVersionCondition()),
			ExpressionAttributeNames: map[string]string{
				"#ttl":     "ttl",
				"#cascade": "_cascade",
				"#version": "version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now":              numberAttr(now.Unix()),
				":cascade":          &types.AttributeValueMemberBOOL{Value: cascade},
				":one":              numberAttr(1),
				":expected_version": numberAttr(rec.Version),
			},
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}, role{kind: roleRecordUpdate})

	for _, field := range slices.Sorted(maps.Keys(rec.Unique)) {
		if value := rec.Unique[field]; value != "" {
			tx.add(s.uniqueDelete(rec.Kind, field, value), role{kind: roleUnique})
		}
	}
	for _, p := range rec.Parents {
		tx.add(s.relationshipDelete(p, rec.Ref()), role{kind: roleRelationship})
	}
	return s.commit(ctx, tx)
}

// cascade deletes every live descendant of parent.
func (s *Store) cascade(ctx context.Context, parent store.Ref, now time.Time, seen map[store.Ref]bool) error {
	children, err := s.QueryAllChildren(ctx, parent)
	if err != nil {
		return fmt.Errorf("query children of %s: %w", parent, err)
	}
	for _, child := range children {
		if seen[child.Ref] {
			continue
		}
		seen[child.Ref] = true

		rec, err := s.Get(ctx, child.Ref)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := s.expire(ctx, rec, now, true); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("cascade to %s: %w", child.Ref, err)
		}
		s.logger.Debug("cascaded delete", "parentRef", parent.String(), "entityRef", child.Ref.String())
		if err := s.cascade(ctx, child.Ref, now, seen); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) parentCheck(p store.Ref, now time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		ConditionCheck: &types.ConditionCheck{
			TableName:                 aws.String(s.config.RecordTable),
			Key:                       recordKey(p),
			ConditionExpression:       aws.String(ParentExistsCondition()),
			ExpressionAttributeNames:  ttlNames(),
			ExpressionAttributeValues: nowValues(now),
		},
	}
}

func (s *Store) uniquePut(ref store.Ref, field, value string, now time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(s.config.UniqueTable),
			Item: map[string]types.AttributeValue{
				"pk":          stringAttr(shard.UniqueConstraintPK(ref.Kind, field, value)),
				"sk":          stringAttr(constraintSK),
				"kind":        stringAttr(ref.Kind),
				"field_name":  stringAttr(field),
				"field_value": stringAttr(value),
				"entity_ref":  stringAttr(ref.String()),
			},
			// Fails if another record already holds this value.
			ConditionExpression:       aws.String(uniqueFreeCondition()),
			ExpressionAttributeNames:  ttlNames(),
			ExpressionAttributeValues: nowValues(now),
		},
	}
}

func (s *Store) uniqueDelete(kind, field, value string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(s.config.UniqueTable),
			Key: map[string]types.AttributeValue{
				"pk": stringAttr(shard.UniqueConstraintPK(kind, field, value)),
				"sk": stringAttr(constraintSK),
			},
		},
	}
}

func (s *Store) relationshipPut(parent, child store.Ref) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(s.config.RelationshipTable),
			Item: map[string]types.AttributeValue{
				"pk":         stringAttr(s.relationshipPK(parent, child)),
				"child_ref":  stringAttr(child.String()),
				"parent_ref": stringAttr(parent.String()),
				"child_kind": stringAttr(child.Kind),
				"child_id":   stringAttr(child.ID),
			},
		},
	}
}

func (s *Store) relationshipDelete(parent, child store.Ref) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(s.config.RelationshipTable),
			Key: map[string]types.AttributeValue{
				"pk":        stringAttr(s.relationshipPK(parent, child)),
				"child_ref": stringAttr(child.String()),
			},
		},
	}
}

// --- Transactions ---

type roleKind int

const (
	roleRecordPut roleKind = iota
	roleRecordUpdate
	roleParent
	roleUnique
	roleRelationship
)

// role tells the error mapper what a transaction item guards.
type role struct {
	kind   roleKind
	detail string
}

type transaction struct {
	items []types.TransactWriteItem
	roles []role
}

func (t *transaction) add(item types.TransactWriteItem, r role) {
	t.items = append(t.items, item)
	t.roles = append(t.roles, r)
}

func (s *Store) commit(ctx context.Context, tx transaction) error {
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: tx.items,
	})
	return s.mapTransactionError(err, tx.roles)
}

// mapTransactionError maps DynamoDB transaction errors by the index of the
// item whose condition failed.
func (s *Store) mapTransactionError(err error, roles []role) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return err
	}
	for i, reason := range txErr.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" || i >= len(roles) {
			continue
		}
		r := roles[i]
		switch r.kind {
		case roleParent:
			return fmt.Errorf("%w: %s", store.ErrParentNotFound, r.detail)
		case roleUnique:
			return fmt.Errorf("%w: %s", store.ErrDuplicateValue, r.detail)
		case roleRecordPut:
			return store.ErrAlreadyExists
		case roleRecordUpdate:
			if reason.Item == nil || IsDeleted(reason.Item, s.now()) {
				return store.ErrNotFound
			}
			return store.ErrConcurrentModification
		}
	}
	for _, reason := range txErr.CancellationReasons {
		if reason.Code != nil && *reason.Code == "TransactionConflict" {
			return store.ErrConcurrentModification
		}
	}
	return err
}

// --- Encoding ---

func (s *Store) encodeItem(rec *store.Record, now time.Time) (map[string]types.AttributeValue, error) {
	fields, err := marshalFields(rec.Fields)
	if err != nil {
		return nil, err
	}
	ts := now.Format(time.RFC3339Nano)
	return map[string]types.AttributeValue{
		"kind":        stringAttr(rec.Kind),
		"id":          stringAttr(rec.ID),
		"entity_ref":  stringAttr(rec.Ref().String()),
		"version":     numberAttr(1),
		"created_at":  stringAttr(ts),
		"updated_at":  stringAttr(ts),
		"fields":      fields,
		"parents":     parentsAttr(rec.Parents),
		"unique":      uniqueAttr(rec.Unique),
		"_unique_pks": uniquePKsAttr(rec.Kind, rec.Unique),
	}, nil
}

func marshalFields(fields map[string]any) (*types.AttributeValueMemberM, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	m, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	return &types.AttributeValueMemberM{Value: m}, nil
}

func parentsAttr(parents []store.Ref) *types.AttributeValueMemberL {
	l := &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
	for _, p := range parents {
		l.Value = append(l.Value, stringAttr(p.String()))
	}
	return l
}

func uniqueAttr(unique map[string]string) *types.AttributeValueMemberM {
	m := &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}}
	for field, value := range unique {
		if value != "" {
			m.Value[field] = stringAttr(value)
		}
	}
	return m
}

// uniquePKsAttr lists the constraint keys a record holds so the stream
// handler can release them without recomputing hashes.
func uniquePKsAttr(kind string, unique map[string]string) *types.AttributeValueMemberL {
	l := &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
	for _, field := range slices.Sorted(maps.Keys(unique)) {
		if value := unique[field]; value != "" {
			l.Value = append(l.Value, stringAttr(shard.UniqueConstraintPK(kind, field, value)))
		}
	}
	return l
}

// decodeItem converts a records-table item to a Record.
func decodeItem(raw map[string]types.AttributeValue) (*store.Record, error) {
	rec := &store.Record{
		Kind:   stringValue(raw, "kind"),
		ID:     stringValue(raw, "id"),
		Fields: map[string]any{},
	}
	if v, ok := raw["version"].(*types.AttributeValueMemberN); ok {
		rec.Version, _ = strconv.ParseInt(v.Value, 10, 64)
	}

	var err error
	if rec.CreatedAt, err = parseTime(raw, "created_at"); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(raw, "updated_at"); err != nil {
		return nil, err
	}

	if m, ok := raw["fields"].(*types.AttributeValueMemberM); ok {
		if err := attributevalue.UnmarshalMap(m.Value, &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields of %s: %w", rec.Ref(), err)
		}
	}
	if l, ok := raw["parents"].(*types.AttributeValueMemberL); ok {
		for _, v := range l.Value {
			s, ok := v.(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			ref, err := store.ParseRef(s.Value)
			if err != nil {
				return nil, err
			}
			rec.Parents = append(rec.Parents, ref)
		}
	}
	if m, ok := raw["unique"].(*types.AttributeValueMemberM); ok && len(m.Value) > 0 {
		rec.Unique = make(map[string]string, len(m.Value))
		for field, v := range m.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				rec.Unique[field] = s.Value
			}
		}
	}
	return rec, nil
}

func stringValue(raw map[string]types.AttributeValue, key string) string {
	if v, ok := raw[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func parseTime(raw map[string]types.AttributeValue, key string) (time.Time, error) {
	s := stringValue(raw, key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return t, nil
}
