// Package stream provides DynamoDB Streams handlers for cascade operations.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/bibliodigit/store"
	"github.com/jacentio/bibliodigit/store/dynamostore"
)

// Cascader is the part of the DynamoDB store the handler drives.
type Cascader interface {
	QueryAllChildren(ctx context.Context, parent store.Ref) ([]dynamostore.ChildRef, error)
	ExpireRecord(ctx context.Context, ref store.Ref, ttl int64) error
	SetRelationshipTTL(ctx context.Context, child, parent store.Ref, ttl int64) error
	SetUniqueConstraintTTL(ctx context.Context, pk string, ttl int64) error
}

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	store  Cascader
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s Cascader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleCascadeDelete processes records-table stream events. When a record
// gains a TTL it releases the record's relationship and unique-constraint
// entries and, for records deleted with cascade, expires its children.
// Expired children produce their own events, so the cascade walks the tree.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	// Only process MODIFY events where TTL was added
	if record.EventName != "MODIFY" {
		return nil
	}

	oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
	newTTL := getNumberAttr(record.Change.NewImage, "ttl")
	if oldTTL != 0 || newTTL == 0 {
		return nil
	}

	image := record.Change.NewImage
	ref, err := store.ParseRef(getStringAttr(image, "entity_ref"))
	if err != nil {
		return fmt.Errorf("stream record %s: %w", record.EventID, err)
	}
	parents := getStringListAttr(image, "parents")
	uniquePKs := getStringListAttr(image, "_unique_pks")
	cascade := getBoolAttr(image, "_cascade")

	h.logger.Info("processing delete",
		"entityRef", ref.String(),
		"parents", len(parents),
		"cascade", cascade,
		"ttl", newTTL,
	)

	// 1. Expire children. Each one triggers its own event.
	children := 0
	if cascade {
		refs, err := h.store.QueryAllChildren(ctx, ref)
		if err != nil {
			return fmt.Errorf("query children: %w", err)
		}
		children = len(refs)
		for _, child := range refs {
			if err := h.store.ExpireRecord(ctx, child.Ref, newTTL); err != nil {
				h.logger.Warn("failed to expire child",
					"child", child.Ref.String(),
					"error", err,
				)
			}
		}
	}

	// 2. Release this record's relationship entries (as a child).
	for _, p := range parents {
		parent, err := store.ParseRef(p)
		if err != nil {
			h.logger.Warn("skipping malformed parent", "entityRef", ref.String(), "parent", p)
			continue
		}
		if err := h.store.SetRelationshipTTL(ctx, ref, parent, newTTL); err != nil {
			h.logger.Warn("failed to set relationship TTL",
				"entity", ref.String(),
				"parent", p,
				"error", err,
			)
		}
	}

	// 3. Release unique values.
	for _, constraintPK := range uniquePKs {
		if err := h.store.SetUniqueConstraintTTL(ctx, constraintPK, newTTL); err != nil {
			h.logger.Warn("failed to set unique constraint TTL",
				"pk", constraintPK,
				"error", err,
			)
		}
	}

	h.logger.Info("delete propagated",
		"entityRef", ref.String(),
		"childrenProcessed", children,
		"uniqueConstraints", len(uniquePKs),
	)
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

func getBoolAttr(image map[string]events.DynamoDBAttributeValue, key string) bool {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeBoolean {
		return v.Boolean()
	}
	return false
}

// getStringListAttr extracts a string list attribute from a DynamoDB stream image.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeList {
			var result []string
			for _, item := range v.List() {
				if item.DataType() == events.DataTypeString {
					result = append(result, item.String())
				}
			}
			return result
		}
	}
	return nil
}
