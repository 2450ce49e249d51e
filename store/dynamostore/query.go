package dynamostore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/bibliodigit/store"
)

// Query reads the kind's partition with automatic TTL filtering. Field
// filters are evaluated on the decoded records. Unordered queries stream
// page by page; ordered queries load the partition and sort it.
func (s *Store) Query(ctx context.Context, q store.Query) (*store.Cursor, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	paginator := dynamodb.NewQueryPaginator(s.client, s.queryInput(q))

	if q.OrderBy == "" {
		return pageCursor(paginator, q), nil
	}

	var recs []*store.Record
	cur := pageCursor(paginator, store.Query{Filters: q.Filters})
	for rec, err := range cur.All(ctx) {
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	store.SortRecords(recs, q.OrderBy, q.Descending)
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return store.SliceCursor(recs), nil
}

func (s *Store) queryInput(q store.Query) *dynamodb.QueryInput {
	filter := TTLFilterExpr()
	names := mergeExprNames(ttlNames(), map[string]string{"#kind": "kind"})
	values := mergeExprValues(nowValues(s.now()), map[string]types.AttributeValue{
		":kind": stringAttr(q.Kind),
	})
	if !q.Parent.IsZero() {
		filter += " AND contains(#parents, :parent)"
		names["#parents"] = "parents"
		values[":parent"] = stringAttr(q.Parent.String())
	}

	return &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.RecordTable),
		KeyConditionExpression:    aws.String("#kind = :kind"),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConsistentRead:            aws.Bool(true),
		// Sort keys are time-ordered IDs.
		ScanIndexForward: aws.Bool(q.OrderBy != "" || !q.Descending),
	}
}

// pageCursor yields matching records from successive query pages.
func pageCursor(p *dynamodb.QueryPaginator, q store.Query) *store.Cursor {
	var buf []map[string]types.AttributeValue
	returned := 0
	return store.NewCursor(func(ctx context.Context) (*store.Record, error) {
		for {
			if q.Limit > 0 && returned >= q.Limit {
				return nil, nil
			}
			for len(buf) > 0 {
				raw := buf[0]
				buf = buf[1:]
				rec, err := decodeItem(raw)
				if err != nil {
					return nil, err
				}
				if !store.Match(rec.Fields, q.Filters) {
					continue
				}
				returned++
				return rec, nil
			}
			if !p.HasMorePages() {
				return nil, nil
			}
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			buf = page.Items
		}
	}, nil)
}
