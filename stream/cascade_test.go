package stream_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/bibliodigit/store"
	"github.com/jacentio/bibliodigit/store/dynamostore"
	"github.com/jacentio/bibliodigit/stream"
)

type fakeCascader struct {
	children    map[store.Ref][]dynamostore.ChildRef
	queryErr    error
	expireErr   error
	expired     []store.Ref
	relReleased []string
	uniques     []string
	ttls        []int64
}

func (f *fakeCascader) QueryAllChildren(_ context.Context, parent store.Ref) ([]dynamostore.ChildRef, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.children[parent], nil
}

func (f *fakeCascader) ExpireRecord(_ context.Context, ref store.Ref, ttl int64) error {
	f.expired = append(f.expired, ref)
	f.ttls = append(f.ttls, ttl)
	return f.expireErr
}

func (f *fakeCascader) SetRelationshipTTL(_ context.Context, child, parent store.Ref, _ int64) error {
	f.relReleased = append(f.relReleased, parent.String()+">"+child.String())
	return nil
}

func (f *fakeCascader) SetUniqueConstraintTTL(_ context.Context, pk string, _ int64) error {
	f.uniques = append(f.uniques, pk)
	return nil
}

func deleteEvent(cascade bool) events.DynamoDBEvent {
	return events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{{
		EventID:   "evt-1",
		EventName: "MODIFY",
		Change: events.DynamoDBStreamRecord{
			OldImage: map[string]events.DynamoDBAttributeValue{
				"entity_ref": events.NewStringAttribute("book#b1"),
			},
			NewImage: map[string]events.DynamoDBAttributeValue{
				"entity_ref": events.NewStringAttribute("book#b1"),
				"ttl":        events.NewNumberAttribute("1700000000"),
				"_cascade":   events.NewBooleanAttribute(cascade),
				"parents": events.NewListAttribute([]events.DynamoDBAttributeValue{
					events.NewStringAttribute("author#a1"),
					events.NewStringAttribute("category#c1"),
				}),
				"_unique_pks": events.NewListAttribute([]events.DynamoDBAttributeValue{
					events.NewStringAttribute("pk-title"),
				}),
			},
		},
	}}}
}

func TestNewHandler(t *testing.T) {
	// Test with nil store and logger (should not panic)
	h := stream.NewHandler(nil, nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
}

func TestNewHandler_WithStore(t *testing.T) {
	s := dynamostore.New(nil, dynamostore.DefaultConfig(), nil)
	if h := stream.NewHandler(s, nil); h == nil {
		t.Fatal("expected non-nil Handler with store")
	}
}

func TestHandleCascadeDelete_Cascade(t *testing.T) {
	f := &fakeCascader{children: map[store.Ref][]dynamostore.ChildRef{
		store.NewRef("book", "b1"): {
			{Ref: store.NewRef("copy", "c1")},
			{Ref: store.NewRef("copy", "c2")},
		},
	}}
	h := stream.NewHandler(f, nil)

	if err := h.HandleCascadeDelete(context.Background(), deleteEvent(true)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	wantExpired := []store.Ref{store.NewRef("copy", "c1"), store.NewRef("copy", "c2")}
	if !reflect.DeepEqual(f.expired, wantExpired) {
		t.Errorf("expected %v expired, got %v", wantExpired, f.expired)
	}
	for _, ttl := range f.ttls {
		if ttl != 1700000000 {
			t.Errorf("expected children to inherit ttl, got %d", ttl)
		}
	}
	wantRel := []string{"author#a1>book#b1", "category#c1>book#b1"}
	if !reflect.DeepEqual(f.relReleased, wantRel) {
		t.Errorf("expected %v released, got %v", wantRel, f.relReleased)
	}
	if !reflect.DeepEqual(f.uniques, []string{"pk-title"}) {
		t.Errorf("expected unique pk-title released, got %v", f.uniques)
	}
}

func TestHandleCascadeDelete_WithoutCascadeFlag(t *testing.T) {
	f := &fakeCascader{children: map[store.Ref][]dynamostore.ChildRef{
		store.NewRef("book", "b1"): {{Ref: store.NewRef("copy", "c1")}},
	}}
	h := stream.NewHandler(f, nil)

	if err := h.HandleCascadeDelete(context.Background(), deleteEvent(false)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.expired) != 0 {
		t.Errorf("expected children untouched, got %v", f.expired)
	}
	if len(f.relReleased) != 2 || len(f.uniques) != 1 {
		t.Errorf("expected own entries released, got %v / %v", f.relReleased, f.uniques)
	}
}

func TestHandleCascadeDelete_QueryErrorRetries(t *testing.T) {
	boom := errors.New("boom")
	h := stream.NewHandler(&fakeCascader{queryErr: boom}, nil)

	if err := h.HandleCascadeDelete(context.Background(), deleteEvent(true)); !errors.Is(err, boom) {
		t.Errorf("expected boom to be returned for retry, got %v", err)
	}
}

func TestHandleCascadeDelete_ChildFailureIsLogged(t *testing.T) {
	f := &fakeCascader{
		children:  map[store.Ref][]dynamostore.ChildRef{store.NewRef("book", "b1"): {{Ref: store.NewRef("copy", "c1")}}},
		expireErr: errors.New("throttled"),
	}
	h := stream.NewHandler(f, nil)

	if err := h.HandleCascadeDelete(context.Background(), deleteEvent(true)); err != nil {
		t.Errorf("expected child failures not to fail the batch, got %v", err)
	}
	if len(f.uniques) != 1 {
		t.Error("expected processing to continue after child failure")
	}
}

// --- Handler HandleCascadeDelete skip cases ---

func TestHandler_HandleCascadeDelete_EmptyEvent(t *testing.T) {
	h := stream.NewHandler(nil, nil)
	if err := h.HandleCascadeDelete(context.Background(), events.DynamoDBEvent{}); err != nil {
		t.Errorf("expected no error for empty event, got %v", err)
	}
}

func TestHandler_HandleCascadeDelete_ModifyWithoutTTL(t *testing.T) {
	f := &fakeCascader{}
	h := stream.NewHandler(f, nil)
	event := events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{
			{
				EventName: "MODIFY",
				Change: events.DynamoDBStreamRecord{
					OldImage: map[string]events.DynamoDBAttributeValue{
						"entity_ref": events.NewStringAttribute("book#b1"),
						"version":    events.NewNumberAttribute("1"),
					},
					NewImage: map[string]events.DynamoDBAttributeValue{
						"entity_ref": events.NewStringAttribute("book#b1"),
						"version":    events.NewNumberAttribute("2"),
					},
				},
			},
		},
	}

	if err := h.HandleCascadeDelete(context.Background(), event); err != nil {
		t.Errorf("expected no error for MODIFY without TTL, got %v", err)
	}
	if len(f.uniques)+len(f.relReleased)+len(f.expired) != 0 {
		t.Error("expected plain updates to be ignored")
	}
}
