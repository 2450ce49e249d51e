package store

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Op is a filter comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpContains // case-insensitive substring
	OpLt
	OpLte
	OpGt
	OpGte
	OpBetween // inclusive on both ends
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpNe:
		return "ne"
	case OpContains:
		return "contains"
	case OpLt:
		return "lt"
	case OpLte:
		return "lte"
	case OpGt:
		return "gt"
	case OpGte:
		return "gte"
	case OpBetween:
		return "between"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Filter is a predicate on one record field.
type Filter struct {
	Field string
	Op    Op
	Value any

	// Upper is the inclusive upper bound for OpBetween.
	Upper any
}

func Eq(field string, v any) Filter { return Filter{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) Filter { return Filter{Field: field, Op: OpNe, Value: v} }
func Contains(field, s string) Filter { return Filter{Field: field, Op: OpContains, Value: s} }
func Lt(field string, v any) Filter { return Filter{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Filter { return Filter{Field: field, Op: OpLte, Value: v} }
func Gt(field string, v any) Filter { return Filter{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Filter { return Filter{Field: field, Op: OpGte, Value: v} }
func Between(field string, lo, hi any) Filter {
	return Filter{Field: field, Op: OpBetween, Value: lo, Upper: hi}
}

// Query selects live records of one kind.
type Query struct {
	Kind string

	// Parent restricts results to children of this record.
	Parent Ref

	Filters []Filter

	// OrderBy names a field to sort by. Records are in ID (creation) order
	// when it is empty or between equal values.
	OrderBy    string
	Descending bool

	// Limit is the maximum number of records to return (0 = no limit).
	Limit int
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that backends can safely translate q.
func (q Query) Validate() error {
	if q.Kind == "" {
		return fmt.Errorf("%w: kind is required", ErrInvalidQuery)
	}
	if q.OrderBy != "" && !fieldNamePattern.MatchString(q.OrderBy) {
		return fmt.Errorf("%w: bad order field %q", ErrInvalidQuery, q.OrderBy)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if !fieldNamePattern.MatchString(f.Field) {
			return fmt.Errorf("%w: bad filter field %q", ErrInvalidQuery, f.Field)
		}
		if f.Op < OpEq || f.Op > OpBetween {
			return fmt.Errorf("%w: unknown operator %v", ErrInvalidQuery, f.Op)
		}
		if f.Op == OpContains {
			if _, ok := NormalizeValue(f.Value).(string); !ok {
				return fmt.Errorf("%w: contains needs a string on %q", ErrInvalidQuery, f.Field)
			}
		}
		if f.Op == OpBetween && f.Upper == nil {
			return fmt.Errorf("%w: between needs an upper bound on %q", ErrInvalidQuery, f.Field)
		}
	}
	return nil
}

// NormalizeValue converts v to the representation fields have after a
// round trip through storage: numbers become float64 and times become
// RFC 3339 strings in UTC.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339)
	case string, bool, float64:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

// Match reports whether fields satisfy every filter.
func Match(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(fields) {
			return false
		}
	}
	return true
}

// Match reports whether fields satisfy f.
func (f Filter) Match(fields map[string]any) bool {
	// A missing field behaves like null.
	actual := NormalizeValue(fields[f.Field])
	want := NormalizeValue(f.Value)

	switch f.Op {
	case OpEq:
		return equalValues(actual, want)
	case OpNe:
		return !equalValues(actual, want)
	case OpContains:
		s, ok := actual.(string)
		sub, _ := want.(string)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	case OpLt:
		c, ok := compareValues(actual, want)
		return ok && c < 0
	case OpLte:
		c, ok := compareValues(actual, want)
		return ok && c <= 0
	case OpGt:
		c, ok := compareValues(actual, want)
		return ok && c > 0
	case OpGte:
		c, ok := compareValues(actual, want)
		return ok && c >= 0
	case OpBetween:
		lo, okLo := compareValues(actual, want)
		hi, okHi := compareValues(actual, NormalizeValue(f.Upper))
		return okLo && okHi && lo >= 0 && hi <= 0
	}
	return false
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	c, ok := compareValues(a, b)
	return ok && c == 0
}

// compareValues orders two normalized values of the same type.
func compareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// SortRecords orders records by field (ID order when field is empty).
func SortRecords(recs []*Record, field string, descending bool) {
	sort.SliceStable(recs, func(i, j int) bool {
		c := 0
		if field != "" {
			c, _ = compareValues(NormalizeValue(recs[i].Fields[field]), NormalizeValue(recs[j].Fields[field]))
		}
		if c == 0 {
			c = strings.Compare(recs[i].ID, recs[j].ID)
		}
		if descending {
			return c > 0
		}
		return c < 0
	})
}
