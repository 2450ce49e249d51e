package sqlstore

import (
	"database/sql/driver"
	"math"
	"strings"

	"modernc.org/sqlite"

	"github.com/jacentio/bibliodigit/store"
)

// foldFunc lower-cases text with Go's Unicode tables. SQLite's own lower()
// only folds ASCII.
const foldFunc = "unicode_lower"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(foldFunc, 1, foldValue)
}

func foldValue(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// buildQuery translates q into SQL over the JSON fields column.
// Field names are safe to inline: q has passed store.Query.Validate.
func buildQuery(q store.Query) (string, []any) {
	var b strings.Builder
	args := []any{q.Kind}

	b.WriteString(`SELECT id, version, created_at, updated_at, parents, fields
		FROM records
		WHERE kind = ? AND deleted_at IS NULL`)

	if !q.Parent.IsZero() {
		b.WriteString(` AND id IN (SELECT child_id FROM relationships WHERE parent_ref = ? AND child_kind = ?)`)
		args = append(args, q.Parent.String(), q.Kind)
	}

	for _, f := range q.Filters {
		expr := fieldExpr(f.Field)
		v := sqlValue(f.Value)

		switch f.Op {
		case store.OpEq:
			if v == nil {
				b.WriteString(" AND " + expr + " IS NULL")
				continue
			}
			b.WriteString(" AND " + expr + " = ?")
		case store.OpNe:
			if v == nil {
				b.WriteString(" AND " + expr + " IS NOT NULL")
				continue
			}
			b.WriteString(" AND (" + expr + " IS NULL OR " + expr + " <> ?)")
		case store.OpContains:
			b.WriteString(" AND " + foldFunc + "(" + expr + `) LIKE ? ESCAPE '\'`)
			s, _ := v.(string)
			v = "%" + escapeLike(strings.ToLower(s)) + "%"
		case store.OpLt:
			b.WriteString(" AND " + expr + " < ?")
		case store.OpLte:
			b.WriteString(" AND " + expr + " <= ?")
		case store.OpGt:
			b.WriteString(" AND " + expr + " > ?")
		case store.OpGte:
			b.WriteString(" AND " + expr + " >= ?")
		case store.OpBetween:
			b.WriteString(" AND " + expr + " BETWEEN ? AND ?")
			args = append(args, v, sqlValue(f.Upper))
			continue
		}
		args = append(args, v)
	}

	dir := " ASC"
	if q.Descending {
		dir = " DESC"
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY " + fieldExpr(q.OrderBy) + dir + ", id" + dir)
	} else {
		b.WriteString(" ORDER BY id" + dir)
	}

	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return b.String(), args
}

func fieldExpr(field string) string {
	return "json_extract(fields, '$." + field + "')"
}

// sqlValue maps a filter value onto what json_extract yields for it:
// booleans are 0/1 and whole numbers are integers.
func sqlValue(v any) any {
	switch x := store.NormalizeValue(v).(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	default:
		return x
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
