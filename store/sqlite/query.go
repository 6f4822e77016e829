package sqlite

import (
	"fmt"
	"sort"
	"strings"

	"github.com/warp/campus-engine/generic"
)

// fieldExpr is the SQL expression for a top-level document field.
// Callers validate field names first.
func fieldExpr(field string) string {
	return fmt.Sprintf("json_extract(body, '$.%s')", field)
}

// buildWhere translates a filter into a WHERE clause (without the keyword).
func buildWhere(coll string, filter generic.Filter) (string, []any, error) {
	if err := generic.ValidateFilter(filter); err != nil {
		return "", nil, err
	}
	clauses := []string{"collection = ?"}
	args := []any{coll}

	for _, field := range sortedKeys(filter) {
		value := filter[field]
		expr := fieldExpr(field)

		if in, ok := value.(generic.In); ok {
			if len(in) == 0 {
				clauses = append(clauses, "0")
				continue
			}
			marks := make([]string, len(in))
			for i, item := range in {
				marks[i] = "?"
				args = append(args, bindValue(item))
			}
			clauses = append(clauses, expr+" IN ("+strings.Join(marks, ", ")+")")
			continue
		}

		v := bindValue(value)
		if v == nil {
			clauses = append(clauses, expr+" IS NULL")
			continue
		}
		clauses = append(clauses, expr+" = ?")
		args = append(args, v)
	}
	return strings.Join(clauses, " AND "), args, nil
}

func buildOrder(opts generic.FindOptions) (string, error) {
	if err := generic.ValidateOptions(opts); err != nil {
		return "", err
	}
	parts := make([]string, 0, len(opts.Sort)+1)
	for _, s := range opts.Sort {
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		parts = append(parts, fieldExpr(s.Field)+" "+dir)
	}
	// Insertion order breaks ties.
	parts = append(parts, "rowid ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func buildLimit(opts generic.FindOptions) string {
	switch {
	case opts.Limit > 0 && opts.Skip > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", opts.Limit, opts.Skip)
	case opts.Limit > 0:
		return fmt.Sprintf(" LIMIT %d", opts.Limit)
	case opts.Skip > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", opts.Skip)
	default:
		return ""
	}
}

// bindValue normalizes a filter value to what json_extract returns:
// TEXT for strings, INTEGER/REAL for numbers, 0/1 for booleans.
func bindValue(v any) any {
	switch n := generic.NormalizeValue(v).(type) {
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return n
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
