package rowquery

import (
	"fmt"
	"strings"

	"github.com/roach88/rowmerge/internal/ir"
)

// Columns is the column list every compiled statement selects, in the
// order the store scans them.
const Columns = "table_name, row_key, fields, deleted, permissions, last_timestamp"

// Compile converts q to a SQLite statement and its parameters.
func Compile(q Select) (string, []any, error) {
	if err := Validate(q); err != nil {
		return "", nil, fmt.Errorf("compile: %w", err)
	}

	where := []string{"table_name = ?"}
	params := []any{q.Table}
	if !q.WithDeleted {
		where = append(where, "deleted = 0")
	}
	if q.Filter != nil {
		sql, filterParams, err := compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		where = append(where, sql)
		params = append(params, filterParams...)
	}

	sql := fmt.Sprintf("SELECT %s FROM rows WHERE %s ORDER BY row_key COLLATE BINARY ASC",
		Columns, strings.Join(where, " AND "))
	return sql, params, nil
}

func compilePredicate(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case Equals:
		return compileEquals(pred)
	case *Equals:
		return compileEquals(*pred)
	case Has:
		return "json_type(fields, ?) IS NOT NULL", []any{fieldPath(pred.Field)}, nil
	case *Has:
		return compilePredicate(*pred)
	case And:
		return compileAnd(pred)
	case *And:
		return compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileEquals(eq Equals) (string, []any, error) {
	typ, err := jsonType(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("equals %q: %w", eq.Field, err)
	}
	path := fieldPath(eq.Field)

	switch val := eq.Value.(type) {
	case ir.String:
		return "(json_type(fields, ?) = ? AND json_extract(fields, ?) = ?)",
			[]any{path, typ, path, string(val)}, nil
	case ir.Int:
		return "(json_type(fields, ?) = ? AND json_extract(fields, ?) = ?)",
			[]any{path, typ, path, int64(val)}, nil
	default:
		// true, false and null are fully described by their type.
		return "json_type(fields, ?) = ?", []any{path, typ}, nil
	}
}

func compileAnd(and And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, pred := range and.Predicates {
		sql, predParams, err := compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, predParams...)
	}
	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}

// fieldPath is the JSON path of a top-level field. Names are quoted so
// dots and brackets in a field name are taken literally.
func fieldPath(name string) string {
	return `$."` + name + `"`
}
