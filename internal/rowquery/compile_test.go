package rowquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowmerge/internal/ir"
)

func TestCompile_TableOnly(t *testing.T) {
	sql, params, err := Compile(Select{Table: "todos"})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT "+Columns+" FROM rows WHERE table_name = ? AND deleted = 0 ORDER BY row_key COLLATE BINARY ASC",
		sql)
	assert.Equal(t, []any{"todos"}, params)
}

func TestCompile_WithDeleted(t *testing.T) {
	sql, _, err := Compile(Select{Table: "todos", WithDeleted: true})
	require.NoError(t, err)
	assert.NotContains(t, sql, "deleted = 0")
}

func TestCompile_Equals(t *testing.T) {
	tests := []struct {
		name   string
		value  ir.Value
		sql    string
		params []any
	}{
		{
			name:   "string",
			value:  ir.String("milk"),
			sql:    "(json_type(fields, ?) = ? AND json_extract(fields, ?) = ?)",
			params: []any{"todos", `$."title"`, "text", `$."title"`, "milk"},
		},
		{
			name:   "int",
			value:  ir.Int(7),
			sql:    "(json_type(fields, ?) = ? AND json_extract(fields, ?) = ?)",
			params: []any{"todos", `$."title"`, "integer", `$."title"`, int64(7)},
		},
		{
			name:   "bool",
			value:  ir.Bool(false),
			sql:    "json_type(fields, ?) = ?",
			params: []any{"todos", `$."title"`, "false"},
		},
		{
			name:   "null",
			value:  ir.Null{},
			sql:    "json_type(fields, ?) = ?",
			params: []any{"todos", `$."title"`, "null"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := Compile(Select{Table: "todos", Filter: Equals{Field: "title", Value: tt.value}})
			require.NoError(t, err)
			assert.Contains(t, sql, "AND "+tt.sql+" ORDER BY")
			assert.Equal(t, tt.params, params)
			assert.NotContains(t, sql, "milk")
		})
	}
}

func TestCompile_AndAndHas(t *testing.T) {
	q := Select{
		Table: "todos",
		Filter: And{Predicates: []Predicate{
			&Has{Field: "a.b"},
			And{},
			&Equals{Field: "n", Value: ir.Int(1)},
		}},
	}
	sql, params, err := Compile(q)
	require.NoError(t, err)

	assert.Contains(t, sql, "(json_type(fields, ?) IS NOT NULL AND 1 = 1 AND (json_type(fields, ?) = ?")
	assert.Equal(t, []any{"todos", `$."a.b"`, `$."n"`, "integer", `$."n"`, int64(1)}, params)
}

func TestWhere_SortedConjunction(t *testing.T) {
	p := Where(ir.Fields{"b": ir.Int(2), "a": ir.String("x")})
	and, ok := p.(And)
	require.True(t, ok)
	require.Len(t, and.Predicates, 2)
	assert.Equal(t, Equals{Field: "a", Value: ir.String("x")}, and.Predicates[0])
	assert.Equal(t, Equals{Field: "b", Value: ir.Int(2)}, and.Predicates[1])

	_, params, err := Compile(Select{Table: "t", Filter: Where(nil)})
	require.NoError(t, err)
	assert.Equal(t, []any{"t"}, params)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		q    Select
		want string
	}{
		{"no table", Select{}, "table is required"},
		{"empty field", Select{Table: "t", Filter: Has{}}, "field name is required"},
		{"quote", Select{Table: "t", Filter: Has{Field: `a"b`}}, "quotes and backslashes"},
		{"control", Select{Table: "t", Filter: Has{Field: "a\nb"}}, "control characters"},
		{"nil value", Select{Table: "t", Filter: Equals{Field: "a"}}, "value is required"},
		{"nested", Select{Table: "t", Filter: And{Predicates: []Predicate{Has{Field: "ok"}, Has{}}}}, "and[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.q)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			_, _, err = Compile(tt.q)
			require.Error(t, err)
		})
	}

	assert.NoError(t, Validate(Select{Table: "t", Filter: Has{Field: "title"}}))
}
