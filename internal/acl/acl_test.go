package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/rowmerge/internal/ir"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		perms []ir.Permission
		want  string
	}{
		{"empty", nil, ""},
		{"wildcard", []ir.Permission{{Identity: "A", Fields: []string{"*"}}}, "A:*"},
		{"omitted scope grants nothing", []ir.Permission{{Identity: "A"}}, ""},
		{"empty scope grants nothing", []ir.Permission{{Identity: "A", Fields: []string{}}, {Identity: "B", Fields: []string{""}}}, ""},
		{"scoped", []ir.Permission{{Identity: "B", Fields: []string{"name", "age"}}}, "B:name,age"},
		{
			"keeps input order",
			[]ir.Permission{{Identity: "Z", Fields: []string{"*"}}, {Identity: "A", Fields: []string{"x"}}},
			"Z:*;A:x",
		},
		{"wildcard absorbs fields", []ir.Permission{{Identity: "B", Fields: []string{"x", "*"}}}, "B:*"},
		{"duplicate fields", []ir.Permission{{Identity: "B", Fields: []string{"x", "y", "x"}}}, "B:x,y"},
		{
			"repeated identity keeps first slot",
			[]ir.Permission{{Identity: "B", Fields: []string{"x"}}, {Identity: "C", Fields: []string{"*"}}, {Identity: "B", Fields: []string{"y"}}},
			"B:y;C:*",
		},
		{"separator in identity", []ir.Permission{{Identity: "B;C", Fields: []string{"*"}}, {Identity: "D", Fields: []string{"*"}}}, "D:*"},
		{"separator in field", []ir.Permission{{Identity: "B", Fields: []string{"a:b"}}}, ""},
		{"empty identity", []ir.Permission{{Identity: ""}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.perms))
		})
	}
}

func TestDecodeIsTotal(t *testing.T) {
	inputs := []string{"", ";", ":", "A", "A:", ":x", "A:,", ";;A:*;;", "A:x,,y", "A:x:y", "\x00"}
	for _, in := range inputs {
		assert.NotPanics(t, func() { Decode(in) }, "input %q", in)
		assert.NotNil(t, Decode(in), "input %q", in)
	}

	assert.Empty(t, Decode(""))
	assert.Equal(t, []ir.Permission{{Identity: "A", Fields: []string{"*"}}}, Decode(";;A:*;;"))
	assert.Equal(t, []ir.Permission{{Identity: "A", Fields: []string{"x", "y"}}}, Decode("A:x,,y"))
}

func TestDecode(t *testing.T) {
	got := Decode("@a=.ed25519:*;@b=.ed25519:field1,field2")
	want := []ir.Permission{
		{Identity: "@a=.ed25519", Fields: []string{"*"}},
		{Identity: "@b=.ed25519", Fields: []string{"field1", "field2"}},
	}
	assert.Equal(t, want, got)
}

func TestRoundTripIsByteStable(t *testing.T) {
	lists := [][]ir.Permission{
		nil,
		{{Identity: "A", Fields: []string{"*"}}},
		{{Identity: "B", Fields: []string{"z", "a", "z"}}, {Identity: "A"}, {Identity: "C", Fields: []string{"*"}}},
		{{Identity: "B", Fields: []string{"x"}}, {Identity: "B", Fields: []string{"*"}}},
	}
	for _, perms := range lists {
		once := Encode(perms)
		twice := Encode(Decode(once))
		thrice := Encode(Decode(twice))
		assert.Equal(t, once, twice)
		assert.Equal(t, twice, thrice)
	}

	garbage := []string{"A:x:y;B", ";;C:*;", "A:x;A:y"}
	for _, s := range garbage {
		once := Encode(Decode(s))
		assert.Equal(t, once, Encode(Decode(once)), "input %q", s)
	}
}

func TestDefaultGrants(t *testing.T) {
	assert.Equal(t, "A:*", Encode(DefaultGrants("A")))
}

func TestCovers(t *testing.T) {
	scoped := ir.Permission{Identity: "B", Fields: []string{"name", "age"}}
	assert.True(t, Covers(scoped, []string{"name"}))
	assert.True(t, Covers(scoped, []string{"age", "name"}))
	assert.True(t, Covers(scoped, nil))
	assert.False(t, Covers(scoped, []string{"name", "email"}))
	assert.True(t, Covers(ir.Permission{Identity: "B", Fields: []string{"*"}}, []string{"anything"}))
	assert.False(t, Covers(ir.Permission{Identity: "B"}, []string{"name"}))
	assert.False(t, Covers(ir.Permission{Identity: "B", Fields: []string{}}, []string{"name"}))
}

func TestCanWrite(t *testing.T) {
	perms := Decode("B:name;C:*")

	assert.True(t, CanWrite("A", "A", nil, []string{"x"}), "owner needs no grant")
	assert.True(t, CanWrite("A", "B", perms, []string{"name"}))
	assert.False(t, CanWrite("A", "B", perms, []string{"name", "age"}))
	assert.True(t, CanWrite("A", "C", perms, []string{"name", "age"}))
	assert.False(t, CanWrite("A", "D", perms, []string{"name"}))
}

func TestCanAdminister(t *testing.T) {
	perms := Decode("B:name;C:*")

	assert.True(t, CanAdminister("A", "A", nil))
	assert.False(t, CanAdminister("A", "B", perms), "scoped grantee cannot administer")
	assert.True(t, CanAdminister("A", "C", perms))
	assert.False(t, CanAdminister("A", "D", perms))
	assert.False(t, CanAdminister("A", "E", []ir.Permission{{Identity: "E"}}), "empty scope is not a wildcard")
}

func TestLookup(t *testing.T) {
	perms := Decode("B:name;C:*")
	p, ok := Lookup(perms, "C")
	assert.True(t, ok)
	assert.True(t, p.IsWildcard())

	_, ok = Lookup(perms, "Z")
	assert.False(t, ok)
}
