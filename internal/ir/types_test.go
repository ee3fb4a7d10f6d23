package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Delete")
	require.NoError(t, err)
	assert.Equal(t, KindDelete, k)

	k, err = ParseKind("CommitTransaction")
	require.NoError(t, err)
	assert.True(t, k.IsControl())

	_, err = ParseKind("Upsert")
	assert.Error(t, err)
}

func TestPermissionIsWildcard(t *testing.T) {
	assert.False(t, Permission{Identity: "b"}.IsWildcard(), "empty scope covers nothing")
	assert.False(t, Permission{Identity: "b", Fields: []string{}}.IsWildcard())
	assert.True(t, Permission{Identity: "b", Fields: []string{"x", Wildcard}}.IsWildcard())
	assert.False(t, Permission{Identity: "b", Fields: []string{"x"}}.IsWildcard())
}

func TestOperationValidate(t *testing.T) {
	valid := Operation{Author: "a", Kind: KindUpdate, Table: "t", Key: "1_a"}
	assert.NoError(t, valid.Validate())

	tests := map[string]Operation{
		"no author":       {Kind: KindInsert, Table: "t", Key: "1_a"},
		"bad kind":        {Author: "a", Kind: "Merge", Table: "t", Key: "1_a"},
		"no table":        {Author: "a", Kind: KindInsert, Key: "1_a"},
		"no key":          {Author: "a", Kind: KindInsert, Table: "t"},
		"delete fields":   {Author: "a", Kind: KindDelete, Table: "t", Key: "1_a", Fields: Fields{"x": Int(1)}},
		"commit no tx":    {Author: "a", Kind: KindCommitTransaction},
		"commit with row": {Author: "a", Kind: KindCommitTransaction, TransactionID: "t1", Table: "t"},
	}
	for name, op := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, op.Validate())
		})
	}

	commit := Operation{Author: "a", Kind: KindCommitTransaction, TransactionID: "t1"}
	assert.NoError(t, commit.Validate())
}

func TestRowCloneAndEqual(t *testing.T) {
	r := Row{Table: "t", Key: "1_a", Fields: Fields{"x": Int(1)}, Permissions: "a:*"}
	c := r.Clone()
	assert.True(t, r.Equal(c))

	c.Fields["x"] = Int(2)
	assert.False(t, r.Equal(c))
	assert.Equal(t, Int(1), r.Fields["x"])

	d := r.Clone()
	d.Deleted = true
	assert.False(t, r.Equal(d))
}

func TestParseKey(t *testing.T) {
	seq, owner, err := ParseKey("12_@abc=.ed25519")
	require.NoError(t, err)
	assert.Equal(t, int64(12), seq)
	assert.Equal(t, "@abc=.ed25519", owner)

	_, owner, err = ParseKey("3_user_with_underscores")
	require.NoError(t, err)
	assert.Equal(t, "user_with_underscores", owner)

	for _, bad := range []string{"", "12", "_a", "12_", "x_a"} {
		_, _, err := ParseKey(bad)
		assert.Error(t, err, "key %q", bad)
		assert.Empty(t, KeyOwner(bad))
	}

	assert.Equal(t, "7_A", FormatKey(7, "A"))
	assert.Equal(t, "A", KeyOwner("7_A"))
}
