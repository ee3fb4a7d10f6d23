package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowmerge/internal/ir"
)

// initDB creates a database for app "todo" owned by alice.
func initDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "test.db")
	out, err := execute(t, "init", "--db", db, "--app", "todo", "--identity", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, `for app "todo" as "alice"`)
	return db
}

func TestInit_RequiresAppAndIdentity(t *testing.T) {
	_, err := execute(t, "init", "--db", filepath.Join(t.TempDir(), "x.db"), "--app", "todo")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestWrite_InsertUpdateDelete(t *testing.T) {
	db := initDB(t)

	out, err := execute(t, "insert", "--db", db, "-t", "todos", "-s", "title=milk", "-s", "done=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Appended Insert todos/1_alice (alice seq 1)")
	assert.Contains(t, out, "todos/1_alice: insert")

	out, err = execute(t, "show", "--db", db, "todos")
	require.NoError(t, err)
	assert.Equal(t, "todos/1_alice {done=false title=\"milk\"} [alice:*]\n", out)

	out, err = execute(t, "update", "--db", db, "-t", "todos", "-k", "1_alice", "-s", "done=true")
	require.NoError(t, err)
	assert.Contains(t, out, "todos/1_alice: update")

	out, err = execute(t, "delete", "--db", db, "-t", "todos", "-k", "1_alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Appended Del todos/1_alice (alice seq 3)")
	assert.Contains(t, out, "todos/1_alice: delete")

	out, err = execute(t, "show", "--db", db, "todos")
	require.NoError(t, err)
	assert.Contains(t, out, "No rows in todos.")

	out, err = execute(t, "show", "--db", db, "todos", "--deleted")
	require.NoError(t, err)
	assert.Contains(t, out, "(deleted)")
}

func TestWrite_PermissionGrantFlow(t *testing.T) {
	db := initDB(t)

	_, err := execute(t, "insert", "--db", db, "-t", "todos", "-s", "name=x")
	require.NoError(t, err)

	out, err := execute(t, "update", "--db", db, "--identity", "bob", "-t", "todos", "-k", "1_alice", "-s", "name=y")
	require.NoError(t, err)
	assert.Contains(t, out, "todos/1_alice: no-change")

	out, err = execute(t, "update", "--db", db, "-t", "todos", "-k", "1_alice", "-g", "alice", "-g", "bob:name")
	require.NoError(t, err)
	assert.Contains(t, out, "todos/1_alice: update")

	out, err = execute(t, "update", "--db", db, "--identity", "bob", "-t", "todos", "-k", "1_alice", "-s", "name=z")
	require.NoError(t, err)
	assert.Contains(t, out, "todos/1_alice: update")

	out, err = execute(t, "show", "--db", db, "--format", "json", "todos", "1_alice")
	require.NoError(t, err)
	var resp struct {
		Status string  `json:"status"`
		Data   RowView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "z", resp.Data.Fields["name"])
	assert.Equal(t, "alice:*;bob:name", resp.Data.Permissions)

	out, err = execute(t, "merge", "--db", db, "todos", "1_alice")
	require.NoError(t, err)
	assert.Contains(t, out, "todos/1_alice: live")
	assert.Contains(t, out, "action: no-change")
	assert.Contains(t, out, "skipped: PermissionDenied: Update by bob@1")
}

func TestWrite_Transaction(t *testing.T) {
	db := initDB(t)

	out, err := execute(t, "tx", "begin", "--db", db)
	require.NoError(t, err)
	txID := strings.TrimSpace(out)
	require.NotEmpty(t, txID)

	out, err = execute(t, "insert", "--db", db, "-t", "todos", "-s", "title=a", "--tx", txID)
	require.NoError(t, err)
	assert.Contains(t, out, "todos/1_alice: pending (AwaitingTransactionCommit)")

	out, err = execute(t, "show", "--db", db, "todos")
	require.NoError(t, err)
	assert.Contains(t, out, "No rows in todos.")

	out, err = execute(t, "tx", "commit", "--db", db, txID)
	require.NoError(t, err)
	assert.Contains(t, out, "Appended CommitTransaction transaction "+txID)
	assert.Contains(t, out, "todos/1_alice: insert")

	out, err = execute(t, "show", "--db", db, "todos", "1_alice")
	require.NoError(t, err)
	assert.Contains(t, out, `title="a"`)
}

func TestWrite_DiscardedTransaction(t *testing.T) {
	db := initDB(t)

	_, err := execute(t, "insert", "--db", db, "-t", "todos", "-k", "9_alice", "-s", "title=a", "--tx", "T1")
	require.NoError(t, err)
	_, err = execute(t, "tx", "discard", "--db", db, "T1")
	require.NoError(t, err)
	_, err = execute(t, "tx", "commit", "--db", db, "T1")
	require.NoError(t, err)

	out, err := execute(t, "merge", "--db", db, "--format", "json", "todos", "9_alice")
	require.NoError(t, err)
	var resp struct {
		Data MergeReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "rejected", resp.Data.Action)
	assert.Equal(t, "TransactionDiscarded", resp.Data.Reason)
	assert.Nil(t, resp.Data.Row)
}

func TestWrite_Errors(t *testing.T) {
	db := initDB(t)

	_, err := execute(t, "insert", "--db", db, "-t", "todos", "-k", "5_bob", "-s", "title=x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "not owned")

	out, err := execute(t, "insert", "--db", db, "--format", "json", "-t", "todos", "-k", "5_bob", "-s", "title=x")
	require.Error(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotOwner, resp.Error.Code)

	_, err = execute(t, "insert", "--db", db, "-t", "todos", "-s", "title")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want name=value")

	_, err = execute(t, "insert", "--db", db, "-t", "todos", "-s", "ratio=1.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats")

	_, err = execute(t, "update", "--db", db, "-t", "todos", "-k", "1_alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires --set or --grant")

	_, err = execute(t, "delete", "--db", db, "-t", "todos")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")

	_, err = execute(t, "show", "--db", db, "todos", "1_alice")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err = execute(t, "show", "--db", db, "--format", "json", "todos", "1_alice")
	require.Error(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestWrite_ConfigRestrictsTables(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "node.cue")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
app:      "todo"
identity: "alice"
database: "`+filepath.Join(dir, "node.db")+`"
tables:   ["todos"]
`), 0o644))

	_, err := execute(t, "insert", "-c", cfgPath, "-t", "notes", "-s", "body=x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `table "notes" is not configured`)

	out, err := execute(t, "insert", "-c", cfgPath, "-t", "todos", "-s", "title=x")
	require.NoError(t, err)
	assert.Contains(t, out, "todos/1_alice: insert")
}

func TestWrite_NoAppConfigured(t *testing.T) {
	db := filepath.Join(t.TempDir(), "fresh.db")
	_, err := execute(t, "insert", "--db", db, "-t", "todos", "-s", "x=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no application configured")
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{"a=1", "b=true", "c=hello world", `d="7"`, "e=null", "f="})
	require.NoError(t, err)
	assert.Equal(t, ir.Fields{
		"a": ir.Int(1),
		"b": ir.Bool(true),
		"c": ir.String("hello world"),
		"d": ir.String("7"),
		"e": ir.Null{},
		"f": ir.String(""),
	}, fields)
}

func TestParseGrants(t *testing.T) {
	grants, err := parseGrants([]string{"alice", "bob:*", "carol:title, done"})
	require.NoError(t, err)
	assert.Equal(t, []ir.Permission{
		{Identity: "alice", Fields: []string{"*"}},
		{Identity: "bob", Fields: []string{"*"}},
		{Identity: "carol", Fields: []string{"title", "done"}},
	}, grants)

	for _, bad := range []string{":title", "bob:", "bob: , "} {
		_, err = parseGrants([]string{bad})
		require.Error(t, err, bad)
		assert.ErrorIs(t, err, errInvalidInput, bad)
	}
}

func TestShow_Filters(t *testing.T) {
	db := initDB(t)

	for _, sets := range [][]string{
		{"-s", "title=milk", "-s", "done=false"},
		{"-s", "title=eggs", "-s", "done=true", "-s", "due=5"},
		{"-s", "title=milk", "-s", "done=true"},
	} {
		args := append([]string{"insert", "--db", db, "-t", "todos"}, sets...)
		_, err := execute(t, args...)
		require.NoError(t, err)
	}

	out, err := execute(t, "show", "--db", db, "todos", "--where", "title=milk")
	require.NoError(t, err)
	assert.Contains(t, out, "todos/1_alice")
	assert.Contains(t, out, "todos/201_alice")
	assert.NotContains(t, out, "todos/101_alice")

	out, err = execute(t, "show", "--db", db, "todos", "--where", "title=milk", "--where", "done=true")
	require.NoError(t, err)
	assert.Equal(t, "todos/201_alice {done=true title=\"milk\"} [alice:*]\n", out)

	out, err = execute(t, "show", "--db", db, "todos", "--has", "due")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "todos/101_alice")

	out, err = execute(t, "show", "--db", db, "todos", "--where", "due=6")
	require.NoError(t, err)
	assert.Contains(t, out, "No rows in todos.")

	_, err = execute(t, "show", "--db", db, "--where", "title=milk")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one table")

	_, err = execute(t, "show", "--db", db, "todos", "--has", `a"b`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter")
}
