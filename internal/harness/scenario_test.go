package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Defaults(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: minimal
description: one insert
operations:
  - author: A
    kind: Insert
    table: todos
    key: 1_A
assertions:
  - type: row
    table: todos
    key: 1_A
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultApp, s.App)
	require.Len(t, s.Operations, 1)
	assert.Nil(t, s.Operations[0].Fields)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unknown field",
			yaml: `
name: x
description: x
flow: []
operations: [{author: A, kind: Insert, table: t, key: 1_A}]
assertions: [{type: row, table: t, key: 1_A}]
`,
			wantErr: "field flow not found",
		},
		{
			name: "missing author",
			yaml: `
name: x
description: x
operations: [{kind: Insert, table: t, key: 1_A}]
assertions: [{type: row, table: t, key: 1_A}]
`,
			wantErr: "author is required",
		},
		{
			name: "bad kind",
			yaml: `
name: x
description: x
operations: [{author: A, kind: Upsert, table: t, key: 1_A}]
assertions: [{type: row, table: t, key: 1_A}]
`,
			wantErr: "operations[0]",
		},
		{
			name: "commit without tx",
			yaml: `
name: x
description: x
operations: [{author: A, kind: CommitTransaction}]
assertions: [{type: row, table: t, key: 1_A}]
`,
			wantErr: "tx is required",
		},
		{
			name: "row op without key",
			yaml: `
name: x
description: x
operations: [{author: A, kind: Update, table: t}]
assertions: [{type: row, table: t, key: 1_A}]
`,
			wantErr: "table and key are required",
		},
		{
			name: "outcome without action",
			yaml: `
name: x
description: x
operations: [{author: A, kind: Insert, table: t, key: 1_A}]
assertions: [{type: outcome, table: t, key: 1_A}]
`,
			wantErr: "action is required",
		},
		{
			name: "row_count without count",
			yaml: `
name: x
description: x
operations: [{author: A, kind: Insert, table: t, key: 1_A}]
assertions: [{type: row_count, table: t}]
`,
			wantErr: "count is required",
		},
		{
			name: "unknown assertion",
			yaml: `
name: x
description: x
operations: [{author: A, kind: Insert, table: t, key: 1_A}]
assertions: [{type: trace_order, table: t, key: 1_A}]
`,
			wantErr: "unknown assertion type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: from_file
description: loaded
app: notes_app
operations:
  - {author: A, kind: Insert, table: notes, key: 1_A, fields: {body: hi}}
assertions:
  - {type: row, table: notes, key: 1_A, expect: {body: hi}}
`), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "notes_app", s.App)
	assert.Equal(t, map[string]any{"body": "hi"}, s.Operations[0].Fields)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
