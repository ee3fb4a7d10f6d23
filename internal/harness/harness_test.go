package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowmerge/internal/fold"
	"github.com/roach88/rowmerge/internal/ir"
)

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestRun_AssignsSequencesAndTimestamps(t *testing.T) {
	s := &Scenario{
		Name:        "seqs",
		Description: "auto sequences",
		App:         DefaultApp,
		Operations: []OperationStep{
			{Author: "A", Kind: "Insert", Table: "todos", Key: "1_A", Fields: map[string]any{"n": 1}},
			{Author: "B", Kind: "Insert", Table: "todos", Key: "1_B"},
			{Author: "A", Kind: "Update", Table: "todos", Key: "1_A", Fields: map[string]any{"n": 2}},
			{Author: "A", Seq: 10, Timestamp: 99, Kind: "Update", Table: "todos", Key: "1_A", Fields: map[string]any{"n": 3}},
			{Author: "A", Kind: "Update", Table: "todos", Key: "1_A", Fields: map[string]any{"n": 4}},
		},
		Assertions: []Assertion{{Type: AssertRowCount, Table: "todos", Count: intPtr(2)}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var seqs []int64
	for _, ev := range result.Trace {
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []int64{1, 1, 2, 10, 11}, seqs)

	row := result.Row("todos", "1_A")
	require.NotNil(t, row)
	assert.Equal(t, ir.Int(4), row.Fields["n"])
	assert.Equal(t, int64(5000), row.LastAppliedTimestamp)
}

func TestRun_DuplicateDeliveryIsTraced(t *testing.T) {
	s := &Scenario{
		Name:        "dup",
		Description: "same operation twice",
		App:         DefaultApp,
		Operations: []OperationStep{
			{Author: "A", Seq: 1, Timestamp: 5, Kind: "Insert", Table: "todos", Key: "1_A"},
			{Author: "A", Seq: 1, Timestamp: 5, Kind: "Insert", Table: "todos", Key: "1_A"},
		},
		Assertions: []Assertion{{Type: AssertRow, Table: "todos", Key: "1_A"}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 2)
	assert.False(t, result.Trace[0].Duplicate)
	assert.True(t, result.Trace[1].Duplicate)
	assert.Empty(t, result.Trace[1].Outcomes)
}

func TestRun_FailingAssertions(t *testing.T) {
	s := &Scenario{
		Name:        "failing",
		Description: "every assertion type failing",
		App:         DefaultApp,
		Operations: []OperationStep{
			{Author: "A", Kind: "Insert", Table: "todos", Key: "1_A", Fields: map[string]any{"name": "x", "done": false}},
		},
		Assertions: []Assertion{
			{Type: AssertRow, Table: "todos", Key: "1_A", Expect: map[string]any{"name": "nope"}},
			{Type: AssertRow, Table: "todos", Key: "1_A", Absent: []string{"done"}},
			{Type: AssertRow, Table: "todos", Key: "1_A", Permissions: strPtr("B:*")},
			{Type: AssertRow, Table: "todos", Key: "1_A", Deleted: boolPtr(true)},
			{Type: AssertRow, Table: "todos", Key: "2_A"},
			{Type: AssertNoRow, Table: "todos", Key: "1_A"},
			{Type: AssertOutcome, Table: "todos", Key: "1_A", Action: "pending"},
			{Type: AssertDiagnostic, Table: "todos", Key: "1_A", Reason: "PermissionDenied"},
			{Type: AssertRowCount, Table: "todos", Count: intPtr(3)},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, len(s.Assertions))
	assert.Contains(t, result.Errors[0], `field "name" = nope`)
	assert.Contains(t, result.Errors[1], `field "done" absent`)
	assert.Contains(t, result.Errors[3], "deleted=true")
	assert.Contains(t, result.Errors[4], "no row")
	assert.Contains(t, result.Errors[6], "no-change")
	assert.Contains(t, result.Errors[7], "no diagnostics")
	assert.Contains(t, result.Errors[8], "1 live rows")
	assert.Contains(t, result.Errors[0], "Full trace:")
}

func TestRun_DiscardAndCommitConvergeInEitherOrder(t *testing.T) {
	for name, kinds := range map[string][2]string{
		"discard first": {"DiscardTransaction", "CommitTransaction"},
		"commit first":  {"CommitTransaction", "DiscardTransaction"},
	} {
		t.Run(name, func(t *testing.T) {
			s := &Scenario{
				Name:        "discard_and_commit",
				Description: "discard and commit for the same id",
				App:         DefaultApp,
				Operations: []OperationStep{
					{Author: "A", Kind: "Insert", Table: "todos", Key: "1_A", Tx: "T1"},
					{Author: "A", Kind: kinds[0], Tx: "T1"},
					{Author: "A", Kind: kinds[1], Tx: "T1"},
				},
				Assertions: []Assertion{
					{Type: AssertNoRow, Table: "todos", Key: "1_A"},
					{Type: AssertOutcome, Table: "todos", Key: "1_A", Action: "rejected", Reason: "TransactionDiscarded"},
				},
			}

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestCheckConvergence_CatchesDivergedRows(t *testing.T) {
	ctx := context.Background()
	s := &Scenario{
		Name: "diverged",
		App:  DefaultApp,
		Operations: []OperationStep{
			{Author: "A", Kind: "Insert", Table: "todos", Key: "1_A", Fields: map[string]any{"title": "x"}},
		},
	}
	ops, err := buildOperations(s)
	require.NoError(t, err)

	primary, err := newRun(ctx, s.App)
	require.NoError(t, err)
	for _, op := range ops {
		_, _, err := primary.deliver(ctx, op)
		require.NoError(t, err)
	}

	msgs, err := checkConvergence(ctx, s.App, primary, ops)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	bogus := ir.Row{Fields: ir.Fields{"title": ir.String("tampered")}, Permissions: "A:*"}
	require.NoError(t, primary.log.ApplyDisposition(ctx, "todos", "1_A", fold.Outcome{Action: fold.ActionUpdate, Row: bogus}))

	msgs, err = checkConvergence(ctx, s.App, primary, ops)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "convergence: live rows differ from rebuild")
}

func TestRun_InvalidOperation(t *testing.T) {
	s := &Scenario{
		Name:        "bad",
		Description: "delete with fields",
		App:         DefaultApp,
		Operations: []OperationStep{
			{Author: "A", Kind: "Del", Table: "todos", Key: "1_A", Fields: map[string]any{"x": 1}},
		},
		Assertions: []Assertion{{Type: AssertNoRow, Table: "todos", Key: "1_A"}},
	}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation 0")
}
