package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowmerge/internal/fold"
	"github.com/roach88/rowmerge/internal/ir"
	"github.com/roach88/rowmerge/internal/memlog"
	"github.com/roach88/rowmerge/internal/testutil"
)

func seedLog(t *testing.T) *memlog.Log {
	t.Helper()
	log := memlog.New()
	a := testutil.NewFeed("A")
	b := testutil.NewFeed("B")
	appendAll(t, log,
		a.Insert("todos", "1_A", map[string]any{"name": "x"}),
		a.Update("todos", "1_A", map[string]any{"name": "y"}),
		a.Insert("todos", "2_A", nil),
		a.Delete("todos", "2_A"),
		testutil.InTx("T1", a.Insert("notes", "1_A", map[string]any{"body": "tx"})),
		a.Commit("T1"),
		testutil.InTx("T2", a.Insert("notes", "2_A", nil)),
		b.Update("todos", "3_B", map[string]any{"name": "orphan"}),
		b.Insert("todos", "4_A", nil),
	)
	return log
}

func TestReplay_RebuildsRows(t *testing.T) {
	log := seedLog(t)
	e := newTestEngine(t, log, WithReplayWorkers(3))
	ctx := context.Background()

	// A stale row that the history does not support is discarded.
	require.NoError(t, log.ApplyDisposition(ctx, "todos", "9_Z", fold.Outcome{
		Action: fold.ActionInsert,
		Row:    ir.Row{Fields: ir.Fields{"stale": ir.Bool(true)}},
	}))

	report, err := e.Replay(ctx)
	require.NoError(t, err)

	assert.Equal(t, 6, report.Keys)
	assert.Equal(t, 2, report.Actions["insert"])
	assert.Equal(t, 1, report.Actions["delete"])
	assert.Equal(t, map[ir.RowRef]fold.Reason{
		{Table: "notes", Key: "2_A"}: fold.ReasonAwaitingTransactionCommit,
		{Table: "todos", Key: "3_B"}: fold.ReasonAwaitingPriorInsertion,
	}, report.Pending)
	assert.Equal(t, map[ir.RowRef]fold.Reason{
		{Table: "todos", Key: "4_A"}: fold.ReasonInvalidOwner,
	}, report.Rejected)

	live, err := log.ListRows(ctx, "todos", false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "1_A", live[0].Key)
	assert.Equal(t, ir.String("y"), live[0].Fields["name"])

	tomb, err := log.GetRow(ctx, "todos", "2_A")
	require.NoError(t, err)
	require.NotNil(t, tomb)
	assert.True(t, tomb.Deleted)

	stale, err := log.GetRow(ctx, "todos", "9_Z")
	require.NoError(t, err)
	assert.Nil(t, stale)
}

func TestReplay_IsRepeatable(t *testing.T) {
	log := seedLog(t)
	e := newTestEngine(t, log)
	ctx := context.Background()

	first, err := e.Replay(ctx)
	require.NoError(t, err)
	before, err := log.ListRows(ctx, "todos", true)
	require.NoError(t, err)

	second, err := e.Replay(ctx)
	require.NoError(t, err)
	after, err := log.ListRows(ctx, "todos", true)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, after)
}

func TestVerify_NoMismatchAfterReplay(t *testing.T) {
	log := seedLog(t)
	e := newTestEngine(t, log)
	ctx := context.Background()

	_, err := e.Replay(ctx)
	require.NoError(t, err)

	mismatches, err := e.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestVerify_DetectsDivergedRow(t *testing.T) {
	log := seedLog(t)
	e := newTestEngine(t, log)
	ctx := context.Background()

	_, err := e.Replay(ctx)
	require.NoError(t, err)

	// Overwrite the materialized row behind the engine's back.
	require.NoError(t, log.ApplyDisposition(ctx, "todos", "1_A", fold.Outcome{
		Action: fold.ActionUpdate,
		Row:    ir.Row{Fields: ir.Fields{"name": ir.String("tampered")}, Permissions: "A:*"},
	}))

	mismatches, err := e.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, ir.RowRef{Table: "todos", Key: "1_A"}, mismatches[0].Ref)
	assert.Contains(t, mismatches[0].Diff, "tampered")
	assert.True(t, IsNondeterminismError(NewNondeterminismError(len(mismatches))))
}
