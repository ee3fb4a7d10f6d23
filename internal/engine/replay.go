package engine

// # Replay
//
// Rows are a cache. Replay throws the cache away and rebuilds it from the
// log: transaction state is reloaded from the control operations, every row
// is reset, and every key the log mentions is applied again. Because a fold
// is a pure function of the history, the rebuilt rows equal the rows a
// replica that received the same operations in any other order would hold.
//
// Verify checks that claim for the current log. Each key is folded from the
// bare history twice, once in log order and once reversed, and the two
// results are compared field by field. A live persisted row must also match
// the fold.

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/rowmerge/internal/fold"
	"github.com/roach88/rowmerge/internal/ir"
)

// ReplayReport summarizes a rebuild.
type ReplayReport struct {
	Keys    int
	Actions map[string]int
	// Pending lists keys that could not materialize yet, with the reason.
	Pending map[ir.RowRef]fold.Reason
	// Rejected lists keys whose history can never materialize.
	Rejected map[ir.RowRef]fold.Reason
}

// Mismatch is one key whose folds disagreed.
type Mismatch struct {
	Ref  ir.RowRef
	Diff string
}

// Replay rebuilds every row from the log.
// Must not run concurrently with Run.
func (e *Engine) Replay(ctx context.Context) (ReplayReport, error) {
	report := ReplayReport{
		Actions:  make(map[string]int),
		Pending:  make(map[ir.RowRef]fold.Reason),
		Rejected: make(map[ir.RowRef]fold.Reason),
	}

	if err := e.gate.Load(ctx, e.controlSource()); err != nil {
		return report, NewStorageError("reload transaction state", "", "", err)
	}
	if err := e.backend.ResetRows(ctx); err != nil {
		return report, NewStorageError("reset rows", "", "", err)
	}
	refs, err := e.backend.Keys(ctx)
	if err != nil {
		return report, NewStorageError("list keys", "", "", err)
	}
	report.Keys = len(refs)

	slog.Info("replay starting", "keys", len(refs), "workers", e.workers, "transactions", e.gate.Len())

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			out, err := e.Apply(gctx, ref.Table, ref.Key)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			report.Actions[out.Action.String()]++
			switch out.Action {
			case fold.ActionPending:
				report.Pending[ref] = out.Reason
			case fold.ActionRejected:
				report.Rejected[ref] = out.Reason
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	slog.Info("replay complete",
		"keys", report.Keys,
		"inserted", report.Actions[fold.ActionInsert.String()],
		"deleted", report.Actions[fold.ActionDelete.String()],
		"pending", len(report.Pending),
		"rejected", len(report.Rejected),
	)
	return report, nil
}

// Verify folds every key in two delivery orders and compares the results
// with each other and with the persisted row. Returns the keys that
// disagreed, sorted by table then key.
func (e *Engine) Verify(ctx context.Context) ([]Mismatch, error) {
	refs, err := e.backend.Keys(ctx)
	if err != nil {
		return nil, NewStorageError("list keys", "", "", err)
	}

	var (
		mu         sync.Mutex
		mismatches []Mismatch
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			diff, err := e.verifyKey(gctx, ref)
			if err != nil || diff == "" {
				return err
			}
			mu.Lock()
			mismatches = append(mismatches, Mismatch{Ref: ref, Diff: diff})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(mismatches, func(i, j int) bool {
		a, b := mismatches[i].Ref, mismatches[j].Ref
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Key < b.Key
	})
	for _, m := range mismatches {
		slog.Error("fold mismatch", "table", m.Ref.Table, "key", m.Ref.Key, "diff", m.Diff)
	}
	return mismatches, nil
}

func (e *Engine) verifyKey(ctx context.Context, ref ir.RowRef) (string, error) {
	ops, err := e.backend.OperationsForKey(ctx, ref.Table, ref.Key)
	if err != nil {
		return "", NewStorageError("read operations", ref.Table, ref.Key, err)
	}
	ops = e.owned(ops)

	reversed := make([]ir.Operation, len(ops))
	for i, op := range ops {
		reversed[len(ops)-1-i] = op
	}

	forward := fold.Fold(ref.Table, ref.Key, ops, nil, e.gate)
	backward := fold.Fold(ref.Table, ref.Key, reversed, nil, e.gate)
	if diff := cmp.Diff(forward, backward, cmpopts.EquateEmpty()); diff != "" {
		return diff, nil
	}

	if forward.State != fold.StateLive {
		return "", nil
	}
	persisted, err := e.backend.GetRow(ctx, ref.Table, ref.Key)
	if err != nil {
		return "", NewStorageError("read row", ref.Table, ref.Key, err)
	}
	if persisted == nil {
		return "persisted row missing", nil
	}
	return cmp.Diff(forward.Row, *persisted, cmpopts.EquateEmpty()), nil
}
