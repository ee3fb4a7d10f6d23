package harness

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/roach88/rowmerge/internal/engine"
	"github.com/roach88/rowmerge/internal/fold"
	"github.com/roach88/rowmerge/internal/ir"
	"github.com/roach88/rowmerge/internal/memlog"
)

// run is one engine over a fresh in-memory log.
type run struct {
	log      *memlog.Log
	engine   *engine.Engine
	outcomes []OutcomeEvent
}

func newRun(ctx context.Context, app string) (*run, error) {
	r := &run{log: memlog.New()}
	eng, err := engine.New(ctx, r.log,
		engine.WithApp(app),
		engine.WithReplayWorkers(1),
		engine.WithHook(r.observe),
	)
	if err != nil {
		return nil, err
	}
	r.engine = eng
	return r, nil
}

// observe collects outcomes. Drain runs in the caller's goroutine, so no
// locking is needed.
func (r *run) observe(ref ir.RowRef, out fold.Outcome) {
	r.outcomes = append(r.outcomes, OutcomeEvent{
		Table:  ref.Table,
		Key:    ref.Key,
		Action: out.Action.String(),
		Reason: string(out.Reason),
	})
}

// deliver submits op and merges everything it triggers.
func (r *run) deliver(ctx context.Context, op ir.Operation) (bool, []OutcomeEvent, error) {
	r.outcomes = nil
	_, inserted, err := r.engine.Submit(ctx, op)
	if err != nil {
		return false, nil, err
	}
	r.engine.Drain(ctx)
	outcomes := r.outcomes
	if outcomes == nil {
		outcomes = []OutcomeEvent{}
	}
	return inserted, outcomes, nil
}

// rows lists every persisted row, tombstones included.
func (r *run) rows(ctx context.Context) ([]ir.Row, error) {
	refs, err := r.log.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, ref := range refs {
		if n := len(tables); n == 0 || tables[n-1] != ref.Table {
			tables = append(tables, ref.Table)
		}
	}

	out := []ir.Row{}
	for _, table := range tables {
		rows, err := r.log.ListRows(ctx, table, true)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory logs, so scenarios are
// isolated and deterministic. Execution flow:
//  1. Build the operations from the steps
//  2. Deliver them one at a time, recording the trace
//  3. Evaluate assertions against the primary run
//  4. Check convergence unless the scenario opts out
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	ops, err := buildOperations(scenario)
	if err != nil {
		return nil, err
	}

	primary, err := newRun(ctx, scenario.App)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	result := NewResult()
	for i, op := range ops {
		inserted, outcomes, err := primary.deliver(ctx, op)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		result.Trace = append(result.Trace, TraceEvent{
			Step:          i + 1,
			Author:        op.Author,
			Seq:           op.Sequence,
			Kind:          string(op.Kind),
			Table:         op.Table,
			Key:           op.Key,
			TransactionID: op.TransactionID,
			Duplicate:     !inserted,
			Outcomes:      outcomes,
		})
	}

	rows, err := primary.rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	result.Rows = rows

	actx := &AssertionContext{
		Ctx:    ctx,
		Engine: primary.engine,
		Log:    primary.log,
		Trace:  result.Trace,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	msgs, err := checkConvergence(ctx, scenario.App, primary, ops)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		result.AddError(msg)
	}

	return result, nil
}

// checkConvergence rebuilds the primary run from its log and compares the
// rebuild with its live rows and with runs that received the operations in
// other orders. Must run after assertions: the rebuild rewrites the rows.
func checkConvergence(ctx context.Context, app string, primary *run, ops []ir.Operation) ([]string, error) {
	live, err := primary.rows(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := primary.engine.Replay(ctx); err != nil {
		return nil, fmt.Errorf("failed to rebuild rows: %w", err)
	}
	rebuilt, err := primary.rows(ctx)
	if err != nil {
		return nil, err
	}

	var msgs []string
	if diff := cmp.Diff(rebuilt, live, cmpopts.EquateEmpty()); diff != "" {
		msgs = append(msgs, "convergence: live rows differ from rebuild (-rebuilt +live):\n"+diff)
	}

	reversed := make([]ir.Operation, len(ops))
	for i, op := range ops {
		reversed[len(ops)-1-i] = op
	}
	doubled := make([]ir.Operation, 0, 2*len(ops))
	for _, op := range ops {
		doubled = append(doubled, op, op)
	}
	doubled = append(doubled, reversed...)

	variants := []struct {
		name string
		ops  []ir.Operation
	}{
		{"reversed", reversed},
		{"duplicated", doubled},
	}
	for _, v := range variants {
		got, err := replayVariant(ctx, app, v.ops)
		if err != nil {
			return nil, fmt.Errorf("%s delivery: %w", v.name, err)
		}
		if diff := cmp.Diff(rebuilt, got, cmpopts.EquateEmpty()); diff != "" {
			msgs = append(msgs, fmt.Sprintf("convergence: %s delivery differs (-expected +%s):\n%s", v.name, v.name, diff))
		}
	}
	return msgs, nil
}

func replayVariant(ctx context.Context, app string, ops []ir.Operation) ([]ir.Row, error) {
	r, err := newRun(ctx, app)
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		if _, _, err := r.deliver(ctx, op); err != nil {
			return nil, err
		}
	}
	if _, err := r.engine.Replay(ctx); err != nil {
		return nil, err
	}
	return r.rows(ctx)
}

// buildOperations converts steps to operations. Sequences default to one
// past the author's previous step and timestamps to 1000 times the step's
// position.
func buildOperations(s *Scenario) ([]ir.Operation, error) {
	lastSeq := make(map[string]int64)
	ops := make([]ir.Operation, 0, len(s.Operations))

	for i, step := range s.Operations {
		kind, err := ir.ParseKind(step.Kind)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}

		seq := step.Seq
		if seq == 0 {
			seq = lastSeq[step.Author] + 1
		}
		if seq > lastSeq[step.Author] {
			lastSeq[step.Author] = seq
		}

		ts := step.Timestamp
		if ts == 0 {
			ts = int64(1000 * (i + 1))
		}

		op := ir.Operation{
			Author:        step.Author,
			Sequence:      seq,
			Timestamp:     ts,
			Type:          step.Type,
			Kind:          kind,
			TransactionID: step.Tx,
		}
		if op.Type == "" {
			op.Type = s.App
		}
		if !kind.IsControl() {
			op.Table = step.Table
			op.Key = step.Key
			if step.Type == "" {
				op.Type = s.App + "-" + step.Table
			}
		}

		if step.Fields != nil {
			fields, err := ir.FieldsOf(step.Fields)
			if err != nil {
				return nil, fmt.Errorf("operation %d: fields: %w", i, err)
			}
			op.Fields = fields
		}
		for _, g := range step.Grants {
			op.Grants = append(op.Grants, ir.Permission{Identity: g.Identity, Fields: g.Fields})
		}

		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
