package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/rowmerge/internal/engine"
	"github.com/roach88/rowmerge/internal/fold"
	"github.com/roach88/rowmerge/internal/ir"
	"github.com/roach88/rowmerge/internal/memlog"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s seq=%d %s", event.Step, event.Author, event.Seq, event.Kind)
			if event.Table != "" {
				fmt.Fprintf(&buf, " %s/%s", event.Table, event.Key)
			}
			if event.TransactionID != "" {
				fmt.Fprintf(&buf, " tx=%s", event.TransactionID)
			}
			for _, o := range event.Outcomes {
				fmt.Fprintf(&buf, " -> %s/%s %s", o.Table, o.Key, o.Action)
				if o.Reason != "" {
					fmt.Fprintf(&buf, "(%s)", o.Reason)
				}
			}
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// AssertionContext provides what assertions read from.
type AssertionContext struct {
	Ctx    context.Context
	Engine *engine.Engine
	Log    *memlog.Log
	Trace  []TraceEvent
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertRow:
		return assertRow(result, a, actx.Trace)
	case AssertNoRow:
		return assertNoRow(result, a, actx.Trace)
	case AssertOutcome:
		return assertOutcome(actx, a)
	case AssertDiagnostic:
		return assertDiagnostic(actx, a)
	case AssertRowCount:
		return assertRowCount(result, a, actx.Trace)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertRow checks a materialized row. The row must be live unless the
// assertion sets deleted: true. Expect is a subset match.
func assertRow(result *Result, a Assertion, trace []TraceEvent) error {
	ref := ir.RowRef{Table: a.Table, Key: a.Key}
	row := result.Row(a.Table, a.Key)
	if row == nil {
		return &AssertionError{
			Type:     AssertRow,
			Expected: "row " + ref.String(),
			Actual:   "no row",
			Trace:    trace,
		}
	}

	wantDeleted := a.Deleted != nil && *a.Deleted
	if row.Deleted != wantDeleted {
		return &AssertionError{
			Type:     AssertRow,
			Expected: fmt.Sprintf("row %s deleted=%t", ref, wantDeleted),
			Actual:   fmt.Sprintf("deleted=%t", row.Deleted),
			Trace:    trace,
		}
	}

	for name, raw := range a.Expect {
		want, err := ir.ValueOf(raw)
		if err != nil {
			return fmt.Errorf("expect %q: %w", name, err)
		}
		got, ok := row.Fields[name]
		if !ok {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("field %q = %v", name, raw),
				Actual:   fmt.Sprintf("field %q not present (fields: %v)", name, row.Fields.SortedKeys()),
				Trace:    trace,
			}
		}
		if !(ir.Fields{name: want}).Equal(ir.Fields{name: got}) {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("field %q = %v", name, raw),
				Actual:   fmt.Sprintf("field %q = %v", name, ir.Native(got)),
				Trace:    trace,
			}
		}
	}

	for _, name := range a.Absent {
		if got, ok := row.Fields[name]; ok {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("field %q absent", name),
				Actual:   fmt.Sprintf("field %q = %v", name, ir.Native(got)),
				Trace:    trace,
			}
		}
	}

	if a.Permissions != nil && row.Permissions != *a.Permissions {
		return &AssertionError{
			Type:     AssertRow,
			Expected: fmt.Sprintf("permissions %q", *a.Permissions),
			Actual:   fmt.Sprintf("permissions %q", row.Permissions),
			Trace:    trace,
		}
	}
	return nil
}

// assertNoRow checks that nothing, not even a tombstone, is stored.
func assertNoRow(result *Result, a Assertion, trace []TraceEvent) error {
	row := result.Row(a.Table, a.Key)
	if row == nil {
		return nil
	}
	return &AssertionError{
		Type:     AssertNoRow,
		Expected: "no row " + ir.RowRef{Table: a.Table, Key: a.Key}.String(),
		Actual:   fmt.Sprintf("row with fields %v (deleted=%t)", row.Fields.SortedKeys(), row.Deleted),
		Trace:    trace,
	}
}

// assertOutcome merges the key again against the final store. A settled
// key merges to no-change; pending and rejected keys repeat their reason.
func assertOutcome(actx *AssertionContext, a Assertion) error {
	out, err := actx.Engine.Merge(actx.Ctx, a.Table, a.Key)
	if err != nil {
		return err
	}
	if out.Action.String() != a.Action {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("%s for %s/%s", a.Action, a.Table, a.Key),
			Actual:   describeOutcome(out),
			Trace:    actx.Trace,
		}
	}
	if a.Reason != "" && string(out.Reason) != a.Reason {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("%s (%s)", a.Action, a.Reason),
			Actual:   describeOutcome(out),
			Trace:    actx.Trace,
		}
	}
	return nil
}

// assertDiagnostic checks that folding the key records the reason.
func assertDiagnostic(actx *AssertionContext, a Assertion) error {
	res, _, err := actx.Engine.Inspect(actx.Ctx, a.Table, a.Key)
	if err != nil {
		return err
	}

	var seen []string
	for _, d := range res.Diagnostics {
		if string(d.Reason) == a.Reason && (a.Author == "" || d.Author == a.Author) {
			return nil
		}
		seen = append(seen, fmt.Sprintf("%s by %s", d.Reason, d.Author))
	}

	want := a.Reason
	if a.Author != "" {
		want += " by " + a.Author
	}
	actual := "no diagnostics"
	if len(seen) > 0 {
		actual = strings.Join(seen, ", ")
	}
	return &AssertionError{
		Type:     AssertDiagnostic,
		Expected: fmt.Sprintf("diagnostic %s for %s/%s", want, a.Table, a.Key),
		Actual:   actual,
		Trace:    actx.Trace,
	}
}

// assertRowCount counts live rows of a table.
func assertRowCount(result *Result, a Assertion, trace []TraceEvent) error {
	n := 0
	for _, row := range result.Rows {
		if row.Table == a.Table && !row.Deleted {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d live rows in %s", *a.Count, a.Table),
			Actual:   fmt.Sprintf("%d live rows", n),
			Trace:    trace,
		}
	}
	return nil
}

func describeOutcome(out fold.Outcome) string {
	if out.Reason != "" {
		return fmt.Sprintf("%s (%s)", out.Action, out.Reason)
	}
	return out.Action.String()
}
