package harness

import "github.com/roach88/rowmerge/internal/ir"

// OutcomeEvent is one merge triggered by an arrival.
type OutcomeEvent struct {
	Table  string `json:"table"`
	Key    string `json:"key"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// TraceEvent records one delivered operation and the merges it caused.
// A commit can trigger several merges; a duplicate triggers none.
type TraceEvent struct {
	Step          int            `json:"step"`
	Author        string         `json:"author"`
	Seq           int64          `json:"seq"`
	Kind          string         `json:"kind"`
	Table         string         `json:"table,omitempty"`
	Key           string         `json:"key,omitempty"`
	TransactionID string         `json:"tx,omitempty"`
	Duplicate     bool           `json:"duplicate,omitempty"`
	Outcomes      []OutcomeEvent `json:"outcomes"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion and the convergence check held.
	Pass bool `json:"pass"`

	// Trace has one event per delivered operation, in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Rows is the final row store of the primary run, tombstones included,
	// ordered by table then key.
	Rows []ir.Row `json:"rows"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Rows:   []ir.Row{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Row returns the final row for (table, key), or nil.
func (r *Result) Row(table, key string) *ir.Row {
	for i := range r.Rows {
		if r.Rows[i].Table == table && r.Rows[i].Key == key {
			return &r.Rows[i]
		}
	}
	return nil
}
