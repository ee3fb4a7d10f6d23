// Package fold reduces the operation history of one row into its terminal
// state.
//
// Fold is a pure function of (operations, persisted row, transaction gate):
// it performs no I/O, holds no shared state and may run concurrently for the
// same key. Every replica that observes the same operation set computes the
// same Result, whatever the delivery order or duplication.
//
// The state machine:
//
//	Empty   --Insert(owner)-->        Live
//	Live    --Update(covered)-->      Live
//	Live    --Delete(administrator)-> Deleted   (terminal, folding halts)
//
// Every other (state, kind) pairing is a rejection that leaves the state
// unchanged and records a Diagnostic.
package fold

import (
	"github.com/roach88/rowmerge/internal/acl"
	"github.com/roach88/rowmerge/internal/ir"
)

// State is the fold's running state for a key.
type State uint8

const (
	// StateEmpty: no Insert accepted yet.
	StateEmpty State = iota
	// StateLive: the row exists.
	StateLive
	// StateDeleted: the row is tombstoned.
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateDeleted:
		return "deleted"
	default:
		return "empty"
	}
}

// Gate answers transaction visibility questions. Implemented by txgate.Gate.
type Gate interface {
	Visible(op ir.Operation) bool
	Discarded(id, author string) bool
}

// Result is the terminal fold state for a key.
type Result struct {
	Table string
	Key   string
	State State
	// Row is meaningful when State is not StateEmpty.
	Row         ir.Row
	Diagnostics []Diagnostic
	Steps       []Step
	// Duplicates counts operations dropped by (author, sequence).
	Duplicates int
	// Seeded is true when the persisted row stood in for a missing Insert.
	Seeded bool
}

// HasRow reports whether the fold produced a row (live or tombstoned).
func (r Result) HasRow() bool {
	return r.State != StateEmpty
}

// FirstReason returns the first diagnostic reason matching pred.
func (r Result) FirstReason(pred func(Reason) bool) (Reason, bool) {
	for _, d := range r.Diagnostics {
		if pred(d.Reason) {
			return d.Reason, true
		}
	}
	return "", false
}

// Fold computes the terminal state of (table, key) from its operation history.
//
// ops may be in any order and contain duplicates; operations for other rows
// and transaction control operations are ignored. existing is the persisted
// row, or nil. The history is the source of truth: existing only seeds the
// fold when the history holds no Insert from the key's owner, which happens
// when the log has been truncated below the row's creation. A persisted
// tombstone is terminal and is returned as is.
func Fold(table, key string, ops []ir.Operation, existing *ir.Row, gate Gate) Result {
	relevant := make([]ir.Operation, 0, len(ops))
	for _, op := range ops {
		if op.Kind.IsControl() || op.Table != table || op.Key != key {
			continue
		}
		relevant = append(relevant, op)
	}
	history, dups := Dedupe(Sort(relevant))

	if existing != nil && existing.Deleted {
		return Result{
			Table:      table,
			Key:        key,
			State:      StateDeleted,
			Row:        existing.Clone(),
			Duplicates: dups,
			Seeded:     true,
		}
	}

	f := newFolder(table, key, gate)
	f.run(history)

	if f.state == StateEmpty && existing != nil && !hasOwnerInsert(history, f.owner) {
		f = newFolder(table, key, gate)
		f.state = StateLive
		f.row = existing.Clone()
		if f.row.Fields == nil {
			f.row.Fields = ir.Fields{}
		}
		f.seeded = true
		f.run(history)
	}

	return Result{
		Table:       table,
		Key:         key,
		State:       f.state,
		Row:         f.row,
		Diagnostics: f.diags,
		Steps:       f.steps,
		Duplicates:  dups,
		Seeded:      f.seeded,
	}
}

// folder carries the running state of one fold pass.
type folder struct {
	table, key string
	owner      string
	gate       Gate

	state  State
	row    ir.Row
	seeded bool

	diags []Diagnostic
	steps []Step
}

func newFolder(table, key string, gate Gate) *folder {
	return &folder{
		table: table,
		key:   key,
		owner: ir.KeyOwner(key),
		gate:  gate,
	}
}

func (f *folder) run(history []ir.Operation) {
	for _, op := range history {
		if f.state == StateDeleted {
			return
		}
		f.step(op)
	}
}

func (f *folder) record(op ir.Operation, decision string) {
	f.steps = append(f.steps, Step{
		Author:   op.Author,
		Sequence: op.Sequence,
		Kind:     op.Kind,
		Decision: decision,
	})
}

func (f *folder) reject(op ir.Operation, reason Reason, detail string) {
	f.diags = append(f.diags, diagnose(op, reason, detail))
	f.record(op, string(reason))
}

func (f *folder) step(op ir.Operation) {
	if op.TransactionID != "" && !f.gate.Visible(op) {
		if f.gate.Discarded(op.TransactionID, op.Author) {
			f.reject(op, ReasonTransactionDiscarded, "transaction "+op.TransactionID)
			return
		}
		f.reject(op, ReasonAwaitingTransactionCommit, "transaction "+op.TransactionID)
		return
	}

	switch op.Kind {
	case ir.KindInsert:
		f.insert(op)
	case ir.KindUpdate:
		f.update(op)
	case ir.KindDelete:
		f.delete(op)
	}
}

func (f *folder) insert(op ir.Operation) {
	switch f.state {
	case StateEmpty:
		if f.owner == "" || f.owner != op.Author {
			f.reject(op, ReasonInvalidOwner, "key owner "+quoteOwner(f.owner))
			return
		}
		grants := op.Grants
		if len(grants) == 0 {
			grants = acl.DefaultGrants(f.owner)
		}
		fields := op.Fields.Clone()
		if fields == nil {
			fields = ir.Fields{}
		}
		f.row = ir.Row{
			Table:                f.table,
			Key:                  f.key,
			Fields:               fields,
			Permissions:          acl.Encode(grants),
			LastAppliedTimestamp: op.Timestamp,
		}
		f.state = StateLive
		f.record(op, DecisionApplied)
	case StateLive, StateDeleted:
		f.reject(op, ReasonRowAlreadyExists, "")
	}
}

func (f *folder) update(op ir.Operation) {
	switch f.state {
	case StateEmpty:
		f.reject(op, ReasonAwaitingPriorInsertion, "")
	case StateLive:
		perms := acl.Decode(f.row.Permissions)
		if !acl.CanWrite(f.owner, op.Author, perms, op.FieldNames()) {
			f.reject(op, ReasonPermissionDenied, "fields not covered by a grant")
			return
		}

		for name, v := range op.Fields {
			f.row.Fields[name] = v
		}
		if op.Timestamp > f.row.LastAppliedTimestamp {
			f.row.LastAppliedTimestamp = op.Timestamp
		}

		if len(op.Grants) == 0 {
			f.record(op, DecisionApplied)
			return
		}
		if !acl.CanAdminister(f.owner, op.Author, perms) {
			f.diags = append(f.diags, diagnose(op, ReasonPermissionDenied, "grant change ignored"))
			f.record(op, DecisionApplyGrantsDenied)
			return
		}
		f.row.Permissions = acl.Encode(op.Grants)
		f.record(op, DecisionApplied)
	case StateDeleted:
		// Unreachable: folding halts on the first accepted Delete.
	}
}

func (f *folder) delete(op ir.Operation) {
	switch f.state {
	case StateEmpty:
		f.reject(op, ReasonAwaitingPriorInsertion, "")
	case StateLive:
		perms := acl.Decode(f.row.Permissions)
		if !acl.CanAdminister(f.owner, op.Author, perms) {
			f.reject(op, ReasonPermissionDenied, "delete requires owner or wildcard grant")
			return
		}
		f.row.Deleted = true
		if op.Timestamp > f.row.LastAppliedTimestamp {
			f.row.LastAppliedTimestamp = op.Timestamp
		}
		f.state = StateDeleted
		f.record(op, DecisionApplied)
	case StateDeleted:
	}
}

func hasOwnerInsert(history []ir.Operation, owner string) bool {
	for _, op := range history {
		if op.Kind == ir.KindInsert && op.Author == owner {
			return true
		}
	}
	return false
}

func quoteOwner(owner string) string {
	if owner == "" {
		return "<malformed>"
	}
	return owner
}
