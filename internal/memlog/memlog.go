// Package memlog is an in-memory implementation of the log and row store
// collaborators. It backs the scenario harness and unit tests, and
// behaves like internal/store: idempotent appends, log offsets assigned on
// first append, idempotent dispositions and terminal tombstones.
package memlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/roach88/rowmerge/internal/fold"
	"github.com/roach88/rowmerge/internal/ir"
)

// The degree of the operation and row btrees.
const btreeDegree = 16

// opEntry indexes one operation by (table, key, log offset).
type opEntry struct {
	table  string
	key    string
	offset int64
	op     ir.Operation
}

// Less implements the btree.Item interface.
func (a *opEntry) Less(b btree.Item) bool {
	o := b.(*opEntry)
	if a.table != o.table {
		return a.table < o.table
	}
	if a.key != o.key {
		return a.key < o.key
	}
	return a.offset < o.offset
}

// rowEntry holds one materialized row, ordered by (table, key).
type rowEntry struct {
	row ir.Row
}

// Less implements the btree.Item interface.
func (a *rowEntry) Less(b btree.Item) bool {
	o := b.(*rowEntry)
	if a.row.Table != o.row.Table {
		return a.row.Table < o.row.Table
	}
	return a.row.Key < o.row.Key
}

// Log is a thread-safe in-memory operation log plus row store.
type Log struct {
	mu sync.RWMutex

	byID    map[string]int64 // id -> log offset
	ordered []ir.Operation   // index i holds log offset i+1
	byRow   *btree.BTree     // *opEntry
	rows    *btree.BTree     // *rowEntry
	marks   map[[2]string]int64
}

// New creates an empty log.
func New() *Log {
	return &Log{
		byID:  make(map[string]int64),
		byRow: btree.New(btreeDegree),
		rows:  btree.New(btreeDegree),
		marks: make(map[[2]string]int64),
	}
}

// Append adds op to the log. Returns the stored operation and whether it was
// new; appending the same content twice returns the original offset.
func (l *Log) Append(_ context.Context, op ir.Operation) (ir.Operation, bool, error) {
	if err := op.Validate(); err != nil {
		return op, false, fmt.Errorf("append: %w", err)
	}
	op, err := ir.WithID(op)
	if err != nil {
		return op, false, fmt.Errorf("append: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if offset, ok := l.byID[op.ID]; ok {
		return l.ordered[offset-1], false, nil
	}

	op.LogOffset = int64(len(l.ordered)) + 1
	op.Fields = op.Fields.Clone()
	l.ordered = append(l.ordered, op)
	l.byID[op.ID] = op.LogOffset
	if !op.Kind.IsControl() {
		l.byRow.ReplaceOrInsert(&opEntry{table: op.Table, key: op.Key, offset: op.LogOffset, op: op})
	}
	return op, true, nil
}

// OperationsForKey returns every operation for (table, key) in log order.
func (l *Log) OperationsForKey(_ context.Context, table, key string) ([]ir.Operation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []ir.Operation{}
	start := &opEntry{table: table, key: key, offset: 0}
	l.byRow.AscendGreaterOrEqual(start, func(i btree.Item) bool {
		e := i.(*opEntry)
		if e.table != table || e.key != key {
			return false
		}
		out = append(out, e.op)
		return true
	})
	return out, nil
}

// ControlOperations returns every transaction control operation in log order.
func (l *Log) ControlOperations(_ context.Context) ([]ir.Operation, error) {
	return l.filter(func(op ir.Operation) bool { return op.Kind.IsControl() }), nil
}

// OperationsForTransaction returns the row operations tagged with txID.
func (l *Log) OperationsForTransaction(_ context.Context, txID string) ([]ir.Operation, error) {
	return l.filter(func(op ir.Operation) bool {
		return op.TransactionID == txID && !op.Kind.IsControl()
	}), nil
}

// OperationsSince returns up to limit operations with log offset > after.
func (l *Log) OperationsSince(_ context.Context, after int64, limit int) ([]ir.Operation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if after < 0 {
		after = 0
	}
	if after >= int64(len(l.ordered)) {
		return []ir.Operation{}, nil
	}
	tail := l.ordered[after:]
	if limit > 0 && limit < len(tail) {
		tail = tail[:limit]
	}
	out := make([]ir.Operation, len(tail))
	copy(out, tail)
	return out, nil
}

func (l *Log) filter(pred func(ir.Operation) bool) []ir.Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []ir.Operation{}
	for _, op := range l.ordered {
		if pred(op) {
			out = append(out, op)
		}
	}
	return out
}

// Keys lists every (table, key) with at least one row operation.
func (l *Log) Keys(_ context.Context) ([]ir.RowRef, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	refs := []ir.RowRef{}
	l.byRow.Ascend(func(i btree.Item) bool {
		e := i.(*opEntry)
		if n := len(refs); n == 0 || refs[n-1].Table != e.table || refs[n-1].Key != e.key {
			refs = append(refs, ir.RowRef{Table: e.table, Key: e.key})
		}
		return true
	})
	return refs, nil
}

// LastSequence returns the highest sequence appended by author, or 0.
func (l *Log) LastSequence(_ context.Context, author string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var last int64
	for _, op := range l.ordered {
		if op.Author == author && op.Sequence > last {
			last = op.Sequence
		}
	}
	return last, nil
}

// Len returns the number of operations in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ordered)
}

// GetRow returns a copy of the persisted row, or nil.
func (l *Log) GetRow(_ context.Context, table, key string) (*ir.Row, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	item := l.rows.Get(&rowEntry{row: ir.Row{Table: table, Key: key}})
	if item == nil {
		return nil, nil
	}
	row := item.(*rowEntry).row.Clone()
	return &row, nil
}

// ApplyDisposition writes an outcome. Idempotent; never resurrects or
// withdraws a tombstone.
func (l *Log) ApplyDisposition(_ context.Context, table, key string, out fold.Outcome) error {
	if !out.IsApply() {
		return nil
	}

	row := out.Row.Clone()
	row.Table = table
	row.Key = key
	if out.Action == fold.ActionDelete {
		row.Deleted = true
	}
	if row.Fields == nil {
		row.Fields = ir.Fields{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if item := l.rows.Get(&rowEntry{row: row}); item != nil && item.(*rowEntry).row.Deleted {
		return nil
	}
	if out.Action == fold.ActionWithdraw {
		l.rows.Delete(&rowEntry{row: row})
		return nil
	}
	l.rows.ReplaceOrInsert(&rowEntry{row: row})
	return nil
}

// ResetRows drops every materialized row.
func (l *Log) ResetRows(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows.Clear(false)
	return nil
}

// ListRows returns the rows of table ordered by key.
func (l *Log) ListRows(_ context.Context, table string, withDeleted bool) ([]ir.Row, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []ir.Row{}
	l.rows.AscendGreaterOrEqual(&rowEntry{row: ir.Row{Table: table}}, func(i btree.Item) bool {
		e := i.(*rowEntry)
		if e.row.Table != table {
			return false
		}
		if withDeleted || !e.row.Deleted {
			out = append(out, e.row.Clone())
		}
		return true
	})
	return out, nil
}

// LoadReservation implements keyalloc.ReservationStore.
func (l *Log) LoadReservation(_ context.Context, table, identity string) (int64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	mark, ok := l.marks[[2]string{table, identity}]
	return mark, ok, nil
}

// SaveReservation implements keyalloc.ReservationStore. Marks only grow.
func (l *Log) SaveReservation(_ context.Context, table, identity string, mark int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := [2]string{table, identity}
	if mark > l.marks[k] {
		l.marks[k] = mark
	}
	return nil
}
