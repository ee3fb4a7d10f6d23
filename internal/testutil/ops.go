package testutil

import (
	"github.com/roach88/rowmerge/internal/ir"
)

// DefaultApp is the application namespace used by Feed.
const DefaultApp = "test"

// Feed authors operations for one identity with strictly increasing
// sequence numbers, the way a real author's feed would.
//
// Feed is not safe for concurrent use.
type Feed struct {
	Author string
	App    string
	seq    int64
	clock  *DeterministicClock
}

// NewFeed creates a feed whose first operation has sequence 1.
func NewFeed(author string) *Feed {
	return &Feed{Author: author, App: DefaultApp, clock: NewDeterministicClockAt(1000, 1000)}
}

// At sets the sequence of the next operation.
func (f *Feed) At(seq int64) *Feed {
	f.seq = seq - 1
	return f
}

func (f *Feed) next(op ir.Operation) ir.Operation {
	f.seq++
	op.Author = f.Author
	op.Sequence = f.seq
	op.Timestamp = f.clock.Now()
	if op.Kind.IsControl() {
		op.Type = f.App
	} else {
		op.Type = f.App + "-" + op.Table
	}
	op.ID = ir.MustOperationID(op)
	return op
}

// Insert authors an Insert. Grants are optional.
func (f *Feed) Insert(table, key string, fields map[string]any, grants ...ir.Permission) ir.Operation {
	return f.next(ir.Operation{
		Kind:   ir.KindInsert,
		Table:  table,
		Key:    key,
		Fields: MustFields(fields),
		Grants: grants,
	})
}

// Update authors an Update. Non-empty grants replace the row's grant list.
func (f *Feed) Update(table, key string, fields map[string]any, grants ...ir.Permission) ir.Operation {
	return f.next(ir.Operation{
		Kind:   ir.KindUpdate,
		Table:  table,
		Key:    key,
		Fields: MustFields(fields),
		Grants: grants,
	})
}

// Delete authors a Delete.
func (f *Feed) Delete(table, key string) ir.Operation {
	return f.next(ir.Operation{Kind: ir.KindDelete, Table: table, Key: key})
}

// Commit authors a CommitTransaction.
func (f *Feed) Commit(txID string) ir.Operation {
	return f.next(ir.Operation{Kind: ir.KindCommitTransaction, TransactionID: txID})
}

// Discard authors a DiscardTransaction.
func (f *Feed) Discard(txID string) ir.Operation {
	return f.next(ir.Operation{Kind: ir.KindDiscardTransaction, TransactionID: txID})
}

// InTx tags op with a transaction id and recomputes its ID.
func InTx(txID string, op ir.Operation) ir.Operation {
	op.TransactionID = txID
	op.ID = ir.MustOperationID(op)
	return op
}

// Grant builds a permission entry. No fields means wildcard.
func Grant(identity string, fields ...string) ir.Permission {
	if len(fields) == 0 {
		fields = []string{ir.Wildcard}
	}
	return ir.Permission{Identity: identity, Fields: fields}
}

// MustFields converts a native map to Fields, panicking on unsupported values.
// A nil map yields nil Fields.
func MustFields(m map[string]any) ir.Fields {
	if m == nil {
		return nil
	}
	f, err := ir.FieldsOf(m)
	if err != nil {
		panic(err)
	}
	return f
}

// Reversed returns a reversed copy of ops.
func Reversed(ops []ir.Operation) []ir.Operation {
	out := make([]ir.Operation, len(ops))
	for i, op := range ops {
		out[len(ops)-1-i] = op
	}
	return out
}

// Permutations calls fn with every ordering of ops. Intended for small inputs.
func Permutations(ops []ir.Operation, fn func([]ir.Operation)) {
	work := make([]ir.Operation, len(ops))
	copy(work, ops)
	var permute func(k int)
	permute = func(k int) {
		if k == len(work) {
			snapshot := make([]ir.Operation, len(work))
			copy(snapshot, work)
			fn(snapshot)
			return
		}
		for i := k; i < len(work); i++ {
			work[k], work[i] = work[i], work[k]
			permute(k + 1)
			work[k], work[i] = work[i], work[k]
		}
	}
	permute(0)
}
