package fold

import "github.com/roach88/rowmerge/internal/ir"

// Action is the instruction handed to the persistence layer.
type Action uint8

const (
	// ActionNoChange: the persisted row already reflects the fold.
	ActionNoChange Action = iota
	// ActionInsert: materialize a new row.
	ActionInsert
	// ActionUpdate: overwrite the persisted row.
	ActionUpdate
	// ActionDelete: tombstone the key.
	ActionDelete
	// ActionPending: nothing to materialize yet; re-merge when more
	// operations for the key arrive.
	ActionPending
	// ActionRejected: nothing will ever materialize from the current history.
	ActionRejected
	// ActionWithdraw: remove a persisted row whose creating Insert is no
	// longer visible, because its transaction was discarded after commit.
	ActionWithdraw
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionPending:
		return "pending"
	case ActionRejected:
		return "rejected"
	case ActionWithdraw:
		return "withdraw"
	default:
		return "no-change"
	}
}

// Outcome is the disposition of one merge.
type Outcome struct {
	Action Action
	// Row is the row to write for Insert, Update and Delete. For Delete it is
	// the tombstone.
	Row ir.Row
	// Reason is set for Pending, Rejected and Withdraw.
	Reason      Reason
	Diagnostics []Diagnostic
}

// IsApply reports whether the outcome instructs a write.
func (o Outcome) IsApply() bool {
	switch o.Action {
	case ActionInsert, ActionUpdate, ActionDelete, ActionWithdraw:
		return true
	}
	return false
}

// Translate maps a fold result and the persisted row (nil if absent) to an
// Outcome. A Deleted result for a key that was never persisted still yields
// a Delete so the tombstone is stored and the key is never reused. An Empty
// result over a live persisted row yields a Withdraw.
func Translate(r Result, existing *ir.Row) Outcome {
	out := Outcome{Diagnostics: r.Diagnostics}

	switch r.State {
	case StateLive:
		switch {
		case existing == nil:
			out.Action = ActionInsert
			out.Row = r.Row
		case existing.Equal(r.Row):
			out.Action = ActionNoChange
		default:
			out.Action = ActionUpdate
			out.Row = r.Row
		}
	case StateDeleted:
		if existing != nil && existing.Deleted {
			out.Action = ActionNoChange
			return out
		}
		out.Action = ActionDelete
		out.Row = r.Row
		out.Row.Deleted = true
	case StateEmpty:
		if existing != nil && !existing.Deleted {
			out.Action = ActionWithdraw
			out.Row = existing.Clone()
			if reason, ok := r.FirstReason(Reason.Permanent); ok {
				out.Reason = reason
			} else if reason, ok := r.FirstReason(Reason.Blocking); ok {
				out.Reason = reason
			}
			return out
		}
		if reason, ok := r.FirstReason(Reason.Blocking); ok {
			out.Action = ActionPending
			out.Reason = reason
			return out
		}
		if reason, ok := r.FirstReason(Reason.Permanent); ok {
			out.Action = ActionRejected
			out.Reason = reason
			return out
		}
		out.Action = ActionNoChange
	}
	return out
}
