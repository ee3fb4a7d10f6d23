package fold

import (
	"fmt"

	"github.com/roach88/rowmerge/internal/ir"
)

// Reason classifies why an operation was not applied.
type Reason string

const (
	// ReasonAwaitingTransactionCommit: the operation's transaction has not
	// been committed yet. Recoverable.
	ReasonAwaitingTransactionCommit Reason = "AwaitingTransactionCommit"

	// ReasonAwaitingPriorInsertion: an Update or Delete sorted before any
	// accepted Insert for the key. Recoverable.
	ReasonAwaitingPriorInsertion Reason = "AwaitingPriorInsertion"

	// ReasonPermissionDenied: the author holds no covering grant.
	ReasonPermissionDenied Reason = "PermissionDenied"

	// ReasonRowAlreadyExists: a later Insert for a materialized key.
	ReasonRowAlreadyExists Reason = "RowAlreadyExists"

	// ReasonInvalidOwner: an Insert whose key owner segment is not its author,
	// or whose key is malformed. Never retried.
	ReasonInvalidOwner Reason = "InvalidOwner"

	// ReasonTransactionDiscarded: the operation's transaction was explicitly
	// discarded. Never retried.
	ReasonTransactionDiscarded Reason = "TransactionDiscarded"
)

// Blocking reports whether the reason may resolve once more operations arrive.
func (r Reason) Blocking() bool {
	return r == ReasonAwaitingTransactionCommit || r == ReasonAwaitingPriorInsertion
}

// Permanent reports whether the operation can never be applied.
func (r Reason) Permanent() bool {
	return r == ReasonInvalidOwner || r == ReasonTransactionDiscarded
}

// Diagnostic names an operation that was skipped or partially applied.
type Diagnostic struct {
	Reason      Reason  `json:"reason"`
	OperationID string  `json:"operation_id,omitempty"`
	Author      string  `json:"author"`
	Sequence    int64   `json:"sequence"`
	Kind        ir.Kind `json:"kind"`
	Detail      string  `json:"detail,omitempty"`
}

func (d Diagnostic) String() string {
	s := fmt.Sprintf("%s: %s by %s@%d", d.Reason, d.Kind, d.Author, d.Sequence)
	if d.Detail != "" {
		s += " (" + d.Detail + ")"
	}
	return s
}

func diagnose(op ir.Operation, reason Reason, detail string) Diagnostic {
	return Diagnostic{
		Reason:      reason,
		OperationID: op.ID,
		Author:      op.Author,
		Sequence:    op.Sequence,
		Kind:        op.Kind,
		Detail:      detail,
	}
}

// Step records the decision taken for one operation during a fold.
type Step struct {
	Author   string  `json:"author"`
	Sequence int64   `json:"sequence"`
	Kind     ir.Kind `json:"kind"`
	Decision string  `json:"decision"`
}

// Decisions recorded in a Step besides a Reason.
const (
	DecisionApplied           = "applied"
	DecisionApplyGrantsDenied = "applied-fields-only"
)
