package ir

import "fmt"

// Kind is the closed set of operation kinds carried by the log.
type Kind string

const (
	// KindInsert creates a row. Accepted at most once per key.
	KindInsert Kind = "Insert"
	// KindUpdate overwrites named fields and optionally replaces the grant list.
	KindUpdate Kind = "Update"
	// KindDelete tombstones a row. Terminal.
	KindDelete Kind = "Del"
	// KindCommitTransaction makes every operation its author tagged with
	// the transaction id visible. Carries no table or key.
	KindCommitTransaction Kind = "CommitTransaction"
	// KindDiscardTransaction permanently blacklists its author's operations
	// under a transaction id, overriding any commit. Carries no table or key.
	KindDiscardTransaction Kind = "DiscardTransaction"
)

// ValidKinds lists every kind the log accepts.
var ValidKinds = map[Kind]bool{
	KindInsert:             true,
	KindUpdate:             true,
	KindDelete:             true,
	KindCommitTransaction:  true,
	KindDiscardTransaction: true,
}

// IsControl reports whether the kind targets a transaction rather than a row.
func (k Kind) IsControl() bool {
	return k == KindCommitTransaction || k == KindDiscardTransaction
}

// ParseKind accepts the wire spelling plus "Delete" as an alias for "Del".
func ParseKind(s string) (Kind, error) {
	if s == "Delete" {
		return KindDelete, nil
	}
	k := Kind(s)
	if !ValidKinds[k] {
		return "", fmt.Errorf("unknown operation kind %q", s)
	}
	return k, nil
}

// Wildcard is the permission scope granting access to every field.
const Wildcard = "*"

// Permission grants an identity write access to some or all fields of a row.
// Fields containing Wildcard means all fields. An empty scope covers nothing.
type Permission struct {
	Identity string   `json:"identity"`
	Fields   []string `json:"fields,omitempty"`
}

// IsWildcard reports whether the permission covers every field.
func (p Permission) IsWildcard() bool {
	for _, f := range p.Fields {
		if f == Wildcard {
			return true
		}
	}
	return false
}

// Operation is one signed, immutable entry in the replicated log.
//
// Author, Sequence and Timestamp come from the author's feed. LogOffset is
// assigned by the local log on append and is only used as the last
// tie-breaker when ordering; it is never part of the content identity.
type Operation struct {
	ID            string       `json:"id"` // Content-addressed hash
	Author        string       `json:"author"`
	Sequence      int64        `json:"sequence"`
	Timestamp     int64        `json:"timestamp"`
	LogOffset     int64        `json:"log_offset"`
	Type          string       `json:"type"` // "<app>-<table>" for row ops, "<app>" for control ops
	Table         string       `json:"table,omitempty"`
	Key           string       `json:"key,omitempty"`
	Kind          Kind         `json:"kind"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Fields        Fields       `json:"fields,omitempty"`
	Grants        []Permission `json:"grants,omitempty"`
}

// FieldNames returns the names touched by the operation in canonical order.
func (op Operation) FieldNames() []string {
	return op.Fields.Names()
}

// Ref returns the row the operation targets.
func (op Operation) Ref() RowRef {
	return RowRef{Table: op.Table, Key: op.Key}
}

// Validate checks the structural shape of an operation before it is appended.
// It does not check ownership or permissions; those are fold decisions.
func (op Operation) Validate() error {
	if op.Author == "" {
		return fmt.Errorf("operation has no author")
	}
	if !ValidKinds[op.Kind] {
		return fmt.Errorf("operation has unknown kind %q", op.Kind)
	}
	if op.Kind.IsControl() {
		if op.TransactionID == "" {
			return fmt.Errorf("%s requires a transaction id", op.Kind)
		}
		if op.Table != "" || op.Key != "" {
			return fmt.Errorf("%s must not target a row", op.Kind)
		}
		return nil
	}
	if op.Table == "" {
		return fmt.Errorf("%s requires a table", op.Kind)
	}
	if op.Key == "" {
		return fmt.Errorf("%s requires a key", op.Kind)
	}
	if op.Kind == KindDelete && len(op.Fields) > 0 {
		return fmt.Errorf("%s must not carry fields", op.Kind)
	}
	return nil
}

// RowRef names a row.
type RowRef struct {
	Table string `json:"table"`
	Key   string `json:"key"`
}

func (r RowRef) String() string {
	return r.Table + "/" + r.Key
}

// Row is the materialized view of a key: a cache of the last fold outcome.
type Row struct {
	Table                string `json:"table"`
	Key                  string `json:"key"`
	Fields               Fields `json:"fields"`
	Deleted              bool   `json:"deleted"`
	Permissions          string `json:"permissions"` // Encoded grant list
	LastAppliedTimestamp int64  `json:"last_applied_timestamp"`
}

// Clone returns a copy whose field map can be mutated independently.
func (r Row) Clone() Row {
	r.Fields = r.Fields.Clone()
	return r
}

// Equal compares every materialized column.
func (r Row) Equal(other Row) bool {
	return r.Table == other.Table &&
		r.Key == other.Key &&
		r.Deleted == other.Deleted &&
		r.Permissions == other.Permissions &&
		r.LastAppliedTimestamp == other.LastAppliedTimestamp &&
		r.Fields.Equal(other.Fields)
}
