package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/rowmerge/internal/ir"
)

// OperationView is the printable form of an appended operation.
type OperationView struct {
	ID            string `json:"id"`
	Author        string `json:"author"`
	Sequence      int64  `json:"sequence"`
	Kind          string `json:"kind"`
	Table         string `json:"table,omitempty"`
	Key           string `json:"key,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}

func viewOperation(op ir.Operation) OperationView {
	return OperationView{
		ID:            op.ID,
		Author:        op.Author,
		Sequence:      op.Sequence,
		Kind:          string(op.Kind),
		Table:         op.Table,
		Key:           op.Key,
		TransactionID: op.TransactionID,
	}
}

// RowView is the printable form of a row.
type RowView struct {
	Table       string         `json:"table"`
	Key         string         `json:"key"`
	Fields      map[string]any `json:"fields"`
	Permissions string         `json:"permissions"`
	Timestamp   int64          `json:"timestamp"`
	Deleted     bool           `json:"deleted,omitempty"`
}

func viewRow(row ir.Row) RowView {
	fields := make(map[string]any, len(row.Fields))
	for name, v := range row.Fields {
		fields[name] = ir.Native(v)
	}
	return RowView{
		Table:       row.Table,
		Key:         row.Key,
		Fields:      fields,
		Permissions: row.Permissions,
		Timestamp:   row.LastAppliedTimestamp,
		Deleted:     row.Deleted,
	}
}

// writeRowText prints a row as "table/key {a=1 b=x} [perms]".
func writeRowText(w io.Writer, row ir.Row) {
	parts := make([]string, 0, len(row.Fields))
	for _, name := range row.Fields.SortedKeys() {
		raw, _ := ir.MarshalValue(row.Fields[name])
		parts = append(parts, name+"="+string(raw))
	}
	status := ""
	if row.Deleted {
		status = " (deleted)"
	}
	fmt.Fprintf(w, "%s/%s {%s} [%s]%s\n", row.Table, row.Key, strings.Join(parts, " "), row.Permissions, status)
}

func writeMergesText(w io.Writer, merges []MergeResult) {
	for _, m := range merges {
		if m.Reason != "" {
			fmt.Fprintf(w, "  %s/%s: %s (%s)\n", m.Table, m.Key, m.Action, m.Reason)
			continue
		}
		fmt.Fprintf(w, "  %s/%s: %s\n", m.Table, m.Key, m.Action)
	}
}
