package store

import (
	"context"
	"fmt"

	"github.com/roach88/rowmerge/internal/fold"
	"github.com/roach88/rowmerge/internal/ir"
)

// Append adds an operation to the local log.
// Returns the stored operation (ID and LogOffset filled in) and whether a new
// record was inserted.
//
// Uses ON CONFLICT(id) DO NOTHING for idempotency. If the operation already
// exists, the existing log offset is returned with inserted=false.
func (s *Store) Append(ctx context.Context, op ir.Operation) (stored ir.Operation, inserted bool, err error) {
	if err := op.Validate(); err != nil {
		return op, false, fmt.Errorf("append: %w", err)
	}
	op, err = ir.WithID(op)
	if err != nil {
		return op, false, fmt.Errorf("append: %w", err)
	}

	fieldsJSON, err := marshalFields(op.Fields)
	if err != nil {
		return op, false, fmt.Errorf("append: %w", err)
	}
	grantsJSON, err := marshalGrants(op.Grants)
	if err != nil {
		return op, false, fmt.Errorf("append: %w", err)
	}

	// Insert-or-select must be atomic
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return op, false, fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO operations
		(id, author, sequence, timestamp, type, kind, table_name, row_key, transaction_id, fields, grants)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		op.ID,
		op.Author,
		op.Sequence,
		op.Timestamp,
		op.Type,
		string(op.Kind),
		nullString(op.Table),
		nullString(op.Key),
		nullString(op.TransactionID),
		fieldsJSON,
		grantsJSON,
	)
	if err != nil {
		return op, false, fmt.Errorf("append: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return op, false, fmt.Errorf("append: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		op.LogOffset, err = result.LastInsertId()
		if err != nil {
			return op, false, fmt.Errorf("append: last insert id: %w", err)
		}
		inserted = true
	} else {
		err = tx.QueryRowContext(ctx, `SELECT log_offset FROM operations WHERE id = ?`, op.ID).Scan(&op.LogOffset)
		if err != nil {
			return op, false, fmt.Errorf("append: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return op, false, fmt.Errorf("append: commit: %w", err)
	}

	return op, inserted, nil
}

// ApplyDisposition writes a merge outcome to the rows table.
//
// Insert, Update and Delete all upsert the full row, so applying the same
// outcome twice leaves the table unchanged. A tombstoned row is never
// overwritten: once deleted = 1 the conflict clause matches nothing.
// Withdraw removes a live row. Pending, Rejected and NoChange outcomes are
// no-ops.
func (s *Store) ApplyDisposition(ctx context.Context, table, key string, out fold.Outcome) error {
	if !out.IsApply() {
		return nil
	}
	if out.Action == fold.ActionWithdraw {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM rows WHERE table_name = ? AND row_key = ? AND deleted = 0`,
			table, key,
		); err != nil {
			return fmt.Errorf("apply %s %s/%s: %w", out.Action, table, key, err)
		}
		s.invalidateRow(table, key)
		return nil
	}

	row := out.Row
	row.Table = table
	row.Key = key
	if out.Action == fold.ActionDelete {
		row.Deleted = true
	}
	if row.Fields == nil {
		row.Fields = ir.Fields{}
	}

	fieldsJSON, err := marshalFields(row.Fields)
	if err != nil {
		return fmt.Errorf("apply %s %s/%s: %w", out.Action, table, key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rows (table_name, row_key, fields, deleted, permissions, last_timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, row_key) DO UPDATE SET
			fields = excluded.fields,
			deleted = excluded.deleted,
			permissions = excluded.permissions,
			last_timestamp = excluded.last_timestamp
		WHERE rows.deleted = 0
	`,
		table,
		key,
		fieldsJSON.String,
		boolToInt(row.Deleted),
		row.Permissions,
		row.LastAppliedTimestamp,
	)
	if err != nil {
		return fmt.Errorf("apply %s %s/%s: %w", out.Action, table, key, err)
	}

	s.invalidateRow(table, key)
	return nil
}

// ResetRows deletes every materialized row. The log is untouched, so a
// replay rebuilds the same rows.
func (s *Store) ResetRows(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rows`); err != nil {
		return fmt.Errorf("reset rows: %w", err)
	}
	if s.rows != nil {
		s.rows.Purge()
	}
	return nil
}

// SaveReservation persists an allocator high-water mark.
// Marks only grow: a smaller mark never replaces a larger one.
func (s *Store) SaveReservation(ctx context.Context, table, identity string, mark int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequence_reservations (table_name, identity, mark)
		VALUES (?, ?, ?)
		ON CONFLICT(table_name, identity) DO UPDATE SET
			mark = MAX(sequence_reservations.mark, excluded.mark)
	`, table, identity, mark)
	if err != nil {
		return fmt.Errorf("save reservation %s/%s: %w", table, identity, err)
	}
	return nil
}

// SaveSetting stores a named application setting, replacing any previous value.
func (s *Store) SaveSetting(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, name, value)
	if err != nil {
		return fmt.Errorf("save setting %q: %w", name, err)
	}
	return nil
}
