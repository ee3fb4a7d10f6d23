package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/rowmerge/internal/ir"
	"github.com/roach88/rowmerge/internal/rowquery"
)

const operationColumns = `log_offset, id, author, sequence, timestamp, type, kind,
	table_name, row_key, transaction_id, fields, grants`

// OperationsForKey returns every operation ever appended for (table, key).
// Ordered by log offset; the fold re-sorts them anyway.
//
// Returns an empty slice (not nil) if no operations exist.
func (s *Store) OperationsForKey(ctx context.Context, table, key string) ([]ir.Operation, error) {
	return s.queryOperations(ctx, "operations for key", `
		SELECT `+operationColumns+`
		FROM operations
		WHERE table_name = ? AND row_key = ?
		ORDER BY log_offset ASC
	`, table, key)
}

// ControlOperations returns every transaction control operation in log order.
func (s *Store) ControlOperations(ctx context.Context) ([]ir.Operation, error) {
	return s.queryOperations(ctx, "control operations", `
		SELECT `+operationColumns+`
		FROM operations
		WHERE kind IN (?, ?)
		ORDER BY log_offset ASC
	`, string(ir.KindCommitTransaction), string(ir.KindDiscardTransaction))
}

// OperationsForTransaction returns the row operations tagged with txID.
func (s *Store) OperationsForTransaction(ctx context.Context, txID string) ([]ir.Operation, error) {
	return s.queryOperations(ctx, "operations for transaction", `
		SELECT `+operationColumns+`
		FROM operations
		WHERE transaction_id = ? AND table_name IS NOT NULL
		ORDER BY log_offset ASC
	`, txID)
}

// OperationsSince returns up to limit operations with log offset > after.
// A limit of zero or less means no limit.
func (s *Store) OperationsSince(ctx context.Context, after int64, limit int) ([]ir.Operation, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means unbounded
	}
	return s.queryOperations(ctx, "operations since", `
		SELECT `+operationColumns+`
		FROM operations
		WHERE log_offset > ?
		ORDER BY log_offset ASC
		LIMIT ?
	`, after, limit)
}

// ReadOperation retrieves a single operation by ID.
// Returns an error wrapping ErrNotFound if absent.
func (s *Store) ReadOperation(ctx context.Context, id string) (ir.Operation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+operationColumns+`
		FROM operations
		WHERE id = ?
	`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Operation{}, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	return op, err
}

// Keys lists every (table, key) referenced by a row operation.
// Ordered by table then key, byte-wise.
func (s *Store) Keys(ctx context.Context) ([]ir.RowRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT table_name, row_key
		FROM operations
		WHERE table_name IS NOT NULL
		ORDER BY table_name COLLATE BINARY ASC, row_key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	refs := []ir.RowRef{}
	for rows.Next() {
		var ref ir.RowRef
		if err := rows.Scan(&ref.Table, &ref.Key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return refs, nil
}

// LastSequence returns the highest sequence appended by author, or 0.
// Used to resume an author's feed after restart.
func (s *Store) LastSequence(ctx context.Context, author string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM operations WHERE author = ?
	`, author).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last sequence for %s: %w", author, err)
	}
	return seq.Int64, nil
}

// CountOperations returns the number of operations in the log.
func (s *Store) CountOperations(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return n, nil
}

func (s *Store) queryOperations(ctx context.Context, what, query string, args ...any) ([]ir.Operation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	defer rows.Close()

	ops := []ir.Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return ops, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(sc scanner) (ir.Operation, error) {
	var (
		op                  ir.Operation
		kind                string
		table, key, txID    sql.NullString
		fieldsJSON, grantsJ sql.NullString
	)
	err := sc.Scan(
		&op.LogOffset,
		&op.ID,
		&op.Author,
		&op.Sequence,
		&op.Timestamp,
		&op.Type,
		&kind,
		&table,
		&key,
		&txID,
		&fieldsJSON,
		&grantsJ,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Operation{}, err
		}
		return ir.Operation{}, fmt.Errorf("scan operation: %w", err)
	}

	op.Kind = ir.Kind(kind)
	op.Table = table.String
	op.Key = key.String
	op.TransactionID = txID.String

	if op.Fields, err = unmarshalFields(fieldsJSON); err != nil {
		return ir.Operation{}, fmt.Errorf("scan operation %s: %w", op.ID, err)
	}
	if op.Grants, err = unmarshalGrants(grantsJ); err != nil {
		return ir.Operation{}, fmt.Errorf("scan operation %s: %w", op.ID, err)
	}
	return op, nil
}

type rowCacheKey struct {
	table, key string
}

// GetRow returns the persisted row for (table, key), or nil if absent.
// Reads go through an LRU cache that ApplyDisposition keeps coherent.
func (s *Store) GetRow(ctx context.Context, table, key string) (*ir.Row, error) {
	ck := rowCacheKey{table: table, key: key}
	if s.rows != nil {
		if v, ok := s.rows.Get(ck); ok {
			row := v.(ir.Row).Clone()
			return &row, nil
		}
	}

	row, err := scanRow(s.db.QueryRowContext(ctx, `
		SELECT table_name, row_key, fields, deleted, permissions, last_timestamp
		FROM rows
		WHERE table_name = ? AND row_key = ?
	`, table, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get row %s/%s: %w", table, key, err)
	}

	if s.rows != nil {
		s.rows.Add(ck, row.Clone())
	}
	return &row, nil
}

// ListRows returns every materialized row of table ordered by key.
// Tombstones are included only when withDeleted is true.
func (s *Store) ListRows(ctx context.Context, table string, withDeleted bool) ([]ir.Row, error) {
	return s.FindRows(ctx, rowquery.Select{Table: table, WithDeleted: withDeleted})
}

// FindRows returns the rows matching q, ordered by key.
func (s *Store) FindRows(ctx context.Context, q rowquery.Select) ([]ir.Row, error) {
	query, params, err := rowquery.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("find rows %s: %w", q.Table, err)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("find rows %s: %w", q.Table, err)
	}
	defer rows.Close()

	out := []ir.Row{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("find rows %s: %w", q.Table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows %s: %w", q.Table, err)
	}
	return out, nil
}

// Tables lists the tables that have materialized rows.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT table_name FROM rows ORDER BY table_name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func scanRow(sc scanner) (ir.Row, error) {
	var (
		row        ir.Row
		fieldsJSON sql.NullString
		deleted    int
	)
	err := sc.Scan(&row.Table, &row.Key, &fieldsJSON, &deleted, &row.Permissions, &row.LastAppliedTimestamp)
	if err != nil {
		return ir.Row{}, err
	}
	row.Deleted = deleted != 0
	row.Fields, err = unmarshalFields(fieldsJSON)
	if err != nil {
		return ir.Row{}, err
	}
	if row.Fields == nil {
		row.Fields = ir.Fields{}
	}
	return row, nil
}

func (s *Store) invalidateRow(table, key string) {
	if s.rows != nil {
		s.rows.Remove(rowCacheKey{table: table, key: key})
	}
}

// LoadReservation returns the persisted allocator mark for (table, identity).
func (s *Store) LoadReservation(ctx context.Context, table, identity string) (int64, bool, error) {
	var mark int64
	err := s.db.QueryRowContext(ctx, `
		SELECT mark FROM sequence_reservations WHERE table_name = ? AND identity = ?
	`, table, identity).Scan(&mark)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load reservation %s/%s: %w", table, identity, err)
	}
	return mark, true, nil
}

// LoadSetting returns a named application setting.
func (s *Store) LoadSetting(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load setting %q: %w", name, err)
	}
	return value, true, nil
}
