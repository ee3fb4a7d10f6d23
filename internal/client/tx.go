package client

import (
	"context"

	"github.com/roach88/rowmerge/internal/ir"
)

// Transaction groups operations that become visible together.
type Transaction struct {
	ID string
	c  *Client
}

// Insert creates a row inside the transaction.
func (t *Transaction) Insert(ctx context.Context, table string, fields ir.Fields, opts ...WriteOption) (ir.Operation, error) {
	return t.c.Insert(ctx, table, fields, append(opts, InTransaction(t.ID))...)
}

// Update changes a row inside the transaction.
func (t *Transaction) Update(ctx context.Context, table, key string, fields ir.Fields, opts ...WriteOption) (ir.Operation, error) {
	return t.c.Update(ctx, table, key, fields, append(opts, InTransaction(t.ID))...)
}

// Delete tombstones a row inside the transaction.
func (t *Transaction) Delete(ctx context.Context, table, key string, opts ...WriteOption) (ir.Operation, error) {
	return t.c.Delete(ctx, table, key, append(opts, InTransaction(t.ID))...)
}

// Commit appends the CommitTransaction operation.
func (t *Transaction) Commit(ctx context.Context) (ir.Operation, error) {
	return t.c.CommitTransaction(ctx, t.ID)
}

// Discard appends the DiscardTransaction operation.
func (t *Transaction) Discard(ctx context.Context) (ir.Operation, error) {
	return t.c.DiscardTransaction(ctx, t.ID)
}
