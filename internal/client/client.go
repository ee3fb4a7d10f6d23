// Package client authors operations for one identity.
//
// A Client stamps each operation with the identity's next feed sequence and
// the current time, tags it with the application namespace and submits it.
// It enforces the checks the writer can make locally (a new key must be
// owned by the writer, updates and deletes must name a key); everything
// else, including permissions, is decided by the fold on every replica.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/rowmerge/internal/engine"
	"github.com/roach88/rowmerge/internal/ir"
	"github.com/roach88/rowmerge/internal/keyalloc"
)

// ErrNotOwner is returned when inserting a key owned by another identity.
var ErrNotOwner = errors.New("key is not owned by the writer")

// Submitter appends an operation to the log. Implemented by engine.Engine.
type Submitter interface {
	Submit(ctx context.Context, op ir.Operation) (ir.Operation, bool, error)
}

// SequenceSource reports the last sequence an author wrote.
type SequenceSource interface {
	LastSequence(ctx context.Context, author string) (int64, error)
}

// Client writes operations on behalf of one identity.
// Safe for concurrent use.
type Client struct {
	app      string
	identity string
	sub      Submitter
	alloc    *keyalloc.Allocator
	clock    *engine.Clock
	ids      IDGenerator
	now      func() int64
}

// Option configures a Client.
type Option func(*Client)

// WithIDGenerator sets the transaction id generator.
//
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Client) {
		c.ids = g
	}
}

// WithNow sets the timestamp source, in milliseconds.
//
// Default: wall clock.
func WithNow(now func() int64) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a client for identity in app. The feed sequence resumes after
// the last sequence seqs holds for identity.
func New(ctx context.Context, app, identity string, sub Submitter, seqs SequenceSource, alloc *keyalloc.Allocator, opts ...Option) (*Client, error) {
	if identity == "" {
		return nil, fmt.Errorf("new client: identity is required")
	}
	last, err := seqs.LastSequence(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("new client: resume feed for %s: %w", identity, err)
	}

	c := &Client{
		app:      app,
		identity: identity,
		sub:      sub,
		alloc:    alloc,
		clock:    engine.NewClockAt(last),
		ids:      UUIDv7Generator{},
		now:      func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Identity returns the writer identity.
func (c *Client) Identity() string {
	return c.identity
}

// Sequence returns the last feed sequence the client issued.
func (c *Client) Sequence() int64 {
	return c.clock.Current()
}

// WriteOption adjusts one operation.
type WriteOption func(*ir.Operation)

// WithGrants attaches a grant list. On Insert it replaces the default
// owner-only grant; on Update it replaces the row's grants if the writer
// may administer the row.
func WithGrants(grants ...ir.Permission) WriteOption {
	return func(op *ir.Operation) {
		op.Grants = append([]ir.Permission(nil), grants...)
	}
}

// InTransaction tags the operation with a transaction id.
func InTransaction(txID string) WriteOption {
	return func(op *ir.Operation) {
		op.TransactionID = txID
	}
}

func (c *Client) typeFor(table string) string {
	if table == "" {
		return c.app
	}
	return c.app + "-" + table
}

func (c *Client) write(ctx context.Context, op ir.Operation, opts []WriteOption) (ir.Operation, error) {
	for _, opt := range opts {
		opt(&op)
	}
	op.Author = c.identity
	op.Sequence = c.clock.Next()
	op.Timestamp = c.now()
	op.Type = c.typeFor(op.Table)

	stored, _, err := c.sub.Submit(ctx, op)
	if err != nil {
		return op, err
	}
	return stored, nil
}

// Insert creates a row under a freshly allocated key and returns the
// operation, whose Key is the new key.
func (c *Client) Insert(ctx context.Context, table string, fields ir.Fields, opts ...WriteOption) (ir.Operation, error) {
	if c.alloc == nil {
		return ir.Operation{}, fmt.Errorf("insert into %s: no key allocator configured", table)
	}
	key, err := c.alloc.NextKey(ctx, table, c.identity)
	if err != nil {
		return ir.Operation{}, fmt.Errorf("insert into %s: %w", table, err)
	}
	return c.InsertKey(ctx, table, key, fields, opts...)
}

// InsertKey creates a row under an explicit key, which must be owned by
// the writer.
func (c *Client) InsertKey(ctx context.Context, table, key string, fields ir.Fields, opts ...WriteOption) (ir.Operation, error) {
	if owner := ir.KeyOwner(key); owner != c.identity {
		return ir.Operation{}, fmt.Errorf("insert %s/%s as %s: %w", table, key, c.identity, ErrNotOwner)
	}
	return c.write(ctx, ir.Operation{
		Kind:   ir.KindInsert,
		Table:  table,
		Key:    key,
		Fields: fields.Clone(),
	}, opts)
}

// Update changes fields of an existing row.
func (c *Client) Update(ctx context.Context, table, key string, fields ir.Fields, opts ...WriteOption) (ir.Operation, error) {
	if key == "" {
		return ir.Operation{}, fmt.Errorf("update %s: key is required", table)
	}
	return c.write(ctx, ir.Operation{
		Kind:   ir.KindUpdate,
		Table:  table,
		Key:    key,
		Fields: fields.Clone(),
	}, opts)
}

// Delete tombstones a row.
func (c *Client) Delete(ctx context.Context, table, key string, opts ...WriteOption) (ir.Operation, error) {
	if key == "" {
		return ir.Operation{}, fmt.Errorf("delete from %s: key is required", table)
	}
	return c.write(ctx, ir.Operation{
		Kind:  ir.KindDelete,
		Table: table,
		Key:   key,
	}, opts)
}

// BeginTransaction returns a transaction with a fresh id. Nothing is written
// until the first operation.
func (c *Client) BeginTransaction() *Transaction {
	return &Transaction{ID: c.ids.Generate(), c: c}
}

// CommitTransaction makes every operation this identity tagged with txID
// visible.
func (c *Client) CommitTransaction(ctx context.Context, txID string) (ir.Operation, error) {
	return c.control(ctx, ir.KindCommitTransaction, txID)
}

// DiscardTransaction abandons this identity's part of txID. Its operations
// are never visible again, whether the commit came before or after.
func (c *Client) DiscardTransaction(ctx context.Context, txID string) (ir.Operation, error) {
	return c.control(ctx, ir.KindDiscardTransaction, txID)
}

func (c *Client) control(ctx context.Context, kind ir.Kind, txID string) (ir.Operation, error) {
	if txID == "" {
		return ir.Operation{}, fmt.Errorf("%s: transaction id is required", kind)
	}
	return c.write(ctx, ir.Operation{Kind: kind, TransactionID: txID}, nil)
}
