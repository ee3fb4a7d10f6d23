// Package txgate decides whether a transactional operation is visible.
//
// A transaction in the log is only a correlation tag: operations carrying a
// transaction id stay invisible until a CommitTransaction control operation
// for that id is observed. A transaction that is never committed stays
// invisible forever, which is how an abandoned transaction aborts.
//
// Control operations are scoped to their author. A commit or discard issued
// by A governs only A's operations under that id, so no identity can release
// or abort another author's writes. A transaction written by several authors
// becomes visible one author at a time, as each commits its own part.
//
// DiscardTransaction is an explicit abort and always wins: once any discard
// from an author is observed for an id, that author's operations under it are
// never visible, whatever commits exist. The status of an (id, author) pair is
// therefore a function of the set of control operations observed, not of the
// order they arrived in.
package txgate

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/roach88/rowmerge/internal/ir"
)

// Status is the resolution of a transaction id.
type Status uint8

const (
	// StatusOpen means no control operation has been observed yet.
	StatusOpen Status = iota
	// StatusCommitted means the transaction's operations are visible.
	StatusCommitted
	// StatusDiscarded means the transaction's operations never become visible.
	StatusDiscarded
)

func (s Status) String() string {
	switch s {
	case StatusCommitted:
		return "committed"
	case StatusDiscarded:
		return "discarded"
	default:
		return "open"
	}
}

const shardCount = 16

type txKey struct {
	id, author string
}

type shard struct {
	mu     sync.RWMutex
	status map[txKey]Status
}

// Gate holds the resolution of every (transaction id, author) pair observed.
// Safe for concurrent use; each id is guarded by its shard lock only.
type Gate struct {
	shards [shardCount]shard
}

// New creates an empty gate.
func New() *Gate {
	g := &Gate{}
	for i := range g.shards {
		g.shards[i].status = make(map[txKey]Status)
	}
	return g
}

func (g *Gate) shardFor(id string) *shard {
	return &g.shards[xxhash.Sum64String(id)%shardCount]
}

// resolve folds one control operation into the pair's status.
// A discard overrides anything; a commit only resolves an open pair.
// Returns true if this call changed the pair's status.
func (g *Gate) resolve(k txKey, status Status) bool {
	s := g.shardFor(k.id)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.status[k]
	if cur == StatusDiscarded || (status == StatusCommitted && cur != StatusOpen) {
		return false
	}
	s.status[k] = status
	return true
}

// Commit marks author's operations under id committed.
// Returns false if the pair was already resolved.
func (g *Gate) Commit(id, author string) bool {
	return g.resolve(txKey{id, author}, StatusCommitted)
}

// Discard blacklists author's operations under id, even if already committed.
// Returns false if the pair was already discarded.
func (g *Gate) Discard(id, author string) bool {
	return g.resolve(txKey{id, author}, StatusDiscarded)
}

// Status returns the current resolution of author's part of id.
func (g *Gate) Status(id, author string) Status {
	s := g.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[txKey{id, author}]
}

// Committed reports whether author has committed id.
func (g *Gate) Committed(id, author string) bool {
	return g.Status(id, author) == StatusCommitted
}

// Discarded reports whether author has discarded id.
func (g *Gate) Discarded(id, author string) bool {
	return g.Status(id, author) == StatusDiscarded
}

// Visible reports whether op may take part in a fold: it carries no
// transaction id, or its author has committed that transaction.
func (g *Gate) Visible(op ir.Operation) bool {
	return op.TransactionID == "" || g.Committed(op.TransactionID, op.Author)
}

// Observe feeds one log operation to the gate. Row operations are ignored.
// Returns true if the operation changed a transaction's status.
func (g *Gate) Observe(op ir.Operation) bool {
	switch op.Kind {
	case ir.KindCommitTransaction:
		return g.Commit(op.TransactionID, op.Author)
	case ir.KindDiscardTransaction:
		return g.Discard(op.TransactionID, op.Author)
	default:
		return false
	}
}

// ControlSource lists the control operations recorded in a log,
// in log order.
type ControlSource interface {
	ControlOperations(ctx context.Context) ([]ir.Operation, error)
}

// Load replays every control operation from src into the gate.
func (g *Gate) Load(ctx context.Context, src ControlSource) error {
	ops, err := src.ControlOperations(ctx)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	for _, op := range ops {
		g.Observe(op)
	}
	return nil
}

// Len returns the number of resolved (transaction id, author) pairs.
func (g *Gate) Len() int {
	n := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.RLock()
		n += len(s.status)
		s.mu.RUnlock()
	}
	return n
}
