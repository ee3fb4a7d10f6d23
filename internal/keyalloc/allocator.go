// Package keyalloc issues row keys of the form "<rowSequence>_<ownerIdentity>".
//
// Sequences are per (table, identity) and strictly increasing. Persisting
// every issued number would cost a write per insert, so the allocator
// reserves numbers in blocks: it persists a high-water mark covering the next
// Window numbers and hands them out from memory. After a restart it resumes
// strictly above the persisted mark, so a crash can skip numbers but never
// reuses one.
package keyalloc

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/rowmerge/internal/ir"
)

// DefaultWindow is the number of sequences reserved per persisted mark.
const DefaultWindow = 100

// ReservationStore persists the high-water mark for each counter.
type ReservationStore interface {
	// LoadReservation returns the persisted mark; found is false if the
	// counter has never been used.
	LoadReservation(ctx context.Context, table, identity string) (mark int64, found bool, err error)
	// SaveReservation persists a new mark. Marks only grow.
	SaveReservation(ctx context.Context, table, identity string, mark int64) error
}

type counterKey struct {
	table    string
	identity string
}

type counter struct {
	mu      sync.Mutex
	loaded  bool
	current int64 // last issued
	mark    int64 // highest number covered by the persisted reservation
}

// Allocator issues keys. Safe for concurrent use; each counter has its own
// lock, so allocation for different tables or identities never contends.
type Allocator struct {
	store  ReservationStore
	window int64

	mu       sync.Mutex
	counters map[counterKey]*counter
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithWindow sets the reservation block size. Values below 1 are ignored.
func WithWindow(n int) Option {
	return func(a *Allocator) {
		if n >= 1 {
			a.window = int64(n)
		}
	}
}

// New creates an allocator backed by store.
func New(store ReservationStore, opts ...Option) *Allocator {
	a := &Allocator{
		store:    store,
		window:   DefaultWindow,
		counters: make(map[counterKey]*counter),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Window returns the reservation block size.
func (a *Allocator) Window() int {
	return int(a.window)
}

func (a *Allocator) counterFor(table, identity string) *counter {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := counterKey{table: table, identity: identity}
	c, ok := a.counters[k]
	if !ok {
		c = &counter{}
		a.counters[k] = c
	}
	return c
}

// NextSequence returns the next row sequence for (table, identity).
func (a *Allocator) NextSequence(ctx context.Context, table, identity string) (int64, error) {
	if table == "" || identity == "" {
		return 0, fmt.Errorf("next sequence: table and identity are required")
	}

	c := a.counterFor(table, identity)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		mark, _, err := a.store.LoadReservation(ctx, table, identity)
		if err != nil {
			return 0, fmt.Errorf("next sequence %s/%s: load reservation: %w", table, identity, err)
		}
		c.current = mark
		c.mark = mark
		c.loaded = true
	}

	next := c.current + 1
	if next > c.mark {
		mark := next + a.window - 1
		if err := a.store.SaveReservation(ctx, table, identity, mark); err != nil {
			return 0, fmt.Errorf("next sequence %s/%s: save reservation: %w", table, identity, err)
		}
		c.mark = mark
	}
	c.current = next
	return next, nil
}

// NextKey returns a fresh primary key owned by identity.
func (a *Allocator) NextKey(ctx context.Context, table, identity string) (string, error) {
	seq, err := a.NextSequence(ctx, table, identity)
	if err != nil {
		return "", err
	}
	return FormatKey(seq, identity), nil
}

// FormatKey builds "<rowSequence>_<ownerIdentity>".
func FormatKey(seq int64, identity string) string {
	return ir.FormatKey(seq, identity)
}

// ParseKey splits a key into its row sequence and owner identity.
func ParseKey(key string) (int64, string, error) {
	return ir.ParseKey(key)
}
