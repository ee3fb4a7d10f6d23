package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/rowmerge/internal/fold"
	"github.com/roach88/rowmerge/internal/ir"
	"github.com/roach88/rowmerge/internal/metrics"
	"github.com/roach88/rowmerge/internal/txgate"
)

// Log is the append-only operation log.
type Log interface {
	// OperationsForKey returns every operation recorded for (table, key).
	OperationsForKey(ctx context.Context, table, key string) ([]ir.Operation, error)
	// Append stores op and reports whether it was new. Appending the same
	// operation twice is a no-op.
	Append(ctx context.Context, op ir.Operation) (ir.Operation, bool, error)
}

// RowStore holds the materialized rows.
type RowStore interface {
	// GetRow returns the persisted row, or nil if the key was never written.
	GetRow(ctx context.Context, table, key string) (*ir.Row, error)
	// ApplyDisposition writes an outcome. Must be idempotent.
	ApplyDisposition(ctx context.Context, table, key string, out fold.Outcome) error
}

// Backend is a log plus row store with the queries the event loop and
// replay need. Implemented by store.Store and memlog.Log.
type Backend interface {
	Log
	RowStore
	txgate.ControlSource
	OperationsForTransaction(ctx context.Context, txID string) ([]ir.Operation, error)
	Keys(ctx context.Context) ([]ir.RowRef, error)
	ResetRows(ctx context.Context) error
}

// lockStripes is the number of mutexes serializing writes per key.
const lockStripes = 64

// Engine merges operation histories into rows.
//
// Thread-safety model:
//   - Merge, Apply, Submit, Enqueue: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Replay: must not overlap with Run
type Engine struct {
	backend Backend
	gate    *txgate.Gate
	app     string
	queue   *eventQueue
	metrics *metrics.Metrics
	workers int
	onApply []Hook

	group singleflight.Group
	locks [lockStripes]sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithApp restricts the engine to one application's operations.
// An empty name accepts every operation.
func WithApp(app string) Option {
	return func(e *Engine) {
		e.app = app
	}
}

// WithMetrics records merge outcomes. A nil m disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithGate shares a transaction gate with other components.
func WithGate(g *txgate.Gate) Option {
	return func(e *Engine) {
		if g != nil {
			e.gate = g
		}
	}
}

// Hook observes every persisted merge, including NoChange and Pending.
// Hooks run synchronously under the key's write lock and must not call
// Apply for the same key.
type Hook func(ref ir.RowRef, out fold.Outcome)

// WithHook registers a hook called after each Apply.
func WithHook(h Hook) Option {
	return func(e *Engine) {
		if h != nil {
			e.onApply = append(e.onApply, h)
		}
	}
}

// WithReplayWorkers sets how many keys Replay merges concurrently.
//
// Default: runtime.GOMAXPROCS(0). Values below 1 are ignored.
func WithReplayWorkers(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.workers = n
		}
	}
}

// New creates an Engine over b and loads transaction state from its log.
func New(ctx context.Context, b Backend, opts ...Option) (*Engine, error) {
	e := &Engine{
		backend: b,
		gate:    txgate.New(),
		queue:   newEventQueue(),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.gate.Load(ctx, e.controlSource()); err != nil {
		return nil, NewStorageError("load transaction state", "", "", err)
	}
	return e, nil
}

// App returns the application namespace, or "" if unrestricted.
func (e *Engine) App() string {
	return e.app
}

// Gate returns the engine's transaction gate.
func (e *Engine) Gate() *txgate.Gate {
	return e.gate
}

// Owns reports whether op belongs to the engine's application.
func (e *Engine) Owns(op ir.Operation) bool {
	if e.app == "" {
		return true
	}
	if op.Kind.IsControl() {
		return op.Type == e.app
	}
	return op.Type == e.app+"-"+op.Table
}

func (e *Engine) owned(ops []ir.Operation) []ir.Operation {
	if e.app == "" {
		return ops
	}
	out := make([]ir.Operation, 0, len(ops))
	for _, op := range ops {
		if e.Owns(op) {
			out = append(out, op)
		}
	}
	return out
}

// Merge computes the outcome for (table, key) without writing it.
// Concurrent calls for the same key share one computation.
func (e *Engine) Merge(ctx context.Context, table, key string) (fold.Outcome, error) {
	r, err := e.inspect(ctx, table, key)
	if err != nil {
		return fold.Outcome{}, err
	}
	return r.outcome, nil
}

// Inspect returns the full fold result for (table, key) alongside its
// outcome, including the per-operation steps.
func (e *Engine) Inspect(ctx context.Context, table, key string) (fold.Result, fold.Outcome, error) {
	r, err := e.inspect(ctx, table, key)
	if err != nil {
		return fold.Result{}, fold.Outcome{}, err
	}
	return r.result, r.outcome, nil
}

type merged struct {
	result  fold.Result
	outcome fold.Outcome
}

// inspect shares one compute among concurrent callers. The shared compute
// runs detached from any one caller's cancellation; each caller still stops
// waiting when its own ctx is done.
func (e *Engine) inspect(ctx context.Context, table, key string) (merged, error) {
	detached := context.WithoutCancel(ctx)
	ch := e.group.DoChan(table+"\x00"+key, func() (any, error) {
		return e.compute(detached, table, key)
	})
	select {
	case <-ctx.Done():
		return merged{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return merged{}, r.Err
		}
		return r.Val.(merged), nil
	}
}

// compute reads the history and the persisted row and folds them.
func (e *Engine) compute(ctx context.Context, table, key string) (merged, error) {
	ops, err := e.backend.OperationsForKey(ctx, table, key)
	if err != nil {
		return merged{}, NewStorageError("read operations", table, key, err)
	}
	existing, err := e.backend.GetRow(ctx, table, key)
	if err != nil {
		return merged{}, NewStorageError("read row", table, key, err)
	}

	res := fold.Fold(table, key, e.owned(ops), existing, e.gate)
	out := fold.Translate(res, existing)

	for _, d := range res.Diagnostics {
		slog.Debug("operation not applied",
			"table", table,
			"key", key,
			"reason", d.Reason,
			"author", d.Author,
			"sequence", d.Sequence,
			"kind", d.Kind,
		)
	}
	return merged{result: res, outcome: out}, nil
}

func (e *Engine) lockFor(table, key string) *sync.Mutex {
	return &e.locks[xxhash.Sum64String(table+"\x00"+key)%lockStripes]
}

// Apply merges (table, key) and persists the outcome.
func (e *Engine) Apply(ctx context.Context, table, key string) (fold.Outcome, error) {
	mu := e.lockFor(table, key)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	m, err := e.compute(ctx, table, key)
	if err != nil {
		return fold.Outcome{}, err
	}
	out := m.outcome

	if err := e.backend.ApplyDisposition(ctx, table, key, out); err != nil {
		return fold.Outcome{}, NewStorageError("apply disposition", table, key, err)
	}
	e.metrics.ObserveOutcome(out, time.Since(start))
	for _, h := range e.onApply {
		h(ir.RowRef{Table: table, Key: key}, out)
	}

	switch {
	case out.IsApply():
		slog.Info("row merged",
			"table", table,
			"key", key,
			"action", out.Action.String(),
			"diagnostics", len(out.Diagnostics),
		)
	case out.Action == fold.ActionPending || out.Action == fold.ActionRejected:
		slog.Debug("row not materialized",
			"table", table,
			"key", key,
			"action", out.Action.String(),
			"reason", out.Reason,
		)
	}
	return out, nil
}

// Submit appends op to the log and, if it was new, enqueues it for the Run
// loop. Returns the stored operation.
func (e *Engine) Submit(ctx context.Context, op ir.Operation) (ir.Operation, bool, error) {
	stored, inserted, err := e.backend.Append(ctx, op)
	if err != nil {
		return op, false, fmt.Errorf("submit %s: %w", op.Kind, err)
	}
	e.metrics.ObserveAppend(string(stored.Kind), inserted)

	if inserted && !e.Enqueue(Event{Type: EventTypeOperation, Operation: &stored}) {
		// The operation is durable; the next replay merges it.
		slog.Warn("operation appended after engine stopped",
			"id", stored.ID,
			"kind", stored.Kind,
			"table", stored.Table,
			"key", stored.Key,
		)
	}
	return stored, inserted, nil
}

// Enqueue submits an event for processing by the Run loop.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	ok := e.queue.Enqueue(ev)
	e.metrics.SetQueueLength(e.queue.Len())
	return ok
}

// QueueLen returns the number of events waiting.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run starts the event loop.
// Blocks until context is cancelled or Stop() is called; after Stop the
// events already queued are processed before Run returns.
//
// ERROR HANDLING: a failing event is logged and skipped. The log still
// holds the operation, so a later merge of the key or a replay recovers.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "app", e.app)

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			e.metrics.SetQueueLength(e.queue.Len())
			if err := e.processEvent(ctx, event); err != nil {
				logEventError(event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case _, open := <-e.queue.Wait():
			if !open && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain processes every queued event in the calling goroutine and returns
// how many were handled. For one-shot callers that do not start Run.
func (e *Engine) Drain(ctx context.Context) int {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n
		}
		event, ok := e.queue.TryDequeue()
		if !ok {
			e.metrics.SetQueueLength(0)
			return n
		}
		if err := e.processEvent(ctx, event); err != nil {
			logEventError(event, err)
		}
		n++
	}
}

// Stop closes the event queue. Run returns once the queue is empty.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeOperation:
		if event.Operation == nil {
			return fmt.Errorf("operation event missing operation")
		}
		return e.processOperation(ctx, *event.Operation)

	case EventTypeRemerge:
		_, err := e.Apply(ctx, event.Ref.Table, event.Ref.Key)
		return err

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

// processOperation reacts to one appended operation.
func (e *Engine) processOperation(ctx context.Context, op ir.Operation) error {
	if !e.Owns(op) {
		slog.Debug("ignoring operation from another application",
			"id", op.ID,
			"type", op.Type,
			"app", e.app,
		)
		return nil
	}

	if !op.Kind.IsControl() {
		_, err := e.Apply(ctx, op.Table, op.Key)
		return err
	}

	changed := e.gate.Observe(op)
	slog.Info("transaction resolved",
		"transaction_id", op.TransactionID,
		"kind", op.Kind,
		"status", e.gate.Status(op.TransactionID, op.Author).String(),
		"author", op.Author,
		"changed", changed,
	)
	if !changed {
		return nil
	}
	return e.remergeTransaction(ctx, op.TransactionID)
}

// remergeTransaction applies every key touched by a resolved transaction,
// so all of its operations become visible, or are withdrawn, together.
func (e *Engine) remergeTransaction(ctx context.Context, txID string) error {
	ops, err := e.backend.OperationsForTransaction(ctx, txID)
	if err != nil {
		return NewStorageError("read transaction "+txID, "", "", err)
	}

	seen := make(map[ir.RowRef]bool)
	for _, op := range e.owned(ops) {
		ref := op.Ref()
		if seen[ref] {
			continue
		}
		seen[ref] = true
		if _, err := e.Apply(ctx, ref.Table, ref.Key); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) controlSource() txgate.ControlSource {
	return ownedControl{e: e}
}

// ownedControl filters the backend's control operations to the engine's
// application.
type ownedControl struct {
	e *Engine
}

func (c ownedControl) ControlOperations(ctx context.Context) ([]ir.Operation, error) {
	ops, err := c.e.backend.ControlOperations(ctx)
	if err != nil {
		return nil, err
	}
	return c.e.owned(ops), nil
}

func logEventError(event Event, err error) {
	attrs := []any{
		"event_type", event.Type.String(),
		"error", err,
	}
	if event.Operation != nil {
		attrs = append(attrs,
			"operation_id", event.Operation.ID,
			"kind", event.Operation.Kind,
			"table", event.Operation.Table,
			"key", event.Operation.Key,
		)
	} else {
		attrs = append(attrs, "table", event.Ref.Table, "key", event.Ref.Key)
	}
	slog.Error("event processing failed", attrs...)
}
