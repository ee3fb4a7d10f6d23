// Package engine merges the operation log into materialized rows.
//
// The engine sits between a log (the source of truth) and a row store (a
// cache of the last fold outcome per key). For a key it reads the full
// history and the persisted row, folds them (internal/fold) under the
// transaction gate (internal/txgate), and hands the resulting Outcome to the
// row store.
//
// ARCHITECTURE:
//
// Merge is read-only and may be called from any goroutine. Concurrent merges
// of the same key share one computation.
//
// Apply merges and persists. Writes for a key are serialized by a striped
// mutex, and every Apply folds the history it read under that lock, so a
// stale outcome never overwrites a newer one.
//
// Event loop:
//  1. Submit appends an operation to the log and enqueues it if it was new
//  2. Run dequeues events one at a time
//  3. Row operations re-merge their key
//  4. A CommitTransaction re-merges every key the transaction touched
//
// Replay rebuilds every row from the log and can verify that folding the
// same history in another delivery order yields the same result.
//
// Operations are namespaced per application: row operations carry the type
// "<app>-<table>" and control operations "<app>". An engine configured with
// an application ignores everything outside it.
package engine
