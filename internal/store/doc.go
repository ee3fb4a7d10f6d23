// Package store provides SQLite-backed durable storage for rowmerge.
//
// The store holds:
//   - Operations: the local copy of the replicated log, append-only
//   - Rows: the materialized cache of fold outcomes
//   - Sequence reservations: high-water marks for the key allocator
//   - Settings: application metadata (name, tables, engine version)
//
// # Critical Patterns
//
// Idempotent append
//   - Operations are content-addressed; UNIQUE(id) with ON CONFLICT DO NOTHING
//   - Receiving the same entry twice over different replication paths is a no-op
//
// Log order
//   - log_offset is assigned on first append and never changes
//   - It is only the last tie-breaker in fold order, never a source of truth
//
// Deterministic query results
//   - Every multi-row query has a total ORDER BY
//
// Terminal tombstones
//   - ApplyDisposition never resurrects a deleted row
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Operation IDs are computed by internal/ir using RFC 8785 canonical JSON and
// SHA-256 with domain separation.
package store
