// Package ir provides the canonical value and operation types for rowmerge.
//
// Every other internal package imports ir; ir imports nothing internal. This
// keeps the log vocabulary (operations, rows, grants) at the bottom of the
// dependency graph.
//
// Key design constraints:
//   - NO float types for field values - use int64 for numbers
//   - All JSON tags use snake_case
//   - Ordering uses author-local sequences and log offsets, never wall-clock time
//   - Persisted field maps are RFC 8785 canonical JSON so rows compare byte-for-byte
package ir
