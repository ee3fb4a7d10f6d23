package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/rowmerge/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustAppend appends ops and fails the test on error.
func mustAppend(t *testing.T, s *Store, ops ...ir.Operation) []ir.Operation {
	t.Helper()
	out := make([]ir.Operation, 0, len(ops))
	for _, op := range ops {
		stored, _, err := s.Append(context.Background(), op)
		if err != nil {
			t.Fatalf("Append(%s) failed: %v", op.Kind, err)
		}
		out = append(out, stored)
	}
	return out
}
