package fold

import (
	"sort"

	"github.com/roach88/rowmerge/internal/ir"
)

// Less is the total fold order: (Sequence, Author, ID, LogOffset).
//
// The content ID ranks before the log offset: offsets are local to a replica,
// so two distinct operations sharing (Author, Sequence) must be ordered by
// content for every replica to keep the same one. The offset only separates
// copies of the same operation.
//
// Wall-clock timestamps and arrival order never participate.
func Less(a, b ir.Operation) bool {
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	if a.Author != b.Author {
		return a.Author < b.Author
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.LogOffset < b.LogOffset
}

// Sort returns a sorted copy of ops. The input slice is not modified.
func Sort(ops []ir.Operation) []ir.Operation {
	sorted := make([]ir.Operation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Less(sorted[i], sorted[j])
	})
	return sorted
}

type authorSeq struct {
	author string
	seq    int64
}

// Dedupe drops every operation whose (Author, Sequence) pair was already seen.
// ops must be sorted; the first occurrence survives, which for distinct
// operations claiming the same pair is the one with the lowest ID. Returns the
// survivors and the number of dropped duplicates.
func Dedupe(sorted []ir.Operation) ([]ir.Operation, int) {
	seen := make(map[authorSeq]bool, len(sorted))
	out := make([]ir.Operation, 0, len(sorted))
	for _, op := range sorted {
		k := authorSeq{author: op.Author, seq: op.Sequence}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, op)
	}
	return out, len(sorted) - len(out)
}
