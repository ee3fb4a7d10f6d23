// Package acl encodes row permission lists and answers access questions.
//
// The stored form is a single string:
//
//	identity1:*;identity2:field1,field2
//
// Decode is total: any input, including garbage, decodes to some (possibly
// empty) list. Encode(Decode(Encode(x))) == Encode(x) for every list x, so a
// permission column survives any number of storage round trips byte-for-byte.
package acl

import (
	"strings"

	"github.com/roach88/rowmerge/internal/ir"
)

const (
	entrySeparator = ";"
	scopeSeparator = ":"
	fieldSeparator = ","
)

// Encode serializes a permission list in input order.
//
// Entries are normalized on the way out: a wildcard anywhere in the scope
// collapses the scope to "*", duplicate field names are dropped, and a
// repeated identity keeps its first position but takes the later scope.
// Entries with an empty scope grant nothing and are skipped, as are entries
// whose identity or field names contain a separator.
func Encode(perms []ir.Permission) string {
	normalized := Normalize(perms)
	parts := make([]string, 0, len(normalized))
	for _, p := range normalized {
		parts = append(parts, p.Identity+scopeSeparator+strings.Join(p.Fields, fieldSeparator))
	}
	return strings.Join(parts, entrySeparator)
}

// Decode parses an encoded permission list. Empty input yields an empty list.
// Malformed entries (missing identity or scope) are skipped.
func Decode(s string) []ir.Permission {
	if s == "" {
		return []ir.Permission{}
	}

	var perms []ir.Permission
	for _, entry := range strings.Split(s, entrySeparator) {
		identity, scope, ok := strings.Cut(entry, scopeSeparator)
		if !ok || identity == "" || scope == "" {
			continue
		}
		perms = append(perms, ir.Permission{
			Identity: identity,
			Fields:   strings.Split(scope, fieldSeparator),
		})
	}
	return Normalize(perms)
}

// Normalize returns the canonical form of a permission list without
// serializing it. Every returned entry has a non-empty Fields slice that is
// either exactly ["*"] or a list of distinct field names.
func Normalize(perms []ir.Permission) []ir.Permission {
	out := make([]ir.Permission, 0, len(perms))
	index := make(map[string]int, len(perms))

	for _, p := range perms {
		if !representable(p.Identity) {
			continue
		}
		scope, ok := normalizeScope(p)
		if !ok {
			continue
		}
		entry := ir.Permission{Identity: p.Identity, Fields: scope}
		if i, seen := index[p.Identity]; seen {
			out[i] = entry
			continue
		}
		index[p.Identity] = len(out)
		out = append(out, entry)
	}
	return out
}

func normalizeScope(p ir.Permission) ([]string, bool) {
	if p.IsWildcard() {
		return []string{ir.Wildcard}, true
	}
	seen := make(map[string]bool, len(p.Fields))
	fields := make([]string, 0, len(p.Fields))
	for _, f := range p.Fields {
		if f == "" || seen[f] {
			continue
		}
		if !representable(f) {
			return nil, false
		}
		seen[f] = true
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

func representable(s string) bool {
	return s != "" && !strings.ContainsAny(s, entrySeparator+scopeSeparator+fieldSeparator)
}

// DefaultGrants is the grant list an Insert receives when it names none:
// the owner alone, with access to every field.
func DefaultGrants(owner string) []ir.Permission {
	return []ir.Permission{{Identity: owner, Fields: []string{ir.Wildcard}}}
}
