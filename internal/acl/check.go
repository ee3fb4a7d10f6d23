package acl

import "github.com/roach88/rowmerge/internal/ir"

// Lookup returns the entry for identity, if any.
func Lookup(perms []ir.Permission, identity string) (ir.Permission, bool) {
	for _, p := range perms {
		if p.Identity == identity {
			return p, true
		}
	}
	return ir.Permission{}, false
}

// Covers reports whether p grants access to every field in names.
func Covers(p ir.Permission, names []string) bool {
	if p.IsWildcard() {
		return true
	}
	if len(p.Fields) == 0 {
		return false
	}
	allowed := make(map[string]bool, len(p.Fields))
	for _, f := range p.Fields {
		allowed[f] = true
	}
	for _, n := range names {
		if !allowed[n] {
			return false
		}
	}
	return true
}

// CanWrite reports whether author may overwrite the named fields of a row
// owned by owner. The owner always may; anyone else needs a covering grant.
func CanWrite(owner, author string, perms []ir.Permission, names []string) bool {
	if author == owner {
		return true
	}
	p, ok := Lookup(perms, author)
	return ok && Covers(p, names)
}

// CanAdminister reports whether author may delete the row or replace its
// grant list: the owner, or a holder of a wildcard grant. Scoped grantees
// never may.
func CanAdminister(owner, author string, perms []ir.Permission) bool {
	if author == owner {
		return true
	}
	p, ok := Lookup(perms, author)
	return ok && p.IsWildcard()
}
