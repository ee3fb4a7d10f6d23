// Package rowquery describes filters over materialized rows and compiles
// them to parameterized SQLite.
//
// A query always targets one table. Its filter is a tree of predicates:
//
//	Equals{Field, Value}  the field holds exactly Value, type included
//	Has{Field}            the field is present (possibly null)
//	And{Predicates}       every predicate holds; empty means true
//
// Row fields are stored as canonical JSON, so predicates compile to
// json_type and json_extract over the fields column. Values and JSON paths
// are always bound as parameters, never interpolated, and every compiled
// statement orders by row key with a binary collation so results are
// stable across replicas.
//
// Int 1 and Bool true are different values: Equals checks the JSON type as
// well as the extracted value.
package rowquery
