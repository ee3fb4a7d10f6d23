package rowquery

import "github.com/roach88/rowmerge/internal/ir"

// Predicate is a condition on a row's fields. Sealed to this package.
type Predicate interface {
	predicateNode()
}

// Select reads the rows of one table that satisfy Filter.
type Select struct {
	Table       string
	Filter      Predicate // nil matches every row
	WithDeleted bool      // include tombstones
}

// Equals holds when the field is present and equal to Value.
type Equals struct {
	Field string
	Value ir.Value
}

func (Equals) predicateNode() {}

// Has holds when the field is present.
type Has struct {
	Field string
}

func (Has) predicateNode() {}

// And holds when all of its predicates hold.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Where builds a conjunction of Equals predicates, one per field, in sorted
// field order.
func Where(fields ir.Fields) Predicate {
	and := And{Predicates: make([]Predicate, 0, len(fields))}
	for _, name := range fields.SortedKeys() {
		and.Predicates = append(and.Predicates, Equals{Field: name, Value: fields[name]})
	}
	return and
}
