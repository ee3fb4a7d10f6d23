package rowquery

import (
	"fmt"
	"strings"

	"github.com/roach88/rowmerge/internal/ir"
)

// Validate reports the first problem that would stop q from compiling.
func Validate(q Select) error {
	if q.Table == "" {
		return fmt.Errorf("table is required")
	}
	return validatePredicate(q.Filter)
}

func validatePredicate(p Predicate) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case Equals:
		if err := validateField(pred.Field); err != nil {
			return err
		}
		if pred.Value == nil {
			return fmt.Errorf("equals %q: value is required", pred.Field)
		}
		return nil
	case *Equals:
		return validatePredicate(*pred)
	case Has:
		return validateField(pred.Field)
	case *Has:
		return validatePredicate(*pred)
	case And:
		for i, inner := range pred.Predicates {
			if err := validatePredicate(inner); err != nil {
				return fmt.Errorf("and[%d]: %w", i, err)
			}
		}
		return nil
	case *And:
		return validatePredicate(*pred)
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// validateField rejects names that cannot be quoted inside a JSON path.
func validateField(name string) error {
	if name == "" {
		return fmt.Errorf("field name is required")
	}
	if strings.ContainsAny(name, "\"\\") {
		return fmt.Errorf("field name %q: quotes and backslashes are not supported", name)
	}
	for _, r := range name {
		if r < 0x20 {
			return fmt.Errorf("field name %q: control characters are not supported", name)
		}
	}
	return nil
}

// jsonType is the json_type result SQLite reports for a stored value.
func jsonType(v ir.Value) (string, error) {
	switch val := v.(type) {
	case ir.String:
		return "text", nil
	case ir.Int:
		return "integer", nil
	case ir.Bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case ir.Null:
		return "null", nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
