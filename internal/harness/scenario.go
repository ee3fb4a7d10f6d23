package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rowmerge/internal/ir"
)

// DefaultApp is the application namespace used when a scenario names none.
const DefaultApp = "scenario"

// Scenario defines one merge scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// App is the application namespace. Defaults to DefaultApp.
	App string `yaml:"app,omitempty"`

	// Operations are delivered in the listed order.
	Operations []OperationStep `yaml:"operations"`

	// Assertions validate the final rows and outcomes.
	Assertions []Assertion `yaml:"assertions"`
}

// OperationStep is one operation in a scenario.
type OperationStep struct {
	Author string `yaml:"author"`

	// Seq is the author's feed sequence. Zero means one past the author's
	// previous step.
	Seq int64 `yaml:"seq,omitempty"`

	// Timestamp defaults to 1000 times the step's position.
	Timestamp int64 `yaml:"timestamp,omitempty"`

	// Kind is Insert, Update, Delete (or Del), CommitTransaction or
	// DiscardTransaction.
	Kind string `yaml:"kind"`

	Table  string         `yaml:"table,omitempty"`
	Key    string         `yaml:"key,omitempty"`
	Tx     string         `yaml:"tx,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`
	Grants []GrantStep    `yaml:"grants,omitempty"`

	// Type overrides the log entry type, to model foreign applications.
	Type string `yaml:"type,omitempty"`
}

// GrantStep is one permission entry. No fields means every field.
type GrantStep struct {
	Identity string   `yaml:"identity"`
	Fields   []string `yaml:"fields,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Table string `yaml:"table,omitempty"`
	Key   string `yaml:"key,omitempty"`

	// Expect is a subset match on row fields (row).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent lists fields the row must not have (row).
	Absent []string `yaml:"absent,omitempty"`

	// Permissions is the exact encoded grant list (row).
	Permissions *string `yaml:"permissions,omitempty"`

	// Deleted checks the tombstone flag (row).
	Deleted *bool `yaml:"deleted,omitempty"`

	// Action is the expected merge action: insert, update, delete,
	// withdraw, pending, rejected or no-change (outcome).
	Action string `yaml:"action,omitempty"`

	// Reason is the expected diagnostic reason (outcome, diagnostic).
	Reason string `yaml:"reason,omitempty"`

	// Author narrows a diagnostic assertion to one author.
	Author string `yaml:"author,omitempty"`

	// Count is the expected number of live rows (row_count).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRow        = "row"
	AssertNoRow      = "no_row"
	AssertOutcome    = "outcome"
	AssertDiagnostic = "diagnostic"
	AssertRowCount   = "row_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.App == "" {
		scenario.App = DefaultApp
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Operations) == 0 {
		return fmt.Errorf("operations list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Operations {
		if step.Author == "" {
			return fmt.Errorf("operations[%d]: author is required", i)
		}
		kind, err := ir.ParseKind(step.Kind)
		if err != nil {
			return fmt.Errorf("operations[%d]: %w", i, err)
		}
		if kind.IsControl() {
			if step.Tx == "" {
				return fmt.Errorf("operations[%d]: tx is required for %s", i, kind)
			}
			continue
		}
		if step.Table == "" || step.Key == "" {
			return fmt.Errorf("operations[%d]: table and key are required for %s", i, kind)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRow, AssertNoRow, AssertOutcome, AssertDiagnostic:
		if a.Table == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: table and key are required for %s", index, a.Type)
		}
		if a.Type == AssertOutcome && a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for outcome", index)
		}
		if a.Type == AssertDiagnostic && a.Reason == "" {
			return fmt.Errorf("assertions[%d]: reason is required for diagnostic", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for row_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
