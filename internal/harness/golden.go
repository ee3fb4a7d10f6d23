package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rowmerge/internal/ir"
)

// TraceSnapshot captures the trace and final rows of a scenario execution.
// Serialized with canonical JSON for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	Rows         []ir.Row     `json:"rows"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Operation IDs are left out; they are content hashes
// and would churn with any change to the hashed encoding.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		outcomes := make([]any, len(event.Outcomes))
		for j, o := range event.Outcomes {
			om := map[string]any{
				"table":  o.Table,
				"key":    o.Key,
				"action": o.Action,
			}
			if o.Reason != "" {
				om["reason"] = o.Reason
			}
			outcomes[j] = om
		}

		eventMap := map[string]any{
			"step":     event.Step,
			"author":   event.Author,
			"seq":      event.Seq,
			"kind":     event.Kind,
			"outcomes": outcomes,
		}
		if event.Table != "" {
			eventMap["table"] = event.Table
			eventMap["key"] = event.Key
		}
		if event.TransactionID != "" {
			eventMap["tx"] = event.TransactionID
		}
		if event.Duplicate {
			eventMap["duplicate"] = true
		}
		traceList[i] = eventMap
	}

	rowList := make([]any, len(s.Rows))
	for i, row := range s.Rows {
		rowList[i] = map[string]any{
			"table":       row.Table,
			"key":         row.Key,
			"fields":      row.Fields,
			"permissions": row.Permissions,
			"timestamp":   row.LastAppliedTimestamp,
			"deleted":     row.Deleted,
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"rows":          rowList,
	}
}

// Snapshot renders a result as canonical JSON.
func Snapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Rows:         result.Rows,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
