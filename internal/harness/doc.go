// Package harness runs merge scenarios written in YAML.
//
// A scenario lists operations in arrival order and assertions on the rows
// they produce. The harness feeds the operations one at a time into an
// engine over an in-memory log, exactly as a live replica would receive
// them, and records the outcome of every merge the arrival triggers.
//
// After the primary run the harness checks convergence: it replays the
// same operations into fresh logs in reversed order and with every
// operation delivered twice, rebuilds the rows, and requires them to equal
// the rows of the primary run.
//
// Traces can be compared against golden files under testdata/golden:
//
//	go test ./internal/harness -update
package harness
