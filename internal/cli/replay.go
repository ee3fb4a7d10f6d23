package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/rowmerge/internal/engine"
	"github.com/roach88/rowmerge/internal/fold"
	"github.com/roach88/rowmerge/internal/ir"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Verify  bool
	Metrics string
}

// KeyReason is a key that did not materialize.
type KeyReason struct {
	Table  string `json:"table"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// MismatchView is a key whose folds disagreed.
type MismatchView struct {
	Table string `json:"table"`
	Key   string `json:"key"`
	Diff  string `json:"diff"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Keys       int            `json:"keys"`
	Actions    map[string]int `json:"actions"`
	Pending    []KeyReason    `json:"pending"`
	Rejected   []KeyReason    `json:"rejected"`
	Verified   bool           `json:"verified"`
	Mismatches []MismatchView `json:"mismatches,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild every row from the log",
		Long: `Discard the materialized rows and rebuild them from the operation log.

With --verify, every key is then folded again in reversed order and the
result compared with the forward fold and with the stored row.

Exit codes:
  0 - Rows rebuilt (and verified)
  1 - Verification found mismatches
  2 - Command error (database not found, etc.)

Examples:
  rowmerge replay --db ./todo.db
  rowmerge replay --verify --format json
  rowmerge replay --metrics replay.prom`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "verify determinism after rebuilding")
	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "write Prometheus metrics to this file")
	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	n, err := openNode(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer n.Close()

	report, err := n.engine.Replay(ctx)
	if err != nil {
		return commandError("replay failed", err)
	}

	result := ReplayResult{
		Keys:     report.Keys,
		Actions:  report.Actions,
		Pending:  sortedReasons(report.Pending),
		Rejected: sortedReasons(report.Rejected),
	}

	if opts.Verify {
		mismatches, err := n.engine.Verify(ctx)
		if err != nil {
			return commandError("verify failed", err)
		}
		result.Verified = len(mismatches) == 0
		for _, m := range mismatches {
			result.Mismatches = append(result.Mismatches, MismatchView{Table: m.Ref.Table, Key: m.Ref.Key, Diff: m.Diff})
		}
	}

	if err := n.writeMetrics(opts.Metrics); err != nil {
		return err
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result, opts.Verify)
	}
	return outputReplayText(cmd, result, opts.Verify, opts.Verbose)
}

func sortedReasons(m map[ir.RowRef]fold.Reason) []KeyReason {
	out := make([]KeyReason, 0, len(m))
	for ref, reason := range m {
		out = append(out, KeyReason{Table: ref.Table, Key: ref.Key, Reason: string(reason)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult, verify bool) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	failed := verify && !result.Verified
	if failed {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeMismatch,
			Message: "replay verification failed",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if failed {
		return verifyFailed(result)
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verify, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d key(s)\n", result.Keys)
	for _, action := range []string{
		fold.ActionInsert.String(),
		fold.ActionDelete.String(),
		fold.ActionPending.String(),
		fold.ActionRejected.String(),
	} {
		fmt.Fprintf(w, "  %s: %d\n", action, result.Actions[action])
	}

	if verbose {
		for _, p := range result.Pending {
			fmt.Fprintf(w, "  pending %s/%s: %s\n", p.Table, p.Key, p.Reason)
		}
		for _, r := range result.Rejected {
			fmt.Fprintf(w, "  rejected %s/%s: %s\n", r.Table, r.Key, r.Reason)
		}
	}

	if !verify {
		return nil
	}
	fmt.Fprintln(w)
	if result.Verified {
		fmt.Fprintln(w, "✓ All keys verified deterministic")
		return nil
	}

	for _, m := range result.Mismatches {
		fmt.Fprintf(w, "✗ %s/%s\n", m.Table, m.Key)
		if verbose {
			fmt.Fprintln(w, m.Diff)
		}
	}
	fmt.Fprintln(w, "✗ Replay verification failed")
	return verifyFailed(result)
}

func verifyFailed(result ReplayResult) error {
	return WrapExitError(ExitFailure, "replay verification failed",
		engine.NewNondeterminismError(len(result.Mismatches)))
}
