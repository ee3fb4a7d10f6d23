package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rowmerge/internal/fold"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	Apply   bool
	Metrics string
}

// MergeReport describes how a key folds.
type MergeReport struct {
	Table       string   `json:"table"`
	Key         string   `json:"key"`
	State       string   `json:"state"`
	Action      string   `json:"action"`
	Reason      string   `json:"reason,omitempty"`
	Row         *RowView `json:"row,omitempty"`
	Duplicates  int      `json:"duplicates,omitempty"`
	Diagnostics []string `json:"diagnostics"`
	Steps       []string `json:"steps,omitempty"`
	Applied     bool     `json:"applied"`
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge <table> <key>",
		Short: "Fold a key's history and explain the result",
		Long: `Fold every operation recorded for a key and print the resulting
state, the disposition against the stored row, and why any operation
was skipped. Read-only unless --apply is given.

Examples:
  rowmerge merge todos 1_alice
  rowmerge merge todos 1_alice --apply -v
  rowmerge merge todos 1_alice --apply --metrics merge.prom`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "persist the outcome")
	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "write Prometheus metrics to this file")
	return cmd
}

func runMerge(opts *MergeOptions, table, key string, cmd *cobra.Command) error {
	ctx := context.Background()

	n, err := openNode(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer n.Close()

	res, out, err := n.engine.Inspect(ctx, table, key)
	if err != nil {
		return commandError("merge failed", err)
	}
	if opts.Apply {
		if out, err = n.engine.Apply(ctx, table, key); err != nil {
			return commandError("merge failed", err)
		}
	}

	if err := n.writeMetrics(opts.Metrics); err != nil {
		return err
	}

	report := buildMergeReport(res, out, opts.Apply)
	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(report)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s/%s: %s\n", table, key, report.State)
	if report.Reason != "" {
		fmt.Fprintf(w, "  action: %s (%s)\n", report.Action, report.Reason)
	} else {
		fmt.Fprintf(w, "  action: %s\n", report.Action)
	}
	if res.HasRow() {
		fmt.Fprint(w, "  row: ")
		writeRowText(w, res.Row)
	}
	for _, d := range report.Diagnostics {
		fmt.Fprintf(w, "  skipped: %s\n", d)
	}
	if opts.Verbose {
		for _, s := range report.Steps {
			fmt.Fprintf(w, "  step: %s\n", s)
		}
	}
	if report.Applied {
		fmt.Fprintln(w, "  applied")
	}
	return nil
}

func buildMergeReport(res fold.Result, out fold.Outcome, applied bool) MergeReport {
	report := MergeReport{
		Table:       res.Table,
		Key:         res.Key,
		State:       res.State.String(),
		Action:      out.Action.String(),
		Reason:      string(out.Reason),
		Duplicates:  res.Duplicates,
		Diagnostics: make([]string, 0, len(res.Diagnostics)),
		Applied:     applied,
	}
	if res.HasRow() {
		row := viewRow(res.Row)
		report.Row = &row
	}
	for _, d := range res.Diagnostics {
		report.Diagnostics = append(report.Diagnostics, d.String())
	}
	for _, s := range res.Steps {
		report.Steps = append(report.Steps, fmt.Sprintf("%s@%d %s: %s", s.Author, s.Sequence, s.Kind, s.Decision))
	}
	return report
}
