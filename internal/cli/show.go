package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rowmerge/internal/ir"
	"github.com/roach88/rowmerge/internal/rowquery"
	"github.com/roach88/rowmerge/internal/store"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Deleted bool
	Where   []string // name=value filters
	Has     []string // fields that must be present
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show [table [key]]",
		Short: "Show materialized rows",
		Long: `Print the rows materialized in the local database.

With no arguments, lists the tables that have rows. With a table, lists
its live rows (and tombstones with --deleted), optionally filtered with
--where and --has. With a table and key, prints that row.

Examples:
  rowmerge show
  rowmerge show todos --deleted
  rowmerge show todos --where done=false --has due
  rowmerge show todos 1_alice --format json`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Deleted, "deleted", false, "include tombstones")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "only rows whose field equals a value (name=value, repeatable)")
	cmd.Flags().StringArrayVar(&opts.Has, "has", nil, "only rows that have the field (repeatable)")
	return cmd
}

func runShow(opts *ShowOptions, args []string, cmd *cobra.Command) error {
	ctx := context.Background()

	cfg, err := resolveConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Database, store.WithRowCacheSize(cfg.RowCacheSize))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	f := newFormatter(opts.RootOptions, cmd)
	w := cmd.OutOrStdout()

	filtered := len(opts.Where) > 0 || len(opts.Has) > 0
	if filtered && len(args) != 1 {
		return NewExitError(ExitCommandError, "--where and --has need exactly one table")
	}

	switch len(args) {
	case 0:
		tables, err := st.Tables(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list tables", err)
		}
		if opts.Format == "json" {
			return f.Success(tables)
		}
		if len(tables) == 0 {
			fmt.Fprintln(w, "No rows.")
		}
		for _, t := range tables {
			fmt.Fprintln(w, t)
		}
		return nil

	case 1:
		q, err := showQuery(opts, args[0])
		if err != nil {
			return err
		}
		rows, err := st.FindRows(ctx, q)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list rows", err)
		}
		if opts.Format == "json" {
			views := make([]RowView, 0, len(rows))
			for _, r := range rows {
				views = append(views, viewRow(r))
			}
			return f.Success(views)
		}
		if len(rows) == 0 {
			fmt.Fprintf(w, "No rows in %s.\n", args[0])
		}
		for _, r := range rows {
			writeRowText(w, r)
		}
		return nil

	default:
		row, err := st.GetRow(ctx, args[0], args[1])
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read row", err)
		}
		ref := ir.RowRef{Table: args[0], Key: args[1]}
		if row == nil {
			return f.Fail(WrapExitError(ExitFailure, ref.String(), errRowNotFound))
		}
		if opts.Format == "json" {
			return f.Success(viewRow(*row))
		}
		writeRowText(w, *row)
		return nil
	}
}

func showQuery(opts *ShowOptions, table string) (rowquery.Select, error) {
	q := rowquery.Select{Table: table, WithDeleted: opts.Deleted}
	if len(opts.Where) == 0 && len(opts.Has) == 0 {
		return q, nil
	}

	fields, err := parseFields(opts.Where)
	if err != nil {
		return q, err
	}
	and := rowquery.Where(fields).(rowquery.And)
	for _, name := range opts.Has {
		and.Predicates = append(and.Predicates, rowquery.Has{Field: name})
	}
	q.Filter = and
	if err := rowquery.Validate(q); err != nil {
		return q, WrapExitError(ExitCommandError, "invalid filter", err)
	}
	return q, nil
}
