package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rowmerge/internal/client"
	"github.com/roach88/rowmerge/internal/ir"
)

// WriteOptions holds flags shared by insert, update and delete.
type WriteOptions struct {
	*RootOptions
	Table  string
	Key    string
	Set    []string // name=value
	Grants []string // identity or identity:field,field
	Tx     string
}

// WriteResult reports an appended operation and the merges it caused.
type WriteResult struct {
	Operation OperationView `json:"operation"`
	Merges    []MergeResult `json:"merges"`
}

func addWriteFlags(cmd *cobra.Command, opts *WriteOptions, fields, grants bool) {
	cmd.Flags().StringVarP(&opts.Table, "table", "t", "", "table name (required)")
	_ = cmd.MarkFlagRequired("table")
	cmd.Flags().StringVarP(&opts.Key, "key", "k", "", "row key")
	cmd.Flags().StringVar(&opts.Tx, "tx", "", "transaction id (from 'tx begin')")
	if fields {
		cmd.Flags().StringArrayVarP(&opts.Set, "set", "s", nil, "field assignment name=value (repeatable)")
	}
	if grants {
		cmd.Flags().StringArrayVarP(&opts.Grants, "grant", "g", nil, "grant identity[:field,...] (repeatable; replaces the grant list)")
	}
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert a row",
		Long: `Append an Insert operation and merge it.

Without --key, a new key owned by the local identity is allocated. Values
are parsed as JSON scalars when possible (true, 3, "x"), otherwise taken
as strings. Without --grant the owner gets full access.

Examples:
  rowmerge insert -t todos -s title=milk -s done=false
  rowmerge insert -t todos -s title=eggs -g bob:done
  rowmerge insert -t todos -k 7_alice -s title=bread --tx <id>`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, cmd, func(ctx context.Context, c *client.Client, wopts []client.WriteOption) (ir.Operation, error) {
				fields, err := parseFields(opts.Set)
				if err != nil {
					return ir.Operation{}, err
				}
				if opts.Key == "" {
					return c.Insert(ctx, opts.Table, fields, wopts...)
				}
				return c.InsertKey(ctx, opts.Table, opts.Key, fields, wopts...)
			})
		},
	}
	addWriteFlags(cmd, opts, true, true)
	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update fields or grants of a row",
		Long: `Append an Update operation and merge it.

Only the named fields are overwritten. --grant replaces the whole grant
list and is honored only for the owner or a wildcard grantee.

Examples:
  rowmerge update -t todos -k 1_alice -s done=true
  rowmerge update -t todos -k 1_alice -g alice -g bob:title,done`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, cmd, func(ctx context.Context, c *client.Client, wopts []client.WriteOption) (ir.Operation, error) {
				fields, err := parseFields(opts.Set)
				if err != nil {
					return ir.Operation{}, err
				}
				if len(fields) == 0 && len(opts.Grants) == 0 {
					return ir.Operation{}, WrapExitError(ExitCommandError, "update requires --set or --grant", errInvalidInput)
				}
				return c.Update(ctx, opts.Table, opts.Key, fields, wopts...)
			})
		},
	}
	addWriteFlags(cmd, opts, true, true)
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a row",
		Long: `Append a Delete operation and merge it. The tombstone is permanent:
the key can never be inserted again.

Example:
  rowmerge delete -t todos -k 1_alice`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, cmd, func(ctx context.Context, c *client.Client, wopts []client.WriteOption) (ir.Operation, error) {
				return c.Delete(ctx, opts.Table, opts.Key, wopts...)
			})
		},
	}
	addWriteFlags(cmd, opts, false, false)
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

type writeFunc func(ctx context.Context, c *client.Client, opts []client.WriteOption) (ir.Operation, error)

func runWrite(opts *WriteOptions, cmd *cobra.Command, write writeFunc) error {
	ctx := context.Background()

	n, err := openNode(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer n.Close()

	if err := n.checkTable(opts.Table); err != nil {
		return err
	}
	c, err := n.writer(ctx)
	if err != nil {
		return err
	}

	var wopts []client.WriteOption
	if opts.Tx != "" {
		wopts = append(wopts, client.InTransaction(opts.Tx))
	}
	if len(opts.Grants) > 0 {
		grants, err := parseGrants(opts.Grants)
		if err != nil {
			return err
		}
		wopts = append(wopts, client.WithGrants(grants...))
	}

	op, err := write(ctx, c, wopts)
	if err != nil {
		f := newFormatter(opts.RootOptions, cmd)
		if errors.Is(err, client.ErrNotOwner) {
			return f.Fail(WrapExitError(ExitCommandError, "cannot insert", err))
		}
		return f.Fail(commandError("write failed", err))
	}
	n.engine.Drain(ctx)

	return outputWrite(opts.RootOptions, cmd, WriteResult{
		Operation: viewOperation(op),
		Merges:    n.takeMerges(),
	})
}

func outputWrite(opts *RootOptions, cmd *cobra.Command, result WriteResult) error {
	if opts.Format == "json" {
		return newFormatter(opts, cmd).Success(result)
	}

	w := cmd.OutOrStdout()
	op := result.Operation
	target := "transaction " + op.TransactionID
	if op.Table != "" {
		target = op.Table + "/" + op.Key
	}
	fmt.Fprintf(w, "Appended %s %s (%s seq %d)\n", op.Kind, target, op.Author, op.Sequence)
	if opts.Verbose {
		fmt.Fprintf(w, "  id: %s\n", op.ID)
	}
	writeMergesText(w, result.Merges)
	return nil
}

// parseFields parses name=value assignments. Values that are valid JSON
// scalars keep their type; anything else is a string.
func parseFields(assignments []string) (ir.Fields, error) {
	fields := ir.Fields{}
	for _, a := range assignments {
		name, raw, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid field %q: want name=value", a), errInvalidInput)
		}
		if !json.Valid([]byte(raw)) {
			fields[name] = ir.String(raw)
			continue
		}
		v, err := ir.UnmarshalValue([]byte(raw))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid value for %q", name),
				fmt.Errorf("%w: %w", errInvalidInput, err))
		}
		fields[name] = v
	}
	return fields, nil
}

// parseGrants parses "identity" (every field), "identity:*" or
// "identity:field,field".
func parseGrants(args []string) ([]ir.Permission, error) {
	grants := make([]ir.Permission, 0, len(args))
	for _, arg := range args {
		identity, scope, _ := strings.Cut(arg, ":")
		if identity == "" {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --grant %q: missing identity", arg), errInvalidInput)
		}
		p := ir.Permission{Identity: identity}
		if scope == "" {
			if strings.Contains(arg, ":") {
				return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --grant %q: empty field list", arg), errInvalidInput)
			}
			scope = ir.Wildcard
		}
		for _, f := range strings.Split(scope, ",") {
			if f = strings.TrimSpace(f); f != "" {
				p.Fields = append(p.Fields, f)
			}
		}
		if len(p.Fields) == 0 {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --grant %q: empty field list", arg), errInvalidInput)
		}
		grants = append(grants, p)
	}
	return grants, nil
}
