package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rowmerge/internal/client"
	"github.com/roach88/rowmerge/internal/ir"
)

// TxBeginResult reports a new transaction id.
type TxBeginResult struct {
	TransactionID string `json:"transaction_id"`
}

// NewTxCommand creates the tx command group.
func NewTxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Begin, commit or discard transactions",
		Long: `Group writes so they become visible together.

Writes tagged with --tx stay pending on every replica until the
transaction is committed. Commit and discard apply only to the writes of
the identity issuing them. A discard always wins: it withdraws writes an
earlier commit had made visible, and a later commit cannot revive them.

Example:
  id=$(rowmerge tx begin)
  rowmerge insert -t todos -s title=a --tx "$id"
  rowmerge insert -t todos -s title=b --tx "$id"
  rowmerge tx commit "$id"`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "begin",
		Short:         "Print a new transaction id",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTxBegin(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "commit <transaction-id>",
		Short:         "Commit a transaction",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTxControl(rootOpts, cmd, args[0], (*client.Client).CommitTransaction)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "discard <transaction-id>",
		Short:         "Discard a transaction",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTxControl(rootOpts, cmd, args[0], (*client.Client).DiscardTransaction)
		},
	})

	return cmd
}

func runTxBegin(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	n, err := openNode(ctx, opts)
	if err != nil {
		return err
	}
	defer n.Close()

	c, err := n.writer(ctx)
	if err != nil {
		return err
	}
	tx := c.BeginTransaction()

	if opts.Format == "json" {
		return newFormatter(opts, cmd).Success(TxBeginResult{TransactionID: tx.ID})
	}
	fmt.Fprintln(cmd.OutOrStdout(), tx.ID)
	return nil
}

type controlFunc func(c *client.Client, ctx context.Context, txID string) (ir.Operation, error)

func runTxControl(opts *RootOptions, cmd *cobra.Command, txID string, control controlFunc) error {
	ctx := context.Background()

	n, err := openNode(ctx, opts)
	if err != nil {
		return err
	}
	defer n.Close()

	c, err := n.writer(ctx)
	if err != nil {
		return err
	}
	op, err := control(c, ctx, txID)
	if err != nil {
		return commandError("write failed", err)
	}
	n.engine.Drain(ctx)

	return outputWrite(opts, cmd, WriteResult{
		Operation: viewOperation(op),
		Merges:    n.takeMerges(),
	})
}
