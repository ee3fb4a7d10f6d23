package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rowmerge/internal/store"
)

// InitResult reports what init recorded.
type InitResult struct {
	Database string `json:"database"`
	App      string `json:"app"`
	Identity string `json:"identity"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a database and record the app and identity",
		Long: `Create the SQLite database (if needed) and store the application
namespace and local identity in it, so later commands need no flags.

Examples:
  rowmerge init --db ./todo.db --app todo --identity alice
  rowmerge init --config ./node.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}
	if cfg.App == "" || cfg.Identity == "" {
		return NewExitError(ExitCommandError, "init requires an app and an identity (--app, --identity or --config)")
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if err := st.SaveSetting(ctx, settingApp, cfg.App); err != nil {
		return WrapExitError(ExitCommandError, "failed to save settings", err)
	}
	if err := st.SaveSetting(ctx, settingIdentity, cfg.Identity); err != nil {
		return WrapExitError(ExitCommandError, "failed to save settings", err)
	}

	result := InitResult{Database: cfg.Database, App: cfg.App, Identity: cfg.Identity}
	if opts.Format == "json" {
		return newFormatter(opts, cmd).Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s for app %q as %q\n", result.Database, result.App, result.Identity)
	return nil
}
