package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wadoon/key-smtmgr/internal/config"
)

// Version is the key-smtmgr release, set at build time with
// -ldflags "-X github.com/wadoon/key-smtmgr/internal/app.Version=...".
var Version = "dev"

var (
	verbose bool

	// RootCmd is the root command for key-smtmgr
	RootCmd = &cobra.Command{
		Use:   "key-smtmgr",
		Short: "Install and manage SMT solvers for the KeY prover",
		Long: `key-smtmgr downloads SMT solver releases listed in a published catalog,
installs them side by side and tells KeY which solver binary to run.

Installed versions are tracked in an install record next to the
configuration; enabling a version writes its executable into KeY's
proof-independent settings.

Examples:
  # Refresh the catalog and check for newer solver versions
  key-smtmgr update

  # Show all solvers and which versions are installed
  key-smtmgr list

  # Install a solver and make KeY use it
  key-smtmgr install --enable z3 4.12.1

  # Switch KeY back to the latest installed z3
  key-smtmgr enable z3`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			if verbose {
				return printBanner(cmd)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	RootCmd.Version = Version
	RootCmd.SetVersionTemplate("key-smtmgr version {{.Version}}\n")

	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print configuration details and debug logs")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command. Cancelling ctx aborts downloads and
// lock waits.
func Execute(ctx context.Context) error {
	return RootCmd.ExecuteContext(ctx)
}

// setupLogging installs the default slog logger. Diagnostics go to stderr;
// only warnings are shown unless --verbose is set.
func setupLogging(cmd *cobra.Command) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func printBanner(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "key-smtmgr -- SMT solver manager for KeY")
	fmt.Fprintf(out, "version %s\n", Version)
	fmt.Fprintf(out, "config home %s\n", cfg.Paths.ConfigHome)
	fmt.Fprintf(out, "config path %s\n", cfg.Paths.ConfigFile)
	fmt.Fprintf(out, "config: %+v\n", cfg.Config)
	return nil
}
