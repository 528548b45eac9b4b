package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wadoon/key-smtmgr/internal/settings"
)

var enableCmd = &cobra.Command{
	Use:   "enable SOLVER [VERSION]",
	Short: "Make KeY use an installed solver version",
	Long: `Write the executable of an installed solver version into KeY's
proof-independent settings. Without VERSION the latest installed version
is used. Commands of other solvers are left as they are.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runEnable,
}

var disableCmd = &cobra.Command{
	Use:   "disable SOLVER",
	Short: "Remove a solver's command from KeY's settings",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisable,
}

func init() {
	RootCmd.AddCommand(enableCmd)
	RootCmd.AddCommand(disableCmd)
}

func runEnable(cmd *cobra.Command, args []string) error {
	solver, version := args[0], ""
	if len(args) == 2 {
		version = args[1]
	}

	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.mgr.Enable(cmd.Context(), solver, version)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Enabled %s %s: %s=%s\n",
		result.Solver, result.Version, settings.Key(result.Solver), result.Executable)
	return nil
}

func runDisable(cmd *cobra.Command, args []string) error {
	solver := args[0]

	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	cleared, err := e.mgr.Disable(cmd.Context(), solver)
	if err != nil {
		return err
	}
	if cleared {
		fmt.Fprintf(cmd.OutOrStdout(), "Disabled %s\n", solver)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s has no command in %s\n", solver, e.settings.Path())
	}
	return nil
}
