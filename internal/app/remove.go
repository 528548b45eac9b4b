package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wadoon/key-smtmgr/internal/settings"
)

var removeCmd = &cobra.Command{
	Use:   "remove SOLVER VERSION",
	Short: "Delete an installed solver version",
	Long: `Delete the installation directory of a solver version and drop it from
the install record. KeY's command for the solver is cleared afterwards;
run 'key-smtmgr enable SOLVER' to switch to another installed version.

Removing a version that is not installed is not an error.`,
	Args: cobra.ExactArgs(2),
	RunE: runRemove,
}

func init() {
	RootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	solver, version := args[0], args[1]

	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.mgr.Remove(cmd.Context(), solver, version)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if result.Recorded {
		fmt.Fprintf(out, "Removed %s %s from %s\n", solver, version, result.Dir)
	} else {
		fmt.Fprintf(out, "%s %s was not installed\n", solver, version)
	}
	if result.Disabled {
		fmt.Fprintf(out, "Cleared %s in %s\n", settings.Key(solver), e.settings.Path())
	}
	return nil
}
