package app

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wadoon/key-smtmgr/internal/manager"
	"github.com/wadoon/key-smtmgr/internal/output"
)

var installFlagEnable bool

var installCmd = &cobra.Command{
	Use:   "install SOLVER VERSION",
	Short: "Download and install a solver version from the catalog",
	Long: `Download the artifact of a catalog solver version for this platform and
unpack it into the installation directory. Downloads that are not
archives are installed as a single executable.

An already installed version is left untouched.

Examples:
  # Install z3 4.12.1
  key-smtmgr install z3 4.12.1

  # Install cvc5 and make KeY use it right away
  key-smtmgr install --enable cvc5 1.0.9`,
	Args: cobra.ExactArgs(2),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVar(&installFlagEnable, "enable", false, "enable the version in KeY after installing it")

	RootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	solver, version := args[0], args[1]

	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	dir, err := e.mgr.InstallDir(solver, version)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Installing to %s\n", dir)

	bar := output.NewProgress(0, solver+" "+version)
	bar.SetWriter(out)

	result, err := e.mgr.Install(cmd.Context(), solver, version, manager.InstallOptions{
		Enable:   installFlagEnable,
		Progress: bar.Update,
	})
	switch {
	case errors.Is(err, manager.ErrAlreadyInstalled):
		fmt.Fprintf(out, "%s %s is already installed.\n", solver, version)
		return nil
	case errors.Is(err, manager.ErrUnknownSolverVersion):
		return fmt.Errorf("solver %s:%s is unknown, run 'key-smtmgr list' to see the catalog", solver, version)
	case result == nil:
		return err
	}
	bar.Finish()

	fmt.Fprintf(out, "Installed %s %s (%s)\n", result.Solver, result.Version, humanize.Bytes(uint64(result.SizeBytes)))
	if err != nil {
		// The install stands; only enabling failed.
		return err
	}
	if result.Standalone {
		fmt.Fprintf(out, "  Download is not an archive; installed as %s\n", result.Executable)
	}
	if result.Enabled {
		fmt.Fprintf(out, "Enabled %s %s: KeY runs %s\n", result.Solver, result.Version, result.Executable)
	}
	return nil
}
