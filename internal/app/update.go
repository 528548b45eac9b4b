package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wadoon/key-smtmgr/internal/output"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh the solver catalog and report available updates",
	Long: `Download the solver catalog into the local cache and list every installed
solver for which the catalog offers a newer version.

Nothing is installed; each notice comes with the command that installs
and enables the newer version.`,
	Args: cobra.NoArgs,
	RunE: runUpdate,
}

func init() {
	RootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	spinner := output.NewSpinner("Updating the remote repository information: " + e.repo.CacheFile())
	spinner.SetWriter(out)
	spinner.Start()
	if err := e.mgr.Refresh(ctx); err != nil {
		spinner.Stop()
		return err
	}
	spinner.StopWithMessage("Repository information is updated.")

	check, err := e.mgr.CheckForUpdates(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}
	fmt.Fprint(out, output.RenderUpdates(check.Updates))

	remote := check.Remote
	if latest, ok := remote.NewerTool(Version); ok {
		fmt.Fprintf(out, "\nkey-smtmgr %s is available", latest)
		if remote.LatestToolURL != "" {
			fmt.Fprintf(out, ": %s", remote.LatestToolURL)
		}
		fmt.Fprintln(out)
	}
	return nil
}
