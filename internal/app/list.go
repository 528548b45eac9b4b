package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wadoon/key-smtmgr/internal/output"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the solver catalog with installed and enabled versions",
	Long: `Print every solver in the cached catalog with its versions. Installed
versions are marked (INSTALLED); the version KeY currently runs is marked
(ENABLED).

The catalog is downloaded first if no cache exists yet.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	RootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	catalog, err := e.mgr.Catalog(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderCatalog(catalog.Remote, catalog.Local, catalog.Enabled))
	return nil
}
