package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wadoon/key-smtmgr/internal/download"
	"github.com/wadoon/key-smtmgr/internal/gather"
)

var (
	gatherFlagZ3       bool
	gatherFlagCVC5     bool
	gatherFlagEldarica bool
	gatherFlagMathSAT  bool
	gatherFlagAll      bool
	gatherFlagFile     string
	gatherFlagLimit    int
)

var gatherCmd = &cobra.Command{
	Use:   "gather",
	Short: "Rebuild catalog entries from upstream releases (maintainers)",
	Long: `Query the upstream release feeds of the selected solvers and write their
version lists into a catalog file, ready to be published as the remote
repository. Other entries in the file are kept.

z3, cvc5 and eldarica are read from GitHub releases; set GITHUB_TOKEN to
avoid the anonymous rate limit. MathSAT is read from its download page.

Examples:
  # Refresh every solver in repo.json
  key-smtmgr gather --all --file repo.json

  # Only refresh z3
  key-smtmgr gather --z3`,
	Args: cobra.NoArgs,
	RunE: runGather,
}

func init() {
	gatherCmd.Flags().BoolVar(&gatherFlagZ3, "z3", false, "gather z3 releases")
	gatherCmd.Flags().BoolVar(&gatherFlagCVC5, "cvc5", false, "gather cvc5 releases")
	gatherCmd.Flags().BoolVar(&gatherFlagEldarica, "eldarica", false, "gather eldarica releases")
	gatherCmd.Flags().BoolVar(&gatherFlagMathSAT, "mathsat", false, "gather MathSAT releases")
	gatherCmd.Flags().BoolVar(&gatherFlagAll, "all", false, "gather all known solvers")
	gatherCmd.Flags().StringVar(&gatherFlagFile, "file", "repo.json", "catalog file to update")
	gatherCmd.Flags().IntVar(&gatherFlagLimit, "limit", gather.DefaultReleaseLimit, "maximum number of releases per GitHub solver")

	RootCmd.AddCommand(gatherCmd)
}

func runGather(cmd *cobra.Command, args []string) error {
	gh := gather.NewGitHubClient(os.Getenv("GITHUB_TOKEN"))
	client := download.New(userAgent())

	z3, cvc5, eldarica := gather.Z3(gh), gather.CVC5(gh), gather.Eldarica(gh)
	for _, s := range []*gather.GitHubSource{z3, cvc5, eldarica} {
		s.Limit = gatherFlagLimit
	}
	mathsat := gather.MathSAT(client)

	g := gather.New([]gather.Source{z3, cvc5, eldarica, mathsat}, slog.Default())

	var names []string
	if gatherFlagAll {
		names = g.Names()
	} else {
		selected := []struct {
			on     bool
			source gather.Source
		}{
			{gatherFlagZ3, z3},
			{gatherFlagCVC5, cvc5},
			{gatherFlagEldarica, eldarica},
			{gatherFlagMathSAT, mathsat},
		}
		for _, s := range selected {
			if s.on {
				names = append(names, s.source.Solver().Name)
			}
		}
	}
	if len(names) == 0 {
		return errors.New("no solver selected, use --all or one of --z3, --cvc5, --eldarica, --mathsat")
	}

	repo, err := gather.ReadCatalog(gatherFlagFile)
	if err != nil {
		return err
	}
	if err := g.Update(cmd.Context(), repo, names); err != nil {
		return err
	}
	if err := gather.WriteCatalog(gatherFlagFile, repo); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range names {
		s, _ := repo.Solver(name)
		fmt.Fprintf(out, "%-10s %d versions\n", name, len(s.Versions))
	}
	fmt.Fprintf(out, "Catalog written to %s\n", gatherFlagFile)
	return nil
}
