package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wadoon/key-smtmgr/internal/output"
	"github.com/wadoon/key-smtmgr/internal/store"
)

var historyFlagLimit int

var historyCmd = &cobra.Command{
	Use:   "history [SOLVER]",
	Short: "Show recent installs, removals and catalog updates",
	Long: `Show the activity journal, newest first. With SOLVER only that solver's
events are listed.

Examples:
  # Last 20 events
  key-smtmgr history

  # Everything that happened to z3
  key-smtmgr history z3 --limit 0`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyFlagLimit, "limit", 20, "number of events to show (0 for all)")

	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if e.journal == nil {
		return errors.New("activity journal is unavailable, run with --verbose for details")
	}

	var events []*store.Event
	if len(args) == 1 {
		events, err = e.journal.ListSolverEvents(args[0], historyFlagLimit)
	} else {
		events, err = e.journal.ListEvents(historyFlagLimit)
	}
	if err != nil {
		return err
	}

	var summary output.HistorySummary
	if summary.Total, err = e.journal.GetEventCount(); err != nil {
		return err
	}
	if summary.Downloaded, err = e.journal.GetDownloadedBytes(); err != nil {
		return err
	}
	last, err := e.journal.GetLastEvent(store.ActionUpdate, "")
	if err != nil {
		return err
	}
	if last != nil {
		summary.LastUpdate = last.Timestamp
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderHistory(events, summary))
	return nil
}
