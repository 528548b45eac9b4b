// Package output provides terminal output utilities for key-smtmgr.
//
// This package includes:
//   - Rendering of the solver catalog, update notices and the activity history
//   - Byte progress bars for downloads
//   - Spinners for indeterminate operations
//
// Styling uses lipgloss and is only applied when stdout is a terminal and
// NO_COLOR is unset. Progress indicators are safe for concurrent use.
package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/wadoon/key-smtmgr/internal/repository"
	"github.com/wadoon/key-smtmgr/internal/store"
)

const separator = "------------------------------------"

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	installedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	enabledStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	faintStyle     = lipgloss.NewStyle().Faint(true)

	actionStyles = map[store.Action]lipgloss.Style{
		store.ActionInstall: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		store.ActionEnable:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		store.ActionRemove:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		store.ActionDisable: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		store.ActionUpdate:  lipgloss.NewStyle().Faint(true),
	}
)

// IsColorEnabled returns true if styled output should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// styled renders text with s if color is enabled, otherwise returns the
// plain text.
func styled(s lipgloss.Style, text string) string {
	if IsColorEnabled() {
		return s.Render(text)
	}
	return text
}

// RenderCatalog renders every catalog solver with its versions in catalog
// order. Versions present in local are marked (INSTALLED); the version
// named for a solver in enabled is additionally marked (ENABLED).
func RenderCatalog(remote *repository.RemoteRepository, local *repository.LocalRepository, enabled map[string]string) string {
	if remote == nil || len(remote.Solvers) == 0 {
		return "No solvers in the catalog.\n"
	}

	var sb strings.Builder
	for _, solver := range remote.Solvers {
		sb.WriteString(separator + "\n")
		sb.WriteString(styled(headerStyle, "Solver: "+solver.Name) + "\n")
		sb.WriteString("License: " + solver.License + "\n")
		sb.WriteString("Homepage: " + solver.Homepage + "\n")
		if solver.Description != "" {
			sb.WriteString(solver.Description + "\n")
		}
		sb.WriteString("Versions:\n")
		for _, v := range solver.Versions {
			line := fmt.Sprintf("\t* %s %s", v.Version, v.ReleaseDate)
			if local != nil && local.IsInstalled(solver.Name, v.Version) {
				line += " " + styled(installedStyle, "(INSTALLED)")
			}
			if e, ok := enabled[solver.Name]; ok && e == v.Version {
				line += " " + styled(enabledStyle, "(ENABLED)")
			}
			sb.WriteString(strings.TrimRight(line, " ") + "\n")
			if v.Description != "" {
				sb.WriteString("\t  " + styled(faintStyle, v.Description) + "\n")
			}
		}
	}
	sb.WriteString(separator + "\n")
	return sb.String()
}

// RenderUpdates renders one notice and install hint per updatable solver,
// sorted by solver name.
func RenderUpdates(updates map[string]string) string {
	if len(updates) == 0 {
		return "All installed solvers are up to date.\n"
	}

	names := make([]string, 0, len(updates))
	for name := range updates {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		v := updates[name]
		fmt.Fprintf(&sb, "%s is updatable to %s\n", name, v)
		fmt.Fprintf(&sb, "Use: `key-smtmgr install --enable %s %s`\n", name, v)
	}
	return sb.String()
}

// HistorySummary is shown below the history table.
type HistorySummary struct {
	Total      int   // events in the journal
	Downloaded int64 // bytes downloaded by installs
	// LastUpdate is the time of the last catalog refresh, zero if none.
	LastUpdate time.Time
}

// RenderHistory renders journaled events, newest first as given, followed
// by a summary.
func RenderHistory(events []*store.Event, summary HistorySummary) string {
	if len(events) == 0 {
		return "No activity recorded yet.\n"
	}

	var sb strings.Builder
	sb.WriteString(styled(headerStyle, fmt.Sprintf("%-16s %-8s %-12s %-14s %-9s %s",
		"When", "Action", "Solver", "Version", "Size", "Detail")))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	for _, e := range events {
		size := "—"
		if e.SizeBytes > 0 {
			size = humanize.Bytes(uint64(e.SizeBytes))
		}
		// Pad before styling so escape codes do not shift the columns.
		action := styled(actionStyle(e.Action), fmt.Sprintf("%-8s", e.Action))
		fmt.Fprintf(&sb, "%-16s %s %-12s %-14s %-9s %s\n",
			formatRelativeTime(e.Timestamp),
			action,
			truncate(e.Solver, 12),
			truncate(e.Version, 14),
			size,
			truncate(e.Detail, 40))
	}

	fmt.Fprintf(&sb, "\nShowing %d of %d events, %s downloaded\n",
		len(events), summary.Total, humanize.Bytes(uint64(summary.Downloaded)))
	fmt.Fprintf(&sb, "Catalog updated: %s\n", formatRelativeTime(summary.LastUpdate))
	return sb.String()
}

func actionStyle(a store.Action) lipgloss.Style {
	if s, ok := actionStyles[a]; ok {
		return s
	}
	return lipgloss.NewStyle()
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if time.Since(t) < time.Minute {
		return "just now"
	}
	return humanize.Time(t)
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
