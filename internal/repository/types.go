// Package repository holds the solver catalog and install record, the
// queries and updates over them, and the store that persists both documents.
package repository

// FormatVersion is the document layout this build reads and writes. A remote
// catalog with a higher number was produced for a newer key-smtmgr.
const FormatVersion = 1

// DownloadURLs holds one artifact URL per supported operating system.
type DownloadURLs struct {
	Linux   string `json:"linux"`
	Windows string `json:"win"`
	Mac     string `json:"mac"`
}

// RemoteSolverVersion is a downloadable release of a solver.
type RemoteSolverVersion struct {
	Version     string       `json:"version"`
	Description string       `json:"description"`
	ReleaseDate string       `json:"releaseDate"`
	Download    DownloadURLs `json:"download"`
	// Executable is relative to the extracted installation directory.
	Executable string `json:"executable"`
}

// DownloadURL picks the artifact for the given GOOS value. Anything that is
// neither windows nor darwin gets the linux build.
func (v RemoteSolverVersion) DownloadURL(goos string) string {
	switch goos {
	case "windows":
		return v.Download.Windows
	case "darwin":
		return v.Download.Mac
	default:
		return v.Download.Linux
	}
}

// RemoteSolver is a catalog entry.
type RemoteSolver struct {
	Name        string                `json:"name"`
	License     string                `json:"license"`
	Homepage    string                `json:"homepage"`
	Description string                `json:"description"`
	Versions    []RemoteSolverVersion `json:"versions"`

	byVersion positions
}

// RemoteRepository is a snapshot of the published catalog. Solver order is
// the catalog order and is kept for display.
type RemoteRepository struct {
	Updated           string          `json:"updated"`
	FormatVersion     int             `json:"formatVersion"`
	LatestToolVersion string          `json:"latestVersion"`
	LatestToolURL     string          `json:"latestDownload"`
	Solvers           []*RemoteSolver `json:"solvers"`

	byName positions
}

// InstalledSolverVersion is the metadata of a remote version captured at
// install time. It is never re-synced with the catalog.
type InstalledSolverVersion struct {
	Version     string `json:"version"`
	Description string `json:"description"`
	ReleaseDate string `json:"releaseDate"`
	Executable  string `json:"executable"`
}

// LocalSolver mirrors RemoteSolver so the record stays usable after the
// catalog entry changes or disappears.
type LocalSolver struct {
	Name        string                   `json:"name"`
	License     string                   `json:"license"`
	Homepage    string                   `json:"homepage"`
	Description string                   `json:"description"`
	Versions    []InstalledSolverVersion `json:"versions"`

	byVersion positions
}

// LocalRepository is the install record of this machine.
type LocalRepository struct {
	FormatVersion int            `json:"formatVersion"`
	Installed     []*LocalSolver `json:"installed"`

	byName positions
}

// NewLocalRepository returns an empty record stamped with FormatVersion.
func NewLocalRepository() *LocalRepository {
	return &LocalRepository{
		FormatVersion: FormatVersion,
		Installed:     []*LocalSolver{},
	}
}
