// Package manager installs, removes and enables solver versions. The install
// record kept by repository.Store is the only state: a version is installed
// exactly when the record lists it.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/wadoon/key-smtmgr/internal/archive"
	"github.com/wadoon/key-smtmgr/internal/download"
	"github.com/wadoon/key-smtmgr/internal/repository"
	"github.com/wadoon/key-smtmgr/internal/store"
)

var (
	// ErrUnknownSolverVersion means the catalog has no such solver version.
	ErrUnknownSolverVersion = errors.New("unknown solver version")
	// ErrAlreadyInstalled means the installation directory already exists.
	ErrAlreadyInstalled = errors.New("already installed")
	// ErrNoInstalledVersion means enable was asked to pick the latest
	// installed version of a solver that has none.
	ErrNoInstalledVersion = errors.New("no installed version")
	// ErrNotInstalled means an explicitly requested version is not installed.
	ErrNotInstalled = errors.New("version not installed")
	// ErrNoDownload means the catalog has no artifact for this platform.
	ErrNoDownload = errors.New("no download for this platform")
	// ErrInvalidName means a solver or version cannot name an installation
	// directory.
	ErrInvalidName = errors.New("invalid solver or version name")
)

// Downloader stores a URL's content in destDir and returns the file path.
type Downloader interface {
	Download(ctx context.Context, url, destDir string, progress download.ProgressFunc) (string, error)
}

// Extractor unpacks an archive or reports that the file is not one.
type Extractor interface {
	Extract(archivePath, destDir string) (archive.Result, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(archivePath, destDir string) (archive.Result, error)

func (f ExtractorFunc) Extract(archivePath, destDir string) (archive.Result, error) {
	return f(archivePath, destDir)
}

// Settings holds the per-solver commands KeY runs.
type Settings interface {
	SetSolverCommand(solver, command string) error
	ClearSolverCommand(solver string) (bool, error)
	SolverCommands() (map[string]string, error)
}

// Journal records completed operations.
type Journal interface {
	InsertEvent(event *store.Event) (int64, error)
}

// Options configures a Manager. Repository, InstallBase, Downloader and
// Settings are required.
type Options struct {
	Repository  *repository.Store
	InstallBase string
	Downloader  Downloader
	Extractor   Extractor // defaults to archive.Extract
	Settings    Settings
	Journal     Journal // optional
	GOOS        string  // defaults to runtime.GOOS
	Logger      *slog.Logger
}

// Manager carries out the install, remove and enable operations.
type Manager struct {
	repo        *repository.Store
	installBase string
	downloader  Downloader
	extractor   Extractor
	settings    Settings
	journal     Journal
	goos        string
	logger      *slog.Logger
}

// New creates a Manager from opts.
func New(opts Options) *Manager {
	m := &Manager{
		repo:        opts.Repository,
		installBase: opts.InstallBase,
		downloader:  opts.Downloader,
		extractor:   opts.Extractor,
		settings:    opts.Settings,
		journal:     opts.Journal,
		goos:        opts.GOOS,
		logger:      opts.Logger,
	}
	if m.extractor == nil {
		m.extractor = ExtractorFunc(archive.Extract)
	}
	if m.goos == "" {
		m.goos = runtime.GOOS
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Refresh downloads the catalog into the cache.
func (m *Manager) Refresh(ctx context.Context) error {
	if err := m.repo.RefreshRemote(ctx); err != nil {
		return err
	}
	m.record(&store.Event{Action: store.ActionUpdate})
	return nil
}

// UpdateCheck is the outcome of CheckForUpdates.
type UpdateCheck struct {
	// Remote is the catalog the check was made against.
	Remote *repository.RemoteRepository
	// Updates maps every installed solver that has a strictly newer catalog
	// version to that version.
	Updates map[string]string
}

// CheckForUpdates compares the install record with the cached catalog.
func (m *Manager) CheckForUpdates(ctx context.Context) (*UpdateCheck, error) {
	remote, err := m.repo.LoadRemote(ctx)
	if err != nil {
		return nil, err
	}
	local, err := m.repo.LoadLocal()
	if err != nil {
		return nil, err
	}
	updates, err := repository.Updates(remote, local)
	if err != nil {
		return nil, err
	}
	return &UpdateCheck{Remote: remote, Updates: updates}, nil
}

// Catalog is what the list command shows.
type Catalog struct {
	Remote *repository.RemoteRepository
	Local  *repository.LocalRepository
	// Enabled maps a solver to the installed version whose executable is
	// the configured KeY command.
	Enabled map[string]string
}

// IsEnabled reports whether version is the enabled version of solver.
func (c *Catalog) IsEnabled(solver, version string) bool {
	v, ok := c.Enabled[solver]
	return ok && v == version
}

// Catalog loads the catalog, the install record and the enabled commands.
func (m *Manager) Catalog(ctx context.Context) (*Catalog, error) {
	remote, err := m.repo.LoadRemote(ctx)
	if err != nil {
		return nil, err
	}
	local, err := m.repo.LoadLocal()
	if err != nil {
		return nil, err
	}
	commands, err := m.settings.SolverCommands()
	if err != nil {
		return nil, err
	}

	c := &Catalog{Remote: remote, Local: local, Enabled: make(map[string]string)}
	for _, s := range local.Installed {
		cmd, ok := commands[s.Name]
		if !ok {
			continue
		}
		for _, v := range s.Versions {
			exe, err := m.executablePath(s.Name, v)
			if err == nil && exe == cmd {
				c.Enabled[s.Name] = v.Version
				break
			}
		}
	}
	return c, nil
}

func (m *Manager) record(event *store.Event) {
	if m.journal == nil {
		return
	}
	if _, err := m.journal.InsertEvent(event); err != nil {
		m.logger.Warn("failed to journal event", "action", event.Action, "error", err)
	}
}

func (m *Manager) lock(ctx context.Context) (func(), error) {
	release, err := m.repo.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to lock install record: %w", err)
	}
	return release, nil
}
