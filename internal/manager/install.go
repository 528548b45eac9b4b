package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wadoon/key-smtmgr/internal/archive"
	"github.com/wadoon/key-smtmgr/internal/download"
	"github.com/wadoon/key-smtmgr/internal/repository"
	"github.com/wadoon/key-smtmgr/internal/store"
)

// InstallOptions tunes Install.
type InstallOptions struct {
	// Enable registers the new version with KeY after installing it.
	Enable   bool
	Progress download.ProgressFunc
}

// InstallResult describes a completed install.
type InstallResult struct {
	Solver     string
	Version    string
	Dir        string
	Executable string
	// Standalone is set when the download was not an archive and was
	// copied as is.
	Standalone bool
	SizeBytes  int64
	// Enabled is set when the follow-up enable succeeded.
	Enabled bool
}

// InstallDir returns the directory of a solver version. Solver and version
// must each be a single path element below the install base.
func (m *Manager) InstallDir(solver, version string) (string, error) {
	for _, part := range []string{solver, version} {
		if !isPathElement(part) {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, part)
		}
	}
	return filepath.Join(m.installBase, solver, version), nil
}

func isPathElement(s string) bool {
	return s != "" && s != "." && filepath.IsLocal(s) && !strings.ContainsAny(s, `/\`)
}

// Install downloads and unpacks a catalog version and records it. An
// existing installation directory is never touched. With opts.Enable the
// version is enabled afterwards; if that fails the install is kept and the
// error is returned together with the result.
func (m *Manager) Install(ctx context.Context, solver, version string, opts InstallOptions) (*InstallResult, error) {
	release, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	remote, err := m.repo.LoadRemote(ctx)
	if err != nil {
		return nil, err
	}
	rs, rv, ok := remote.FindSolverVersion(solver, version)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownSolverVersion, solver, version)
	}

	target, err := m.InstallDir(rs.Name, rv.Version)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); err == nil {
		return nil, fmt.Errorf("%w: %s %s in %s", ErrAlreadyInstalled, solver, version, target)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to check %s: %w", target, err)
	}

	url := rv.DownloadURL(m.goos)
	if url == "" {
		return nil, fmt.Errorf("%w: %s %s on %s", ErrNoDownload, solver, version, m.goos)
	}

	tmpDir, err := os.MkdirTemp("", "key-smtmgr-download-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	file, err := m.downloader.Download(ctx, url, tmpDir, opts.Progress)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s %s: %w", solver, version, err)
	}
	info, err := os.Stat(file)
	if err != nil {
		return nil, fmt.Errorf("failed to stat download: %w", err)
	}

	m.logger.Info("installing", "solver", solver, "version", version, "dir", target)
	standalone, err := m.unpack(file, target)
	if err != nil {
		return nil, err
	}

	snapshot := *rv
	if standalone && snapshot.Executable == "" {
		snapshot.Executable = filepath.Base(file)
	}

	local, err := m.repo.LoadLocal()
	if err != nil {
		return nil, err
	}
	local.Install(rs, &snapshot)
	if err := m.repo.SaveLocal(local); err != nil {
		return nil, err
	}

	result := &InstallResult{
		Solver:     rs.Name,
		Version:    rv.Version,
		Dir:        target,
		Standalone: standalone,
		SizeBytes:  info.Size(),
	}
	m.record(&store.Event{Action: store.ActionInstall, Solver: rs.Name, Version: rv.Version, Detail: url, SizeBytes: info.Size()})

	if !opts.Enable {
		installed, _, _ := local.GetSolverVersion(rs.Name, rv.Version)
		result.Executable, _ = m.executablePath(rs.Name, installed)
		return result, nil
	}

	enabled, err := m.enable(local, rs.Name, rv.Version)
	if err != nil {
		return result, fmt.Errorf("installed %s %s but enabling failed: %w", rs.Name, rv.Version, err)
	}
	result.Executable = enabled.Executable
	result.Enabled = true
	return result, nil
}

// unpack fills target from file through a staging directory next to it, so
// target either does not exist or is complete.
func (m *Manager) unpack(file, target string) (bool, error) {
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(target)+".staging-*")
	if err != nil {
		return false, fmt.Errorf("failed to create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	result, err := m.extractor.Extract(file, staging)
	if err != nil {
		return false, fmt.Errorf("failed to extract %s: %w", filepath.Base(file), err)
	}

	standalone := result == archive.NotAnArchive
	if standalone {
		m.logger.Debug("download is not an archive, installing it as executable", "file", file)
		dst := filepath.Join(staging, filepath.Base(file))
		if err := copyFile(file, dst); err != nil {
			return false, fmt.Errorf("failed to copy %s: %w", filepath.Base(file), err)
		}
		if err := os.Chmod(dst, 0755); err != nil {
			return false, fmt.Errorf("failed to mark %s executable: %w", dst, err)
		}
	}

	if err := os.Chmod(staging, 0755); err != nil {
		return false, fmt.Errorf("failed to set permissions on %s: %w", staging, err)
	}
	if err := os.Rename(staging, target); err != nil {
		return false, fmt.Errorf("failed to move installation into place: %w", err)
	}
	committed = true
	return standalone, nil
}

// RemoveResult describes a completed remove.
type RemoveResult struct {
	Dir string
	// Recorded is set when the version was listed in the install record.
	Recorded bool
	// Disabled is set when a KeY command for the solver was cleared.
	Disabled bool
}

// Remove deletes an installed version and its record entry, then clears the
// solver's KeY command. Missing directories and entries are not errors, and
// a failure to clear the command is only logged.
func (m *Manager) Remove(ctx context.Context, solver, version string) (*RemoveResult, error) {
	dir, err := m.InstallDir(solver, version)
	if err != nil {
		return nil, err
	}
	release, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	m.logger.Info("removing", "solver", solver, "version", version, "dir", dir)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", dir, err)
	}

	local, err := m.repo.LoadLocal()
	if err != nil {
		return nil, err
	}
	result := &RemoveResult{Dir: dir, Recorded: local.RemoveSolverVersion(solver, version)}
	if err := m.repo.SaveLocal(local); err != nil {
		return nil, err
	}
	m.record(&store.Event{Action: store.ActionRemove, Solver: solver, Version: version})

	disabled, err := m.disable(solver)
	if err != nil {
		m.logger.Warn("failed to disable solver", "solver", solver, "error", err)
	}
	result.Disabled = disabled
	return result, nil
}

// EnableResult describes a completed enable.
type EnableResult struct {
	Solver     string
	Version    string
	Executable string
}

// Enable writes the executable of an installed version into the KeY
// settings. An empty version selects the latest installed version. Other
// solvers' commands are not touched.
func (m *Manager) Enable(ctx context.Context, solver, version string) (*EnableResult, error) {
	release, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	local, err := m.repo.LoadLocal()
	if err != nil {
		return nil, err
	}
	return m.enable(local, solver, version)
}

func (m *Manager) enable(local *repository.LocalRepository, solver, version string) (*EnableResult, error) {
	installed, ok, err := local.GetSolverVersion(solver, version)
	if err != nil {
		return nil, err
	}
	if !ok {
		if version == "" {
			return nil, fmt.Errorf("%w: %s", ErrNoInstalledVersion, solver)
		}
		return nil, fmt.Errorf("%w: %s %s", ErrNotInstalled, solver, version)
	}

	exe, err := m.executablePath(solver, installed)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(exe); err != nil {
		m.logger.Warn("executable not found", "path", exe, "error", err)
	}

	if err := m.settings.SetSolverCommand(solver, exe); err != nil {
		return nil, err
	}
	m.record(&store.Event{Action: store.ActionEnable, Solver: solver, Version: installed.Version, Detail: exe})

	return &EnableResult{Solver: solver, Version: installed.Version, Executable: exe}, nil
}

// Disable clears the KeY command of solver and reports whether one was set.
func (m *Manager) Disable(ctx context.Context, solver string) (bool, error) {
	return m.disable(solver)
}

func (m *Manager) disable(solver string) (bool, error) {
	cleared, err := m.settings.ClearSolverCommand(solver)
	if err != nil {
		return false, err
	}
	if cleared {
		m.record(&store.Event{Action: store.ActionDisable, Solver: solver})
	}
	return cleared, nil
}

func (m *Manager) executablePath(solver string, v repository.InstalledSolverVersion) (string, error) {
	dir, err := m.InstallDir(solver, v.Version)
	if err != nil {
		return "", err
	}
	exe := filepath.Join(dir, filepath.FromSlash(v.Executable))
	abs, err := filepath.Abs(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", exe, err)
	}
	return abs, nil
}

func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	dest, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dest, source); err != nil {
		dest.Close()
		return err
	}
	return dest.Close()
}
