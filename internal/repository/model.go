package repository

import (
	"errors"
	"fmt"
	"slices"

	"github.com/wadoon/key-smtmgr/internal/version"
)

// Solver returns the catalog entry with the given name.
func (r *RemoteRepository) Solver(name string) (*RemoteSolver, bool) {
	i, ok := r.byName.find(len(r.Solvers), func(i int) string { return r.Solvers[i].Name }, name)
	if !ok {
		return nil, false
	}
	return r.Solvers[i], true
}

// AddSolver appends a catalog entry, or returns the existing one with the
// same name.
func (r *RemoteRepository) AddSolver(s *RemoteSolver) *RemoteSolver {
	if existing, ok := r.Solver(s.Name); ok {
		return existing
	}
	r.Solvers = append(r.Solvers, s)
	return s
}

// Version returns the release with the given version string.
func (s *RemoteSolver) Version(v string) (*RemoteSolverVersion, bool) {
	i, ok := s.byVersion.find(len(s.Versions), func(i int) string { return s.Versions[i].Version }, v)
	if !ok {
		return nil, false
	}
	return &s.Versions[i], true
}

// SetVersions replaces the release list.
func (s *RemoteSolver) SetVersions(versions []RemoteSolverVersion) {
	s.Versions = versions
	s.byVersion.invalidate()
}

// FindSolverVersion looks up a release by exact solver name and version.
// A miss is reported through ok, never as an error.
func (r *RemoteRepository) FindSolverVersion(name, v string) (*RemoteSolver, *RemoteSolverVersion, bool) {
	s, ok := r.Solver(name)
	if !ok {
		return nil, nil, false
	}
	sv, ok := s.Version(v)
	if !ok {
		return nil, nil, false
	}
	return s, sv, true
}

// FindLatestVersion maps each solver name to its highest catalog version.
// Solvers without versions are left out.
func (r *RemoteRepository) FindLatestVersion() (map[string]string, error) {
	latest := make(map[string]string, len(r.Solvers))
	seen := make(map[string]bool, len(r.Solvers))
	for _, s := range r.Solvers {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		versions := make([]string, len(s.Versions))
		for i, v := range s.Versions {
			versions[i] = v.Version
		}
		if err := putLatest(latest, s.Name, versions); err != nil {
			return nil, err
		}
	}
	return latest, nil
}

// NeedsSelfUpdate reports whether the catalog was written for a newer
// document layout than formatVersion.
func (r *RemoteRepository) NeedsSelfUpdate(formatVersion int) bool {
	return r.FormatVersion > formatVersion
}

// NewerTool returns the advertised key-smtmgr release when it is newer than
// current. Unparsable versions on either side never trigger the hint.
func (r *RemoteRepository) NewerTool(current string) (string, bool) {
	if r.LatestToolVersion == "" {
		return "", false
	}
	older, err := version.Less(current, r.LatestToolVersion)
	if err != nil || !older {
		return "", false
	}
	return r.LatestToolVersion, true
}

// GetSolver returns the installed solver with the given name.
func (r *LocalRepository) GetSolver(name string) (*LocalSolver, bool) {
	i, ok := r.solverPos(name)
	if !ok {
		return nil, false
	}
	return r.Installed[i], true
}

func (r *LocalRepository) solverPos(name string) (int, bool) {
	return r.byName.find(len(r.Installed), func(i int) string { return r.Installed[i].Name }, name)
}

func (s *LocalSolver) versionPos(v string) (int, bool) {
	return s.byVersion.find(len(s.Versions), func(i int) string { return s.Versions[i].Version }, v)
}

// Version returns the installed version with the given version string.
func (s *LocalSolver) Version(v string) (InstalledSolverVersion, bool) {
	i, ok := s.versionPos(v)
	if !ok {
		return InstalledSolverVersion{}, false
	}
	return s.Versions[i], true
}

// LatestVersion returns the highest installed version string.
func (s *LocalSolver) LatestVersion() (string, bool, error) {
	if len(s.Versions) == 0 {
		return "", false, nil
	}
	versions := make([]string, len(s.Versions))
	for i, v := range s.Versions {
		versions[i] = v.Version
	}
	latest, err := version.Max(versions)
	if err != nil {
		return "", false, err
	}
	return latest, true, nil
}

// IsInstalled reports whether the exact solver version is in the record.
func (r *LocalRepository) IsInstalled(name, v string) bool {
	s, ok := r.GetSolver(name)
	if !ok {
		return false
	}
	_, ok = s.Version(v)
	return ok
}

// FindLatestVersion maps each installed solver to its highest installed
// version. Solvers without versions are left out.
func (r *LocalRepository) FindLatestVersion() (map[string]string, error) {
	latest := make(map[string]string, len(r.Installed))
	seen := make(map[string]bool, len(r.Installed))
	for _, s := range r.Installed {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		versions := make([]string, len(s.Versions))
		for i, v := range s.Versions {
			versions[i] = v.Version
		}
		if err := putLatest(latest, s.Name, versions); err != nil {
			return nil, err
		}
	}
	return latest, nil
}

// Install records a remote solver version. The solver's descriptive fields
// are copied on first install only; calling Install again with the same
// version changes nothing.
func (r *LocalRepository) Install(solver *RemoteSolver, sv *RemoteSolverVersion) {
	s, ok := r.GetSolver(solver.Name)
	if !ok {
		s = &LocalSolver{
			Name:        solver.Name,
			License:     solver.License,
			Homepage:    solver.Homepage,
			Description: solver.Description,
			Versions:    []InstalledSolverVersion{},
		}
		r.Installed = append(r.Installed, s)
	}

	if _, ok := s.Version(sv.Version); ok {
		return
	}
	s.Versions = append(s.Versions, InstalledSolverVersion{
		Version:     sv.Version,
		Description: sv.Description,
		ReleaseDate: sv.ReleaseDate,
		Executable:  sv.Executable,
	})
}

// RemoveSolverVersion drops a version from the record and the solver with it
// once no version is left. It reports whether anything was removed.
func (r *LocalRepository) RemoveSolverVersion(name, v string) bool {
	i, ok := r.solverPos(name)
	if !ok {
		return false
	}
	s := r.Installed[i]

	j, ok := s.versionPos(v)
	if !ok {
		return false
	}
	s.Versions = slices.Delete(s.Versions, j, j+1)
	s.byVersion.invalidate()

	if len(s.Versions) == 0 {
		r.Installed = slices.Delete(r.Installed, i, i+1)
		r.byName.invalidate()
	}
	return true
}

// GetSolverVersion returns an installed version. An empty v selects the
// latest installed version of the solver.
func (r *LocalRepository) GetSolverVersion(name, v string) (InstalledSolverVersion, bool, error) {
	s, ok := r.GetSolver(name)
	if !ok {
		return InstalledSolverVersion{}, false, nil
	}

	if v == "" {
		latest, ok, err := s.LatestVersion()
		if err != nil || !ok {
			return InstalledSolverVersion{}, false, err
		}
		v = latest
	}

	sv, ok := s.Version(v)
	return sv, ok, nil
}

// Updates compares the latest catalog and installed versions per solver and
// returns the solvers whose catalog version is strictly newer. Solvers that
// are only installed, or only in the catalog, are not reported.
func Updates(remote *RemoteRepository, local *LocalRepository) (map[string]string, error) {
	remoteLatest, err := remote.FindLatestVersion()
	if err != nil {
		return nil, err
	}
	localLatest, err := local.FindLatestVersion()
	if err != nil {
		return nil, err
	}

	updates := make(map[string]string)
	for name, installed := range localLatest {
		available, ok := remoteLatest[name]
		if !ok {
			continue
		}
		older, err := version.Less(installed, available)
		if err != nil {
			return nil, err
		}
		if older {
			updates[name] = available
		}
	}
	return updates, nil
}

func putLatest(latest map[string]string, name string, versions []string) error {
	v, err := version.Max(versions)
	if errors.Is(err, version.ErrEmpty) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("solver %s: %w", name, err)
	}
	latest[name] = v
	return nil
}
