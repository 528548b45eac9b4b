// Package gather builds the published catalog from upstream release feeds.
// It is a maintainer tool: the result is written in the remote document
// format and then published at the catalog URL.
package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wadoon/key-smtmgr/internal/repository"
	"github.com/wadoon/key-smtmgr/internal/version"
)

// Source produces the version list of one solver.
type Source interface {
	// Solver returns the catalog entry metadata. Versions is ignored.
	Solver() repository.RemoteSolver
	Versions(ctx context.Context) ([]repository.RemoteSolverVersion, error)
}

// Gatherer refreshes catalog entries from a set of sources.
type Gatherer struct {
	sources map[string]Source
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Gatherer over the given sources, keyed by solver name.
func New(sources []Source, logger *slog.Logger) *Gatherer {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gatherer{sources: make(map[string]Source, len(sources)), logger: logger, now: time.Now}
	for _, s := range sources {
		g.sources[s.Solver().Name] = s
	}
	return g
}

// Names returns the solver names this Gatherer knows, sorted.
func (g *Gatherer) Names() []string {
	names := make([]string, 0, len(g.sources))
	for name := range g.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Update replaces the version lists of the named solvers in repo. Sources
// are queried in parallel; repo is only modified once all of them
// succeeded. Solvers missing from repo are appended.
func (g *Gatherer) Update(ctx context.Context, repo *repository.RemoteRepository, names []string) error {
	sources := make([]Source, len(names))
	for i, name := range names {
		s, ok := g.sources[name]
		if !ok {
			return fmt.Errorf("no source for solver %q", name)
		}
		sources[i] = s
	}

	results := make([][]repository.RemoteSolverVersion, len(sources))
	eg, egctx := errgroup.WithContext(ctx)
	for i, s := range sources {
		eg.Go(func() error {
			name := s.Solver().Name
			g.logger.Info("gathering releases", "solver", name)
			versions, err := s.Versions(egctx)
			if err != nil {
				return fmt.Errorf("failed to gather %s: %w", name, err)
			}
			results[i] = sortVersions(versions)
			g.logger.Debug("gathered releases", "solver", name, "count", len(versions))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, s := range sources {
		meta := s.Solver()
		solver, ok := repo.Solver(meta.Name)
		if !ok {
			solver = repo.AddSolver(&meta)
		}
		solver.SetVersions(results[i])
	}
	if repo.FormatVersion == 0 {
		repo.FormatVersion = repository.FormatVersion
	}
	repo.Updated = g.now().UTC().Format("2006-01-02")
	return nil
}

// sortVersions orders newest first and drops repeated version strings.
func sortVersions(versions []repository.RemoteSolverVersion) []repository.RemoteSolverVersion {
	seen := make(map[string]bool, len(versions))
	out := make([]repository.RemoteSolverVersion, 0, len(versions))
	for _, v := range versions {
		if seen[v.Version] {
			continue
		}
		seen[v.Version] = true
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		less, err := version.Less(out[j].Version, out[i].Version)
		return err == nil && less
	})
	return out
}

// ReadCatalog loads a catalog document. A missing file yields an empty
// catalog.
func ReadCatalog(path string) (*repository.RemoteRepository, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &repository.RemoteRepository{
			FormatVersion: repository.FormatVersion,
			Solvers:       []*repository.RemoteSolver{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return repository.DecodeRemote(data)
}

// WriteCatalog writes repo to path.
func WriteCatalog(path string, repo *repository.RemoteRepository) error {
	data, err := repository.EncodeRemote(repo)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
