package gather

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"

	"github.com/wadoon/key-smtmgr/internal/repository"
	"github.com/wadoon/key-smtmgr/internal/version"
)

// DefaultReleaseLimit caps how many releases are taken from a feed.
const DefaultReleaseLimit = 30

// GitHubSource reads a solver's versions from its GitHub releases. Each
// platform's artifact is the first asset whose download URL contains the
// platform's marker.
type GitHubSource struct {
	Meta  repository.RemoteSolver
	Owner string
	Repo  string

	Linux, Windows, Mac string

	// Executable derives the executable path inside the unpacked linux
	// artifact from its asset name. Nil means a fixed empty path.
	Executable func(linuxAsset string) string

	// Limit caps the number of releases; zero means DefaultReleaseLimit.
	Limit int

	Client *github.Client
}

func (s *GitHubSource) Solver() repository.RemoteSolver { return s.Meta }

// Versions lists published, non-prerelease releases newest first.
func (s *GitHubSource) Versions(ctx context.Context) ([]repository.RemoteSolverVersion, error) {
	limit := s.Limit
	if limit <= 0 {
		limit = DefaultReleaseLimit
	}

	var releases []*github.RepositoryRelease
	opts := &github.ListOptions{PerPage: 100}
	for len(releases) < limit {
		page, resp, err := s.Client.Repositories.ListReleases(ctx, s.Owner, s.Repo, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list releases of %s/%s: %w", s.Owner, s.Repo, err)
		}
		releases = append(releases, page...)
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	var versions []repository.RemoteSolverVersion
	for _, r := range releases {
		if len(versions) == limit {
			break
		}
		if r.GetDraft() || r.GetPrerelease() {
			continue
		}
		v, ok := version.Extract(r.GetTagName())
		if !ok {
			continue
		}

		linux := findAsset(r.Assets, s.Linux)
		sv := repository.RemoteSolverVersion{
			Version:     v,
			Description: r.GetName(),
			ReleaseDate: releaseDate(r),
			Download: repository.DownloadURLs{
				Linux:   linux,
				Windows: findAsset(r.Assets, s.Windows),
				Mac:     findAsset(r.Assets, s.Mac),
			},
		}
		if s.Executable != nil && linux != "" {
			sv.Executable = s.Executable(artifactName(linux))
		}
		versions = append(versions, sv)
	}
	return versions, nil
}

func releaseDate(r *github.RepositoryRelease) string {
	t := r.GetPublishedAt()
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func findAsset(assets []*github.ReleaseAsset, marker string) string {
	if marker == "" {
		return ""
	}
	for _, a := range assets {
		if url := a.GetBrowserDownloadURL(); strings.Contains(url, marker) {
			return url
		}
	}
	return ""
}

// trimArchiveExt strips a known archive extension from an asset name.
func trimArchiveExt(name string) string {
	for _, ext := range []string{".tar.gz", ".tar.xz", ".tar.bz2", ".tar.zst", ".tgz", ".zip"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

// Z3 is the source for Z3Prover/z3.
func Z3(client *github.Client) *GitHubSource {
	return &GitHubSource{
		Meta: repository.RemoteSolver{
			Name:        "z3",
			License:     "MIT",
			Homepage:    "https://github.com/Z3Prover/z3",
			Description: "Z3 is a theorem prover from Microsoft Research.",
		},
		Owner:   "Z3Prover",
		Repo:    "z3",
		Linux:   "x64-glibc",
		Windows: "x64-win",
		Mac:     "x64-osx",
		Executable: func(asset string) string {
			return trimArchiveExt(asset) + "/bin/z3"
		},
		Client: client,
	}
}

// CVC5 is the source for cvc5/cvc5. Its linux artifact is a plain binary.
func CVC5(client *github.Client) *GitHubSource {
	return &GitHubSource{
		Meta: repository.RemoteSolver{
			Name:        "cvc5",
			License:     "BSD-3-Clause",
			Homepage:    "https://cvc5.github.io",
			Description: "cvc5 is an efficient open-source automatic theorem prover for SMT problems.",
		},
		Owner:   "cvc5",
		Repo:    "cvc5",
		Linux:   "-Linux",
		Windows: "-Win64.exe",
		Mac:     "-macOS",
		Client:  client,
	}
}

// Eldarica is the source for uuverifiers/eldarica. One JVM bundle serves
// all platforms.
func Eldarica(client *github.Client) *GitHubSource {
	return &GitHubSource{
		Meta: repository.RemoteSolver{
			Name:        "eldarica",
			License:     "BSD-3-Clause",
			Homepage:    "https://github.com/uuverifiers/eldarica",
			Description: "Eldarica is a model checker for Horn clauses.",
		},
		Owner:   "uuverifiers",
		Repo:    "eldarica",
		Linux:   "-bin-",
		Windows: "-bin-",
		Mac:     "-bin-",
		Executable: func(string) string {
			return "eldarica/eld"
		},
		Client: client,
	}
}

// NewGitHubClient returns a go-github client, authenticated when token is
// set.
func NewGitHubClient(token string) *github.Client {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return client
}
