package gather

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/wadoon/key-smtmgr/internal/repository"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func release(tag string, prerelease bool, assets ...string) *github.RepositoryRelease {
	r := &github.RepositoryRelease{
		TagName:    github.String(tag),
		Name:       github.String("Release " + tag),
		Prerelease: github.Bool(prerelease),
		PublishedAt: &github.Timestamp{
			Time: time.Date(2023, 1, 18, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, a := range assets {
		r.Assets = append(r.Assets, &github.ReleaseAsset{
			Name:               github.String(a),
			BrowserDownloadURL: github.String("https://github.com/Z3Prover/z3/releases/download/" + tag + "/" + a),
		})
	}
	return r
}

func newGitHubServer(t *testing.T, releases []*github.RepositoryRelease) *github.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/Z3Prover/z3/releases" {
			t.Errorf("unexpected request to %s", r.URL.Path)
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(releases)
	}))
	t.Cleanup(server.Close)

	serverURL, _ := url.Parse(server.URL + "/")
	client := github.NewClient(&http.Client{})
	client.BaseURL = serverURL
	return client
}

func TestGitHubSource_Z3(t *testing.T) {
	client := newGitHubServer(t, []*github.RepositoryRelease{
		release("z3-4.12.2", true, "z3-4.12.2-x64-glibc-2.35.zip"),
		release("z3-4.12.1", false,
			"z3-4.12.1-x64-glibc-2.35.zip",
			"z3-4.12.1-x64-win.zip",
			"z3-4.12.1-x64-osx-10.16.zip"),
		release("z3-4.11.2", false, "z3-4.11.2-x64-glibc-2.31.zip"),
	})

	versions, err := Z3(client).Versions(context.Background())
	if err != nil {
		t.Fatalf("Versions() error: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("len(versions) = %d, want 2 (prerelease skipped)", len(versions))
	}

	v := versions[0]
	if v.Version != "4.12.1" {
		t.Errorf("Version = %q, want 4.12.1", v.Version)
	}
	if v.ReleaseDate != "2023-01-18" {
		t.Errorf("ReleaseDate = %q", v.ReleaseDate)
	}
	if filepath.Base(v.Download.Linux) != "z3-4.12.1-x64-glibc-2.35.zip" ||
		filepath.Base(v.Download.Windows) != "z3-4.12.1-x64-win.zip" ||
		filepath.Base(v.Download.Mac) != "z3-4.12.1-x64-osx-10.16.zip" {
		t.Errorf("Download = %+v", v.Download)
	}
	if v.Executable != "z3-4.12.1-x64-glibc-2.35/bin/z3" {
		t.Errorf("Executable = %q", v.Executable)
	}
	if versions[1].Download.Windows != "" {
		t.Errorf("missing asset should give empty URL, got %q", versions[1].Download.Windows)
	}
}

func TestGitHubSource_Limit(t *testing.T) {
	client := newGitHubServer(t, []*github.RepositoryRelease{
		release("z3-4.12.1", false), release("z3-4.12.0", false), release("z3-4.11.2", false),
	})
	src := Z3(client)
	src.Limit = 2

	versions, err := src.Versions(context.Background())
	if err != nil {
		t.Fatalf("Versions() error: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("len(versions) = %d, want 2", len(versions))
	}
}

const mathsatPage = `<html><body>
<h3>Version 5.6.10 (Jun 13, 2023)</h3>
<a href="download.php?file=mathsat-5.6.10-linux-x86_64.tar.gz">Linux</a>
<a href="download.php?file=mathsat-5.6.10-win64-msvc.zip">Windows</a>
<a href="download.php?file=mathsat-5.6.10-osx.tar.gz">macOS</a>
<h3>Version 5.6.1 (Feb 26, 2021)</h3>
<a href="download.php?file=mathsat-5.6.1-linux-x86_64.tar.gz">Linux</a>
</body></html>`

type pageFetcher struct {
	body string
	err  error
}

func (f pageFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return []byte(f.body), f.err
}

func TestMathSATSource(t *testing.T) {
	versions, err := MathSAT(pageFetcher{body: mathsatPage}).Versions(context.Background())
	if err != nil {
		t.Fatalf("Versions() error: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("len(versions) = %d, want 2", len(versions))
	}

	latest := versions[0]
	if latest.Version != "5.6.10" || latest.ReleaseDate != "Jun 13, 2023" {
		t.Errorf("latest = %+v", latest)
	}
	want := repository.DownloadURLs{
		Linux:   "https://mathsat.fbk.eu/download.php?file=mathsat-5.6.10-linux-x86_64.tar.gz",
		Windows: "https://mathsat.fbk.eu/download.php?file=mathsat-5.6.10-win64-msvc.zip",
		Mac:     "https://mathsat.fbk.eu/download.php?file=mathsat-5.6.10-osx.tar.gz",
	}
	if latest.Download != want {
		t.Errorf("Download = %+v, want %+v", latest.Download, want)
	}
	if latest.Executable != "mathsat-5.6.10-linux-x86_64/bin/mathsat" {
		t.Errorf("Executable = %q", latest.Executable)
	}

	old := versions[1]
	if old.Download.Linux != "https://mathsat.fbk.eu/download.php?file=mathsat-5.6.1-linux-x86_64.tar.gz" {
		t.Errorf("5.6.1 linux = %q", old.Download.Linux)
	}
	if old.Download.Windows != "" {
		t.Errorf("5.6.1 windows = %q, want empty", old.Download.Windows)
	}
}

type stubSource struct {
	meta     repository.RemoteSolver
	versions []repository.RemoteSolverVersion
	err      error
}

func (s *stubSource) Solver() repository.RemoteSolver { return s.meta }

func (s *stubSource) Versions(ctx context.Context) ([]repository.RemoteSolverVersion, error) {
	return s.versions, s.err
}

func TestUpdate(t *testing.T) {
	repo := &repository.RemoteRepository{
		FormatVersion: repository.FormatVersion,
		Solvers: []*repository.RemoteSolver{
			{Name: "z3", License: "kept", Versions: []repository.RemoteSolverVersion{{Version: "4.8.0"}}},
		},
	}
	g := New([]Source{
		&stubSource{
			meta: repository.RemoteSolver{Name: "z3", License: "MIT"},
			versions: []repository.RemoteSolverVersion{
				{Version: "4.11.2"}, {Version: "4.12.1"}, {Version: "4.11.2"},
			},
		},
		&stubSource{
			meta:     repository.RemoteSolver{Name: "cvc5", License: "BSD-3-Clause"},
			versions: []repository.RemoteSolverVersion{{Version: "1.0.9"}},
		},
	}, quietLogger())
	g.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	if err := g.Update(context.Background(), repo, g.Names()); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	z3, _ := repo.Solver("z3")
	if z3.License != "kept" {
		t.Errorf("existing metadata overwritten: %q", z3.License)
	}
	if len(z3.Versions) != 2 || z3.Versions[0].Version != "4.12.1" {
		t.Errorf("z3 versions = %+v, want 4.12.1, 4.11.2", z3.Versions)
	}
	cvc5, ok := repo.Solver("cvc5")
	if !ok || cvc5.License != "BSD-3-Clause" {
		t.Errorf("cvc5 not appended: %+v", cvc5)
	}
	if repo.Updated != "2024-03-01" {
		t.Errorf("Updated = %q", repo.Updated)
	}
}

func TestUpdate_FailureLeavesCatalog(t *testing.T) {
	repo := &repository.RemoteRepository{
		Solvers: []*repository.RemoteSolver{
			{Name: "z3", Versions: []repository.RemoteSolverVersion{{Version: "4.8.0"}}},
		},
	}
	feedErr := errors.New("rate limited")
	g := New([]Source{
		&stubSource{meta: repository.RemoteSolver{Name: "z3"}, versions: []repository.RemoteSolverVersion{{Version: "4.12.1"}}},
		&stubSource{meta: repository.RemoteSolver{Name: "MathSAT"}, err: feedErr},
	}, quietLogger())

	err := g.Update(context.Background(), repo, []string{"z3", "MathSAT"})
	if !errors.Is(err, feedErr) {
		t.Fatalf("Update() error = %v, want feed error", err)
	}
	z3, _ := repo.Solver("z3")
	if len(z3.Versions) != 1 || z3.Versions[0].Version != "4.8.0" {
		t.Errorf("catalog modified after failure: %+v", z3.Versions)
	}
	if _, ok := repo.Solver("MathSAT"); ok {
		t.Error("failed solver appended")
	}
}

func TestUpdate_UnknownSolver(t *testing.T) {
	g := New(nil, quietLogger())
	if err := g.Update(context.Background(), &repository.RemoteRepository{}, []string{"yices"}); err == nil {
		t.Error("Update() should fail for a solver without source")
	}
}

func TestCatalogFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo.json")

	repo, err := ReadCatalog(path)
	if err != nil {
		t.Fatalf("ReadCatalog(missing) error: %v", err)
	}
	repo.AddSolver(&repository.RemoteSolver{Name: "z3", Versions: []repository.RemoteSolverVersion{{Version: "4.12.1"}}})
	if err := WriteCatalog(path, repo); err != nil {
		t.Fatalf("WriteCatalog() error: %v", err)
	}

	again, err := ReadCatalog(path)
	if err != nil {
		t.Fatalf("ReadCatalog() error: %v", err)
	}
	if _, _, ok := again.FindSolverVersion("z3", "4.12.1"); !ok {
		t.Error("z3 4.12.1 lost in round trip")
	}
	if again.FormatVersion != repository.FormatVersion {
		t.Errorf("FormatVersion = %d", again.FormatVersion)
	}
}
