package manager

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/wadoon/key-smtmgr/internal/download"
	"github.com/wadoon/key-smtmgr/internal/repository"
	"github.com/wadoon/key-smtmgr/internal/settings"
	"github.com/wadoon/key-smtmgr/internal/store"
)

const testCatalog = `{
  "updated": "2024-03-01",
  "formatVersion": 1,
  "solvers": [
    {
      "name": "z3",
      "license": "MIT",
      "homepage": "https://github.com/Z3Prover/z3",
      "description": "Z3 theorem prover",
      "versions": [
        {"version": "4.11.0", "download": {"linux": "https://dl/z3-4.11.0.zip"}, "executable": "bin/z3"},
        {"version": "4.12.1", "download": {"linux": "https://dl/z3-4.12.1.zip"}, "executable": "bin/z3"}
      ]
    },
    {
      "name": "cvc5",
      "license": "BSD-3-Clause",
      "versions": [
        {"version": "1.0.9", "download": {"linux": "https://dl/cvc5-Linux"}, "executable": ""}
      ]
    },
    {
      "name": "broken",
      "versions": [
        {"version": "1.0.0", "download": {"linux": "https://dl/broken.zip"}, "executable": "bin/broken"},
        {"version": "2.0.0", "download": {"win": "https://dl/broken.exe"}, "executable": "broken.exe"}
      ]
    }
  ]
}`

type staticFetcher []byte

func (f staticFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f, nil
}

type artifact struct {
	name string
	data []byte
}

type fakeDownloader struct {
	artifacts map[string]artifact
	calls     int
}

func (d *fakeDownloader) Download(ctx context.Context, url, destDir string, progress download.ProgressFunc) (string, error) {
	d.calls++
	a, ok := d.artifacts[url]
	if !ok {
		return "", &download.NetworkError{URL: url, StatusCode: 404}
	}
	path := filepath.Join(destDir, a.name)
	if err := os.WriteFile(path, a.data, 0644); err != nil {
		return "", err
	}
	if progress != nil {
		progress(int64(len(a.data)), int64(len(a.data)))
	}
	return path, nil
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		hdr.SetMode(0755)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("zip: %v", err)
		}
		w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

type fixture struct {
	mgr        *Manager
	repo       *repository.Store
	downloader *fakeDownloader
	settings   *settings.File
	journal    *store.Store
	base       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "solvers")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := repository.NewStore("https://example.org/repo.json",
		filepath.Join(dir, "config", "repository.cache.json"),
		filepath.Join(base, "info.json"),
		staticFetcher(testCatalog))
	repo.Warnings = io.Discard
	repo.Logger = logger

	journal, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := journal.CreateSchema(); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	dl := &fakeDownloader{artifacts: map[string]artifact{
		"https://dl/z3-4.11.0.zip": {"z3-4.11.0.zip", zipBytes(t, map[string]string{"bin/z3": "z3 4.11.0"})},
		"https://dl/z3-4.12.1.zip": {"z3-4.12.1.zip", zipBytes(t, map[string]string{"bin/z3": "z3 4.12.1", "LICENSE.txt": "MIT"})},
		"https://dl/cvc5-Linux":    {"cvc5-Linux", []byte("\x7fELF cvc5")},
		"https://dl/broken.zip":    {"broken.zip", []byte("PK\x03\x04 truncated")},
	}}
	st := settings.Open(filepath.Join(dir, "home", ".key", "proofIndependentSettings.props"))

	mgr := New(Options{
		Repository:  repo,
		InstallBase: base,
		Downloader:  dl,
		Settings:    st,
		Journal:     journal,
		GOOS:        "linux",
		Logger:      logger,
	})
	return &fixture{mgr: mgr, repo: repo, downloader: dl, settings: st, journal: journal, base: base}
}

func (f *fixture) local(t *testing.T) *repository.LocalRepository {
	t.Helper()
	local, err := f.repo.LoadLocal()
	if err != nil {
		t.Fatalf("LoadLocal: %v", err)
	}
	return local
}

func (f *fixture) command(t *testing.T, solver string) (string, bool) {
	t.Helper()
	cmd, ok, err := f.settings.SolverCommand(solver)
	if err != nil {
		t.Fatalf("SolverCommand: %v", err)
	}
	return cmd, ok
}

func TestInstall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var progressed int64
	res, err := f.mgr.Install(ctx, "z3", "4.12.1", InstallOptions{
		Progress: func(read, total int64) { progressed = read },
	})
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	wantDir := filepath.Join(f.base, "z3", "4.12.1")
	if res.Dir != wantDir {
		t.Errorf("Dir = %q, want %q", res.Dir, wantDir)
	}
	if res.Standalone || res.Enabled {
		t.Errorf("result = %+v, want archive install without enable", res)
	}
	if progressed == 0 {
		t.Error("progress callback not forwarded")
	}
	data, err := os.ReadFile(filepath.Join(wantDir, "bin", "z3"))
	if err != nil || string(data) != "z3 4.12.1" {
		t.Errorf("extracted executable = %q, %v", data, err)
	}
	if res.Executable != filepath.Join(wantDir, "bin", "z3") {
		t.Errorf("Executable = %q", res.Executable)
	}

	if !f.local(t).IsInstalled("z3", "4.12.1") {
		t.Error("record does not list z3 4.12.1")
	}
	if _, ok := f.command(t, "z3"); ok {
		t.Error("solver enabled without --enable")
	}

	entries, _ := os.ReadDir(filepath.Join(f.base, "z3"))
	if len(entries) != 1 {
		t.Errorf("staging leftovers in %s: %v", filepath.Join(f.base, "z3"), entries)
	}

	last, err := f.journal.GetLastEvent(store.ActionInstall, "z3")
	if err != nil || last == nil || last.Version != "4.12.1" || last.SizeBytes == 0 {
		t.Errorf("journal install event = %+v, %v", last, err)
	}
}

func TestInstall_Enable(t *testing.T) {
	f := newFixture(t)

	res, err := f.mgr.Install(context.Background(), "z3", "4.12.1", InstallOptions{Enable: true})
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if !res.Enabled {
		t.Error("Enabled = false")
	}

	cmd, ok := f.command(t, "z3")
	want := filepath.Join(f.base, "z3", "4.12.1", "bin", "z3")
	if !ok || cmd != want {
		t.Errorf("settings command = %q, %v; want %q", cmd, ok, want)
	}
}

func TestInstall_AlreadyInstalled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.Install(ctx, "z3", "4.12.1", InstallOptions{}); err != nil {
		t.Fatalf("first Install() error: %v", err)
	}
	marker := filepath.Join(f.base, "z3", "4.12.1", "marker")
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := f.mgr.Install(ctx, "z3", "4.12.1", InstallOptions{Enable: true})
	if !errors.Is(err, ErrAlreadyInstalled) {
		t.Fatalf("second Install() error = %v, want ErrAlreadyInstalled", err)
	}
	if f.downloader.calls != 1 {
		t.Errorf("download calls = %d, want 1", f.downloader.calls)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Error("existing installation was modified")
	}
	if _, ok := f.command(t, "z3"); ok {
		t.Error("guarded install must not enable")
	}
}

func TestInstall_UnknownSolverVersion(t *testing.T) {
	f := newFixture(t)

	tests := []struct{ solver, version string }{
		{"nonexistent", "1.0"},
		{"z3", "0.0.1"},
	}
	for _, tt := range tests {
		_, err := f.mgr.Install(context.Background(), tt.solver, tt.version, InstallOptions{})
		if !errors.Is(err, ErrUnknownSolverVersion) {
			t.Errorf("Install(%s, %s) error = %v, want ErrUnknownSolverVersion", tt.solver, tt.version, err)
		}
	}
	if f.downloader.calls != 0 {
		t.Errorf("download calls = %d, want 0", f.downloader.calls)
	}
	if _, err := os.Stat(filepath.Join(f.base, "nonexistent")); !os.IsNotExist(err) {
		t.Error("installation directory created for unknown solver")
	}
}

func TestInstall_Standalone(t *testing.T) {
	f := newFixture(t)

	res, err := f.mgr.Install(context.Background(), "cvc5", "1.0.9", InstallOptions{Enable: true})
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if !res.Standalone {
		t.Error("Standalone = false for a plain binary")
	}

	exe := filepath.Join(f.base, "cvc5", "1.0.9", "cvc5-Linux")
	info, err := os.Stat(exe)
	if err != nil {
		t.Fatalf("standalone executable missing: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0100 == 0 {
		t.Errorf("mode = %v, want executable", info.Mode())
	}

	installed, ok, _ := f.local(t).GetSolverVersion("cvc5", "1.0.9")
	if !ok || installed.Executable != "cvc5-Linux" {
		t.Errorf("recorded executable = %q, want cvc5-Linux", installed.Executable)
	}
	if cmd, _ := f.command(t, "cvc5"); cmd != exe {
		t.Errorf("settings command = %q, want %q", cmd, exe)
	}
}

func TestInstall_ExtractFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Install(context.Background(), "broken", "1.0.0", InstallOptions{})
	if err == nil {
		t.Fatal("Install() should fail for a corrupt archive")
	}
	if errors.Is(err, ErrAlreadyInstalled) || errors.Is(err, ErrUnknownSolverVersion) {
		t.Errorf("unexpected error kind: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.base, "broken", "1.0.0")); !os.IsNotExist(err) {
		t.Error("target directory exists after failed extraction")
	}
	entries, _ := os.ReadDir(filepath.Join(f.base, "broken"))
	if len(entries) != 0 {
		t.Errorf("staging leftovers: %v", entries)
	}
	if f.local(t).IsInstalled("broken", "1.0.0") {
		t.Error("failed install was recorded")
	}
}

func TestInstall_NoDownloadForPlatform(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Install(context.Background(), "broken", "2.0.0", InstallOptions{})
	if !errors.Is(err, ErrNoDownload) {
		t.Errorf("Install() error = %v, want ErrNoDownload", err)
	}
}

func TestInstall_DownloadFailure(t *testing.T) {
	f := newFixture(t)
	delete(f.downloader.artifacts, "https://dl/z3-4.11.0.zip")

	_, err := f.mgr.Install(context.Background(), "z3", "4.11.0", InstallOptions{})
	var netErr *download.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Install() error = %v, want *download.NetworkError", err)
	}
	if _, err := os.Stat(filepath.Join(f.base, "z3", "4.11.0")); !os.IsNotExist(err) {
		t.Error("target directory exists after failed download")
	}
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.Install(ctx, "z3", "4.12.1", InstallOptions{Enable: true}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	res, err := f.mgr.Remove(ctx, "z3", "4.12.1")
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if !res.Recorded || !res.Disabled {
		t.Errorf("result = %+v, want recorded and disabled", res)
	}
	if _, err := os.Stat(res.Dir); !os.IsNotExist(err) {
		t.Error("installation directory still exists")
	}
	local := f.local(t)
	if local.IsInstalled("z3", "4.12.1") {
		t.Error("record still lists z3 4.12.1")
	}
	if _, ok := local.GetSolver("z3"); ok {
		t.Error("solver without versions still recorded")
	}
	if _, ok := f.command(t, "z3"); ok {
		t.Error("settings command not cleared")
	}

	// removing again is a no-op success
	res, err = f.mgr.Remove(ctx, "z3", "4.12.1")
	if err != nil {
		t.Fatalf("second Remove() error: %v", err)
	}
	if res.Recorded || res.Disabled {
		t.Errorf("second result = %+v, want nothing removed", res)
	}
}

func TestRemove_RejectsPathsOutsideVersionDir(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, v := range []string{"4.11.0", "4.12.1"} {
		if _, err := f.mgr.Install(ctx, "z3", v, InstallOptions{}); err != nil {
			t.Fatalf("Install(%s) error: %v", v, err)
		}
	}
	sibling := filepath.Join(filepath.Dir(f.base), "precious")
	if err := os.MkdirAll(sibling, 0755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		solver  string
		version string
	}{
		{"empty version", "z3", ""},
		{"empty solver and version", "", ""},
		{"dot version", "z3", "."},
		{"parent solver", "..", "precious"},
		{"nested version", "z3", "4.12.1/bin"},
		{"parent in version", "z3", "../cvc5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Remove(ctx, tt.solver, tt.version)
			if !errors.Is(err, ErrInvalidName) {
				t.Errorf("Remove(%q, %q) error = %v, want ErrInvalidName", tt.solver, tt.version, err)
			}
		})
	}

	for _, dir := range []string{
		filepath.Join(f.base, "z3", "4.11.0"),
		filepath.Join(f.base, "z3", "4.12.1", "bin"),
		filepath.Join(f.base, "info.json"),
		sibling,
	} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("%s was touched: %v", dir, err)
		}
	}
	local := f.local(t)
	for _, v := range []string{"4.11.0", "4.12.1"} {
		if !local.IsInstalled("z3", v) {
			t.Errorf("record lost z3 %s", v)
		}
	}
}

func TestInstallDir(t *testing.T) {
	f := newFixture(t)

	dir, err := f.mgr.InstallDir("z3", "4.12.1")
	if err != nil || dir != filepath.Join(f.base, "z3", "4.12.1") {
		t.Errorf("InstallDir(z3, 4.12.1) = %q, %v", dir, err)
	}
	if _, err := f.mgr.InstallDir("../x", "1.0"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("InstallDir(../x, 1.0) error = %v, want ErrInvalidName", err)
	}
}

func TestEnable_LatestMatchesExplicit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, v := range []string{"4.11.0", "4.12.1"} {
		if _, err := f.mgr.Install(ctx, "z3", v, InstallOptions{}); err != nil {
			t.Fatalf("Install(%s) error: %v", v, err)
		}
	}

	explicit, err := f.mgr.Enable(ctx, "z3", "4.12.1")
	if err != nil {
		t.Fatalf("Enable(explicit) error: %v", err)
	}
	explicitCmd, _ := f.command(t, "z3")

	if _, err := f.mgr.Enable(ctx, "z3", "4.11.0"); err != nil {
		t.Fatalf("Enable(4.11.0) error: %v", err)
	}

	latest, err := f.mgr.Enable(ctx, "z3", "")
	if err != nil {
		t.Fatalf("Enable(latest) error: %v", err)
	}
	latestCmd, _ := f.command(t, "z3")

	if latest.Version != "4.12.1" || latest.Executable != explicit.Executable {
		t.Errorf("latest = %+v, explicit = %+v", latest, explicit)
	}
	if latestCmd != explicitCmd {
		t.Errorf("settings after latest = %q, after explicit = %q", latestCmd, explicitCmd)
	}
	if !filepath.IsAbs(latestCmd) {
		t.Errorf("command %q is not absolute", latestCmd)
	}
}

func TestEnable_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.Enable(ctx, "z3", ""); !errors.Is(err, ErrNoInstalledVersion) {
		t.Errorf("Enable(z3) error = %v, want ErrNoInstalledVersion", err)
	}
	if _, err := f.mgr.Enable(ctx, "z3", "4.12.1"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("Enable(z3, 4.12.1) error = %v, want ErrNotInstalled", err)
	}
}

func TestEnable_PerSolverKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.Install(ctx, "z3", "4.12.1", InstallOptions{Enable: true}); err != nil {
		t.Fatalf("Install(z3) error: %v", err)
	}
	if _, err := f.mgr.Install(ctx, "cvc5", "1.0.9", InstallOptions{Enable: true}); err != nil {
		t.Fatalf("Install(cvc5) error: %v", err)
	}

	if _, ok := f.command(t, "z3"); !ok {
		t.Error("enabling cvc5 cleared z3")
	}

	cleared, err := f.mgr.Disable(ctx, "cvc5")
	if err != nil || !cleared {
		t.Fatalf("Disable(cvc5) = %v, %v", cleared, err)
	}
	if _, ok := f.command(t, "z3"); !ok {
		t.Error("disabling cvc5 cleared z3")
	}
}

func TestCheckForUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.Install(ctx, "z3", "4.11.0", InstallOptions{}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	check, err := f.mgr.CheckForUpdates(ctx)
	if err != nil {
		t.Fatalf("CheckForUpdates() error: %v", err)
	}
	if check.Remote == nil {
		t.Error("CheckForUpdates() returned no catalog")
	}
	updates := check.Updates
	if len(updates) != 1 || updates["z3"] != "4.12.1" {
		t.Errorf("CheckForUpdates() = %v, want z3 -> 4.12.1", updates)
	}

	if _, err := f.mgr.Install(ctx, "z3", "4.12.1", InstallOptions{}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	check, err = f.mgr.CheckForUpdates(ctx)
	if err != nil {
		t.Fatalf("CheckForUpdates() error: %v", err)
	}
	if updates = check.Updates; len(updates) != 0 {
		t.Errorf("CheckForUpdates() = %v, want none", updates)
	}
}

func TestCatalog_Enabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.Install(ctx, "z3", "4.11.0", InstallOptions{}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if _, err := f.mgr.Install(ctx, "z3", "4.12.1", InstallOptions{Enable: true}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	c, err := f.mgr.Catalog(ctx)
	if err != nil {
		t.Fatalf("Catalog() error: %v", err)
	}
	if !c.IsEnabled("z3", "4.12.1") || c.IsEnabled("z3", "4.11.0") {
		t.Errorf("Enabled = %v, want z3 4.12.1", c.Enabled)
	}
	if len(c.Remote.Solvers) != 3 {
		t.Errorf("len(Remote.Solvers) = %d, want 3", len(c.Remote.Solvers))
	}
}

func TestRefresh_Journals(t *testing.T) {
	f := newFixture(t)

	if err := f.mgr.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	events, err := f.journal.ListEvents(0)
	if err != nil {
		t.Fatalf("ListEvents() error: %v", err)
	}
	if len(events) != 1 || events[0].Action != store.ActionUpdate {
		t.Errorf("events = %+v, want one update", events)
	}
}
