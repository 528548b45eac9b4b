package gather

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"

	"github.com/wadoon/key-smtmgr/internal/repository"
)

// MathSATDownloadPage lists every MathSAT release with its artifacts.
const MathSATDownloadPage = "https://mathsat.fbk.eu/downloadall.html"

// Fetcher retrieves a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

var mathsatRelease = regexp.MustCompile(`Version (\d+\.\d+\.\d+) \((\w{3} \d{1,2}, \d{4})\)`)

// MathSATSource scrapes the MathSAT download page, which has no release
// feed.
type MathSATSource struct {
	PageURL string
	// Platform markers in the artifact file names.
	Linux, Windows, Mac string
	Fetcher             Fetcher
}

// MathSAT returns the source for the official download page.
func MathSAT(fetcher Fetcher) *MathSATSource {
	return &MathSATSource{
		PageURL: MathSATDownloadPage,
		Linux:   "linux-x86_64",
		Windows: "win64",
		Mac:     "osx",
		Fetcher: fetcher,
	}
}

func (s *MathSATSource) Solver() repository.RemoteSolver {
	return repository.RemoteSolver{
		Name:        "MathSAT",
		License:     "proprietary, free for research and evaluation",
		Homepage:    "https://mathsat.fbk.eu",
		Description: "MathSAT 5 is an efficient SMT solver from FBK and the University of Trento.",
	}
}

// Versions returns one entry per release announced on the page.
func (s *MathSATSource) Versions(ctx context.Context) ([]repository.RemoteSolverVersion, error) {
	page, err := s.Fetcher.Fetch(ctx, s.PageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch MathSAT download page: %w", err)
	}
	base, err := url.Parse(s.PageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MathSAT page URL: %w", err)
	}

	var versions []repository.RemoteSolverVersion
	for _, m := range mathsatRelease.FindAllSubmatch(page, -1) {
		v, date := string(m[1]), string(m[2])
		sv := repository.RemoteSolverVersion{
			Version:     v,
			ReleaseDate: date,
			Download: repository.DownloadURLs{
				Linux:   findMathSATURL(page, base, v, s.Linux),
				Windows: findMathSATURL(page, base, v, s.Windows),
				Mac:     findMathSATURL(page, base, v, s.Mac),
			},
		}
		if sv.Download.Linux != "" {
			sv.Executable = trimArchiveExt(artifactName(sv.Download.Linux)) + "/bin/mathsat"
		}
		versions = append(versions, sv)
	}
	return versions, nil
}

// artifactName returns the file name a download link resolves to, taking the
// "file" parameter of script links into account.
func artifactName(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return path.Base(link)
	}
	if file := u.Query().Get("file"); file != "" {
		return path.Base(file)
	}
	return path.Base(u.Path)
}

// findMathSATURL locates the artifact link for one version and platform and
// resolves it against the page URL.
func findMathSATURL(page []byte, base *url.URL, v, platform string) string {
	if platform == "" {
		return ""
	}
	re := regexp.MustCompile(`download\.php\?file=[^"'\s<>]*?-` + regexp.QuoteMeta(v) +
		`-[^"'\s<>]*?` + regexp.QuoteMeta(platform) + `[^"'\s<>]*?\.(?:zip|tar\.gz)`)
	link := re.Find(page)
	if link == nil {
		return ""
	}
	ref, err := url.Parse(string(link))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
