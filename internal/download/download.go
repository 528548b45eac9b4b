// Package download retrieves catalog documents and solver artifacts over HTTP.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// NetworkError reports a failed fetch or download.
type NetworkError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request to %s failed: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProgressFunc receives the cumulative number of bytes read and the expected
// total, which is -1 when the server did not announce a length.
type ProgressFunc func(read, total int64)

// Client downloads files. The zero value uses http.DefaultClient.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Logger    *slog.Logger
}

// New returns a client with the given user agent.
func New(userAgent string) *Client {
	return &Client{HTTP: http.DefaultClient, UserAgent: userAgent, Logger: slog.Default()}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &NetworkError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// Fetch returns the body of rawURL.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	return data, nil
}

// Download stores rawURL in destDir and returns the path of the written
// file. The file name is taken from the response, so downloads behind
// redirecting scripts such as download.php keep the artifact's real name.
func (c *Client) Download(ctx context.Context, rawURL, destDir string, progress ProgressFunc) (string, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	name := FileName(resp)
	target := filepath.Join(destDir, name)
	c.logger().Info("downloading", "url", rawURL, "to", target)

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", target, err)
	}

	total := resp.ContentLength
	if total < 0 {
		if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
			total = n
		}
	}

	var body io.Reader = resp.Body
	if progress != nil {
		progress(0, total)
		body = &progressReader{r: resp.Body, total: total, fn: progress}
	}

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(target)
		return "", &NetworkError{URL: rawURL, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("failed to write %s: %w", target, err)
	}
	return target, nil
}

// FileName picks the local name for a response: the Content-Disposition
// filename, else the last segment of the final (post-redirect) URL. A final
// URL that still points at a script falls back to its "file" query value.
func FileName(resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := clean(params["filename"]); name != "" {
				return name
			}
		}
	}

	u := resp.Request.URL
	name := clean(path.Base(u.Path))
	if name == "" || strings.HasSuffix(name, ".php") {
		if file := clean(queryFile(u)); file != "" {
			return file
		}
	}
	if name == "" {
		return "download"
	}
	return name
}

func queryFile(u *url.URL) string {
	file := u.Query().Get("file")
	if file == "" {
		return ""
	}
	return path.Base(file)
}

// clean reduces name to a single path element.
func clean(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case ".", "..", "/", "":
		return ""
	}
	return name
}

type progressReader struct {
	r     io.Reader
	read  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.fn(p.read, p.total)
	}
	return n, err
}
