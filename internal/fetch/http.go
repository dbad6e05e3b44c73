package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/conda/conda-constructor/internal/channel"
)

const artifactFileMode os.FileMode = 0o644

// ErrBadHTTPStatus is returned when a channel serves an artifact with a
// non-success status code.
var ErrBadHTTPStatus = errors.New("unexpected http status")

// HTTPArtifactFetcher is the default ArtifactFetcher. It downloads over
// http(s) and copies from file channels, writing through a temporary file
// so a failed transfer never leaves a partial artifact at the final name.
type HTTPArtifactFetcher struct {
	// Client is the HTTP client used for remote channels.
	Client *http.Client
}

// NewHTTPArtifactFetcher returns a fetcher using the default HTTP client.
func NewHTTPArtifactFetcher() *HTTPArtifactFetcher {
	return &HTTPArtifactFetcher{Client: http.DefaultClient}
}

// FetchArtifact implements ArtifactFetcher.
func (f *HTTPArtifactFetcher) FetchArtifact(ctx context.Context, rec channel.Record, filename, destDir string) error {
	rawURL := rec.Channel + filename

	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}

	var body io.ReadCloser

	switch u.Scheme {
	case "file":
		body, err = os.Open(filepath.Clean(u.Path))
	case "http", "https":
		body, err = f.openHTTP(ctx, rawURL)
	default:
		err = fmt.Errorf("%w: %s", channel.ErrUnsupportedScheme, u.Scheme)
	}

	if err != nil {
		return err
	}

	defer func() {
		_ = body.Close()
	}()

	return writeAtomically(filepath.Join(destDir, filename), body)
}

// openHTTP starts one GET and returns the response body.
func (f *HTTPArtifactFetcher) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrBadHTTPStatus, resp.Status)
	}

	return resp.Body, nil
}

// writeAtomically streams content into path via a sibling temporary file
// and a rename, overwriting any stale file.
func writeAtomically(path string, content io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".part-*")
	if err != nil {
		return err
	}

	if _, err = io.Copy(tmp, content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return err
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	if err = os.Chmod(tmp.Name(), artifactFileMode); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), path)
}
