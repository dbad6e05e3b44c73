package channel

import (
	"context"
	"crypto/md5" //nolint:gosec // Repodata checksums are MD5 by ecosystem convention.
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/conda/conda-constructor/internal/logger"
)

const (
	// RepodataFilename is the index document each channel subdir serves.
	RepodataFilename = "repodata.json"

	// NoarchSubdir is the platform-independent subdir every channel carries.
	NoarchSubdir = "noarch"

	// cacheDirName is the directory under the cache root where fetched
	// repodata fragments are persisted for later staging.
	cacheDirName = "cache"

	// repodataVersion is the repodata schema version this tool understands.
	repodataVersion = 1

	fragmentFileMode os.FileMode = 0o644
	cacheDirMode     os.FileMode = 0o755
)

var (
	// ErrBadHTTPStatus is returned when a channel responds with a
	// non-success status code.
	ErrBadHTTPStatus = errors.New("unexpected http status")

	// ErrUnsupportedScheme is returned for channel URLs that are neither
	// http(s) nor file.
	ErrUnsupportedScheme = errors.New("unsupported channel URL scheme")
)

// Record is the authoritative metadata of one package artifact as declared
// by its channel's repodata. The JSON shape matches repodata entries.
type Record struct {
	// Name is the logical package name.
	Name string `json:"name"`
	// Version is the package version string.
	Version string `json:"version"`
	// Build is the build string.
	Build string `json:"build"`
	// BuildNumber is the numeric build counter.
	BuildNumber int `json:"build_number"`
	// Depends lists dependency specs of the package.
	Depends []string `json:"depends"`
	// MD5 is the authoritative artifact checksum, 32 lowercase hex digits.
	MD5 string `json:"md5"`
	// Size is the artifact size in bytes.
	Size int64 `json:"size"`
	// Subdir is the platform subdir the artifact belongs to.
	Subdir string `json:"subdir,omitempty"`
	// Channel is the base URL the record was loaded from, always ending
	// in '/'. It is runtime-only and never serialized.
	Channel string `json:"-"`
}

// Index maps package archive filenames to their authoritative records.
type Index map[string]Record

// Repodata is the wire format of a channel subdir's index document.
type Repodata struct {
	Info            RepodataInfo      `json:"info"`
	Packages        map[string]Record `json:"packages"`
	PackagesConda   map[string]Record `json:"packages.conda"`
	Removed         []string          `json:"removed"`
	RepodataVersion int               `json:"repodata_version"`
}

// RepodataInfo identifies the subdir a repodata document describes.
type RepodataInfo struct {
	Subdir string `json:"subdir"`
}

// NewRepodata returns an empty repodata document for the given subdir,
// with all containers non-nil so the serialized form carries explicit
// empty objects.
func NewRepodata(subdir string) *Repodata {
	return &Repodata{
		Info:            RepodataInfo{Subdir: subdir},
		Packages:        map[string]Record{},
		PackagesConda:   map[string]Record{},
		Removed:         []string{},
		RepodataVersion: repodataVersion,
	}
}

// IndexFetcher is the capability that turns channel URLs into a merged
// package index. Implementations may cache fetched documents.
type IndexFetcher interface {
	// FetchIndex fetches repodata from every given channel subdir URL and
	// merges the entries into one Index. Earlier URLs win on collisions.
	FetchIndex(ctx context.Context, channelURLs []string) (Index, error)
}

// SubdirURLs expands channel base URLs into per-subdir repodata locations
// for the given platform, appending the noarch subdir of each channel.
func SubdirURLs(channels []string, platform string) []string {
	out := make([]string, 0, len(channels)*2)
	for _, c := range channels {
		base := strings.TrimRight(c, "/")
		out = append(out, base+"/"+platform+"/", base+"/"+NoarchSubdir+"/")
	}

	return out
}

// Fetcher is the default IndexFetcher. It understands http(s) and file
// channel URLs and persists every fetched repodata document as a JSON
// fragment under <CacheDir>/cache for later staging into the installer.
type Fetcher struct {
	// Client is the HTTP client used for remote channels.
	Client *http.Client
	// CacheDir is the local package cache root. When set, fetched
	// repodata fragments are written under its cache subdirectory.
	CacheDir string
}

// NewFetcher returns a Fetcher using the default HTTP client.
func NewFetcher(cacheDir string) *Fetcher {
	return &Fetcher{Client: http.DefaultClient, CacheDir: cacheDir}
}

// FetchIndex implements IndexFetcher.
func (f *Fetcher) FetchIndex(ctx context.Context, channelURLs []string) (Index, error) {
	index := make(Index)

	for _, channelURL := range channelURLs {
		if !strings.HasSuffix(channelURL, "/") {
			channelURL += "/"
		}

		logger.DebugKV(ctx, "Fetching channel index", "url", channelURL)

		data, err := f.readRepodata(ctx, channelURL+RepodataFilename)
		if err != nil {
			return nil, fmt.Errorf("fetch index %s: %w", channelURL, err)
		}

		var doc Repodata
		if err = json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode repodata from %s: %w", channelURL, err)
		}

		if err = f.saveFragment(channelURL, data); err != nil {
			return nil, fmt.Errorf("cache repodata fragment: %w", err)
		}

		mergeEntries(index, doc.Packages, channelURL)
		mergeEntries(index, doc.PackagesConda, channelURL)
	}

	return index, nil
}

// mergeEntries copies records into the index, stamping their channel URL.
// Entries already present keep their earlier, higher-priority record.
func mergeEntries(index Index, entries map[string]Record, channelURL string) {
	for fn, rec := range entries {
		if _, ok := index[fn]; ok {
			continue
		}

		rec.Channel = channelURL
		index[fn] = rec
	}
}

// readRepodata loads one repodata document from a channel subdir URL.
func (f *Fetcher) readRepodata(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "file":
		return os.ReadFile(filepath.Clean(u.Path))
	case "http", "https":
		return f.readHTTP(ctx, rawURL)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

// readHTTP performs one GET and returns the full body.
func (f *Fetcher) readHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrBadHTTPStatus, resp.Status)
	}

	return io.ReadAll(resp.Body)
}

// saveFragment persists a fetched repodata document under the cache
// directory, keyed by the hash of its source URL.
func (f *Fetcher) saveFragment(channelURL string, data []byte) error {
	if f.CacheDir == "" {
		return nil
	}

	dir := filepath.Join(f.CacheDir, cacheDirName)
	if err := os.MkdirAll(dir, cacheDirMode); err != nil {
		return err
	}

	sum := md5.Sum([]byte(channelURL)) //nolint:gosec // Cache key, not security.
	name := hex.EncodeToString(sum[:]) + ".json"

	return os.WriteFile(filepath.Join(dir, name), data, fragmentFileMode)
}

// CacheFragmentDir returns the directory holding cached repodata fragments
// for the given cache root.
func CacheFragmentDir(cacheDir string) string {
	return filepath.Join(cacheDir, cacheDirName)
}
