package fetch

import (
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/conda/conda-constructor/internal/channel"
	"github.com/conda/conda-constructor/internal/dist"
	"github.com/conda/conda-constructor/internal/logger"

	// Ensure MD5 is linked in for checksum calculation.
	_ "crypto/md5"
)

const (
	// DefaultChecksumFunction hashes artifacts for cache-hit detection and
	// integrity checks. Package ecosystems declare MD5 sums in repodata.
	DefaultChecksumFunction crypto.Hash = crypto.MD5

	// cacheDirMode is applied when creating the cache directory.
	cacheDirMode os.FileMode = 0o755
)

var (
	// ErrChannelLookup is returned when no channel index yields a record
	// for a package.
	ErrChannelLookup = errors.New("package not found in channel index")

	// ErrChecksumMismatch is returned when a declared checksum disagrees
	// with the authoritative channel record or with fetched content.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	errHashUnavailable = errors.New("hash function unavailable")
)

// ArtifactFetcher is the injected transfer capability. A call is blocking
// and all-or-nothing; retry policy lives behind the interface.
type ArtifactFetcher interface {
	// FetchArtifact writes the record's artifact into destDir under its
	// canonical filename, overwriting any stale file.
	FetchArtifact(ctx context.Context, rec channel.Record, filename, destDir string) error
}

// Resolved is the per-package outcome of fetching: the identifier, its
// absolute source URL, the authoritative checksum and the cache path.
type Resolved struct {
	Dist dist.Dist
	// URL is the absolute artifact URL (channel URL plus filename).
	URL string
	// MD5 is the authoritative checksum from the channel record.
	MD5 string
	// Record is the full channel record backing this package.
	Record channel.Record
	// Path is the artifact location in the local cache.
	Path string
}

// ChecksumSource exposes the inline checksums and URL overrides recorded
// while the package set was built.
type ChecksumSource interface {
	URLOverride(filename string) (string, bool)
	InlineChecksum(filename string) (string, bool)
}

// Fetcher downloads finalized package sets into a local content-keyed
// cache. The cache directory is append-only storage shared by builds; no
// locking is provided for concurrent builds.
type Fetcher struct {
	// Index is the merged global channel index.
	Index channel.Index
	// Indexes performs one-off index fetches for explicit URL overrides.
	Indexes channel.IndexFetcher
	// Artifacts transfers artifacts into the cache.
	Artifacts ArtifactFetcher
	// CacheDir is the local package cache directory.
	CacheDir string
}

// FetchAll resolves and fetches every Dist in order, returning one
// Resolved per package. Any failure aborts the whole build.
func (f *Fetcher) FetchAll(ctx context.Context, dists []dist.Dist, src ChecksumSource) ([]Resolved, error) {
	if err := os.MkdirAll(f.CacheDir, cacheDirMode); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	out := make([]Resolved, 0, len(dists))

	for _, d := range dists {
		resolved, err := f.fetchOne(ctx, d, src)
		if err != nil {
			return nil, err
		}

		out = append(out, resolved)
	}

	return out, nil
}

// fetchOne resolves the authoritative record for one Dist, verifies
// checksums and ensures the artifact is present in the cache.
func (f *Fetcher) fetchOne(ctx context.Context, d dist.Dist, src ChecksumSource) (Resolved, error) {
	fn := d.Filename()

	rec, err := f.resolveRecord(ctx, fn, src)
	if err != nil {
		return Resolved{}, err
	}

	if !strings.HasSuffix(rec.Channel, "/") {
		rec.Channel += "/"
	}

	// The channel-declared checksum always wins; an inline mismatch is
	// never silently accepted and fails before any fetch.
	if inline, ok := src.InlineChecksum(fn); ok && inline != rec.MD5 {
		return Resolved{}, fmt.Errorf("%w: %s declares %s, channel %s declares %s",
			ErrChecksumMismatch, fn, inline, rec.Channel, rec.MD5)
	}

	path := filepath.Join(f.CacheDir, fn)

	cached, err := f.isCacheHit(path, rec.MD5)
	if err != nil {
		return Resolved{}, err
	}

	if cached {
		logger.DebugKV(ctx, "Cache hit", "filename", fn)
	} else {
		logger.InfoKV(ctx, "Fetching package", "filename", fn, "channel", rec.Channel)

		if err = f.Artifacts.FetchArtifact(ctx, rec, fn, f.CacheDir); err != nil {
			return Resolved{}, fmt.Errorf("fetch %s: %w", fn, err)
		}

		if err = f.verify(path, rec.MD5, fn); err != nil {
			return Resolved{}, err
		}
	}

	return Resolved{
		Dist:   d,
		URL:    rec.Channel + fn,
		MD5:    rec.MD5,
		Record: rec,
		Path:   path,
	}, nil
}

// resolveRecord finds the authoritative record: a one-off index fetch for
// an explicit URL override, the global index otherwise.
func (f *Fetcher) resolveRecord(ctx context.Context, fn string, src ChecksumSource) (channel.Record, error) {
	if url, ok := src.URLOverride(fn); ok {
		index, err := f.Indexes.FetchIndex(ctx, []string{url})
		if err != nil {
			return channel.Record{}, fmt.Errorf("fetch index for %s: %w", url, err)
		}

		rec, found := index[fn]
		if !found {
			return channel.Record{}, fmt.Errorf("%w: no package %q in %s", ErrChannelLookup, fn, url)
		}

		return rec, nil
	}

	rec, found := f.Index[fn]
	if !found {
		return channel.Record{}, fmt.Errorf("%w: %q", ErrChannelLookup, fn)
	}

	return rec, nil
}

// isCacheHit reports whether a cache file exists with the wanted hash.
func (f *Fetcher) isCacheHit(path, md5 string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	sum, err := Checksum(path)
	if err != nil {
		return false, err
	}

	return sum == md5, nil
}

// verify fails when fetched content does not hash to the channel value.
func (f *Fetcher) verify(path, md5, fn string) error {
	sum, err := Checksum(path)
	if err != nil {
		return err
	}

	if sum != md5 {
		return fmt.Errorf("%w: fetched %s hashes to %s, channel declares %s",
			ErrChecksumMismatch, fn, sum, md5)
	}

	return nil
}

// Checksum returns the hex digest of a file using DefaultChecksumFunction.
func Checksum(path string) (string, error) {
	if !DefaultChecksumFunction.Available() {
		return "", fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := DefaultChecksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("calculate checksum of %s: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ChecksumAll hashes several files as one continuous stream, in order.
// The assembler embeds this combined digest in the installer header.
func ChecksumAll(paths []string) (string, error) {
	if !DefaultChecksumFunction.Available() {
		return "", fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := DefaultChecksumFunction.New()

	for _, path := range paths {
		file, err := os.Open(filepath.Clean(path))
		if err != nil {
			return "", err
		}

		_, err = io.Copy(hasher, file)
		_ = file.Close()

		if err != nil {
			return "", fmt.Errorf("calculate checksum of %s: %w", path, err)
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
