package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testRepodata renders a minimal repodata document for a subdir.
func testRepodata(t *testing.T, subdir string, packages map[string]Record) []byte {
	t.Helper()

	doc := NewRepodata(subdir)
	doc.Packages = packages

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	return data
}

// TestSubdirURLs checks platform and noarch expansion of channel bases.
func TestSubdirURLs(t *testing.T) {
	t.Parallel()

	urls := SubdirURLs([]string{"https://repo.example/main/"}, "linux-64")
	require.Equal(t, []string{
		"https://repo.example/main/linux-64/",
		"https://repo.example/main/noarch/",
	}, urls)
}

// TestFetchIndexHTTP fetches repodata over HTTP, merges entries with
// earlier channels winning, and persists cache fragments.
func TestFetchIndexHTTP(t *testing.T) {
	t.Parallel()

	first := testRepodata(t, "linux-64", map[string]Record{
		"foo-1.0-0.tar.bz2": {Name: "foo", Version: "1.0", Build: "0", MD5: "11111111111111111111111111111111"},
	})
	second := testRepodata(t, "linux-64", map[string]Record{
		"foo-1.0-0.tar.bz2": {Name: "foo", Version: "1.0", Build: "0", MD5: "22222222222222222222222222222222"},
		"bar-2.0-1.tar.bz2": {Name: "bar", Version: "2.0", Build: "1", MD5: "33333333333333333333333333333333"},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/a/linux-64/repodata.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(first)
	})
	mux.HandleFunc("/b/linux-64/repodata.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(second)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	cacheDir := t.TempDir()
	fetcher := NewFetcher(cacheDir)

	index, err := fetcher.FetchIndex(context.Background(), []string{
		srv.URL + "/a/linux-64/",
		srv.URL + "/b/linux-64/",
	})
	require.NoError(t, err)
	require.Len(t, index, 2)

	// The earlier channel's record wins for foo.
	require.Equal(t, "11111111111111111111111111111111", index["foo-1.0-0.tar.bz2"].MD5)
	require.Equal(t, srv.URL+"/a/linux-64/", index["foo-1.0-0.tar.bz2"].Channel)
	require.Equal(t, srv.URL+"/b/linux-64/", index["bar-2.0-1.tar.bz2"].Channel)

	// Both documents were persisted as cache fragments.
	fragments, err := os.ReadDir(CacheFragmentDir(cacheDir))
	require.NoError(t, err)
	require.Len(t, fragments, 2)
}

// TestFetchIndexFile reads repodata from a file:// channel.
func TestFetchIndexFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	subdir := filepath.Join(dir, "noarch")
	require.NoError(t, os.MkdirAll(subdir, 0o755))

	data := testRepodata(t, "noarch", map[string]Record{
		"baz-0.1-0.tar.bz2": {Name: "baz", Version: "0.1", Build: "0", MD5: "44444444444444444444444444444444"},
	})
	require.NoError(t, os.WriteFile(filepath.Join(subdir, RepodataFilename), data, 0o644))

	fetcher := NewFetcher("")

	index, err := fetcher.FetchIndex(context.Background(), []string{"file://" + subdir + "/"})
	require.NoError(t, err)
	require.Contains(t, index, "baz-0.1-0.tar.bz2")
}

// TestFetchIndexBadStatus surfaces non-success HTTP responses.
func TestFetchIndexBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	fetcher := NewFetcher("")

	_, err := fetcher.FetchIndex(context.Background(), []string{srv.URL + "/missing/"})
	require.ErrorIs(t, err, ErrBadHTTPStatus)
}
