package build

import (
	"context"
	"crypto/md5" //nolint:gosec // Matches the artifact checksum convention.
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conda/conda-constructor/internal/channel"
)

// writeLocalChannel lays out a file:// channel with one python package in
// linux-64 and an empty noarch subdir.
func writeLocalChannel(t *testing.T, root string) (channelURL string, artifact []byte) {
	t.Helper()

	artifact = []byte("fake python artifact")
	sum := md5.Sum(artifact) //nolint:gosec // Test checksum.

	linux64 := filepath.Join(root, "linux-64")
	noarch := filepath.Join(root, "noarch")
	require.NoError(t, os.MkdirAll(linux64, 0o755))
	require.NoError(t, os.MkdirAll(noarch, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(linux64, "python-3.9.7-0.tar.bz2"), artifact, 0o644))

	doc := channel.NewRepodata("linux-64")
	doc.Packages["python-3.9.7-0.tar.bz2"] = channel.Record{
		Name:    "python",
		Version: "3.9.7",
		Build:   "0",
		MD5:     hex.EncodeToString(sum[:]),
		Size:    int64(len(artifact)),
		Subdir:  "linux-64",
	}

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(linux64, channel.RepodataFilename), data, 0o644))

	data, err = json.Marshal(channel.NewRepodata("noarch"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(noarch, channel.RepodataFilename), data, 0o644))

	return "file://" + root, artifact
}

// writeBuildRequest renders a construct.yaml against the local channel.
func writeBuildRequest(t *testing.T, dir, channelURL, outputPath, cacheDir string) string {
	t.Helper()

	exePath := filepath.Join(dir, "extract")
	require.NoError(t, os.WriteFile(exePath, []byte("fake extractor"), 0o755))

	content := fmt.Sprintf(`name: Acme
version: 1.2.3
platform: linux-64
channels:
  - %s
specs:
  - python
conda_exe: %s
output: %s
cache_dir: %s
`, channelURL, exePath, outputPath, cacheDir)

	path := filepath.Join(dir, "construct.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

// totalSizeField parses the TOTAL_SIZE field embedded in an installer.
func totalSizeField(t *testing.T, installer []byte) int64 {
	t.Helper()

	for _, line := range strings.Split(string(installer), "\n") {
		if rest, ok := strings.CutPrefix(line, "TOTAL_SIZE="); ok {
			trimmed := strings.TrimLeft(rest, "0")
			if trimmed == "" {
				return 0
			}

			value, err := strconv.ParseInt(trimmed, 10, 64)
			require.NoError(t, err)

			return value
		}
	}

	t.Fatal("TOTAL_SIZE field not found")

	return 0
}

// TestRunEndToEnd builds a complete installer from a file:// channel.
func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	channelURL, _ := writeLocalChannel(t, filepath.Join(dir, "chan"))

	outputPath := filepath.Join(dir, "out.sh")
	cacheDir := filepath.Join(dir, "cache")
	cfgPath := writeBuildRequest(t, dir, channelURL, outputPath, cacheDir)

	require.NoError(t, Run(context.Background(), &Options{ConfigPath: cfgPath}))

	installer, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, int64(len(installer)), totalSizeField(t, installer))

	// The artifact landed in the cache.
	_, err = os.Stat(filepath.Join(cacheDir, "python-3.9.7-0.tar.bz2"))
	require.NoError(t, err)

	// Repodata fragments were cached during resolution.
	fragments, err := os.ReadDir(channel.CacheFragmentDir(cacheDir))
	require.NoError(t, err)
	require.NotEmpty(t, fragments)
}

// TestRunDryRun stops before fetching: no cache entry, no installer.
func TestRunDryRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	channelURL, _ := writeLocalChannel(t, filepath.Join(dir, "chan"))

	outputPath := filepath.Join(dir, "out.sh")
	cacheDir := filepath.Join(dir, "cache")
	cfgPath := writeBuildRequest(t, dir, channelURL, outputPath, cacheDir)

	require.NoError(t, Run(context.Background(), &Options{ConfigPath: cfgPath, DryRun: true}))

	_, err := os.Stat(outputPath)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(filepath.Join(cacheDir, "python-3.9.7-0.tar.bz2"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRunUnknownExcludeFails surfaces configuration errors before I/O.
func TestRunUnknownExcludeFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	channelURL, _ := writeLocalChannel(t, filepath.Join(dir, "chan"))

	cfgPath := writeBuildRequest(t, dir, channelURL,
		filepath.Join(dir, "out.sh"), filepath.Join(dir, "cache"))

	// Append an exclusion that matches nothing.
	contents, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	contents = append(contents, []byte("exclude:\n  - ghost\n")...)
	require.NoError(t, os.WriteFile(cfgPath, contents, 0o644))

	err = Run(context.Background(), &Options{ConfigPath: cfgPath})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")
}
