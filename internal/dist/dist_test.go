package dist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseFilename checks splitting of archive filenames into name,
// version, build and extension.
func TestParseFilename(t *testing.T) {
	t.Parallel()

	d, err := ParseFilename("foo-1.0-0.tar.bz2")
	require.NoError(t, err)
	require.Equal(t, Dist{Name: "foo", Version: "1.0", Build: "0", Ext: ExtTarBz2}, d)
	require.Equal(t, "foo-1.0-0.tar.bz2", d.Filename())
	require.Equal(t, "foo-1.0-0", d.Stem())

	// Names may themselves contain dashes.
	d, err = ParseFilename("python-dateutil-2.8.2-py39_0.conda")
	require.NoError(t, err)
	require.Equal(t, "python-dateutil", d.Name)
	require.Equal(t, "2.8.2", d.Version)
	require.Equal(t, "py39_0", d.Build)
	require.Equal(t, ExtConda, d.Ext)

	// A missing extension defaults to .tar.bz2.
	d, err = ParseFilename("bar-2.1-1")
	require.NoError(t, err)
	require.Equal(t, "bar-2.1-1.tar.bz2", d.Filename())

	// Too few separators.
	_, err = ParseFilename("foo-1.0.tar.bz2")
	require.ErrorIs(t, err, ErrInvalidFilename)

	_, err = ParseFilename("foo.tar.bz2")
	require.ErrorIs(t, err, ErrInvalidFilename)
}

// TestParsePackageLine covers the explicit package-line grammar.
func TestParsePackageLine(t *testing.T) {
	t.Parallel()

	// Full form: URL prefix plus inline checksum.
	line, err := ParsePackageLine("https://h/p/foo-1.0-0.tar.bz2#abcdef0123456789abcdef0123456789")
	require.NoError(t, err)
	require.Equal(t, "https://h/p/", line.URL)
	require.Equal(t, "foo-1.0-0.tar.bz2", line.Filename)
	require.Equal(t, "abcdef0123456789abcdef0123456789", line.MD5)

	// '=' normalizes to '-' and the extension defaults.
	line, err = ParsePackageLine("foo=1.0=0")
	require.NoError(t, err)
	require.Empty(t, line.URL)
	require.Equal(t, "foo-1.0-0.tar.bz2", line.Filename)
	require.Empty(t, line.MD5)

	// Bare filename.
	line, err = ParsePackageLine("baz-3.0-2.conda")
	require.NoError(t, err)
	require.Equal(t, "baz-3.0-2.conda", line.Filename)

	// A short checksum is part of no grammar production.
	_, err = ParsePackageLine("foo-1.0-0.tar.bz2#abcdef")
	require.ErrorIs(t, err, ErrUnparsableLine)

	// Whitespace inside the filename token.
	_, err = ParsePackageLine("foo bar")
	require.ErrorIs(t, err, ErrUnparsableLine)
}

// TestIsSkippable checks blank and comment line handling.
func TestIsSkippable(t *testing.T) {
	t.Parallel()

	require.True(t, IsSkippable(""))
	require.True(t, IsSkippable("   "))
	require.True(t, IsSkippable("# a comment"))
	require.True(t, IsSkippable("@explicit"))
	require.False(t, IsSkippable("foo-1.0-0.tar.bz2"))
}
