package dist

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// ExtTarBz2 is the classic package archive extension and the default
	// when an explicit package line omits one.
	ExtTarBz2 = ".tar.bz2"

	// ExtConda is the newer package archive extension.
	ExtConda = ".conda"

	// minNameSeparators is the minimum number of '-' separators a package
	// filename must contain (name-version-build).
	minNameSeparators = 2
)

var (
	// ErrInvalidFilename is returned when a package filename cannot be
	// split into name, version and build fields.
	ErrInvalidFilename = errors.New("not a valid package filename")

	// ErrUnparsableLine is returned when an explicit package line does not
	// match the package-line grammar.
	ErrUnparsableLine = errors.New("could not parse package line")

	// linePattern matches an explicit package line: an optional URL prefix
	// ending in '/', a filename without whitespace or '#', and an optional
	// trailing '#'-separated 32-hex-digit checksum.
	linePattern = regexp.MustCompile(`^(?P<url>\S+/)?(?P<fn>[^\s#/]+)(#(?P<md5>[0-9a-f]{32}))?$`)
)

// Dist is the canonical package-artifact identifier.
// It is immutable once constructed.
type Dist struct {
	// Name is the logical package name, e.g. "python".
	Name string
	// Version is the package version string.
	Version string
	// Build is the build string, e.g. "0" or "py39_1".
	Build string
	// Ext is the archive extension, ExtTarBz2 or ExtConda.
	Ext string
}

// Filename renders the canonical archive filename, name-version-build plus extension.
func (d Dist) Filename() string {
	return d.Name + "-" + d.Version + "-" + d.Build + d.Ext
}

// Stem returns the filename with the archive extension stripped.
func (d Dist) Stem() string {
	return d.Name + "-" + d.Version + "-" + d.Build
}

// String implements fmt.Stringer.
func (d Dist) String() string {
	return d.Filename()
}

// SplitExt splits a package filename into its stem and archive extension.
// The extension is empty when the filename carries none of the known ones.
func SplitExt(fn string) (stem, ext string) {
	switch {
	case strings.HasSuffix(fn, ExtTarBz2):
		return strings.TrimSuffix(fn, ExtTarBz2), ExtTarBz2
	case strings.HasSuffix(fn, ExtConda):
		return strings.TrimSuffix(fn, ExtConda), ExtConda
	default:
		return fn, ""
	}
}

// ParseFilename parses a package archive filename into a Dist.
// A missing extension defaults to ExtTarBz2. Filenames whose stem contains
// fewer than two '-' separators fail with ErrInvalidFilename.
func ParseFilename(fn string) (Dist, error) {
	stem, ext := SplitExt(fn)
	if ext == "" {
		ext = ExtTarBz2
	}

	if strings.Count(stem, "-") < minNameSeparators {
		return Dist{}, fmt.Errorf("%w: %q", ErrInvalidFilename, fn)
	}

	fields := strings.Split(stem, "-")
	last := len(fields) - 1

	return Dist{
		Name:    strings.Join(fields[:last-1], "-"),
		Version: fields[last-1],
		Build:   fields[last],
		Ext:     ext,
	}, nil
}

// PackageLine is one parsed entry of an explicit package list.
type PackageLine struct {
	// URL is the optional source prefix, always ending in '/' when present.
	URL string
	// Filename is the normalized archive filename.
	Filename string
	// MD5 is the optional inline checksum, 32 lowercase hex digits.
	MD5 string
}

// IsSkippable reports whether a raw package list line carries no entry:
// blank lines and '#'/'@' comment lines are ignored.
func IsSkippable(line string) bool {
	line = strings.TrimSpace(line)
	return line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "@")
}

// ParsePackageLine parses one non-skippable line of an explicit package
// list. '=' characters in the filename are normalized to '-' and a missing
// archive extension defaults to ExtTarBz2.
func ParsePackageLine(line string) (PackageLine, error) {
	m := linePattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return PackageLine{}, fmt.Errorf("%w: %q", ErrUnparsableLine, line)
	}

	fn := strings.ReplaceAll(m[linePattern.SubexpIndex("fn")], "=", "-")
	if _, ext := SplitExt(fn); ext == "" {
		fn += ExtTarBz2
	}

	return PackageLine{
		URL:      m[linePattern.SubexpIndex("url")],
		Filename: fn,
		MD5:      m[linePattern.SubexpIndex("md5")],
	}, nil
}
