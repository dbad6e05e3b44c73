package packageset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/conda/conda-constructor/internal/channel"
	"github.com/conda/conda-constructor/internal/dist"
	"github.com/conda/conda-constructor/internal/logger"
	"github.com/conda/conda-constructor/internal/solver"
)

const (
	// PythonName is the logical name of the interpreter package that, when
	// present, must occupy index 0 of the finalized set.
	PythonName = "python"

	// disallowedNameChars are rejected in exclusion names: they belong to
	// spec syntax, not package names.
	disallowedNameChars = " =<>*"
)

var (
	// ErrInvalidName is returned when an exclusion name contains spec
	// syntax characters.
	ErrInvalidName = errors.New("unexpected character in package name")

	// ErrPackageNotFound is returned when an exclusion or channel lookup
	// matches no package.
	ErrPackageNotFound = errors.New("package not found")

	// ErrEmptySet is returned by Finalize when no packages remain.
	ErrEmptySet = errors.New("no packages specified")

	// ErrPythonNotFirst reports a violated ordering invariant: a python
	// entry exists but does not lead the finalized set.
	ErrPythonNotFirst = errors.New("python is not the first package in the set")
)

// DuplicatePackageError reports logical names carried by more than one
// Dist in the working set.
type DuplicatePackageError struct {
	// Name is the colliding logical package name.
	Name string
	// Filenames are all archive filenames claiming that name.
	Filenames []string
}

// Error implements the error interface.
func (e *DuplicatePackageError) Error() string {
	return fmt.Sprintf("%q listed multiple times: %s", e.Name, strings.Join(e.Filenames, ", "))
}

// Builder accumulates the working package set for one build invocation.
// All state is owned by the builder value; nothing is process-global, so
// concurrent builds cannot interfere with each other.
//
// The lifecycle is a fixed sequence: ResolveSpecs, AddExplicitPackages,
// ExcludePackages, then Finalize, after which the returned set is frozen.
type Builder struct {
	resolver solver.Resolver
	index    channel.Index
	depOrder bool

	dists     []dist.Dist
	urls      map[string]string // filename -> URL override
	checksums map[string]string // filename -> inline MD5
}

// New returns a Builder resolving against the given index.
// When depOrder is true the finalized set keeps a dependency-respecting
// topological order instead of the lexicographic one.
func New(resolver solver.Resolver, index channel.Index, depOrder bool) *Builder {
	return &Builder{
		resolver:  resolver,
		index:     index,
		depOrder:  depOrder,
		urls:      make(map[string]string),
		checksums: make(map[string]string),
	}
}

// URLOverride returns the explicit source URL recorded for a filename.
func (b *Builder) URLOverride(filename string) (string, bool) {
	url, ok := b.urls[filename]
	return url, ok
}

// InlineChecksum returns the inline MD5 recorded for a filename.
func (b *Builder) InlineChecksum(filename string) (string, bool) {
	md5, ok := b.checksums[filename]
	return md5, ok
}

// ResolveSpecs resolves requirement specs into the working set. When no
// spec names python, a default python spec is appended first. In
// dependency-order mode the resolved set is immediately reordered
// topologically; otherwise natural order is kept until Finalize sorts.
func (b *Builder) ResolveSpecs(ctx context.Context, specs []string) error {
	hasPython := false

	for _, s := range specs {
		if solver.SpecName(s) == PythonName {
			hasPython = true
			break
		}
	}

	if !hasPython {
		specs = append(append([]string(nil), specs...), PythonName)
	}

	logger.DebugKV(ctx, "Resolving specs", "specs", specs)

	resolved, err := b.resolver.Solve(b.index, specs)
	if err != nil {
		return fmt.Errorf("resolve specs: %w", err)
	}

	if b.depOrder {
		byName := make(map[string]dist.Dist, len(resolved))
		for _, d := range resolved {
			byName[d.Name] = d
		}

		resolved = solver.GraphSort(byName, b.index)
	}

	b.dists = append(b.dists, resolved...)

	return nil
}

// AddExplicitPackages merges an explicit package list into the working
// set. Blank and comment lines are ignored; each remaining line must
// match the package-line grammar. Entries without a URL override must be
// present in the channel index so their checksum can be filled later.
func (b *Builder) AddExplicitPackages(ctx context.Context, lines []string) error {
	for _, line := range lines {
		if dist.IsSkippable(line) {
			continue
		}

		parsed, err := dist.ParsePackageLine(line)
		if err != nil {
			return err
		}

		d, err := dist.ParseFilename(parsed.Filename)
		if err != nil {
			return err
		}

		fn := d.Filename()
		b.dists = append(b.dists, d)

		if parsed.MD5 != "" {
			b.checksums[fn] = parsed.MD5
		}

		if parsed.URL != "" {
			b.urls[fn] = parsed.URL
			continue
		}

		rec, ok := b.index[fn]
		if !ok {
			return fmt.Errorf("%w: %q in any channel", ErrPackageNotFound, fn)
		}

		b.urls[fn] = rec.Channel

		logger.DebugKV(ctx, "Added explicit package", "filename", fn, "channel", rec.Channel)
	}

	return nil
}

// ExcludePackages removes exactly one Dist per name from the working set.
// Names containing spec syntax characters are rejected, and a name
// matching nothing fails the build.
func (b *Builder) ExcludePackages(names []string) error {
	for _, name := range names {
		if strings.ContainsAny(name, disallowedNameChars) {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}

		if !b.removeFirst(name) {
			return fmt.Errorf("%w: no package named %q to remove", ErrPackageNotFound, name)
		}
	}

	return nil
}

// removeFirst removes the first Dist with the given logical name.
func (b *Builder) removeFirst(name string) bool {
	for i, d := range b.dists {
		if d.Name == name {
			b.dists = append(b.dists[:i], b.dists[i+1:]...)
			return true
		}
	}

	return false
}

// CheckDuplicates fails when any logical name is carried by more than one
// entry of the working set.
func (b *Builder) CheckDuplicates() error {
	byName := make(map[string][]string, len(b.dists))
	for _, d := range b.dists {
		byName[d.Name] = append(byName[d.Name], d.Filename())
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}

	// Report the first collision in deterministic order.
	sort.Strings(names)

	for _, name := range names {
		if files := byName[name]; len(files) > 1 {
			return &DuplicatePackageError{Name: name, Filenames: files}
		}
	}

	return nil
}

// Names returns the logical names currently in the working set.
func (b *Builder) Names() map[string]struct{} {
	out := make(map[string]struct{}, len(b.dists))
	for _, d := range b.dists {
		out[d.Name] = struct{}{}
	}

	return out
}

// Finalize validates and orders the working set, returning the frozen
// result: duplicates checked, lexicographic filename sort unless in
// dependency-order mode, python moved to index 0.
func (b *Builder) Finalize() ([]dist.Dist, error) {
	if err := b.CheckDuplicates(); err != nil {
		return nil, err
	}

	if len(b.dists) == 0 {
		return nil, ErrEmptySet
	}

	if !b.depOrder {
		sort.Slice(b.dists, func(i, j int) bool {
			return b.dists[i].Filename() < b.dists[j].Filename()
		})
	}

	b.movePythonFirst()

	if err := b.checkPythonFirst(); err != nil {
		return nil, err
	}

	out := make([]dist.Dist, len(b.dists))
	copy(out, b.dists)

	return out, nil
}

// movePythonFirst moves a python entry, when present, to index 0.
func (b *Builder) movePythonFirst() {
	for i, d := range b.dists {
		if d.Name == PythonName {
			copy(b.dists[1:i+1], b.dists[:i])
			b.dists[0] = d

			return
		}
	}
}

// checkPythonFirst asserts the index-0 invariant after ordering.
func (b *Builder) checkPythonFirst() error {
	for _, d := range b.dists {
		if d.Name != PythonName {
			continue
		}

		if b.dists[0].Name != PythonName {
			return ErrPythonNotFirst
		}

		return nil
	}

	return nil
}
