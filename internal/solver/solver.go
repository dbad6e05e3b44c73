package solver

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/conda/conda-constructor/internal/channel"
	"github.com/conda/conda-constructor/internal/dist"
)

// Backend names accepted by the build configuration.
const (
	BackendSimple = "simple"
	BackendGraph  = "graph"
)

// ErrUnknownBackend is returned when the configured solver backend name
// matches no implementation.
var ErrUnknownBackend = errors.New("unknown solver backend")

// Resolver is the injected dependency-resolution capability. A Resolver
// turns requirement specs into a concrete set of package identifiers
// against a channel index.
type Resolver interface {
	// Solve returns one Dist per satisfied spec, or a *ResolutionError
	// when no satisfying set exists.
	Solve(index channel.Index, specs []string) ([]dist.Dist, error)
}

// ResolutionError reports that the resolver could not satisfy the given
// specs, carrying the resolver's own diagnostic.
type ResolutionError struct {
	// Spec is the requirement that could not be satisfied.
	Spec string
	// Diagnostic is the resolver's explanation.
	Diagnostic string
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %q: %s", e.Spec, e.Diagnostic)
}

// New returns the Resolver implementation selected by backend name.
func New(backend string) (Resolver, error) {
	switch backend {
	case BackendSimple, "":
		return &SimpleSolver{}, nil
	case BackendGraph:
		return &GraphSolver{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// SpecName returns the package name component of a requirement spec,
// which is its first whitespace-separated token.
func SpecName(spec string) string {
	fields := strings.Fields(spec)
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}

// matchSpec reports whether a record satisfies one requirement spec.
// The version component supports '*' suffix wildcards and the >=, <=, ==
// prefixes; a bare version means an exact match on that version.
func matchSpec(spec string, rec channel.Record) bool {
	fields := strings.Fields(spec)
	if len(fields) == 0 || fields[0] != rec.Name {
		return false
	}

	if len(fields) == 1 {
		return true
	}

	return matchVersion(fields[1], rec.Version)
}

// matchVersion evaluates a version pattern against a concrete version.
func matchVersion(pattern, version string) bool {
	switch {
	case strings.HasPrefix(pattern, ">="):
		return compareVersions(version, pattern[2:]) >= 0
	case strings.HasPrefix(pattern, "<="):
		return compareVersions(version, pattern[2:]) <= 0
	case strings.HasPrefix(pattern, "=="):
		return version == pattern[2:]
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(version, strings.TrimSuffix(pattern, "*"))
	default:
		return version == pattern
	}
}

// compareVersions compares dotted numeric versions, falling back to
// lexicographic comparison for non-numeric fields.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var af, bf string
		if i < len(as) {
			af = as[i]
		}

		if i < len(bs) {
			bf = bs[i]
		}

		an, aerr := strconv.Atoi(af)
		bn, berr := strconv.Atoi(bf)

		switch {
		case aerr == nil && berr == nil:
			if an != bn {
				if an < bn {
					return -1
				}

				return 1
			}
		case af != bf:
			return strings.Compare(af, bf)
		}
	}

	return 0
}

// bestMatch returns the record with the highest version (build number as
// tie-break) satisfying the spec, and its filename.
func bestMatch(index channel.Index, spec string) (string, channel.Record, bool) {
	var (
		bestFn  string
		best    channel.Record
		found   bool
		matches []string
	)

	for fn := range index {
		matches = append(matches, fn)
	}

	// Deterministic scan order keeps resolution reproducible.
	sort.Strings(matches)

	for _, fn := range matches {
		rec := index[fn]
		if !matchSpec(spec, rec) {
			continue
		}

		if !found || recordLess(best, rec) {
			bestFn, best, found = fn, rec, true
		}
	}

	return bestFn, best, found
}

// recordLess reports whether a sorts before b by version then build number.
func recordLess(a, b channel.Record) bool {
	if c := compareVersions(a.Version, b.Version); c != 0 {
		return c < 0
	}

	return a.BuildNumber < b.BuildNumber
}

// distFromRecord builds a Dist from an index filename and its record.
func distFromRecord(fn string, rec channel.Record) dist.Dist {
	_, ext := dist.SplitExt(fn)
	if ext == "" {
		ext = dist.ExtTarBz2
	}

	return dist.Dist{Name: rec.Name, Version: rec.Version, Build: rec.Build, Ext: ext}
}
