package solver

import (
	"sort"

	"github.com/conda/conda-constructor/internal/channel"
	"github.com/conda/conda-constructor/internal/dist"
)

// SimpleSolver picks, for each spec, the highest-version record in the
// index satisfying it. It performs no dependency closure: the spec list
// itself must name every package the installer should carry.
type SimpleSolver struct{}

// Solve implements Resolver.
func (s *SimpleSolver) Solve(index channel.Index, specs []string) ([]dist.Dist, error) {
	out := make([]dist.Dist, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))

	for _, spec := range specs {
		fn, rec, ok := bestMatch(index, spec)
		if !ok {
			return nil, &ResolutionError{Spec: spec, Diagnostic: "no package in any channel satisfies it"}
		}

		if _, dup := seen[rec.Name]; dup {
			continue
		}

		seen[rec.Name] = struct{}{}
		out = append(out, distFromRecord(fn, rec))
	}

	return out, nil
}

// GraphSolver extends SimpleSolver with a transitive dependency closure:
// the depends entries of every selected record are themselves resolved,
// breadth-first, until the set is closed.
type GraphSolver struct{}

// Solve implements Resolver.
func (s *GraphSolver) Solve(index channel.Index, specs []string) ([]dist.Dist, error) {
	var (
		simple SimpleSolver
		out    []dist.Dist
	)

	seen := make(map[string]struct{}, len(specs))
	queue := append([]string(nil), specs...)

	for len(queue) > 0 {
		spec := queue[0]
		queue = queue[1:]

		if _, done := seen[SpecName(spec)]; done {
			continue
		}

		resolved, err := simple.Solve(index, []string{spec})
		if err != nil {
			return nil, err
		}

		d := resolved[0]
		if _, done := seen[d.Name]; done {
			continue
		}

		seen[d.Name] = struct{}{}
		out = append(out, d)

		if rec, ok := index[d.Filename()]; ok {
			queue = append(queue, rec.Depends...)
		}
	}

	return out, nil
}

// GraphSort orders the given dists so that every package appears after
// its dependencies, as declared by the index. Ready packages are emitted
// in lexicographic name order, which makes the sort deterministic.
// Dependencies outside the set are ignored; a dependency cycle falls back
// to name order for the cycle's members.
func GraphSort(byName map[string]dist.Dist, index channel.Index) []dist.Dist {
	indegree := make(map[string]int, len(byName))
	dependents := make(map[string][]string, len(byName))

	for name, d := range byName {
		indegree[name] += 0

		rec, ok := index[d.Filename()]
		if !ok {
			continue
		}

		for _, depSpec := range rec.Depends {
			dep := SpecName(depSpec)
			if _, inSet := byName[dep]; !inSet || dep == name {
				continue
			}

			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	sort.Strings(ready)

	out := make([]dist.Dist, 0, len(byName))

	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		out = append(out, byName[name])

		var unlocked []string

		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}

		sort.Strings(unlocked)
		ready = mergeSorted(ready, unlocked)
	}

	// Cycle members never reach zero indegree; append them by name.
	if len(out) < len(byName) {
		var rest []string

		for name, deg := range indegree {
			if deg > 0 {
				rest = append(rest, name)
			}
		}

		sort.Strings(rest)

		for _, name := range rest {
			out = append(out, byName[name])
		}
	}

	return out
}

// mergeSorted merges two lexicographically sorted slices.
func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}

	out := make([]string, 0, len(a)+len(b))

	for len(a) > 0 && len(b) > 0 {
		if a[0] <= b[0] {
			out = append(out, a[0])
			a = a[1:]
		} else {
			out = append(out, b[0])
			b = b[1:]
		}
	}

	out = append(out, a...)
	out = append(out, b...)

	return out
}
