package solver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conda/conda-constructor/internal/channel"
	"github.com/conda/conda-constructor/internal/dist"
)

// testIndex builds a small index with dependency edges.
func testIndex() channel.Index {
	return channel.Index{
		"python-3.9.7-0.tar.bz2": {
			Name: "python", Version: "3.9.7", Build: "0",
			Depends: []string{"zlib"},
		},
		"python-3.10.2-0.tar.bz2": {
			Name: "python", Version: "3.10.2", Build: "0",
			Depends: []string{"zlib"},
		},
		"numpy-1.21.0-py39_0.tar.bz2": {
			Name: "numpy", Version: "1.21.0", Build: "py39_0",
			Depends: []string{"python >=3.9"},
		},
		"zlib-1.2.11-3.tar.bz2": {
			Name: "zlib", Version: "1.2.11", Build: "3",
		},
	}
}

// TestMatchVersion exercises the version pattern forms.
func TestMatchVersion(t *testing.T) {
	t.Parallel()

	require.True(t, matchVersion("3.9*", "3.9.7"))
	require.False(t, matchVersion("3.9*", "3.10.2"))
	require.True(t, matchVersion(">=3.9", "3.10.2"))
	require.False(t, matchVersion(">=3.10", "3.9.7"))
	require.True(t, matchVersion("<=1.21.0", "1.21.0"))
	require.True(t, matchVersion("==1.2.11", "1.2.11"))
	require.True(t, matchVersion("1.2.11", "1.2.11"))
	require.False(t, matchVersion("1.2.11", "1.2.12"))
}

// TestSimpleSolverPicksHighest checks highest-version selection and the
// resolution failure diagnostic.
func TestSimpleSolverPicksHighest(t *testing.T) {
	t.Parallel()

	var s SimpleSolver

	dists, err := s.Solve(testIndex(), []string{"python"})
	require.NoError(t, err)
	require.Len(t, dists, 1)
	require.Equal(t, "python-3.10.2-0.tar.bz2", dists[0].Filename())

	// Constrained pick.
	dists, err = s.Solve(testIndex(), []string{"python 3.9*"})
	require.NoError(t, err)
	require.Equal(t, "python-3.9.7-0.tar.bz2", dists[0].Filename())

	// Unsatisfiable spec carries a diagnostic.
	_, err = s.Solve(testIndex(), []string{"nosuchpkg"})

	var resErr *ResolutionError

	require.ErrorAs(t, err, &resErr)
	require.Equal(t, "nosuchpkg", resErr.Spec)
	require.NotEmpty(t, resErr.Diagnostic)
}

// TestGraphSolverClosure verifies transitive dependency closure.
func TestGraphSolverClosure(t *testing.T) {
	t.Parallel()

	var s GraphSolver

	dists, err := s.Solve(testIndex(), []string{"numpy"})
	require.NoError(t, err)

	names := make([]string, 0, len(dists))
	for _, d := range dists {
		names = append(names, d.Name)
	}

	require.ElementsMatch(t, []string{"numpy", "python", "zlib"}, names)
}

// TestGraphSort checks dependency-respecting order and determinism.
func TestGraphSort(t *testing.T) {
	t.Parallel()

	index := testIndex()
	byName := map[string]dist.Dist{
		"numpy":  {Name: "numpy", Version: "1.21.0", Build: "py39_0", Ext: dist.ExtTarBz2},
		"python": {Name: "python", Version: "3.9.7", Build: "0", Ext: dist.ExtTarBz2},
		"zlib":   {Name: "zlib", Version: "1.2.11", Build: "3", Ext: dist.ExtTarBz2},
	}

	sorted := GraphSort(byName, index)
	require.Len(t, sorted, 3)
	require.Equal(t, "zlib", sorted[0].Name)
	require.Equal(t, "python", sorted[1].Name)
	require.Equal(t, "numpy", sorted[2].Name)

	// Repeated runs give the same order.
	again := GraphSort(byName, index)
	require.Equal(t, sorted, again)
}

// TestNewBackendSelection maps configuration names to implementations.
func TestNewBackendSelection(t *testing.T) {
	t.Parallel()

	r, err := New(BackendSimple)
	require.NoError(t, err)
	require.IsType(t, &SimpleSolver{}, r)

	r, err = New(BackendGraph)
	require.NoError(t, err)
	require.IsType(t, &GraphSolver{}, r)

	// Empty selects the default backend.
	r, err = New("")
	require.NoError(t, err)
	require.IsType(t, &SimpleSolver{}, r)

	_, err = New("sat")
	require.ErrorIs(t, err, ErrUnknownBackend)
}
