package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conda/conda-constructor/internal/solver"
)

// validConfig returns a minimal passing build request.
func validConfig() *Config {
	return &Config{
		Name:       "Acme",
		Version:    "1.2.3",
		Specs:      []string{"python 3.9*"},
		Executable: "extract",
	}
}

// TestValidate checks required fields and default derivation.
func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, Validate(cfg))
	require.Equal(t, solver.BackendSimple, cfg.Solver)
	require.Equal(t, HostPlatform(), cfg.Platform)
	require.Equal(t, "Acme-1.2.3-"+cfg.Platform+".sh", cfg.OutputPath)
	require.NotEmpty(t, cfg.CacheDir)

	// Missing name.
	cfg = validConfig()
	cfg.Name = ""
	require.ErrorIs(t, Validate(cfg), errNameRequired)

	// Missing version.
	cfg = validConfig()
	cfg.Version = ""
	require.ErrorIs(t, Validate(cfg), errVersionRequired)

	// Missing extraction executable.
	cfg = validConfig()
	cfg.Executable = ""
	require.ErrorIs(t, Validate(cfg), errExecutableRequired)

	// Neither specs nor packages.
	cfg = validConfig()
	cfg.Specs = nil
	require.ErrorIs(t, Validate(cfg), errNothingRequested)

	// Explicit packages alone are enough.
	cfg = validConfig()
	cfg.Specs = nil
	cfg.Packages = []string{"foo-1.0-0.tar.bz2"}
	require.NoError(t, Validate(cfg))

	// Unknown solver backend.
	cfg = validConfig()
	cfg.Solver = "sat"
	require.ErrorIs(t, Validate(cfg), solver.ErrUnknownBackend)

	// Malformed channel URL.
	cfg = validConfig()
	cfg.Channels = []string{"not a url"}
	require.Error(t, Validate(cfg))
}

// TestLoad reads and validates a build request from YAML.
func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "construct.yaml")
	content := `name: Acme
version: 1.2.3
platform: linux-64
channels:
  - https://repo.example/main
specs:
  - python 3.9*
  - numpy
exclude:
  - readline
conda_exe: ./extract
install_in_dependency_order: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "Acme", cfg.Name)
	require.Equal(t, "linux-64", cfg.Platform)
	require.Equal(t, []string{"python 3.9*", "numpy"}, cfg.Specs)
	require.Equal(t, []string{"readline"}, cfg.Exclude)
	require.True(t, cfg.InstallInDependencyOrder)
	require.Equal(t, "Acme-1.2.3-linux-64.sh", cfg.OutputPath)

	// Missing file.
	_, err = Load(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)

	// Invalid YAML.
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: [unclosed"), 0o644))

	_, err = Load(bad)
	require.Error(t, err)
}
