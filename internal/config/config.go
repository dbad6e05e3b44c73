package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conda/conda-constructor/internal/solver"
)

// Config is the declarative build request, usually loaded from a
// construct.yaml file next to the product sources.
type Config struct {
	// Name is the product name embedded in the installer.
	Name string `yaml:"name"`
	// Version is the product version embedded in the installer.
	Version string `yaml:"version"`
	// Platform is the target platform tag, e.g. "linux-64". Empty means
	// the build host's platform.
	Platform string `yaml:"platform"`
	// Channels are the package sources consulted during resolution.
	Channels []string `yaml:"channels"`
	// Specs are requirement strings handed verbatim to the resolver.
	Specs []string `yaml:"specs"`
	// Packages are explicit package-list lines merged into the set.
	Packages []string `yaml:"packages"`
	// Exclude names packages removed from the resolved set.
	Exclude []string `yaml:"exclude"`
	// MenuPackages names packages that should install menu shortcuts.
	// Unknown names only produce a warning.
	MenuPackages []string `yaml:"menu_packages"`
	// Solver selects the resolution backend, "simple" or "graph".
	Solver string `yaml:"solver"`
	// InstallInDependencyOrder keeps a topological package order instead
	// of the lexicographic one.
	InstallInDependencyOrder bool `yaml:"install_in_dependency_order"`
	// LicenseFile is embedded in the installer header when set.
	LicenseFile string `yaml:"license_file"`
	// PreInstall and PostInstall are optional hook script paths.
	PreInstall  string `yaml:"pre_install"`
	PostInstall string `yaml:"post_install"`
	// DefaultPrefix is the install location the header offers.
	DefaultPrefix string `yaml:"default_prefix"`
	// KeepPackages leaves package archives in place after installation.
	KeepPackages bool `yaml:"keep_pkgs"`
	// AttemptHardlinks lets the extractor hardlink instead of copying.
	AttemptHardlinks bool `yaml:"attempt_hardlinks"`
	// InitializeByDefault offers shell initialization at install time.
	InitializeByDefault bool `yaml:"initialize_by_default"`
	// Executable is the extraction executable appended after the header.
	Executable string `yaml:"conda_exe"`
	// HeaderTemplate optionally overrides the built-in header template.
	HeaderTemplate string `yaml:"header_template"`
	// OutputPath is the installer location; empty derives
	// <name>-<version>-<platform>.sh in the working directory.
	OutputPath string `yaml:"output"`
	// CacheDir is the local package cache; empty derives a pkgs
	// directory in the working directory.
	CacheDir string `yaml:"cache_dir"`
}

// DefaultConfigFilename is the conventional build request filename.
const DefaultConfigFilename = "construct.yaml"

var (
	// errNameRequired is returned when the product name is missing.
	errNameRequired = errors.New("name must be provided")
	// errVersionRequired is returned when the product version is missing.
	errVersionRequired = errors.New("version must be provided")
	// errExecutableRequired is returned when no extraction executable is
	// configured.
	errExecutableRequired = errors.New("conda_exe must be provided")
	// errNothingRequested is returned when neither specs nor packages are
	// present.
	errNothingRequested = errors.New("at least one of specs or packages must be provided")
)

// Load reads a build request from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read build request: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal build request: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and fills derivable defaults.
func Validate(cfg *Config) error {
	if cfg.Name == "" {
		return errNameRequired
	}

	if cfg.Version == "" {
		return errVersionRequired
	}

	if cfg.Executable == "" {
		return errExecutableRequired
	}

	if len(cfg.Specs) == 0 && len(cfg.Packages) == 0 {
		return errNothingRequested
	}

	if cfg.Solver == "" {
		cfg.Solver = solver.BackendSimple
	}

	if _, err := solver.New(cfg.Solver); err != nil {
		return err
	}

	for _, c := range cfg.Channels {
		if _, err := url.ParseRequestURI(c); err != nil {
			return fmt.Errorf("invalid channel URL %q: %w", c, err)
		}
	}

	if cfg.Platform == "" {
		cfg.Platform = HostPlatform()
	}

	if cfg.OutputPath == "" {
		cfg.OutputPath = fmt.Sprintf("%s-%s-%s.sh", cfg.Name, cfg.Version, cfg.Platform)
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(".", "pkgs")
	}

	return nil
}

// HostPlatform maps the build host to a platform tag.
func HostPlatform() string {
	osName := runtime.GOOS
	if osName == "darwin" {
		osName = "osx"
	}

	arch := "64"

	switch runtime.GOARCH {
	case "386", "arm":
		arch = "32"
	case "arm64":
		arch = "arm64"
	}

	return strings.Join([]string{osName, arch}, "-")
}
