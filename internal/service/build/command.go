package build

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/conda/conda-constructor/internal/assemble"
	"github.com/conda/conda-constructor/internal/channel"
	"github.com/conda/conda-constructor/internal/config"
	"github.com/conda/conda-constructor/internal/dist"
	"github.com/conda/conda-constructor/internal/fetch"
	"github.com/conda/conda-constructor/internal/logger"
	"github.com/conda/conda-constructor/internal/packageset"
	"github.com/conda/conda-constructor/internal/solver"
)

// Options contains inputs for the build entry point.
type Options struct {
	// ConfigPath is the path to the build request (defaults to construct.yaml).
	ConfigPath string
	// OutputPath overrides the configured installer location when set.
	OutputPath string
	// CacheDir overrides the configured package cache when set.
	CacheDir string
	// DryRun stops after the package set is finalized and shown, before
	// any artifact is fetched.
	DryRun bool
}

// builder holds the collaborators of a single build invocation. All
// working state lives here; repeated builds cannot interfere.
type builder struct {
	cfg      *config.Config
	resolver solver.Resolver
	indexes  channel.IndexFetcher
	index    channel.Index
	set      *packageset.Builder
}

// Run executes the whole build pipeline: resolve, validate, fetch,
// assemble. Phases are strictly sequential; any error aborts the build.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "constructor")
	ctx = logger.WithKV(ctx, "build_id", uuid.NewString())

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if opts.OutputPath != "" {
		cfg.OutputPath = opts.OutputPath
	}

	if opts.CacheDir != "" {
		cfg.CacheDir = opts.CacheDir
	}

	b, err := newBuilder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize build: %w", err)
	}

	final, err := b.buildSet(ctx)
	if err != nil {
		return err
	}

	b.show(ctx, final)

	if opts.DryRun {
		logger.Info(ctx, "Dry run requested, stopping before fetch")
		return nil
	}

	resolved, err := b.fetchAll(ctx, final)
	if err != nil {
		return err
	}

	if err = b.assemble(ctx, resolved); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Installer created", "path", cfg.OutputPath)

	return nil
}

// newBuilder wires the solver and index fetcher selected by the build
// request and fetches the global channel index.
func newBuilder(ctx context.Context, cfg *config.Config) (*builder, error) {
	resolver, err := solver.New(cfg.Solver)
	if err != nil {
		return nil, err
	}

	b := &builder{
		cfg:      cfg,
		resolver: resolver,
		indexes:  channel.NewFetcher(cfg.CacheDir),
		index:    channel.Index{},
	}

	if len(cfg.Channels) > 0 {
		urls := channel.SubdirURLs(cfg.Channels, cfg.Platform)

		logger.InfoKV(ctx, "Fetching channel indexes", "channels", len(cfg.Channels))

		if b.index, err = b.indexes.FetchIndex(ctx, urls); err != nil {
			return nil, err
		}
	}

	b.set = packageset.New(resolver, b.index, cfg.InstallInDependencyOrder)

	return b, nil
}

// buildSet runs the package-set lifecycle in its fixed order: resolve,
// merge explicit packages, exclude, finalize.
func (b *builder) buildSet(ctx context.Context) ([]dist.Dist, error) {
	if len(b.cfg.Specs) > 0 {
		if err := b.set.ResolveSpecs(ctx, b.cfg.Specs); err != nil {
			return nil, err
		}
	}

	if len(b.cfg.Packages) > 0 {
		if err := b.set.AddExplicitPackages(ctx, b.cfg.Packages); err != nil {
			return nil, err
		}
	}

	if len(b.cfg.Exclude) > 0 {
		if err := b.set.ExcludePackages(b.cfg.Exclude); err != nil {
			return nil, err
		}
	}

	final, err := b.set.Finalize()
	if err != nil {
		return nil, err
	}

	b.warnUnknownMenuPackages(ctx)

	return final, nil
}

// warnUnknownMenuPackages logs menu-package names absent from the final
// set. This is the only non-fatal validation in the pipeline.
func (b *builder) warnUnknownMenuPackages(ctx context.Context) {
	names := b.set.Names()

	for _, name := range b.cfg.MenuPackages {
		if _, ok := names[name]; !ok {
			logger.WarnKV(ctx, "No such package in menu_packages", "name", name)
		}
	}
}

// show logs the finalized package listing.
func (b *builder) show(ctx context.Context, final []dist.Dist) {
	var listing strings.Builder

	fmt.Fprintf(&listing, "name: %s\nversion: %s\nplatform: %s\ncache: %s\nnumber of packages: %d",
		b.cfg.Name, b.cfg.Version, b.cfg.Platform, b.cfg.CacheDir, len(final))

	for _, d := range final {
		listing.WriteString("\n    ")
		listing.WriteString(d.Filename())
	}

	logger.Info(ctx, listing.String())
}

// fetchAll downloads the finalized set into the cache.
func (b *builder) fetchAll(ctx context.Context, final []dist.Dist) ([]fetch.Resolved, error) {
	fetcher := &fetch.Fetcher{
		Index:     b.index,
		Indexes:   b.indexes,
		Artifacts: fetch.NewHTTPArtifactFetcher(),
		CacheDir:  b.cfg.CacheDir,
	}

	return fetcher.FetchAll(ctx, final, b.set)
}

// assemble produces the final installer from the fetched set.
func (b *builder) assemble(ctx context.Context, resolved []fetch.Resolved) error {
	return assemble.Assemble(ctx, &assemble.Options{
		Name:                b.cfg.Name,
		Version:             b.cfg.Version,
		Platform:            b.cfg.Platform,
		DefaultPrefix:       b.cfg.DefaultPrefix,
		LicenseFile:         b.cfg.LicenseFile,
		PreInstall:          b.cfg.PreInstall,
		PostInstall:         b.cfg.PostInstall,
		KeepPackages:        b.cfg.KeepPackages,
		AttemptHardlinks:    b.cfg.AttemptHardlinks,
		InitializeByDefault: b.cfg.InitializeByDefault,
		Channels:            b.cfg.Channels,
		ExecutablePath:      b.cfg.Executable,
		TemplatePath:        b.cfg.HeaderTemplate,
		OutputPath:          b.cfg.OutputPath,
		CacheDir:            b.cfg.CacheDir,
		Packages:            resolved,
	})
}
