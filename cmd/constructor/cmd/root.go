package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conda/conda-constructor/internal/config"
	"github.com/conda/conda-constructor/internal/logger"
	"github.com/conda/conda-constructor/internal/service/build"
	"github.com/conda/conda-constructor/internal/version"
)

var (
	// configPath to the build request YAML file.
	configPath string
	// outputPath overrides the installer destination from the build request.
	outputPath string
	// cacheDir overrides the package cache directory from the build request.
	cacheDir string
	// dryRun resolves and prints the package set without building an installer.
	dryRun bool
	// logLevel controls logging verbosity (debug, info, warn, error).
	logLevel string

	// rootCmd represents the base command for building installers.
	rootCmd = &cobra.Command{
		Use:   "constructor",
		Short: "Build self-extracting installers from a build request",
		Long: `Builds a self-extracting shell installer from a YAML build request.

The build request names the installer, picks a target platform, and lists
package specs to resolve against one or more channels plus any explicitly
pinned packages. Resolved artifacts are fetched into a local cache, verified
by checksum, and packed together with an extraction executable behind a
POSIX shell header.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			options := &build.Options{
				ConfigPath: configPath,
				OutputPath: outputPath,
				CacheDir:   cacheDir,
				DryRun:     dryRun,
			}

			return build.Run(ctx, options)
		},
	}
)

// Execute runs the constructor CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to build request file")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "path for the finished installer")
	rootCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "directory for cached packages and index fragments")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and list packages without building")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "logging verbosity (debug, info, warn, error)")
}
