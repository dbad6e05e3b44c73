package assemble

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conda/conda-constructor/internal/channel"
	"github.com/conda/conda-constructor/internal/dist"
	"github.com/conda/conda-constructor/internal/fetch"
	"github.com/conda/conda-constructor/internal/logger"
)

//go:embed templates/header.sh
var defaultHeaderTemplate string

// Archive member names fixed by the installer layout.
const (
	preInstallTarball  = "preconda.tar.bz2"
	postInstallTarball = "postconda.tar.bz2"
	masterTarballName  = "tmp.tar"
	licenseMember      = "LICENSE.txt"
	historyMember      = "conda-meta/history"
	packagesPrefix     = "pkgs"
	localChannelPrefix = "conda-bld"
	recordMember       = "info/repodata_record.json"

	localURLScheme = "file://"

	installerFileMode os.FileMode = 0o755
)

// Options configures one installer assembly.
type Options struct {
	// Name, Version and Platform identify the product being installed.
	Name     string
	Version  string
	Platform string
	// DefaultPrefix is the install location offered by the header.
	DefaultPrefix string
	// LicenseFile, when set, is embedded in the header and archived.
	LicenseFile string
	// PreInstall and PostInstall are optional hook script paths.
	PreInstall  string
	PostInstall string
	// KeepPackages, AttemptHardlinks and InitializeByDefault toggle
	// template blocks in the header.
	KeepPackages        bool
	AttemptHardlinks    bool
	InitializeByDefault bool
	// Channels is the channel list embedded into the header and condarc.
	Channels []string
	// ExecutablePath is the extraction executable appended after the header.
	ExecutablePath string
	// TemplatePath optionally overrides the embedded header template.
	TemplatePath string
	// OutputPath is where the finished installer lands.
	OutputPath string
	// CacheDir is the package cache holding fetched artifacts and
	// repodata fragments.
	CacheDir string
	// Packages is the finalized, fetched package set in install order.
	Packages []fetch.Resolved
}

// Assemble builds the final installer: staged tarballs and the master
// tarball are produced in scratch storage, the header is rendered with
// self-referential offsets, and only then are header, executable and
// tarball concatenated at the output path.
func Assemble(ctx context.Context, opts *Options) (err error) {
	if err = checkInputs(opts); err != nil {
		return err
	}

	scratch, err := os.MkdirTemp("", "constructor-")
	if err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}

	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil && err == nil {
			err = fmt.Errorf("remove scratch directory: %w", rmErr)
		}
	}()

	logger.DebugKV(ctx, "Staging payload tarballs", "scratch", scratch)

	if err = stagePreInstall(opts, scratch); err != nil {
		return fmt.Errorf("stage pre-install tarball: %w", err)
	}

	if err = stagePostInstall(scratch); err != nil {
		return fmt.Errorf("stage post-install tarball: %w", err)
	}

	tarballPath := filepath.Join(scratch, masterTarballName)
	if err = buildMasterTarball(opts, scratch, tarballPath); err != nil {
		return fmt.Errorf("build master tarball: %w", err)
	}

	header, err := buildHeader(opts, tarballPath)
	if err != nil {
		return fmt.Errorf("render header: %w", err)
	}

	logger.InfoKV(ctx, "Writing installer", "path", opts.OutputPath)

	if err = writeInstaller(opts.OutputPath, header, opts.ExecutablePath, tarballPath); err != nil {
		return fmt.Errorf("write installer: %w", err)
	}

	return nil
}

// checkInputs verifies every configured input file exists before any
// staging happens.
func checkInputs(opts *Options) error {
	required := []string{opts.ExecutablePath}
	for _, optional := range []string{opts.LicenseFile, opts.PreInstall, opts.PostInstall} {
		if optional != "" {
			required = append(required, optional)
		}
	}

	for _, path := range required {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("required input: %w", err)
		}
	}

	return nil
}

// stagePreInstall builds the compressed pre-install tarball: bootstrap
// payloads, hook scripts, cached index fragments, per-package metadata
// records and the history placeholder.
func stagePreInstall(opts *Options, scratch string) error {
	w, err := newTarWriter(filepath.Join(scratch, preInstallTarball), true)
	if err != nil {
		return err
	}

	defer func() {
		_ = w.Close()
	}()

	var urls, urlsTxt strings.Builder

	for _, pkg := range opts.Packages {
		urls.WriteString(pkg.URL + " " + pkg.MD5 + "\n")
		urlsTxt.WriteString(pkg.URL + "\n")
	}

	if err = w.AddBytes(packagesPrefix+"/urls", []byte(urls.String())); err != nil {
		return err
	}

	if err = w.AddBytes(packagesPrefix+"/urls.txt", []byte(urlsTxt.String())); err != nil {
		return err
	}

	if err = stageHooks(opts, w); err != nil {
		return err
	}

	if err = stageCacheFragments(opts.CacheDir, w); err != nil {
		return err
	}

	for _, pkg := range opts.Packages {
		record, recErr := json.Marshal(pkg.Record)
		if recErr != nil {
			return fmt.Errorf("encode record for %s: %w", pkg.Dist.Filename(), recErr)
		}

		member := strings.Join([]string{packagesPrefix, pkg.Dist.Stem(), recordMember}, "/")
		if err = w.AddBytes(member, record); err != nil {
			return err
		}
	}

	if err = w.AddPlaceholder(historyMember); err != nil {
		return err
	}

	return w.Close()
}

// stageHooks copies configured pre/post-install scripts into the archive.
func stageHooks(opts *Options, w *tarWriter) error {
	hooks := []struct {
		path    string
		arcname string
	}{
		{opts.PreInstall, packagesPrefix + "/pre_install.sh"},
		{opts.PostInstall, packagesPrefix + "/post_install.sh"},
	}

	for _, hook := range hooks {
		if hook.path == "" {
			continue
		}

		if err := w.AddFile(hook.path, hook.arcname); err != nil {
			return err
		}
	}

	return nil
}

// stageCacheFragments archives the repodata JSON fragments the index
// fetcher persisted during resolution.
func stageCacheFragments(cacheDir string, w *tarWriter) error {
	if cacheDir == "" {
		return nil
	}

	dir := channel.CacheFragmentDir(cacheDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read cache fragments: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	for _, name := range names {
		if err = w.AddFile(filepath.Join(dir, name), packagesPrefix+"/cache/"+name); err != nil {
			return err
		}
	}

	return nil
}

// stagePostInstall builds the compressed post-install tarball holding
// only the real history marker.
func stagePostInstall(scratch string) error {
	w, err := newTarWriter(filepath.Join(scratch, postInstallTarball), true)
	if err != nil {
		return err
	}

	defer func() {
		_ = w.Close()
	}()

	if err = w.AddPlaceholder(historyMember); err != nil {
		return err
	}

	return w.Close()
}

// buildMasterTarball produces the uncompressed payload tarball: staged
// tarballs, optional license, every fetched artifact, and synthesized
// local-channel repodata.
func buildMasterTarball(opts *Options, scratch, tarballPath string) error {
	w, err := newTarWriter(tarballPath, false)
	if err != nil {
		return err
	}

	defer func() {
		_ = w.Close()
	}()

	for _, staged := range []string{preInstallTarball, postInstallTarball} {
		if err = w.AddFile(filepath.Join(scratch, staged), staged); err != nil {
			return err
		}
	}

	if opts.LicenseFile != "" {
		if err = w.AddFile(opts.LicenseFile, licenseMember); err != nil {
			return err
		}
	}

	for _, pkg := range opts.Packages {
		if err = w.AddFile(pkg.Path, packagesPrefix+"/"+pkg.Dist.Filename()); err != nil {
			return err
		}
	}

	if err = stageLocalChannels(opts, w); err != nil {
		return err
	}

	return w.Close()
}

// stageLocalChannels mirrors file://-sourced artifacts under the local
// channel prefix and synthesizes per-subdir repodata aggregating only the
// locally included entries. A noarch repodata document is always written,
// empty if necessary: downstream tooling expects it to exist.
func stageLocalChannels(opts *Options, w *tarWriter) error {
	docs := make(map[string]*channel.Repodata)

	for _, pkg := range opts.Packages {
		if !strings.HasPrefix(pkg.URL, localURLScheme) {
			continue
		}

		fn := pkg.Dist.Filename()
		subdir := localSubdir(pkg)

		if err := w.AddFile(pkg.Path, localChannelPrefix+"/"+subdir+"/"+fn); err != nil {
			return err
		}

		doc, ok := docs[subdir]
		if !ok {
			doc = channel.NewRepodata(subdir)
			docs[subdir] = doc
		}

		if pkg.Dist.Ext == dist.ExtConda {
			doc.PackagesConda[fn] = pkg.Record
		} else {
			doc.Packages[fn] = pkg.Record
		}
	}

	if _, ok := docs[channel.NoarchSubdir]; !ok {
		docs[channel.NoarchSubdir] = channel.NewRepodata(channel.NoarchSubdir)
	}

	subdirs := make([]string, 0, len(docs))
	for subdir := range docs {
		subdirs = append(subdirs, subdir)
	}

	sort.Strings(subdirs)

	for _, subdir := range subdirs {
		data, err := json.Marshal(docs[subdir])
		if err != nil {
			return fmt.Errorf("encode repodata for %s: %w", subdir, err)
		}

		member := localChannelPrefix + "/" + subdir + "/" + channel.RepodataFilename
		if err = w.AddBytes(member, data); err != nil {
			return err
		}
	}

	return nil
}

// localSubdir determines the channel subdir of a locally sourced package,
// preferring the record's own declaration over the URL path.
func localSubdir(pkg fetch.Resolved) string {
	if pkg.Record.Subdir != "" {
		return pkg.Record.Subdir
	}

	segments := strings.Split(strings.TrimSuffix(pkg.URL, "/"+pkg.Dist.Filename()), "/")

	return segments[len(segments)-1]
}

// buildHeader renders the installer header for the staged payload.
func buildHeader(opts *Options, tarballPath string) ([]byte, error) {
	template := defaultHeaderTemplate

	if opts.TemplatePath != "" {
		raw, err := os.ReadFile(filepath.Clean(opts.TemplatePath))
		if err != nil {
			return nil, fmt.Errorf("read header template: %w", err)
		}

		template = string(raw)
	}

	executableSize, err := fileSize(opts.ExecutablePath)
	if err != nil {
		return nil, err
	}

	tarballSize, err := fileSize(tarballPath)
	if err != nil {
		return nil, err
	}

	combinedMD5, err := fetch.ChecksumAll([]string{opts.ExecutablePath, tarballPath})
	if err != nil {
		return nil, fmt.Errorf("hash payload: %w", err)
	}

	values := map[string]string{
		"__NAME__":           opts.Name,
		"__name__":           strings.ToLower(opts.Name),
		"__VERSION__":        opts.Version,
		"__PLAT__":           opts.Platform,
		"__DEFAULT_PREFIX__": defaultPrefix(opts),
		"__MD5__":            combinedMD5,
		"__CHANNELS__":       strings.Join(opts.Channels, ","),
		"__INSTALL_COMMANDS__": strings.Join(
			condarcCommands(opts.Channels), "\n"),
	}

	if opts.LicenseFile != "" {
		license, licErr := os.ReadFile(filepath.Clean(opts.LicenseFile))
		if licErr != nil {
			return nil, fmt.Errorf("read license: %w", licErr)
		}

		values["__LICENSE__"] = string(license)
	}

	return renderHeader(headerInput{
		template:       template,
		flags:          headerFlags(opts),
		values:         values,
		executableSize: executableSize,
		tarballSize:    tarballSize,
	})
}

// headerFlags builds the conditional flag map for template preprocessing.
func headerFlags(opts *Options) map[string]bool {
	flags := platformFlags(opts.Platform)
	flags["has_license"] = opts.LicenseFile != ""
	flags["has_pre_install"] = opts.PreInstall != ""
	flags["has_post_install"] = opts.PostInstall != ""
	flags["keep_pkgs"] = opts.KeepPackages
	flags["attempt_hardlinks"] = opts.AttemptHardlinks
	flags["initialize_by_default"] = opts.InitializeByDefault

	return flags
}

// defaultPrefix returns the configured install prefix or the product's
// home-directory default.
func defaultPrefix(opts *Options) string {
	if opts.DefaultPrefix != "" {
		return opts.DefaultPrefix
	}

	return "$HOME/" + strings.ToLower(opts.Name)
}

// fileSize returns the byte length of a file.
func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}

	return info.Size(), nil
}

// writeInstaller concatenates header, executable and tarball into the
// output file through a sibling temporary file, marking it executable.
// Copies are chunked so peak memory stays constant.
func writeInstaller(outputPath string, header []byte, executablePath, tarballPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), filepath.Base(outputPath)+".part-*")
	if err != nil {
		return err
	}

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	if _, err = tmp.Write(header); err != nil {
		cleanup()
		return err
	}

	for _, payload := range []string{executablePath, tarballPath} {
		if err = appendFile(tmp, payload); err != nil {
			cleanup()
			return err
		}
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	if err = os.Chmod(tmp.Name(), installerFileMode); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), outputPath)
}

// appendFile streams src onto w in bounded chunks.
func appendFile(w io.Writer, src string) error {
	file, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	buf := make([]byte, copyChunkSize)
	_, err = io.CopyBuffer(w, file, buf)
	_ = file.Close()

	if err != nil {
		return fmt.Errorf("append %s: %w", src, err)
	}

	return nil
}
