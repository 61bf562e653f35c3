// Package updater installs new engine binaries and routing-data assets.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/relaynode/relaynode/pkg/compose"
	"github.com/relaynode/relaynode/pkg/engine"
	"github.com/relaynode/relaynode/pkg/errors"
	"github.com/relaynode/relaynode/pkg/history"
	"github.com/relaynode/relaynode/pkg/manifest"
)

const (
	DefaultDownloadTimeout = 120 * time.Second

	envExecutablePath = "XRAY_EXECUTABLE_PATH"
	envAssetsPath     = "XRAY_ASSETS_PATH"
)

// Updater is the binary and asset replacement pipeline. Updates are
// serialized; a failed update is not rolled back.
type Updater struct {
	Engine engine.Engine
	// Descriptor is rewritten after an install when its file exists. Optional.
	Descriptor *compose.Descriptor
	// Manifest and History are optional records of installs.
	Manifest *manifest.Store
	History  *history.Ledger

	Client          *http.Client
	DownloadTimeout time.Duration
	// Platform resolves the host, HostPlatform when nil.
	Platform func() (Platform, error)
	GOOS     string

	ReleaseBaseURL string
	InstallDir     string
	AssetsDir      string
	// Container paths are what the redeployed service sees.
	ContainerExecutablePath string
	ContainerAssetsPath     string

	mu sync.Mutex
}

// Options configures New.
type Options struct {
	ReleaseBaseURL          string
	InstallDir              string
	AssetsDir               string
	ContainerExecutablePath string
	ContainerAssetsPath     string
}

func New(e engine.Engine, opts Options) *Updater {
	return &Updater{
		Engine:                  e,
		Client:                  &http.Client{},
		DownloadTimeout:         DefaultDownloadTimeout,
		Platform:                HostPlatform,
		GOOS:                    runtime.GOOS,
		ReleaseBaseURL:          opts.ReleaseBaseURL,
		InstallDir:              opts.InstallDir,
		AssetsDir:               opts.AssetsDir,
		ContainerExecutablePath: opts.ContainerExecutablePath,
		ContainerAssetsPath:     opts.ContainerAssetsPath,
	}
}

// CoreResult is the answer to a successful core update.
type CoreResult struct {
	Detail  string `json:"detail"`
	Version string `json:"version"`
	Digest  string `json:"digest"`
}

// GeoFile is one requested asset download.
type GeoFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type SavedFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// GeoResult is the answer to a successful asset update.
type GeoResult struct {
	Detail string      `json:"detail"`
	Saved  []SavedFile `json:"saved"`
}

// UpdateCore downloads release version for this host and installs it as
// the engine binary. The engine is stopped first when running.
func (u *Updater) UpdateCore(ctx context.Context, version string) (*CoreResult, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, errors.NewFieldError("version", "version is required")
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	res, err := u.updateCore(ctx, version)
	entry := history.Entry{Kind: history.KindCore, Target: version}
	if res != nil {
		entry.Digest = res.Digest
		entry.Detail = res.Detail
	}
	u.record(ctx, entry, err)
	return res, err
}

func (u *Updater) updateCore(ctx context.Context, version string) (*CoreResult, error) {
	platform, err := u.platform()
	if err != nil {
		slog.Error("failed to detect host platform", slog.Any("error", err))
		return nil, errors.NewUnsupportedPlatformError()
	}
	asset, err := AssetName(platform)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(u.ReleaseBaseURL, "/") + "/" + version + "/" + asset
	slog.Info("downloading node core", slog.String("version", version), slog.String("url", url))
	archive, err := u.fetch(ctx, url)
	if err != nil {
		return nil, errors.NewUpstreamFetchError(fmt.Sprintf("Download failed: %v", err))
	}

	if err := os.MkdirAll(u.InstallDir, 0o755); err != nil {
		return nil, errors.NewInstallError(fmt.Sprintf("Failed to create %s: %v", u.InstallDir, err))
	}
	staging, err := os.MkdirTemp(u.InstallDir, ".extract-*")
	if err != nil {
		return nil, errors.NewInstallError(fmt.Sprintf("Failed to create staging directory: %v", err))
	}
	defer os.RemoveAll(staging)

	if err := extractZip(archive, staging); err != nil {
		return nil, errors.NewInstallError(fmt.Sprintf("Failed to extract archive: %v", err))
	}
	extracted, ok := findExecutable(staging, u.GOOS)
	if !ok {
		return nil, errors.NewInstallError("xray binary not found in archive")
	}
	if err := markExecutable(extracted); err != nil {
		slog.Warn("failed to mark binary executable", slog.String("path", extracted), slog.Any("error", err))
	}

	if u.Engine.Started() {
		engine.StopBestEffort(u.Engine, "core update")
	}

	final := filepath.Join(u.InstallDir, "xray")
	if err := moveExecutable(extracted, final); err != nil {
		return nil, errors.NewInstallError(fmt.Sprintf("Failed to install %s: %v", final, err))
	}
	if err := promoteStaged(staging, u.InstallDir, filepath.Base(final)); err != nil {
		slog.Warn("failed to install archive extras", slog.String("dir", u.InstallDir), slog.Any("error", err))
	}
	if !isExecutable(final) {
		return nil, errors.NewInstallError(fmt.Sprintf("%s is not executable", final))
	}

	u.Engine.SetExecutablePath(final)
	installed, err := u.Engine.RefreshVersion()
	if err != nil {
		return nil, errors.NewInstallError(fmt.Sprintf("Failed to read installed core version: %v", err))
	}
	digest, err := fileDigest(final)
	if err != nil {
		return nil, errors.NewInstallError(err.Error())
	}
	slog.Info("node core installed", slog.String("path", final), slog.String("version", installed), slog.String("digest", digest))

	if u.Manifest != nil {
		err := u.Manifest.SaveCore(manifest.Core{
			ExecutablePath: final,
			Version:        installed,
			Digest:         digest,
			InstalledAt:    time.Now().UTC(),
		})
		if err != nil {
			slog.Warn("failed to record core install", slog.Any("error", err))
		}
	}

	if err := u.redeploy(ctx, envExecutablePath, u.ContainerExecutablePath); err != nil {
		return nil, err
	}

	return &CoreResult{
		Detail:  "Node core ready at " + final,
		Version: installed,
		Digest:  digest,
	}, nil
}

// UpdateGeo downloads files into the assets directory in order. Every entry
// is validated before the first download; the first failure aborts.
func (u *Updater) UpdateGeo(ctx context.Context, files []GeoFile) (*GeoResult, error) {
	if err := validateGeoFiles(files); err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = strings.TrimSpace(f.Name)
	}
	res, err := u.updateGeo(ctx, files)
	entry := history.Entry{Kind: history.KindGeo, Target: strings.Join(names, ",")}
	if res != nil {
		entry.Detail = res.Detail
	}
	u.record(ctx, entry, err)
	return res, err
}

func validateGeoFiles(files []GeoFile) error {
	if len(files) == 0 {
		return errors.NewFieldError("files", "'files' must be a non-empty list of {name,url}.")
	}
	for _, f := range files {
		name, url := strings.TrimSpace(f.Name), strings.TrimSpace(f.URL)
		if name == "" || url == "" {
			return errors.NewFieldError("files", "Each file must include non-empty 'name' and 'url'.")
		}
		if name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return errors.NewFieldError("files", fmt.Sprintf("File name %q must not contain a path.", name))
		}
	}
	return nil
}

func (u *Updater) updateGeo(ctx context.Context, files []GeoFile) (*GeoResult, error) {
	if err := os.MkdirAll(u.AssetsDir, 0o755); err != nil {
		return nil, errors.NewInstallError(fmt.Sprintf("Failed to create %s: %v", u.AssetsDir, err))
	}

	saved := make([]SavedFile, 0, len(files))
	recorded := make([]manifest.AssetFile, 0, len(files))
	for _, f := range files {
		name, url := strings.TrimSpace(f.Name), strings.TrimSpace(f.URL)

		data, err := u.fetch(ctx, url)
		if err != nil {
			return nil, errors.NewUpstreamFetchError(fmt.Sprintf("Failed to download %s: %v", name, err))
		}
		dst := filepath.Join(u.AssetsDir, name)
		if err := writeFileAtomic(dst, data); err != nil {
			return nil, errors.NewInstallError(fmt.Sprintf("Failed to save %s: %v", name, err))
		}
		slog.Info("geo asset saved", slog.String("name", name), slog.String("path", dst), slog.Int("bytes", len(data)))

		saved = append(saved, SavedFile{Name: name, Path: dst})
		recorded = append(recorded, manifest.AssetFile{Name: name, Digest: dataDigest(data)})
	}

	u.Engine.SetAssetsPath(u.AssetsDir)

	if u.Manifest != nil {
		err := u.Manifest.SaveAssets(manifest.Assets{
			Path:        u.AssetsDir,
			Files:       recorded,
			InstalledAt: time.Now().UTC(),
		})
		if err != nil {
			slog.Warn("failed to record asset install", slog.Any("error", err))
		}
	}

	if err := u.redeploy(ctx, envAssetsPath, u.ContainerAssetsPath); err != nil {
		return nil, err
	}

	return &GeoResult{
		Detail: "Geo assets saved to " + u.AssetsDir,
		Saved:  saved,
	}, nil
}

func (u *Updater) redeploy(ctx context.Context, key, value string) error {
	if u.Descriptor == nil || !u.Descriptor.Exists() {
		return nil
	}
	if err := u.Descriptor.SetEnv(ctx, key, value); err != nil {
		return errors.NewInternalError(fmt.Sprintf("Failed to update docker-compose.yml: %v", err))
	}
	return nil
}

func (u *Updater) platform() (Platform, error) {
	if u.Platform == nil {
		return HostPlatform()
	}
	return u.Platform()
}

func (u *Updater) record(ctx context.Context, e history.Entry, err error) {
	if u.History == nil {
		return
	}
	e.Outcome = history.OutcomeSuccess
	if err != nil {
		e.Outcome = history.OutcomeFailure
		e.Detail = err.Error()
	}
	if recErr := u.History.Record(context.WithoutCancel(ctx), e); recErr != nil {
		slog.Warn("failed to record update", slog.String("kind", e.Kind), slog.Any("error", recErr))
	}
}
