package cmd

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaynode/relaynode/internal/server"
	"github.com/relaynode/relaynode/pkg/compose"
	"github.com/relaynode/relaynode/pkg/config"
	"github.com/relaynode/relaynode/pkg/engine"
	"github.com/relaynode/relaynode/pkg/history"
	"github.com/relaynode/relaynode/pkg/maintenance"
	"github.com/relaynode/relaynode/pkg/manifest"
	"github.com/relaynode/relaynode/pkg/tlsutil"
	"github.com/relaynode/relaynode/pkg/updater"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the node API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			if cfg.NodeVersion == "" {
				cfg.NodeVersion = Version
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	generated, err := tlsutil.EnsureCertificate(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return err
	}
	if generated {
		slog.Info("Generated node certificate", slog.String("cert", cfg.CertFile))
	}

	core := engine.NewCore(cfg.ExecutablePath, cfg.AssetsPath)
	store := manifest.NewStore(cfg.ManifestPath())
	applyManifest(store, core)

	ledger, err := history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		slog.Warn("Update history unavailable", slog.String("path", cfg.HistoryPath()), slog.String("error", err.Error()))
		ledger = nil
	}
	defer ledger.Close()

	srv, err := server.New(cfg, server.Dependencies{
		Engine:      core,
		Installer:   newUpdater(cfg, core, store, ledger),
		Maintenance: maintenance.NewClient(maintenance.BaseURL(cfg.MaintenanceScheme, cfg.MaintenanceHost, cfg.MaintenancePort)),
		History:     ledger,
	})
	if err != nil {
		return err
	}
	tlsConfig, err := srv.TLSConfig()
	if err != nil {
		return err
	}

	slog.Info("Node ready",
		slog.String("node_version", cfg.NodeVersion),
		slog.String("core_version", core.Version()),
		slog.String("executable", core.ExecutablePath()))

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		// HTTP/2 stays off: websocket upgrades on /logs need HTTP/1.1.
		TLSNextProto:      map[string]func(*http.Server, *tls.Conn, http.Handler){},
	}
	return listenAndServe(ctx, httpServer, true, srv.Cleanup)
}

func newUpdater(cfg *config.Config, e engine.Engine, store *manifest.Store, ledger *history.Ledger) *updater.Updater {
	u := updater.New(e, updater.Options{
		ReleaseBaseURL:          cfg.ReleaseBaseURL,
		InstallDir:              cfg.InstallDir,
		AssetsDir:               cfg.AssetsDir,
		ContainerExecutablePath: cfg.ContainerExecutablePath,
		ContainerAssetsPath:     cfg.ContainerAssetsPath,
	})
	u.Manifest = store
	u.History = ledger
	u.Descriptor = &compose.Descriptor{
		Path:    cfg.ComposeFile,
		Service: cfg.ComposeService,
		Volume:  cfg.AssetsDir + ":" + cfg.ContainerAssetsPath,
		Command: cfg.ComposeCommand,
		Run:     compose.ExecRunner,
	}
	return u
}

// applyManifest points e at the binary and assets installed by a previous
// update. Entries whose files are gone are ignored.
func applyManifest(store *manifest.Store, e engine.Engine) {
	m, err := store.Load()
	if err != nil {
		slog.Warn("Ignoring install manifest", slog.String("path", store.Path()), slog.String("error", err.Error()))
		return
	}

	if m.Core != nil && fileExists(m.Core.ExecutablePath) {
		e.SetExecutablePath(m.Core.ExecutablePath)
		if _, err := e.RefreshVersion(); err != nil {
			slog.Warn("Installed core did not report a version",
				slog.String("executable", m.Core.ExecutablePath),
				slog.String("error", err.Error()))
		}
	}
	if m.Assets != nil && fileExists(m.Assets.Path) {
		e.SetAssetsPath(m.Assets.Path)
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
