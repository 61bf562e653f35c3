package cmd

import (
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaynode/relaynode/internal/agent"
	"github.com/relaynode/relaynode/pkg/config"
	"github.com/relaynode/relaynode/pkg/maintenance"
)

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run the local maintenance agent",
		Long:  "maintenance serves the host-local API that runs the node management CLI on behalf of the node.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			cliPath, err := maintenance.ResolveCLI(cfg.MaintenanceCLI)
			if err != nil {
				return err
			}
			slog.Info("Using maintenance CLI", slog.String("cli", cliPath), slog.Any("allowed_hosts", cfg.MaintenanceAllowedHosts))

			runner := &maintenance.CLI{Path: cliPath, Timeout: maintenance.UpdateTimeout}
			httpServer := &http.Server{
				Addr:              cfg.MaintenanceAddr(),
				Handler:           agent.New(runner, cliPath, cfg.MaintenanceAllowedHosts),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return listenAndServe(ctx, httpServer, false, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}
