package cmd

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "relaynode",
		Short:         "Proxy-core node agent",
		Long:          "relaynode supervises an Xray core on behalf of a single remote controller, streams its logs and installs core and asset updates.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newMaintenanceCmd(),
		newCtlCmd(),
	)
	return rootCmd
}

func setupLogging(level slog.Level) {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// listenAndServe runs srv until ctx ends, then shuts it down and runs cleanup.
func listenAndServe(ctx context.Context, srv *http.Server, useTLS bool, cleanup func() error) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Listening", slog.String("addr", srv.Addr), slog.Bool("tls", useTLS))
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down", slog.String("addr", srv.Addr))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if cleanup != nil {
			if cleanupErr := cleanup(); cleanupErr != nil {
				slog.Error("Cleanup failed", slog.String("error", cleanupErr.Error()))
			}
		}
		return err
	})

	return g.Wait()
}
