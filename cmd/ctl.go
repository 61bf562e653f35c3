package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaynode/relaynode/pkg/client"
	"github.com/relaynode/relaynode/pkg/tlsutil"
)

type ctlOptions struct {
	node     string
	cert     string
	key      string
	nodeCert string
}

func (o *ctlOptions) client() (*client.Client, error) {
	if o.cert == "" && o.key == "" && o.nodeCert == "" {
		return client.New(o.node, nil), nil
	}
	tlsConfig, err := tlsutil.ClientConfig(o.cert, o.key, o.nodeCert)
	if err != nil {
		return nil, err
	}
	return client.New(o.node, tlsConfig), nil
}

func newCtlCmd() *cobra.Command {
	opts := &ctlOptions{}
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a node as its controller",
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.node, "node", "https://127.0.0.1:62050", "node API base URL")
	flags.StringVar(&opts.cert, "cert", "", "controller certificate")
	flags.StringVar(&opts.key, "key", "", "controller private key")
	flags.StringVar(&opts.nodeCert, "node-cert", "", "node certificate to pin")

	cmd.AddCommand(
		newCtlStatusCmd(opts),
		newCtlConnectCmd(opts),
		newCtlLogsCmd(opts),
		newCtlHistoryCmd(opts),
	)
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCtlStatusCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show node status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, status)
		},
	}
}

func newCtlConnectCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Take ownership of the node and print the session id",
		Long:  "connect takes the node from any current controller; the core is stopped when ownership changes hands.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			status, err := c.Connect(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, status)
		},
	}
}

func newCtlLogsCmd(opts *ctlOptions) *cobra.Command {
	var (
		sessionID string
		interval  time.Duration
		backlog   int
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Follow the core's log output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return c.TailLogs(ctx, sessionID, client.LogOptions{Interval: interval, Backlog: backlog}, func(msg string) error {
				if !strings.HasSuffix(msg, "\n") {
					msg += "\n"
				}
				_, err := fmt.Fprint(out, msg)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id returned by connect")
	cmd.Flags().DurationVar(&interval, "interval", 0, "batch lines and flush at most this often (up to 10s)")
	cmd.Flags().IntVar(&backlog, "backlog", 0, "replay up to this many buffered lines first (up to 1000)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newCtlHistoryCmd(opts *ctlOptions) *cobra.Command {
	var (
		sessionID string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent core and asset updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			entries, err := c.UpdateHistory(cmd.Context(), sessionID, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd, entries)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id returned by connect")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
