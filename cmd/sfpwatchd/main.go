package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sfpwatch/sfpwatch/internal/logger"
	"github.com/sfpwatch/sfpwatch/pkg/daemon"
	"github.com/sfpwatch/sfpwatch/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg   daemon.Config
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "sfpwatchd",
		Short: "sfpwatch daemon - tracks transceiver insertion, removal and faults",
		Long: `sfpwatchd runs on the switch, waits on the platform's transceiver event
source and keeps the last known status of every port. Clients query it
over a local socket; status changes are also exported as prometheus
metrics when metrics_address is set.`,
		Version:       version.GetFullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				cfg.LogLevel = "debug"
			}

			logger.Get().Info("Starting sfpwatch daemon",
				"version", version.GetVersion(),
				"commit", version.Commit,
				"date", version.Date,
			)

			d, err := daemon.NewWithConfig(cfg)
			if err != nil {
				return err
			}
			return d.Start(context.Background())
		},
	}

	cmd.Flags().StringVar(&cfg.ConfigPath, "config", "", "Path to configuration file (default: ~/.config/sfpwatch/config.yaml, then /etc/sfpwatch/config.yaml)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&cfg.SystemdMode, "systemd", false, "Run in systemd mode with sd_notify support")
	cmd.Flags().StringVar(&cfg.PIDFile, "pid-file", "", "Path to PID file")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", "", "Log level (debug, info, warn, error, critical)")

	return cmd
}
