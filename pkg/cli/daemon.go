package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sfpwatch/sfpwatch/pkg/daemon"
)

var (
	systemdMode bool
	logLevel    string
	pidFile     string
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the sfpwatchd daemon (used by systemd)",
		Long: `Run the sfpwatchd daemon process. This command is typically called by systemd
on the switch to track transceiver status.

For manual control, use systemctl:
  systemctl start sfpwatchd    # Start daemon
  systemctl stop sfpwatchd     # Stop daemon
  systemctl status sfpwatchd   # Check status
  journalctl -u sfpwatchd      # View logs`,
	}

	cmd.AddCommand(newDaemonRunCmd())

	return cmd
}

func newDaemonRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon directly (used by systemd)",
		Long:  `Run the sfpwatch daemon process directly. This is typically called by systemd.`,
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	}

	cmd.Flags().BoolVar(&systemdMode, "systemd", false, "Run in systemd mode with sd_notify support")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, critical)")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file")

	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	d, err := daemon.NewWithConfig(daemon.Config{
		ConfigPath:  configPath,
		SystemdMode: systemdMode,
		LogLevel:    logLevel,
		PIDFile:     pidFile,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	// Run installs its own signal handling
	if err := d.Start(context.Background()); err != nil {
		return fmt.Errorf("daemon failed: %w", err)
	}

	return nil
}
