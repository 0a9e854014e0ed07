// Package cli implements the sfpwatch command line client.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/sfpwatch/sfpwatch/version"
)

var (
	socketPath string
	configPath string
	verbose    bool
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sfpwatch",
		Short: "sfpwatch client - inspects transceiver status on a switch",
		Long: `sfpwatch talks to the sfpwatchd daemon to:
- Show the last known status of every transceiver port
- Follow status changes as modules are inserted, removed or fail
- Probe the configured event source directly, without the daemon`,
		Version:      version.GetFullVersion(),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "", "Path to sfpwatchd socket")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newDaemonCmd())

	return rootCmd
}
