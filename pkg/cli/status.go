package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sfpwatch/sfpwatch/pkg/protocol"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get daemon status",
		Long:  `Retrieves the daemon version, its event source and how many ports are in each status.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status protocol.StatusResponse
			if err := query(protocol.CommandStatus, nil, &status); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon Status:\n")
			fmt.Fprintf(out, "  Version: %s\n", status.Version)
			fmt.Fprintf(out, "  Uptime: %s\n", status.Uptime)
			fmt.Fprintf(out, "  Event Source: %s\n", status.Source)
			fmt.Fprintf(out, "  Ports: %d\n", status.Ports)

			names := make([]string, 0, len(status.Counts))
			for name := range status.Counts {
				names = append(names, name)
			}
			sort.Strings(names)

			if len(names) > 0 {
				fmt.Fprintf(out, "\nPorts by Status:\n")
				for _, name := range names {
					fmt.Fprintf(out, "  %-18s %d\n", name, status.Counts[name])
				}
			}

			return nil
		},
	}
}
