package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sfpwatch/sfpwatch/pkg/protocol"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every transceiver port",
		Long:  `Lists every port known to the daemon with its last reported status.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var list protocol.ListResponse
			if err := query(protocol.CommandList, nil, &list); err != nil {
				return err
			}

			if len(list.Ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No ports configured")
				return nil
			}

			return printPorts(cmd.OutOrStdout(), list.Ports)
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <port>",
		Short: "Show one transceiver port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[0], err)
			}

			var info protocol.PortInfo
			if err := query(protocol.CommandGet, protocol.GetRequest{Port: port}, &info); err != nil {
				return err
			}

			return printPorts(cmd.OutOrStdout(), []protocol.PortInfo{info})
		},
	}
}

func printPorts(w io.Writer, ports []protocol.PortInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tNAME\tCODE\tSTATUS\tCHANGES\tUPDATED")
	for _, p := range ports {
		updated := "-"
		if p.Known && !p.Updated.IsZero() {
			updated = p.Updated.Local().Format(time.RFC3339)
		}
		name := p.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", p.Port, name, p.Status, p.StatusName, p.Changes, updated)
	}
	return tw.Flush()
}
