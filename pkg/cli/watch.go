package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sfpwatch/sfpwatch/pkg/protocol"
)

var watchInterval time.Duration

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow transceiver status changes",
		Long: `Polls the daemon and prints one line for every port whose status
changed since the previous poll.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			out := cmd.OutOrStdout()
			var last map[int]protocol.PortInfo

			ticker := time.NewTicker(watchInterval)
			defer ticker.Stop()

			for {
				var list protocol.ListResponse
				if err := query(protocol.CommandList, nil, &list); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error listing ports: %v\n", err)
				} else {
					last = printChanges(out, last, list.Ports, time.Now())
				}

				select {
				case <-sigChan:
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVarP(&watchInterval, "interval", "i", 2*time.Second, "Poll interval")

	return cmd
}

// printChanges prints ports whose status differs from prev and returns the
// new baseline. A nil prev prints every known port once.
func printChanges(w io.Writer, prev map[int]protocol.PortInfo, ports []protocol.PortInfo, now time.Time) map[int]protocol.PortInfo {
	next := make(map[int]protocol.PortInfo, len(ports))
	for _, p := range ports {
		next[p.Port] = p

		old, seen := prev[p.Port]
		switch {
		case prev == nil && p.Known:
			fmt.Fprintf(w, "%s port %d %s\n", now.Format("15:04:05"), p.Port, p.StatusName)
		case seen && old.Status != p.Status:
			fmt.Fprintf(w, "%s port %d %s -> %s\n", now.Format("15:04:05"), p.Port, old.StatusName, p.StatusName)
		case !seen && prev != nil:
			fmt.Fprintf(w, "%s port %d %s (new)\n", now.Format("15:04:05"), p.Port, p.StatusName)
		}
	}
	return next
}
