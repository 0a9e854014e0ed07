package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sfpwatch/sfpwatch/internal/logger"
	"github.com/sfpwatch/sfpwatch/pkg/chassis"
	"github.com/sfpwatch/sfpwatch/pkg/monitor"
)

func newProbeCmd() *cobra.Command {
	var (
		timeout time.Duration
		count   int
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Wait for transceiver changes on the local event source",
		Long: `Opens the configured event source directly and prints each batch of
changes as a JSON object of port index to status code, e.g. {"12":"1"}.
An empty object means the wait timed out. The daemon must not be running
against the same source.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.SetLevelByName(cfg.LogLevel)
			log := logger.Get()

			opts, err := monitor.NewOptions(cfg, log, nil)
			if err != nil {
				return err
			}

			det, err := monitor.NewChangeDetector(cfg, opts)
			if err != nil {
				return err
			}

			if err := det.Initialize(); err != nil {
				logger.Critical(log, "Failed to initialize change detector", "source", cfg.Platform.Source, "error", err)
				return err
			}
			defer func() {
				if err := det.Deinitialize(); err != nil {
					log.Warn("Failed to release change detector", "error", err)
				}
			}()

			var stopped atomic.Bool
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				if _, ok := <-sigChan; ok {
					stopped.Store(true)
					_ = det.Interrupt()
				}
			}()

			return probe(cmd.OutOrStdout(), det, timeout, count, stopped.Load)
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Per-wait timeout, 0 waits until a change")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of waits, 0 repeats until interrupted")

	return cmd
}

func probe(w io.Writer, det monitor.ChangeDetector, timeout time.Duration, count int, stopped func() bool) error {
	for i := 0; count == 0 || i < count; i++ {
		ok, changes := det.WaitForChange(int(timeout / time.Millisecond))
		if !ok {
			if stopped() {
				return nil
			}
			return fmt.Errorf("wait for change failed")
		}

		data, err := json.Marshal(chassis.FormatChanges(changes))
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	}
	return nil
}
