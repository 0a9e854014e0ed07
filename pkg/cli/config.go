package cli

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sfpwatch/sfpwatch/pkg/config"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Display the effective configuration",
		Long:  `Displays the configuration sfpwatch would use, after defaults are applied, and where it looked for it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "sfpwatch Configuration:")

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			fmt.Fprintln(out, string(data))

			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(out, "Validation: %v\n", err)
			} else {
				reg, _ := cfg.Platform.Registry()
				fmt.Fprintf(out, "Validation: ok (%d ports)\n", reg.Len())
			}

			if cfg.Network == "unix" {
				if _, err := os.Stat(cfg.Address); err == nil {
					fmt.Fprintf(out, "Socket Status: Active\n")
				} else if os.IsNotExist(err) {
					fmt.Fprintf(out, "Socket Status: Not found (daemon may not be running)\n")
				}
			}

			configPaths := []string{config.UserPath, config.SystemPath}
			if configPath != "" {
				configPaths = []string{configPath}
			}

			fmt.Fprintf(out, "\nConfig Search Paths:\n")
			for _, path := range configPaths {
				expanded, _ := homedir.Expand(path)
				if _, err := os.Stat(expanded); err == nil {
					fmt.Fprintf(out, "  %s (found)\n", path)
				} else {
					fmt.Fprintf(out, "  %s\n", path)
				}
			}

			return nil
		},
	}
}
