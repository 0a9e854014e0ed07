package daemon

import (
	"context"
	"fmt"

	"github.com/sfpwatch/sfpwatch/internal/logger"
	"github.com/sfpwatch/sfpwatch/pkg/config"
)

// Config holds process-level daemon options that do not live in the
// configuration file.
type Config struct {
	ConfigPath  string // Configuration file, empty searches the default paths
	SystemdMode bool   // Run in systemd mode with sd_notify support
	LogLevel    string // Overrides log_level from the file when set
	PIDFile     string // Path to PID file (optional)
}

// NewWithConfig loads the configuration file and creates a daemon from it.
func NewWithConfig(daemonConfig Config) (*Daemon, error) {
	cfg, err := config.Load(daemonConfig.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if daemonConfig.LogLevel != "" {
		cfg.LogLevel = daemonConfig.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.SetLevelByName(cfg.LogLevel)

	d, err := New(cfg, logger.Get())
	if err != nil {
		return nil, err
	}

	d.systemdMode = daemonConfig.SystemdMode
	d.pidFile = daemonConfig.PIDFile

	return d, nil
}

// Start runs the daemon until ctx is cancelled or a signal arrives.
func (d *Daemon) Start(ctx context.Context) error {
	stop := context.AfterFunc(ctx, d.cancel)
	defer stop()

	d.notifySystemd("STATUS=Initializing transceiver change detector")

	if d.pidFile != "" {
		if err := d.writePIDFile(); err != nil {
			return err
		}
		defer d.removePIDFile()
	}

	return d.Run()
}
