package monitor

import (
	"log/slog"

	"github.com/sfpwatch/sfpwatch/pkg/config"
)

// NewOptions derives the shared source options from cfg.
func NewOptions(cfg *config.Config, logger *slog.Logger, rec Recorder) (Options, error) {
	reg, err := cfg.Platform.Registry()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Registry: reg,
		Layout:   cfg.Platform.BitLayout,
		Retry: Retry{
			Attempts:     cfg.Retry.Attempts,
			Interval:     cfg.Retry.Interval,
			ReadAttempts: cfg.Retry.ReadAttempts,
			ReadInterval: cfg.Retry.ReadInterval,
		},
		Recorder: rec,
		Logger:   logger,
	}.withDefaults(), nil
}
