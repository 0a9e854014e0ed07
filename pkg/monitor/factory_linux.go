package monitor

import (
	"fmt"

	"github.com/sfpwatch/sfpwatch/pkg/config"
)

// NewSource returns the event source selected by p.Source.
func NewSource(p config.PlatformConfig, opts Options) (Source, error) {
	switch p.Source {
	case config.SourceNetlink:
		return NewNetlinkSource(p.Netlink, opts), nil
	case config.SourceInterrupt:
		return NewInterruptSource(p.Interrupt, opts), nil
	case config.SourceGPIO:
		return NewGPIOSource(p.GPIO, opts), nil
	case config.SourceSDK:
		return NewSDKSource(p.SDK, opts), nil
	case config.SourcePoll:
		return NewPollSource(p.Poll, opts), nil
	}
	return nil, fmt.Errorf("unknown event source %q", p.Source)
}

// NewChangeDetector returns a detector over the configured source.
func NewChangeDetector(cfg *config.Config, opts Options) (ChangeDetector, error) {
	src, err := NewSource(cfg.Platform, opts)
	if err != nil {
		return nil, err
	}
	opts.Logger.Info("using transceiver event source", "source", src.Name(), "ports", opts.Registry.Len())
	return NewDetector(src, opts), nil
}
