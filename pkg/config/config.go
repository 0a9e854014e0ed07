package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

// Source names accepted in platform.source.
const (
	SourceNetlink   = "netlink"
	SourceInterrupt = "interrupt"
	SourceGPIO      = "gpio"
	SourceSDK       = "sdk"
	SourcePoll      = "poll"
)

// Config search paths, in order.
const (
	UserPath   = "~/.config/sfpwatch/config.yaml"
	SystemPath = "/etc/sfpwatch/config.yaml"
)

// Config represents the daemon configuration
type Config struct {
	// Network type: "unix" or "tcp"
	Network string `yaml:"network"`

	// Address to listen on
	// For unix: socket path (default: /run/sfpwatch.sock)
	// For tcp: host:port
	Address string `yaml:"address"`

	// LogLevel: debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// MetricsAddress is the host:port of the prometheus endpoint, empty disables it
	MetricsAddress string `yaml:"metrics_address"`

	// TimeoutMs bounds each detector wait; 0 blocks until a change
	TimeoutMs int `yaml:"timeout_ms"`

	Platform PlatformConfig `yaml:"platform"`
	Retry    RetryConfig    `yaml:"retry"`
}

// PlatformConfig describes the switch platform: which event source it has,
// how its registers are laid out and which ports exist.
type PlatformConfig struct {
	Source string `yaml:"source"`

	xcvr.BitLayout `yaml:",inline"`

	Ports []PortConfig `yaml:"ports,omitempty"`

	Netlink   NetlinkConfig   `yaml:"netlink,omitempty"`
	Interrupt InterruptConfig `yaml:"interrupt,omitempty"`
	GPIO      GPIOConfig      `yaml:"gpio,omitempty"`
	SDK       SDKConfig       `yaml:"sdk,omitempty"`
	Poll      PollConfig      `yaml:"poll,omitempty"`
}

// PortConfig is one row of the platform port table
type PortConfig struct {
	Index int    `yaml:"index"`
	Name  string `yaml:"name,omitempty"`
	// Bit is the register bit; omit it for ports without one.
	Bit      *int   `yaml:"bit,omitempty"`
	Presence string `yaml:"presence,omitempty"`
	SDKPort  uint32 `yaml:"sdk_port,omitempty"`
}

// NetlinkConfig configures the kobject uevent source
type NetlinkConfig struct {
	Subsystem   string `yaml:"subsystem"`
	IndexOffset int    `yaml:"index_offset"`
}

// InterruptConfig configures the sysfs interrupt source. Presence is the
// presence register; when empty each port's own presence attribute is read.
type InterruptConfig struct {
	Attribute string `yaml:"attribute"`
	Status    string `yaml:"status"`
	Presence  string `yaml:"presence,omitempty"`
}

// GPIOConfig configures the gpio interrupt line source. Status is read like
// the sysfs interrupt source once the line fires.
type GPIOConfig struct {
	Chip     string `yaml:"chip"`
	Line     int    `yaml:"line"`
	Status   string `yaml:"status"`
	Presence string `yaml:"presence,omitempty"`
}

// SDKConfig configures the vendor SDK trap channel
type SDKConfig struct {
	Socket string `yaml:"socket"`
	TrapID uint16 `yaml:"trap_id"`
}

// PollConfig configures the presence polling source
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// RetryConfig bounds source registration and register reads
type RetryConfig struct {
	Attempts     int           `yaml:"attempts"`
	Interval     time.Duration `yaml:"interval"`
	ReadAttempts int           `yaml:"read_attempts"`
	ReadInterval time.Duration `yaml:"read_interval"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Network:   "unix",
		Address:   "/run/sfpwatch.sock",
		LogLevel:  "info",
		TimeoutMs: 1000,
		Platform: PlatformConfig{
			Source: SourceNetlink,
			BitLayout: xcvr.BitLayout{
				ActiveLow: true,
				BitWidth:  32,
				PortBase:  1,
			},
			Netlink: NetlinkConfig{Subsystem: "swps"},
			SDK:     SDKConfig{TrapID: 0x0113},
			Poll:    PollConfig{Interval: time.Second},
		},
		Retry: RetryConfig{
			Attempts:     30,
			Interval:     5 * time.Second,
			ReadAttempts: 6,
			ReadInterval: 100 * time.Millisecond,
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// If no path specified, try default locations
	if path == "" {
		user, err := homedir.Expand(UserPath)
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		// Try the per-user file first, then the system file
		path = user
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = SystemPath
			if _, err := os.Stat(path); os.IsNotExist(err) {
				return cfg, nil
			}
		}
	}

	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path: %w", err)
	}

	// Read config file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate network type
	switch c.Network {
	case "unix", "tcp":
		// Valid
	default:
		return fmt.Errorf("invalid network type: %s (must be 'unix' or 'tcp')", c.Network)
	}

	// Expand home directory in address if unix socket
	if c.Network == "unix" {
		expanded, err := homedir.Expand(c.Address)
		if err != nil {
			return fmt.Errorf("failed to expand address: %w", err)
		}
		c.Address = expanded
	}

	// Validate log level
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "critical":
		// Valid
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.TimeoutMs < 0 {
		return fmt.Errorf("invalid timeout_ms: %d (must be >= 0)", c.TimeoutMs)
	}

	if err := c.Platform.Validate(); err != nil {
		return fmt.Errorf("platform: %w", err)
	}

	if c.Retry.Attempts < 1 || c.Retry.ReadAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.Retry.Interval < 0 || c.Retry.ReadInterval < 0 {
		return fmt.Errorf("retry intervals must not be negative")
	}

	return nil
}

// Validate checks that the selected source has what it needs.
func (p *PlatformConfig) Validate() error {
	if err := p.BitLayout.Validate(); err != nil {
		return err
	}

	switch p.Source {
	case SourceNetlink:
		if p.Netlink.Subsystem == "" {
			return fmt.Errorf("netlink.subsystem is required")
		}
	case SourceInterrupt:
		if p.Interrupt.Attribute == "" || p.Interrupt.Status == "" {
			return fmt.Errorf("interrupt.attribute and interrupt.status are required")
		}
		if err := p.checkPresence(p.Interrupt.Presence); err != nil {
			return err
		}
	case SourceGPIO:
		if p.GPIO.Chip == "" || p.GPIO.Status == "" {
			return fmt.Errorf("gpio.chip and gpio.status are required")
		}
		if p.GPIO.Line < 0 {
			return fmt.Errorf("invalid gpio.line: %d", p.GPIO.Line)
		}
		if err := p.checkPresence(p.GPIO.Presence); err != nil {
			return err
		}
	case SourceSDK:
		if p.SDK.Socket == "" {
			return fmt.Errorf("sdk.socket is required")
		}
		for _, pc := range p.Ports {
			if pc.SDKPort != 0 {
				return p.checkPorts()
			}
		}
		return fmt.Errorf("sdk source needs ports with sdk_port")
	case SourcePoll:
		if p.Poll.Interval <= 0 {
			return fmt.Errorf("invalid poll.interval: %s", p.Poll.Interval)
		}
		if len(p.Ports) == 0 {
			return fmt.Errorf("poll source needs a port table")
		}
		for _, pc := range p.Ports {
			if pc.Presence == "" {
				return fmt.Errorf("port %d has no presence attribute", pc.Index)
			}
		}
	default:
		return fmt.Errorf("invalid source: %q (must be one of netlink, interrupt, gpio, sdk, poll)", p.Source)
	}

	return p.checkPorts()
}

// checkPresence requires a presence register or a presence attribute on
// every port.
func (p *PlatformConfig) checkPresence(register string) error {
	if register != "" {
		return nil
	}
	if len(p.Ports) == 0 {
		return fmt.Errorf("a presence register or per-port presence attributes are required")
	}
	for _, pc := range p.Ports {
		if pc.Presence == "" {
			return fmt.Errorf("port %d has no presence attribute", pc.Index)
		}
	}
	return nil
}

func (p *PlatformConfig) checkPorts() error {
	_, err := p.Registry()
	return err
}

// Registry builds the port registry. Without an explicit port table one port
// is synthesized per layout bit.
func (p *PlatformConfig) Registry() (*xcvr.Registry, error) {
	if len(p.Ports) == 0 {
		return xcvr.RangeRegistry(p.BitLayout)
	}

	ports := make([]xcvr.Port, 0, len(p.Ports))
	for _, pc := range p.Ports {
		bit := -1
		if pc.Bit != nil {
			bit = *pc.Bit
			if bit < 0 || bit >= p.BitWidth {
				return nil, fmt.Errorf("port %d: bit %d outside register width %d", pc.Index, bit, p.BitWidth)
			}
		}
		ports = append(ports, xcvr.Port{
			Index:        pc.Index,
			Bit:          bit,
			PresencePath: pc.Presence,
			SDKPort:      pc.SDKPort,
			Name:         pc.Name,
		})
	}
	return xcvr.NewRegistry(ports)
}
