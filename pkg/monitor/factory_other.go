//go:build !linux

package monitor

import "github.com/sfpwatch/sfpwatch/pkg/config"

// NewChangeDetector is only available on Linux.
func NewChangeDetector(cfg *config.Config, opts Options) (ChangeDetector, error) {
	return nil, ErrUnsupported
}
