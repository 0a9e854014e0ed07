package xcvr

import (
	"fmt"
	"strconv"
	"strings"
)

// BitLayout describes how a platform packs per-port bits into a register.
// Bit i of a register covers port PortBase+i for i < BitWidth.
type BitLayout struct {
	// ActiveLow is set when a 0 presence bit means "module inserted".
	ActiveLow bool `yaml:"active_low"`
	BitWidth  int  `yaml:"bit_width"`
	PortBase  int  `yaml:"port_base"`
}

// Validate checks the register geometry.
func (l BitLayout) Validate() error {
	if l.BitWidth <= 0 || l.BitWidth > 64 {
		return fmt.Errorf("invalid bit width: %d (must be 1..64)", l.BitWidth)
	}
	return nil
}

// SetBits returns the positions of the bits set in mask, lowest first.
// Bits at or above BitWidth are ignored.
func (l BitLayout) SetBits(mask uint64) []int {
	var bits []int
	for bit := 0; bit < l.BitWidth && bit < 64; bit++ {
		if mask&(1<<uint(bit)) != 0 {
			bits = append(bits, bit)
		}
	}
	return bits
}

// RegisterBit extracts bit from a register value. ok is false when bit lies
// outside the layout.
func (l BitLayout) RegisterBit(mask uint64, bit int) (uint8, bool) {
	if bit < 0 || bit >= l.BitWidth || bit >= 64 {
		return 0, false
	}
	return uint8((mask >> uint(bit)) & 1), true
}

// ParseRegister parses a register dump as read from sysfs. Hex values carry a
// "0x" prefix ("0x0003"); bare values are taken as decimal.
func ParseRegister(raw string) (uint64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty register value")
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse register value %q: %w", s, err)
	}
	return v, nil
}
