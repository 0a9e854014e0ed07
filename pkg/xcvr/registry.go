package xcvr

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownPort is returned for a port index that is not in the registry.
var ErrUnknownPort = errors.New("unknown port")

// Port is one transceiver cage as described by the platform mapping table.
type Port struct {
	Index int
	// Bit is the position of this port in the interrupt/presence registers,
	// negative when the port has no register bit.
	Bit int
	// PresencePath is the sysfs attribute holding this port's presence bit.
	PresencePath string
	// SDKPort is the vendor SDK logical port id, 0 when unused.
	SDKPort uint32
	Name    string
}

// Registry is the immutable set of known ports.
type Registry struct {
	ports   []Port
	byIndex map[int]int
	byBit   map[int]int
	bySDK   map[uint32]int
}

// NewRegistry builds a registry from the platform mapping table. Indices,
// bits and SDK ids must be unique.
func NewRegistry(ports []Port) (*Registry, error) {
	r := &Registry{
		ports:   make([]Port, 0, len(ports)),
		byIndex: make(map[int]int, len(ports)),
		byBit:   make(map[int]int, len(ports)),
		bySDK:   make(map[uint32]int, len(ports)),
	}

	sorted := append([]Port(nil), ports...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	for _, p := range sorted {
		if _, dup := r.byIndex[p.Index]; dup {
			return nil, fmt.Errorf("duplicate port index %d", p.Index)
		}
		if _, dup := r.byBit[p.Bit]; dup && p.Bit >= 0 {
			return nil, fmt.Errorf("duplicate register bit %d (port %d)", p.Bit, p.Index)
		}
		if p.SDKPort != 0 {
			if _, dup := r.bySDK[p.SDKPort]; dup {
				return nil, fmt.Errorf("duplicate sdk port 0x%x (port %d)", p.SDKPort, p.Index)
			}
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("port%d", p.Index)
		}

		pos := len(r.ports)
		r.ports = append(r.ports, p)
		r.byIndex[p.Index] = pos
		if p.Bit >= 0 {
			r.byBit[p.Bit] = pos
		}
		if p.SDKPort != 0 {
			r.bySDK[p.SDKPort] = pos
		}
	}

	return r, nil
}

// RangeRegistry synthesizes one port per layout bit, PortBase..PortBase+BitWidth-1.
func RangeRegistry(l BitLayout) (*Registry, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	ports := make([]Port, 0, l.BitWidth)
	for bit := 0; bit < l.BitWidth; bit++ {
		ports = append(ports, Port{Index: l.PortBase + bit, Bit: bit})
	}
	return NewRegistry(ports)
}

// Ports returns the ports ordered by index.
func (r *Registry) Ports() []Port {
	return append([]Port(nil), r.ports...)
}

// Len returns the number of ports.
func (r *Registry) Len() int {
	return len(r.ports)
}

// Contains reports whether index is a known port.
func (r *Registry) Contains(index int) bool {
	_, ok := r.byIndex[index]
	return ok
}

// ByIndex looks a port up by its logical index.
func (r *Registry) ByIndex(index int) (Port, error) {
	pos, ok := r.byIndex[index]
	if !ok {
		return Port{}, fmt.Errorf("%w: %d", ErrUnknownPort, index)
	}
	return r.ports[pos], nil
}

// ByBit looks a port up by its register bit position.
func (r *Registry) ByBit(bit int) (Port, bool) {
	pos, ok := r.byBit[bit]
	if !ok {
		return Port{}, false
	}
	return r.ports[pos], true
}

// BySDKPort looks a port up by its vendor SDK logical port id.
func (r *Registry) BySDKPort(id uint32) (Port, bool) {
	pos, ok := r.bySDK[id]
	if !ok {
		return Port{}, false
	}
	return r.ports[pos], true
}
