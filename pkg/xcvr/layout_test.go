package xcvr

import (
	"errors"
	"reflect"
	"testing"
)

func TestBitLayoutSetBits(t *testing.T) {
	tests := []struct {
		name   string
		layout BitLayout
		mask   uint64
		want   []int
	}{
		{
			name:   "two pending bits",
			layout: BitLayout{BitWidth: 8, PortBase: 49},
			mask:   0x05,
			want:   []int{0, 2},
		},
		{
			name:   "bits beyond width ignored",
			layout: BitLayout{BitWidth: 4, PortBase: 0},
			mask:   0xF3,
			want:   []int{0, 1},
		},
		{
			name:   "empty mask",
			layout: BitLayout{BitWidth: 16, PortBase: 1},
			mask:   0,
			want:   nil,
		},
		{
			name:   "full 64 bit register",
			layout: BitLayout{BitWidth: 64, PortBase: 1},
			mask:   1 << 63,
			want:   []int{63},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.layout.SetBits(tt.mask)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SetBits(0x%x) = %v, want %v", tt.mask, got, tt.want)
			}
		})
	}
}

func TestBitLayoutRegisterBit(t *testing.T) {
	l := BitLayout{BitWidth: 8, PortBase: 49, ActiveLow: true}

	if b, ok := l.RegisterBit(0x04, 2); !ok || b != 1 {
		t.Errorf("RegisterBit(0x04, 2) = (%d, %v), want (1, true)", b, ok)
	}
	if b, ok := l.RegisterBit(0x04, 1); !ok || b != 0 {
		t.Errorf("RegisterBit(0x04, 1) = (%d, %v), want (0, true)", b, ok)
	}
	if _, ok := l.RegisterBit(0xFF, -1); ok {
		t.Error("RegisterBit() accepted a negative bit")
	}
	if _, ok := l.RegisterBit(0xFF, 8); ok {
		t.Error("RegisterBit() accepted a bit beyond the width")
	}
}

func TestBitLayoutValidate(t *testing.T) {
	for _, w := range []int{0, -1, 65} {
		if err := (BitLayout{BitWidth: w}).Validate(); err == nil {
			t.Errorf("Validate() accepted bit width %d", w)
		}
	}
	if err := (BitLayout{BitWidth: 32}).Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestParseRegister(t *testing.T) {
	tests := []struct {
		raw     string
		want    uint64
		wantErr bool
	}{
		{"0x0003\n", 3, false},
		{"0x05", 5, false},
		{"1\n", 1, false},
		{"  0\n", 0, false},
		{"", 0, true},
		{"zz", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRegister(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRegister(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRegister(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry([]Port{
		{Index: 2, Bit: 1, SDKPort: 0x10200},
		{Index: 1, Bit: 0, SDKPort: 0x10100, Name: "Ethernet0"},
		{Index: 3, Bit: -1},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	ports := r.Ports()
	if len(ports) != 3 || ports[0].Index != 1 || ports[2].Index != 3 {
		t.Errorf("Ports() not ordered by index: %+v", ports)
	}
	if ports[1].Name != "port2" {
		t.Errorf("default name = %q, want port2", ports[1].Name)
	}
	if p, ok := r.ByBit(1); !ok || p.Index != 2 {
		t.Errorf("ByBit(1) = (%+v, %v)", p, ok)
	}
	if p, ok := r.BySDKPort(0x10100); !ok || p.Name != "Ethernet0" {
		t.Errorf("BySDKPort() = (%+v, %v)", p, ok)
	}
	if _, err := r.ByIndex(9); !errors.Is(err, ErrUnknownPort) {
		t.Errorf("ByIndex(9) error = %v, want ErrUnknownPort", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	tests := []struct {
		name  string
		ports []Port
	}{
		{"index", []Port{{Index: 1, Bit: 0}, {Index: 1, Bit: 1}}},
		{"bit", []Port{{Index: 1, Bit: 0}, {Index: 2, Bit: 0}}},
		{"sdk port", []Port{{Index: 1, Bit: -1, SDKPort: 7}, {Index: 2, Bit: -1, SDKPort: 7}}},
	}
	for _, tt := range tests {
		if _, err := NewRegistry(tt.ports); err == nil {
			t.Errorf("NewRegistry() accepted duplicate %s", tt.name)
		}
	}
}

func TestRangeRegistry(t *testing.T) {
	r, err := RangeRegistry(BitLayout{BitWidth: 8, PortBase: 49})
	if err != nil {
		t.Fatalf("RangeRegistry() error = %v", err)
	}
	if r.Len() != 8 {
		t.Errorf("Len() = %d, want 8", r.Len())
	}
	if p, ok := r.ByBit(2); !ok || p.Index != 51 {
		t.Errorf("ByBit(2) = (%+v, %v), want port 51", p, ok)
	}
}
