package monitor

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warthog618/gpiod"
	"golang.org/x/sys/unix"

	"github.com/sfpwatch/sfpwatch/pkg/config"
	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

var qsfpBank = xcvr.BitLayout{ActiveLow: true, BitWidth: 8, PortBase: 49}

type interruptFixture struct {
	dir      string
	status   string
	presence string
}

func newInterruptFixture(t *testing.T) *interruptFixture {
	t.Helper()
	dir := t.TempDir()
	f := &interruptFixture{
		dir:      dir,
		status:   filepath.Join(dir, "interrupt_status"),
		presence: filepath.Join(dir, "present"),
	}
	writeFile(t, f.status, "0x00\n")
	writeFile(t, f.presence, "0xff\n")
	return f
}

func TestInterruptPendingPorts(t *testing.T) {
	f := newInterruptFixture(t)
	attr := makeFifo(t, f.dir)

	reg, err := xcvr.RangeRegistry(qsfpBank)
	require.NoError(t, err)

	src := NewInterruptSource(config.InterruptConfig{
		Attribute: attr,
		Status:    f.status,
		Presence:  f.presence,
	}, testOptions(reg, qsfpBank))
	d := initDetector(t, src, testOptions(reg, qsfpBank))
	w := openFifoWriter(t, attr)

	// Bits 0 and 2 pending; port 49 inserted (active low 0), port 51 out.
	writeFile(t, f.status, "0x05\n")
	writeFile(t, f.presence, "0xfe\n")
	_, err = unix.Write(w, []byte("1\n"))
	require.NoError(t, err)

	ok, changes := d.WaitForChange(1000)
	require.True(t, ok)
	assert.Equal(t, map[int]xcvr.Status{
		49: xcvr.StatusPresent,
		51: xcvr.StatusAbsent,
	}, changes)
}

func TestInterruptPerPortPresence(t *testing.T) {
	f := newInterruptFixture(t)
	attr := makeFifo(t, f.dir)

	p1 := filepath.Join(f.dir, "port1_present")
	p2 := filepath.Join(f.dir, "port2_present")
	writeFile(t, p1, "1\n")
	writeFile(t, p2, "0\n")

	layout := xcvr.BitLayout{ActiveLow: false, BitWidth: 2, PortBase: 1}
	reg, err := xcvr.NewRegistry([]xcvr.Port{
		{Index: 1, Bit: 0, PresencePath: p1},
		{Index: 2, Bit: 1, PresencePath: p2},
	})
	require.NoError(t, err)

	src := NewInterruptSource(config.InterruptConfig{Attribute: attr, Status: f.status}, testOptions(reg, layout))
	d := initDetector(t, src, testOptions(reg, layout))
	w := openFifoWriter(t, attr)

	writeFile(t, f.status, "0x2")
	_, err = unix.Write(w, []byte("1"))
	require.NoError(t, err)

	ok, changes := d.WaitForChange(1000)
	require.True(t, ok)
	assert.Equal(t, map[int]xcvr.Status{2: xcvr.StatusAbsent}, changes)
}

func TestReadPresenceBitsFromRegister(t *testing.T) {
	f := newInterruptFixture(t)
	writeFile(t, f.presence, "0x2\n")

	layout := xcvr.BitLayout{BitWidth: 4, PortBase: 1}
	ports := []xcvr.Port{
		{Index: 1, Bit: 0},
		{Index: 2, Bit: 1},
		{Index: 7, Bit: 6},
	}

	signals := readPresenceBits(ports, f.presence, testOptions(nil, layout), config.SourceInterrupt)
	assert.Equal(t, []xcvr.RawSignal{
		{Port: 1, Kind: xcvr.RawPresenceBit, Code: 0},
		{Port: 2, Kind: xcvr.RawPresenceBit, Code: 1},
	}, signals, "a bit outside the layout is skipped")
}

func TestInterruptEmptyStatusIsNoChange(t *testing.T) {
	f := newInterruptFixture(t)
	attr := makeFifo(t, f.dir)

	reg, err := xcvr.RangeRegistry(qsfpBank)
	require.NoError(t, err)

	src := NewInterruptSource(config.InterruptConfig{
		Attribute: attr,
		Status:    f.status,
		Presence:  f.presence,
	}, testOptions(reg, qsfpBank))
	d := initDetector(t, src, testOptions(reg, qsfpBank))
	w := openFifoWriter(t, attr)

	_, err = unix.Write(w, []byte("1"))
	require.NoError(t, err)

	ok, changes := d.WaitForChange(200)
	assert.True(t, ok)
	assert.Empty(t, changes)
}

func TestInterruptUnreadableStatusIsNoChange(t *testing.T) {
	f := newInterruptFixture(t)
	attr := makeFifo(t, f.dir)

	reg, err := xcvr.RangeRegistry(qsfpBank)
	require.NoError(t, err)

	rec := &countingRecorder{}
	opts := testOptions(reg, qsfpBank)
	opts.Recorder = rec

	src := NewInterruptSource(config.InterruptConfig{
		Attribute: attr,
		Status:    filepath.Join(f.dir, "missing"),
		Presence:  f.presence,
	}, opts)
	d := initDetector(t, src, opts)
	w := openFifoWriter(t, attr)

	_, err = unix.Write(w, []byte("1"))
	require.NoError(t, err)

	ok, changes := d.WaitForChange(200)
	assert.True(t, ok)
	assert.Empty(t, changes)

	retries, _, _ := rec.counts()
	assert.Equal(t, opts.Retry.ReadAttempts-1, retries)
}

func TestGPIOLineEdge(t *testing.T) {
	f := newInterruptFixture(t)

	reg, err := xcvr.RangeRegistry(qsfpBank)
	require.NoError(t, err)

	src := NewGPIOSource(config.GPIOConfig{
		Chip:     "gpiochip0",
		Line:     17,
		Status:   f.status,
		Presence: f.presence,
	}, testOptions(reg, qsfpBank))

	var handler gpiod.EventHandler
	released := false
	src.request = func(h gpiod.EventHandler) (io.Closer, error) {
		handler = h
		return closerFunc(func() error { released = true; return nil }), nil
	}

	d := NewDetector(src, testOptions(reg, qsfpBank))
	require.NoError(t, d.Initialize())
	require.NotNil(t, handler)

	writeFile(t, f.status, "0x80")
	writeFile(t, f.presence, "0x7f")
	go handler(gpiod.LineEvent{Offset: 17, Type: gpiod.LineEventFallingEdge})

	ok, changes := d.WaitForChange(1000)
	require.True(t, ok)
	assert.Equal(t, map[int]xcvr.Status{56: xcvr.StatusPresent}, changes)

	require.NoError(t, d.Deinitialize())
	assert.True(t, released)
}
