package monitor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfpwatch/sfpwatch/pkg/config"
	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

func TestPollSourceReportsChangedPorts(t *testing.T) {
	dir := t.TempDir()
	paths := map[int]string{
		1: filepath.Join(dir, "port1"),
		2: filepath.Join(dir, "port2"),
		3: filepath.Join(dir, "port3"),
	}
	writeFile(t, paths[1], "1\n")
	writeFile(t, paths[2], "0\n")
	writeFile(t, paths[3], "1\n")

	var ports []xcvr.Port
	for idx, p := range paths {
		ports = append(ports, xcvr.Port{Index: idx, Bit: -1, PresencePath: p})
	}
	reg, err := xcvr.NewRegistry(ports)
	require.NoError(t, err)

	layout := xcvr.BitLayout{ActiveLow: false, BitWidth: 8, PortBase: 1}
	opts := testOptions(reg, layout)
	src := NewPollSource(config.PollConfig{Interval: 50 * time.Millisecond}, opts)
	d := initDetector(t, src, opts)

	// First sweep is the baseline and reports every port.
	ok, changes := d.WaitForChange(1000)
	require.True(t, ok)
	assert.Equal(t, map[int]xcvr.Status{
		1: xcvr.StatusPresent,
		2: xcvr.StatusAbsent,
		3: xcvr.StatusPresent,
	}, changes)

	// Nothing changed: the timeout is honored to within a sweep.
	start := time.Now()
	ok, changes = d.WaitForChange(200)
	assert.True(t, ok)
	assert.Empty(t, changes)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	writeFile(t, paths[2], "1\n")
	ok, changes = d.WaitForChange(1000)
	require.True(t, ok)
	assert.Equal(t, map[int]xcvr.Status{2: xcvr.StatusPresent}, changes)
}

func TestPollSourceSkipsUnreadablePort(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "port1")
	writeFile(t, present, "0\n")

	reg, err := xcvr.NewRegistry([]xcvr.Port{
		{Index: 1, Bit: -1, PresencePath: present},
		{Index: 2, Bit: -1, PresencePath: filepath.Join(dir, "missing")},
	})
	require.NoError(t, err)

	layout := xcvr.BitLayout{ActiveLow: true, BitWidth: 8, PortBase: 1}
	opts := testOptions(reg, layout)
	d := initDetector(t, NewPollSource(config.PollConfig{Interval: 50 * time.Millisecond}, opts), opts)

	ok, changes := d.WaitForChange(1000)
	require.True(t, ok)
	assert.Equal(t, map[int]xcvr.Status{1: xcvr.StatusPresent}, changes)
}
