package monitor

import (
	"time"

	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

// Source is one origin of transceiver change notifications. A Detector owns
// it: Open once, Read each time Fd becomes ready, Close on teardown.
type Source interface {
	Name() string
	Open() error
	// Fd is the descriptor the detector waits on. Valid after Open.
	Fd() int
	// Events is the epoll interest mask for Fd.
	Events() uint32
	// Read drains the pending batch. An empty batch is not an error.
	Read() ([]xcvr.RawSignal, error)
	Close() error
}

// ChangeDetector waits for transceiver changes and reports them as a delta
// keyed by port index. It never applies the delta anywhere itself.
type ChangeDetector interface {
	Initialize() error
	Deinitialize() error
	WaitForChange(timeoutMs int) (bool, map[int]xcvr.Status)
	NextChange(timeout time.Duration) (map[int]xcvr.Status, error)
	Interrupt() error
}
