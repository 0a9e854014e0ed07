package monitor

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/warthog618/gpiod"
	"golang.org/x/sys/unix"

	"github.com/sfpwatch/sfpwatch/pkg/config"
	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// GPIOSource watches the CPLD interrupt line of a gpiochip. Edges are
// forwarded from the gpiod event handler to an eventfd the detector waits
// on; the pending ports are then resolved like InterruptSource does.
type GPIOSource struct {
	statusReader
	chip string
	line int

	request func(handler gpiod.EventHandler) (io.Closer, error)
	handle  io.Closer
	efd     int
}

// NewGPIOSource returns a source for the line in c.
func NewGPIOSource(c config.GPIOConfig, opts Options) *GPIOSource {
	opts = opts.withDefaults()
	s := &GPIOSource{
		statusReader: statusReader{
			name:     config.SourceGPIO,
			status:   c.Status,
			presence: c.Presence,
			opts:     opts,
		},
		chip: c.Chip,
		line: c.Line,
		efd:  -1,
	}
	s.request = s.requestLine
	return s
}

func (s *GPIOSource) requestLine(handler gpiod.EventHandler) (io.Closer, error) {
	chip, err := gpiod.NewChip(s.chip)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.chip, err)
	}
	line, err := chip.RequestLine(s.line,
		gpiod.WithEventHandler(handler),
		gpiod.WithBothEdges,
		gpiod.AsInput)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request line %d on %s: %w", s.line, s.chip, err)
	}
	return closerFunc(func() error {
		line.Close()
		return chip.Close()
	}), nil
}

func (s *GPIOSource) Name() string { return config.SourceGPIO }

func (s *GPIOSource) Open() error {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("eventfd: %w", err)
	}

	handle, err := s.request(func(evt gpiod.LineEvent) {
		s.opts.Logger.Debug("interrupt line edge", "line", evt.Offset, "type", evt.Type)
		var buf [8]byte
		binary.NativeEndian.PutUint64(buf[:], 1)
		unix.Write(efd, buf[:])
	})
	if err != nil {
		unix.Close(efd)
		return err
	}

	s.efd = efd
	s.handle = handle
	return nil
}

func (s *GPIOSource) Fd() int { return s.efd }

func (s *GPIOSource) Events() uint32 { return unix.EPOLLIN }

func (s *GPIOSource) Read() ([]xcvr.RawSignal, error) {
	drainEventfd(s.efd)
	return s.pending()
}

func (s *GPIOSource) Close() error {
	var err error
	if s.handle != nil {
		err = s.handle.Close()
		s.handle = nil
	}
	if s.efd >= 0 {
		if cerr := unix.Close(s.efd); err == nil {
			err = cerr
		}
		s.efd = -1
	}
	return err
}
