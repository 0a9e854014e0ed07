package monitor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/sfpwatch/sfpwatch/pkg/config"
	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

// statusReader resolves an interrupt into presence signals: the interrupt
// status register names the pending ports, then their presence is read.
type statusReader struct {
	name     string
	status   string
	presence string
	opts     Options
}

func (r *statusReader) pending() ([]xcvr.RawSignal, error) {
	raw, err := readAttribute(r.status, r.opts, r.name)
	if err != nil {
		return nil, err
	}
	mask, err := xcvr.ParseRegister(raw)
	if err != nil {
		return nil, err
	}
	if mask == 0 {
		return nil, nil
	}

	var ports []xcvr.Port
	for _, bit := range r.opts.Layout.SetBits(mask) {
		p, ok := r.opts.Registry.ByBit(bit)
		if !ok {
			r.opts.Logger.Warn("interrupt for unmapped register bit", "bit", bit, "mask", fmt.Sprintf("0x%x", mask))
			continue
		}
		ports = append(ports, p)
	}
	r.opts.Logger.Debug("interrupt status", "source", r.name, "mask", fmt.Sprintf("0x%x", mask), "ports", len(ports))

	return readPresenceBits(ports, r.presence, r.opts, r.name), nil
}

// InterruptSource waits on an interrupt-backed sysfs attribute with
// edge-triggered epoll.
type InterruptSource struct {
	statusReader
	attribute string
	fd        int
}

// NewInterruptSource returns a source for the attribute and status register
// in c.
func NewInterruptSource(c config.InterruptConfig, opts Options) *InterruptSource {
	opts = opts.withDefaults()
	return &InterruptSource{
		statusReader: statusReader{
			name:     config.SourceInterrupt,
			status:   c.Status,
			presence: c.Presence,
			opts:     opts,
		},
		attribute: c.Attribute,
		fd:        -1,
	}
}

func (s *InterruptSource) Name() string { return config.SourceInterrupt }

func (s *InterruptSource) Open() error {
	fd, err := unix.Open(s.attribute, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.attribute, err)
	}
	s.fd = fd
	// The first read arms sysfs notification.
	s.rearm()
	return nil
}

func (s *InterruptSource) Fd() int { return s.fd }

func (s *InterruptSource) Events() uint32 {
	return unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLERR | unix.EPOLLET
}

func (s *InterruptSource) Read() ([]xcvr.RawSignal, error) {
	s.rearm()
	return s.pending()
}

// rearm rewinds and drains the attribute so the next change notifies again.
func (s *InterruptSource) rearm() {
	if _, err := unix.Seek(s.fd, 0, 0); err != nil && !errors.Is(err, unix.ESPIPE) {
		s.opts.Logger.Debug("failed to rewind interrupt attribute", "error", err)
	}
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(s.fd, buf)
		if n <= 0 || err != nil {
			return
		}
	}
}

func (s *InterruptSource) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
