package monitor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sfpwatch/sfpwatch/pkg/config"
	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

// PollSource sweeps every port's presence attribute on a timerfd and
// reports the ports whose raw bit changed since the previous sweep. The
// first sweep reports every readable port.
type PollSource struct {
	interval time.Duration
	opts     Options

	fd   int
	last map[int]uint8
}

// NewPollSource returns a polling source.
func NewPollSource(c config.PollConfig, opts Options) *PollSource {
	interval := c.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &PollSource{
		interval: interval,
		opts:     opts.withDefaults(),
		fd:       -1,
	}
}

func (s *PollSource) Name() string { return config.SourcePoll }

func (s *PollSource) Open() error {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("timerfd create: %w", err)
	}
	spec := unix.ItimerSpec{
		// Fire almost at once for the baseline sweep.
		Value:    unix.NsecToTimespec(int64(time.Millisecond)),
		Interval: unix.NsecToTimespec(int64(s.interval)),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return fmt.Errorf("timerfd settime: %w", err)
	}
	s.fd = fd
	s.last = nil
	return nil
}

func (s *PollSource) Fd() int { return s.fd }

func (s *PollSource) Events() uint32 { return unix.EPOLLIN }

func (s *PollSource) Read() ([]xcvr.RawSignal, error) {
	var buf [8]byte
	if _, err := unix.Read(s.fd, buf[:]); err != nil && err != unix.EAGAIN {
		return nil, fmt.Errorf("timerfd read: %w", err)
	}

	sweep := readPresenceBits(s.opts.Registry.Ports(), "", s.opts, config.SourcePoll)

	first := s.last == nil
	if first {
		s.last = make(map[int]uint8, len(sweep))
	}
	var changed []xcvr.RawSignal
	for _, sig := range sweep {
		prev, seen := s.last[sig.Port]
		if !first && seen && prev == sig.Code {
			continue
		}
		s.last[sig.Port] = sig.Code
		changed = append(changed, sig)
	}
	return changed, nil
}

func (s *PollSource) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
