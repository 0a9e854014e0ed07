package monitor

import (
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/pilebones/go-udev/netlink"
	"golang.org/x/sys/unix"
	"k8s.io/utils/lru"

	"github.com/sfpwatch/sfpwatch/pkg/config"
	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

// seqnumCacheSize is how many recent uevent SEQNUMs are remembered.
const seqnumCacheSize = 100

// NetlinkSource reads kernel kobject uevents emitted by the transceiver
// driver. The port comes from the trailing digits of DEVPATH.
type NetlinkSource struct {
	subsystem string
	offset    int
	opts      Options

	connect func() (*netlink.UEventConn, error)
	conn    *netlink.UEventConn
	seen    *lru.Cache
}

// NewNetlinkSource returns a source listening for uevents of c.Subsystem.
func NewNetlinkSource(c config.NetlinkConfig, opts Options) *NetlinkSource {
	return &NetlinkSource{
		subsystem: c.Subsystem,
		offset:    c.IndexOffset,
		opts:      opts.withDefaults(),
		connect:   connectKernelUEvents,
		seen:      lru.New(seqnumCacheSize),
	}
}

func connectKernelUEvents() (*netlink.UEventConn, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.KernelEvent); err != nil {
		return nil, fmt.Errorf("netlink connect: %w", err)
	}
	return conn, nil
}

func (s *NetlinkSource) Name() string { return config.SourceNetlink }

func (s *NetlinkSource) Open() error {
	conn, err := s.connect()
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(conn.Fd, true); err != nil {
		conn.Close()
		return fmt.Errorf("set nonblocking: %w", err)
	}
	s.conn = conn
	s.opts.Logger.Debug("netlink uevent socket open", "subsystem", s.subsystem, "fd", conn.Fd)
	return nil
}

func (s *NetlinkSource) Fd() int {
	if s.conn == nil {
		return -1
	}
	return s.conn.Fd
}

func (s *NetlinkSource) Events() uint32 { return unix.EPOLLIN }

// Read drains every queued uevent.
func (s *NetlinkSource) Read() ([]xcvr.RawSignal, error) {
	if s.conn == nil {
		return nil, ErrNotInitialized
	}

	var signals []xcvr.RawSignal
	for {
		msg, err := s.conn.ReadMsg()
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return signals, nil
			}
			return signals, fmt.Errorf("read uevent: %w", err)
		}
		if sig, ok := s.parse(msg); ok {
			signals = append(signals, sig)
		}
	}
}

func (s *NetlinkSource) parse(msg []byte) (xcvr.RawSignal, bool) {
	ev, err := netlink.ParseUEvent(msg)
	if err != nil {
		s.opts.Logger.Debug("ignoring malformed uevent", "error", err)
		return xcvr.RawSignal{}, false
	}
	if ev.Env["SUBSYSTEM"] != s.subsystem {
		return xcvr.RawSignal{}, false
	}

	if seq := ev.Env["SEQNUM"]; seq != "" {
		if _, dup := s.seen.Get(seq); dup {
			s.opts.Logger.Debug("dropping replayed uevent", "seqnum", seq)
			return xcvr.RawSignal{}, false
		}
		s.seen.Add(seq, struct{}{})
	}

	devpath := ev.Env["DEVPATH"]
	if devpath == "" {
		devpath = ev.KObj
	}
	n, ok := trailingNumber(path.Base(devpath))
	if !ok {
		s.opts.Logger.Warn("uevent devpath carries no port number", "devpath", devpath)
		return xcvr.RawSignal{}, false
	}
	port := n + s.offset
	if s.opts.Registry != nil && !s.opts.Registry.Contains(port) {
		s.opts.Logger.Warn("uevent for unknown port", "port", port, "devpath", devpath)
		return xcvr.RawSignal{}, false
	}

	return xcvr.RawSignal{
		Port:   port,
		Kind:   xcvr.RawUEventAction,
		Action: string(ev.Action),
	}, true
}

func (s *NetlinkSource) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// trailingNumber parses the decimal suffix of name, "port12" -> 12.
func trailingNumber(name string) (int, bool) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) {
		return 0, false
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return 0, false
	}
	return n, true
}
