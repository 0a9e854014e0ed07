package monitor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/sfpwatch/sfpwatch/pkg/config"
	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

// DefaultTrapID is the SDK port module plug trap.
const DefaultTrapID uint16 = 0x0113

const (
	trapRecordHeader = 8
	trapRecordMax    = 64 * 1024

	trapRegister   uint16 = 1
	trapUnregister uint16 = 2
)

// TrapRecord is one module plug event as delivered by the SDK trap channel.
// All fields are little endian on the wire:
//
//	0 trap id (2)   2 port count N (2)
//	4 module id (1) 5 module state (1) 6 error type (1) 7 reserved (1)
//	8 N logical port ids (4 each)
type TrapRecord struct {
	TrapID    uint16
	ModuleID  uint8
	State     uint8
	ErrorType uint8
	Ports     []uint32
}

// ParseTrapRecord decodes one record. Trailing bytes past the port list are
// ignored.
func ParseTrapRecord(b []byte) (TrapRecord, error) {
	if len(b) < trapRecordHeader {
		return TrapRecord{}, fmt.Errorf("short trap record: %d bytes", len(b))
	}
	rec := TrapRecord{
		TrapID:    binary.LittleEndian.Uint16(b[0:2]),
		ModuleID:  b[4],
		State:     b[5],
		ErrorType: b[6],
	}
	n := int(binary.LittleEndian.Uint16(b[2:4]))
	if len(b) < trapRecordHeader+4*n {
		return TrapRecord{}, fmt.Errorf("trap record announces %d ports but carries %d bytes", n, len(b))
	}
	rec.Ports = make([]uint32, n)
	for i := range rec.Ports {
		off := trapRecordHeader + 4*i
		rec.Ports[i] = binary.LittleEndian.Uint32(b[off : off+4])
	}
	return rec, nil
}

// MarshalBinary encodes r in wire layout.
func (r TrapRecord) MarshalBinary() ([]byte, error) {
	if len(r.Ports) > 0xffff {
		return nil, fmt.Errorf("too many ports in trap record: %d", len(r.Ports))
	}
	b := make([]byte, trapRecordHeader+4*len(r.Ports))
	binary.LittleEndian.PutUint16(b[0:2], r.TrapID)
	binary.LittleEndian.PutUint16(b[2:4], uint16(len(r.Ports)))
	b[4] = r.ModuleID
	b[5] = r.State
	b[6] = r.ErrorType
	for i, p := range r.Ports {
		binary.LittleEndian.PutUint32(b[trapRecordHeader+4*i:], p)
	}
	return b, nil
}

// trapRequest is the registration message: trap id then operation.
func trapRequest(trapID, op uint16) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], trapID)
	binary.LittleEndian.PutUint16(b[2:4], op)
	return b
}

// SDKSource receives module plug traps from the vendor SDK over a
// SOCK_SEQPACKET unix socket.
type SDKSource struct {
	socket string
	trapID uint16
	opts   Options

	dial func() (int, error)
	fd   int
	buf  []byte
}

// NewSDKSource returns a source for the trap channel in c.
func NewSDKSource(c config.SDKConfig, opts Options) *SDKSource {
	s := &SDKSource{
		socket: c.Socket,
		trapID: c.TrapID,
		opts:   opts.withDefaults(),
		fd:     -1,
	}
	if s.trapID == 0 {
		s.trapID = DefaultTrapID
	}
	s.dial = s.dialSocket
	return s
}

func (s *SDKSource) dialSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: s.socket}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("connect %s: %w", s.socket, err)
	}
	return fd, nil
}

func (s *SDKSource) Name() string { return config.SourceSDK }

func (s *SDKSource) Open() error {
	fd, err := s.dial()
	if err != nil {
		return err
	}
	if _, err := unix.Write(fd, trapRequest(s.trapID, trapRegister)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("register trap 0x%04x: %w", s.trapID, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("set nonblocking: %w", err)
	}
	s.fd = fd
	s.opts.Logger.Debug("sdk trap channel registered", "socket", s.socket, "trap", fmt.Sprintf("0x%04x", s.trapID))
	return nil
}

func (s *SDKSource) Fd() int { return s.fd }

func (s *SDKSource) Events() uint32 { return unix.EPOLLIN }

// Read drains every queued trap record. Records for other traps and logical
// ports missing from the registry are logged and skipped.
func (s *SDKSource) Read() ([]xcvr.RawSignal, error) {
	if s.fd < 0 {
		return nil, ErrNotInitialized
	}
	if s.buf == nil {
		s.buf = make([]byte, trapRecordMax)
	}

	var signals []xcvr.RawSignal
	for {
		n, err := unix.Read(s.fd, s.buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return signals, nil
			}
			return signals, fmt.Errorf("read trap: %w", err)
		}
		if n == 0 {
			if len(signals) > 0 {
				return signals, nil
			}
			return nil, fmt.Errorf("sdk trap channel closed by peer")
		}

		rec, err := ParseTrapRecord(s.buf[:n])
		if err != nil {
			s.opts.Logger.Warn("dropping malformed trap record", "error", err)
			continue
		}
		if rec.TrapID != s.trapID {
			s.opts.Logger.Debug("ignoring unexpected trap", "trap", fmt.Sprintf("0x%04x", rec.TrapID))
			continue
		}
		for _, lp := range rec.Ports {
			p, ok := s.opts.Registry.BySDKPort(lp)
			if !ok {
				s.opts.Logger.Warn("trap for unknown logical port", "logicalPort", fmt.Sprintf("0x%x", lp))
				continue
			}
			signals = append(signals, xcvr.RawSignal{
				Port:      p.Index,
				Kind:      xcvr.RawModuleState,
				Code:      rec.State,
				ErrorType: rec.ErrorType,
			})
		}
	}
}

func (s *SDKSource) Close() error {
	if s.fd < 0 {
		return nil
	}
	if _, err := unix.Write(s.fd, trapRequest(s.trapID, trapUnregister)); err != nil {
		s.opts.Logger.Debug("failed to unregister trap", "error", err)
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
