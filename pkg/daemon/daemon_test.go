package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfpwatch/sfpwatch/pkg/config"
	"github.com/sfpwatch/sfpwatch/pkg/metrics"
	"github.com/sfpwatch/sfpwatch/pkg/monitor"
	"github.com/sfpwatch/sfpwatch/pkg/protocol"
	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeDetector hands out queued deltas and honors Interrupt.
type fakeDetector struct {
	initErr error
	deltas  chan map[int]xcvr.Status
	wake    chan struct{}

	mu      sync.Mutex
	deinits int
	closed  bool
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{
		deltas: make(chan map[int]xcvr.Status, 8),
		wake:   make(chan struct{}, 1),
	}
}

func (d *fakeDetector) Initialize() error { return d.initErr }

func (d *fakeDetector) Deinitialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deinits++
	d.closed = true
	return nil
}

func (d *fakeDetector) WaitForChange(timeoutMs int) (bool, map[int]xcvr.Status) {
	changes, err := d.NextChange(time.Duration(timeoutMs) * time.Millisecond)
	if err != nil {
		return false, map[int]xcvr.Status{}
	}
	return true, changes
}

func (d *fakeDetector) NextChange(timeout time.Duration) (map[int]xcvr.Status, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		timer = time.After(timeout)
	}
	select {
	case c := <-d.deltas:
		return c, nil
	case <-d.wake:
		return nil, monitor.ErrInterrupted
	case <-timer:
		return nil, nil
	}
}

func (d *fakeDetector) Interrupt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return monitor.ErrClosed
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

func (d *fakeDetector) deinitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deinits
}

func newTestDaemon(t *testing.T, det monitor.ChangeDetector) (*Daemon, string) {
	t.Helper()

	sock := filepath.Join(t.TempDir(), "sfpwatch.sock")
	cfg := config.DefaultConfig()
	cfg.Address = sock
	cfg.TimeoutMs = 100

	reg, err := xcvr.RangeRegistry(xcvr.BitLayout{BitWidth: 4, PortBase: 1})
	require.NoError(t, err)

	return newDaemon(cfg, reg, det, metrics.New(), quiet), sock
}

func runDaemon(t *testing.T, d *Daemon, sock string) {
	t.Helper()

	errc := make(chan error, 1)
	go func() { errc <- d.Run() }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "daemon socket never came up")

	t.Cleanup(func() {
		d.Stop()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("daemon did not stop")
		}
	})
}

func call(t *testing.T, sock string, typ protocol.CommandType, payload interface{}) *protocol.Response {
	t.Helper()

	req, err := protocol.NewRequest("test-id", typ, payload)
	require.NoError(t, err)
	data, err := json.Marshal(req)
	require.NoError(t, err)

	return sendLine(t, sock, append(data, '\n'))
}

func sendLine(t *testing.T, sock string, line []byte) *protocol.Response {
	t.Helper()

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(line)
	require.NoError(t, err)

	reply, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	resp, err := protocol.ParseResponse(reply)
	require.NoError(t, err)
	return resp
}

func TestDaemonStatus(t *testing.T) {
	d, sock := newTestDaemon(t, newFakeDetector())
	runDaemon(t, d, sock)

	resp := call(t, sock, protocol.CommandStatus, nil)
	assert.Equal(t, "test-id", resp.ID)

	var status protocol.StatusResponse
	require.NoError(t, resp.Decode(&status))
	assert.Equal(t, config.SourceNetlink, status.Source)
	assert.Equal(t, 4, status.Ports)
	assert.Equal(t, 4, status.Counts["UNKNOWN"])
}

func TestDaemonTracksChanges(t *testing.T) {
	det := newFakeDetector()
	d, sock := newTestDaemon(t, det)
	runDaemon(t, d, sock)

	det.deltas <- map[int]xcvr.Status{2: xcvr.StatusPresent}

	require.Eventually(t, func() bool {
		var info protocol.PortInfo
		if err := call(t, sock, protocol.CommandGet, protocol.GetRequest{Port: 2}).Decode(&info); err != nil {
			return false
		}
		return info.Known && info.Status == "1"
	}, 2*time.Second, 20*time.Millisecond)

	var list protocol.ListResponse
	require.NoError(t, call(t, sock, protocol.CommandList, nil).Decode(&list))
	require.Len(t, list.Ports, 4)
	assert.Equal(t, "-1", list.Ports[0].Status)
	assert.Equal(t, "PRESENT", list.Ports[1].StatusName)
	assert.Equal(t, 1, list.Ports[1].Changes)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		d.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		return strings.Contains(rec.Body.String(), `sfpwatch_transceiver_events_total{status="PRESENT"} 1`)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDaemonErrors(t *testing.T) {
	d, sock := newTestDaemon(t, newFakeDetector())
	runDaemon(t, d, sock)

	tests := []struct {
		name    string
		line    string
		wantErr string
	}{
		{"unknown port", `{"id":"1","type":"get","payload":{"port":99}}`, "unknown port: 99"},
		{"bad payload", `{"id":"2","type":"get","payload":"x"}`, "invalid payload"},
		{"unknown command", `{"id":"3","type":"reboot"}`, "unknown command type: reboot"},
		{"malformed", `{nope`, "invalid request format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := sendLine(t, sock, []byte(tt.line+"\n"))
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tt.wantErr)
		})
	}
}

func TestDaemonInitFailure(t *testing.T) {
	det := newFakeDetector()
	det.initErr = monitor.ErrInitFailed
	d, sock := newTestDaemon(t, det)

	err := d.Run()
	assert.True(t, errors.Is(err, monitor.ErrInitFailed))

	_, statErr := os.Stat(sock)
	assert.True(t, os.IsNotExist(statErr), "socket must not exist after a failed start")
}

func TestDaemonShutdownReleasesDetector(t *testing.T) {
	det := newFakeDetector()
	d, sock := newTestDaemon(t, det)

	errc := make(chan error, 1)
	go func() { errc <- d.Run() }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	d.Stop()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop")
	}

	assert.Equal(t, 1, det.deinitCount())
	_, err := os.Stat(sock)
	assert.True(t, os.IsNotExist(err), "socket removed on shutdown")
}

func TestDaemonStartFollowsParentContext(t *testing.T) {
	det := newFakeDetector()
	d, sock := newTestDaemon(t, det)
	own := d.ctx

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon ignored the parent context")
	}

	assert.Equal(t, own, d.ctx, "Start keeps the daemon's own context")
	assert.ErrorIs(t, own.Err(), context.Canceled)
	assert.Equal(t, 1, det.deinitCount())
}
