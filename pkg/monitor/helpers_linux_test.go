package monitor

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

func testOptions(reg *xcvr.Registry, layout xcvr.BitLayout) Options {
	return Options{
		Registry: reg,
		Layout:   layout,
		Retry: Retry{
			Attempts:     1,
			Interval:     time.Millisecond,
			ReadAttempts: 2,
			ReadInterval: time.Millisecond,
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// syncBuffer is a bytes.Buffer safe to log into from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type countingRecorder struct {
	mu                          sync.Mutex
	retries, waitErrs, filtered int
}

func (r *countingRecorder) ReadRetry(string) { r.mu.Lock(); r.retries++; r.mu.Unlock() }
func (r *countingRecorder) WaitError(string) { r.mu.Lock(); r.waitErrs++; r.mu.Unlock() }
func (r *countingRecorder) Filtered(string)  { r.mu.Lock(); r.filtered++; r.mu.Unlock() }

func (r *countingRecorder) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries, r.waitErrs, r.filtered
}

// pipeSource is a Source backed by a pipe: push queues a batch and makes
// the read end ready.
type pipeSource struct {
	openErr error
	badFd   bool

	mu     sync.Mutex
	r, w   int
	queue  []xcvr.RawSignal
	opens  int
	reads  int
	closes int
}

func newPipeSource() *pipeSource {
	return &pipeSource{r: -1, w: -1}
}

func (s *pipeSource) Name() string { return "pipe" }

func (s *pipeSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return s.openErr
	}
	p := make([]int, 2)
	if err := unix.Pipe2(p, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return err
	}
	s.r, s.w = p[0], p[1]
	return nil
}

func (s *pipeSource) Fd() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.badFd {
		return -1
	}
	return s.r
}

func (s *pipeSource) Events() uint32 { return unix.EPOLLIN }

func (s *pipeSource) push(sigs ...xcvr.RawSignal) {
	s.mu.Lock()
	s.queue = append(s.queue, sigs...)
	w := s.w
	s.mu.Unlock()
	unix.Write(w, []byte{1})
}

func (s *pipeSource) Read() ([]xcvr.RawSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	buf := make([]byte, 64)
	for {
		if n, err := unix.Read(s.r, buf); n <= 0 || err != nil {
			break
		}
	}
	out := s.queue
	s.queue = nil
	return out, nil
}

func (s *pipeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.r >= 0 {
		unix.Close(s.r)
		unix.Close(s.w)
		s.r, s.w = -1, -1
	}
	return nil
}

func (s *pipeSource) stats() (opens, reads, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.reads, s.closes
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// makeFifo creates a FIFO standing in for an interrupt attribute.
func makeFifo(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "interrupt")
	require.NoError(t, unix.Mkfifo(path, 0o600))
	return path
}

// openFifoWriter must run after the reader is open, or the open fails.
func openFifoWriter(t *testing.T, path string) int {
	t.Helper()
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func initDetector(t *testing.T, src Source, opts Options) *Detector {
	t.Helper()
	d := NewDetector(src, opts)
	require.NoError(t, d.Initialize())
	t.Cleanup(func() { d.Deinitialize() })
	return d
}
