package monitor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sfpwatch/sfpwatch/internal/logger"
	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

// Detector waits on a Source with epoll and turns what it reads into a
// port to status delta. WaitForChange and NextChange must be called from a
// single goroutine; Interrupt may be called from any.
type Detector struct {
	source  Source
	decoder *xcvr.Decoder
	opts    Options

	mu          sync.Mutex
	epfd        int
	wakefd      int
	srcfd       int
	initialized bool
	closing     bool
	closed      bool

	// waiters counts NextChange calls holding the descriptors.
	waiters sync.WaitGroup
}

var _ ChangeDetector = (*Detector)(nil)

// NewDetector returns a detector for source. Nothing is opened until
// Initialize.
func NewDetector(source Source, opts Options) *Detector {
	opts = opts.withDefaults()
	return &Detector{
		source:  source,
		decoder: xcvr.NewDecoder(opts.Layout.ActiveLow, opts.Logger),
		opts:    opts,
		epfd:    -1,
		wakefd:  -1,
		srcfd:   -1,
	}
}

// Source returns the wrapped source.
func (d *Detector) Source() Source {
	return d.source
}

// Initialize opens the source, retrying per the open policy, and builds the
// epoll set. On failure everything acquired so far is released.
func (d *Detector) Initialize() (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	log := d.opts.Logger.With("source", d.source.Name())

	attempt := 0
	err = d.opts.Retry.open(func() error {
		attempt++
		return d.source.Open()
	}, func(err error, wait time.Duration) {
		log.Warn("failed to open event source, retrying", "attempt", attempt, "error", err, "wait", wait)
	})
	if err != nil {
		logger.Critical(log, "event source unavailable", "attempts", attempt, "error", err)
		return fmt.Errorf("%w: open %s source: %w", ErrInitFailed, d.source.Name(), err)
	}

	epfd, wakefd := -1, -1
	defer func() {
		if err == nil {
			return
		}
		if wakefd >= 0 {
			unix.Close(wakefd)
		}
		if epfd >= 0 {
			unix.Close(epfd)
		}
		if cerr := d.source.Close(); cerr != nil {
			log.Debug("error closing source after failed initialization", "error", cerr)
		}
	}()

	epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("%w: epoll create: %w", ErrInitFailed, err)
	}

	wakefd, err = unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("%w: eventfd: %w", ErrInitFailed, err)
	}

	srcfd := d.source.Fd()
	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, srcfd, &unix.EpollEvent{
		Events: d.source.Events(),
		Fd:     int32(srcfd),
	}); err != nil {
		return fmt.Errorf("%w: register source fd: %w", ErrInitFailed, err)
	}
	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakefd),
	}); err != nil {
		return fmt.Errorf("%w: register wake fd: %w", ErrInitFailed, err)
	}

	d.epfd, d.wakefd, d.srcfd = epfd, wakefd, srcfd
	d.initialized = true
	d.closing = false
	d.closed = false
	log.Info("change detector initialized", "fd", srcfd)
	return nil
}

// Deinitialize releases the epoll set, the wake descriptor and the source.
// A NextChange blocked on another goroutine is woken, returns ErrClosed, and
// is waited for before anything is closed. It is safe to call more than once.
func (d *Detector) Deinitialize() error {
	d.mu.Lock()
	if !d.initialized || d.closing {
		if !d.initialized {
			d.closed = true
		}
		d.mu.Unlock()
		return nil
	}
	d.closing = true
	d.signalWake()
	d.mu.Unlock()

	// Closing epfd does not end an epoll_wait already in progress.
	d.waiters.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if err := unix.Close(d.epfd); err != nil {
		errs = append(errs, fmt.Errorf("close epoll: %w", err))
	}
	if err := unix.Close(d.wakefd); err != nil {
		errs = append(errs, fmt.Errorf("close wake fd: %w", err))
	}
	if err := d.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s source: %w", d.source.Name(), err))
	}

	d.epfd, d.wakefd, d.srcfd = -1, -1, -1
	d.initialized = false
	d.closing = false
	d.closed = true
	d.opts.Logger.Info("change detector deinitialized", "source", d.source.Name())
	return errors.Join(errs...)
}

// Interrupt wakes a blocked NextChange, which then returns ErrInterrupted.
// An interrupt raised while nobody waits is consumed by the next wait.
func (d *Detector) Interrupt() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized || d.closing {
		if d.closed || d.closing {
			return ErrClosed
		}
		return ErrNotInitialized
	}
	return d.signalWake()
}

// signalWake makes the wake descriptor readable. d.mu must be held.
func (d *Detector) signalWake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(d.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("signal wake fd: %w", err)
	}
	return nil
}

// WaitForChange blocks for at most timeoutMs milliseconds, or until a change
// when timeoutMs is 0. It returns (true, changes) with an empty map on
// timeout. A negative timeout, an interrupt or an OS level failure returns
// (false, empty map) and is logged.
func (d *Detector) WaitForChange(timeoutMs int) (bool, map[int]xcvr.Status) {
	if timeoutMs < 0 {
		d.opts.Logger.Error("negative timeout passed to wait for change", "timeoutMs", timeoutMs)
		return false, map[int]xcvr.Status{}
	}

	changes, err := d.NextChange(time.Duration(timeoutMs) * time.Millisecond)
	if err != nil {
		if errors.Is(err, ErrInterrupted) || errors.Is(err, ErrClosed) {
			d.opts.Logger.Debug("wait for change ended", "reason", err)
		} else {
			d.opts.Logger.Error("wait for change failed", "source", d.source.Name(), "error", err)
		}
		return false, map[int]xcvr.Status{}
	}
	if changes == nil {
		changes = map[int]xcvr.Status{}
	}
	return true, changes
}

// NextChange returns the next non-empty delta. It returns nil, nil when
// timeout elapses first; a zero timeout waits forever. Changes read in the
// same wakeup as an Interrupt are returned first and the interrupt is
// reported by the following call.
func (d *Detector) NextChange(timeout time.Duration) (map[int]xcvr.Status, error) {
	if timeout < 0 {
		return nil, fmt.Errorf("negative timeout: %s", timeout)
	}

	d.mu.Lock()
	if !d.initialized || d.closing {
		closed := d.closed || d.closing
		d.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, ErrNotInitialized
	}
	epfd, wakefd, srcfd := d.epfd, d.wakefd, d.srcfd
	d.waiters.Add(1)
	d.mu.Unlock()
	defer d.waiters.Done()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	events := make([]unix.EpollEvent, 4)
	for {
		msec := -1
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			msec = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		n, err := unix.EpollWait(epfd, events, msec)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			d.opts.Recorder.WaitError(d.source.Name())
			if errors.Is(err, unix.EBADF) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("epoll wait: %w", err)
		}

		var (
			changes map[int]xcvr.Status
			hangup  bool
			woken   bool
		)
		for _, ev := range events[:n] {
			switch int(ev.Fd) {
			case wakefd:
				woken = true
			case srcfd:
				// sysfs notifies with EPOLLERR|EPOLLPRI; only a hangup is fatal.
				changes = d.collect(changes)
				hangup = ev.Events&unix.EPOLLHUP != 0
			}
		}
		if len(changes) > 0 {
			// The wake fd stays readable for the next call.
			return changes, nil
		}
		if woken {
			drainEventfd(wakefd)
			d.mu.Lock()
			closing := d.closing
			d.mu.Unlock()
			if closing {
				return nil, ErrClosed
			}
			return nil, ErrInterrupted
		}
		if hangup {
			d.opts.Recorder.WaitError(d.source.Name())
			return nil, fmt.Errorf("%s source hung up", d.source.Name())
		}
	}
}

// collect reads one batch from the source and decodes it into changes. A
// later signal for the same port overrides an earlier one.
func (d *Detector) collect(changes map[int]xcvr.Status) map[int]xcvr.Status {
	signals, err := d.source.Read()
	if err != nil {
		d.opts.Logger.Warn("failed to read event source, no event this cycle",
			"source", d.source.Name(), "error", err)
		return changes
	}

	for _, sig := range signals {
		status, ok := d.decoder.Decode(sig)
		if !ok {
			d.opts.Recorder.Filtered(d.source.Name())
			continue
		}
		if changes == nil {
			changes = make(map[int]xcvr.Status)
		}
		changes[sig.Port] = status
		d.opts.Logger.Debug("transceiver change",
			"source", d.source.Name(),
			"port", sig.Port,
			"status", status.Name())
	}
	return changes
}

func drainEventfd(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}
