package chassis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sfpwatch/sfpwatch/pkg/monitor"
)

// Poller runs a change detector on its own goroutine and merges what it
// reports into a StateTable, publishing the accepted transitions.
type Poller struct {
	detector monitor.ChangeDetector
	table    *StateTable
	timeout  time.Duration
	logger   *slog.Logger

	events chan ChangeEvent
	done   chan struct{}
}

// NewPoller returns a poller waiting at most timeout per detector call; a
// zero timeout waits until a change.
func NewPoller(detector monitor.ChangeDetector, table *StateTable, timeout time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		detector: detector,
		table:    table,
		timeout:  timeout,
		logger:   logger,
		events:   make(chan ChangeEvent, 64),
		done:     make(chan struct{}),
	}
}

// Start initializes the detector and begins the loop. The loop stops and
// the detector is released when ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	if err := p.detector.Initialize(); err != nil {
		return err
	}

	go p.loop(ctx)

	go func() {
		select {
		case <-ctx.Done():
			if err := p.detector.Interrupt(); err != nil && !errors.Is(err, monitor.ErrClosed) {
				p.logger.Debug("failed to interrupt detector", "error", err)
			}
		case <-p.done:
		}
	}()

	return nil
}

// Events returns the channel of accepted transitions. It is closed when the
// loop exits. The loop waits for the reader when the buffer is full.
func (p *Poller) Events() <-chan ChangeEvent {
	return p.events
}

// Done is closed once the loop has exited and the detector is released.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Table returns the state table the poller feeds.
func (p *Poller) Table() *StateTable {
	return p.table
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	defer close(p.events)
	defer func() {
		if err := p.detector.Deinitialize(); err != nil {
			p.logger.Warn("failed to release change detector", "error", err)
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		changes, err := p.detector.NextChange(p.timeout)
		switch {
		case errors.Is(err, monitor.ErrInterrupted):
			continue
		case errors.Is(err, monitor.ErrClosed):
			p.logger.Info("change detector closed, stopping poller")
			return
		case err != nil:
			p.logger.Error("wait for change failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, ev := range p.table.Merge(changes, time.Now()) {
			p.logger.Info("transceiver status changed",
				"port", ev.Port,
				"from", ev.Previous.Name(),
				"to", ev.Status.Name())
			// Consumers mirror the table; no transition may be skipped.
			select {
			case p.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
