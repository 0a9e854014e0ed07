package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

// Retry bounds how often opening a source and reading a register are
// attempted before giving up.
type Retry struct {
	Attempts     int
	Interval     time.Duration
	ReadAttempts int
	ReadInterval time.Duration
}

// DefaultRetry returns 30 opens every 5s and 6 reads every 100ms.
func DefaultRetry() Retry {
	return Retry{
		Attempts:     30,
		Interval:     5 * time.Second,
		ReadAttempts: 6,
		ReadInterval: 100 * time.Millisecond,
	}
}

func constant(attempts int, interval time.Duration) backoff.BackOff {
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1))
}

func (r Retry) open(op func() error, notify backoff.Notify) error {
	return backoff.RetryNotify(op, constant(r.Attempts, r.Interval), notify)
}

func (r Retry) read(op func() error, notify backoff.Notify) error {
	return backoff.RetryNotify(op, constant(r.ReadAttempts, r.ReadInterval), notify)
}

// Recorder receives detector counters.
type Recorder interface {
	ReadRetry(source string)
	WaitError(source string)
	Filtered(source string)
}

type nopRecorder struct{}

func (nopRecorder) ReadRetry(string) {}
func (nopRecorder) WaitError(string) {}
func (nopRecorder) Filtered(string)  {}

// Options carry what every source and the detector share.
type Options struct {
	Registry *xcvr.Registry
	Layout   xcvr.BitLayout
	Retry    Retry
	Recorder Recorder
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	if o.Retry.Attempts == 0 && o.Retry.ReadAttempts == 0 {
		o.Retry = DefaultRetry()
	}
	return o
}

// readAttribute reads a sysfs attribute, retrying transient failures.
func readAttribute(path string, o Options, source string) (string, error) {
	var data []byte
	err := o.Retry.read(func() error {
		var err error
		data, err = os.ReadFile(path)
		return err
	}, func(err error, wait time.Duration) {
		o.Recorder.ReadRetry(source)
		o.Logger.Debug("retrying attribute read", "path", path, "error", err, "wait", wait)
	})
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// readPresenceBits resolves the raw presence bit of each port, either from
// a shared presence register or from each port's own attribute. Ports that
// cannot be read are skipped and logged.
func readPresenceBits(ports []xcvr.Port, register string, o Options, source string) []xcvr.RawSignal {
	var (
		mask    uint64
		haveReg bool
	)
	if register != "" {
		raw, err := readAttribute(register, o, source)
		if err == nil {
			mask, err = xcvr.ParseRegister(raw)
		}
		if err != nil {
			o.Logger.Warn("failed to read presence register, no event this cycle", "path", register, "error", err)
			return nil
		}
		haveReg = true
	}

	signals := make([]xcvr.RawSignal, 0, len(ports))
	for _, p := range ports {
		var bit uint8
		switch {
		case haveReg && p.Bit >= 0:
			b, ok := o.Layout.RegisterBit(mask, p.Bit)
			if !ok {
				o.Logger.Warn("register bit outside layout, skipping port", "port", p.Index, "bit", p.Bit, "width", o.Layout.BitWidth)
				continue
			}
			bit = b
		case p.PresencePath != "":
			raw, err := readAttribute(p.PresencePath, o, source)
			if err != nil {
				o.Logger.Warn("failed to read presence, skipping port", "port", p.Index, "error", err)
				continue
			}
			v, err := xcvr.ParseRegister(raw)
			if err != nil || v > 0xff {
				o.Logger.Warn("unexpected presence value, skipping port", "port", p.Index, "value", raw)
				continue
			}
			bit = uint8(v)
		default:
			o.Logger.Debug("port has no presence input", "port", p.Index)
			continue
		}
		signals = append(signals, xcvr.RawSignal{Port: p.Index, Kind: xcvr.RawPresenceBit, Code: bit})
	}
	return signals
}
