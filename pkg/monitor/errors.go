package monitor

import "errors"

var (
	// ErrInitFailed is returned by Initialize when the source could not be
	// opened within the retry budget or the wait set could not be built.
	ErrInitFailed = errors.New("change detector initialization failed")
	// ErrInterrupted is returned by NextChange after Interrupt.
	ErrInterrupted = errors.New("wait interrupted")
	// ErrClosed is returned once the detector has been deinitialized.
	ErrClosed = errors.New("change detector closed")
	// ErrNotInitialized is returned when waiting before Initialize.
	ErrNotInitialized = errors.New("change detector not initialized")
	// ErrUnsupported is returned on platforms without epoll.
	ErrUnsupported = errors.New("change detection not supported on this platform")
)
