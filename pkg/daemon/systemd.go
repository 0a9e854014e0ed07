package daemon

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// listenFdsStart is the first descriptor passed by socket activation.
const listenFdsStart = 3

// sdNotify writes state to the notify socket named by NOTIFY_SOCKET. It is a
// no-op when the variable is unset.
func sdNotify(state string) error {
	socketPath := os.Getenv("NOTIFY_SOCKET")
	if socketPath == "" {
		return nil
	}

	// Abstract socket notation
	if socketPath[0] == '@' {
		socketPath = "\x00" + socketPath[1:]
	}

	conn, err := net.Dial("unixgram", socketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to notify socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// watchdogInterval returns half of WATCHDOG_USEC, or false when the service
// manager did not ask for keep-alives.
func watchdogInterval() (time.Duration, bool) {
	usec, err := strconv.ParseInt(os.Getenv("WATCHDOG_USEC"), 10, 64)
	if err != nil || usec <= 0 {
		return 0, false
	}
	if pid := os.Getenv("WATCHDOG_PID"); pid != "" && pid != strconv.Itoa(os.Getpid()) {
		return 0, false
	}
	return time.Duration(usec) * time.Microsecond / 2, true
}

// notifySystemd sends notification to systemd if running in systemd mode
func (d *Daemon) notifySystemd(state string) {
	if !d.systemdMode {
		return
	}
	if err := sdNotify(state); err != nil {
		d.logger.Debug("Failed to notify systemd", "state", state, "error", err)
	}
}

// watchdogLoop pings the service manager until the daemon stops.
func (d *Daemon) watchdogLoop() {
	if !d.systemdMode {
		return
	}

	interval, ok := watchdogInterval()
	if !ok {
		return
	}

	d.logger.Debug("Starting watchdog loop", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.notifySystemd("WATCHDOG=1")
		case <-d.poller.Done():
			// A dead detector must let the watchdog fire.
			return
		case <-d.ctx.Done():
			return
		}
	}
}

// writePIDFile writes the current process ID to a file
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Debug("Wrote PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file
func (d *Daemon) removePIDFile() {
	if d.pidFile == "" {
		return
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("Failed to remove PID file", "path", d.pidFile, "error", err)
	}
}

// getListenerWithActivation uses the first socket passed by systemd socket
// activation and falls back to listening on the configured address.
func (d *Daemon) getListenerWithActivation() (net.Listener, error) {
	if !d.activated {
		return net.Listen(d.config.Network, d.config.Address)
	}

	file := os.NewFile(uintptr(listenFdsStart), "systemd-socket")
	if file == nil {
		return net.Listen(d.config.Network, d.config.Address)
	}
	defer file.Close()

	listener, err := net.FileListener(file)
	if err != nil {
		d.logger.Warn("Failed to create listener from systemd socket", "error", err)
		return net.Listen(d.config.Network, d.config.Address)
	}

	d.logger.Info("Using systemd socket activation")
	return listener, nil
}

// activatedForUs reports whether LISTEN_FDS names at least one descriptor
// meant for this process.
func activatedForUs() bool {
	n, err := strconv.Atoi(os.Getenv("LISTEN_FDS"))
	if err != nil || n < 1 {
		return false
	}
	if pid := os.Getenv("LISTEN_PID"); pid != "" && pid != strconv.Itoa(os.Getpid()) {
		return false
	}
	return true
}
