package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sfpwatch/sfpwatch/internal/logger"
	"github.com/sfpwatch/sfpwatch/pkg/chassis"
	"github.com/sfpwatch/sfpwatch/pkg/config"
	"github.com/sfpwatch/sfpwatch/pkg/metrics"
	"github.com/sfpwatch/sfpwatch/pkg/monitor"
	"github.com/sfpwatch/sfpwatch/pkg/protocol"
	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
	"github.com/sfpwatch/sfpwatch/version"
)

// Daemon represents the sfpwatch daemon
type Daemon struct {
	config        *config.Config
	listener      net.Listener
	logger        *slog.Logger
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	poller        *chassis.Poller
	metrics       *metrics.Collector
	metricsServer *http.Server
	startTime     time.Time

	systemdMode bool
	activated   bool
	pidFile     string
}

// New creates a daemon watching the event source named in cfg.
func New(cfg *config.Config, log *slog.Logger) (*Daemon, error) {
	collector := metrics.New()

	opts, err := monitor.NewOptions(cfg, log, collector)
	if err != nil {
		return nil, fmt.Errorf("invalid port table: %w", err)
	}

	detector, err := monitor.NewChangeDetector(cfg, opts)
	if err != nil {
		return nil, err
	}

	return newDaemon(cfg, opts.Registry, detector, collector, log), nil
}

func newDaemon(cfg *config.Config, reg *xcvr.Registry, detector monitor.ChangeDetector, collector *metrics.Collector, log *slog.Logger) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	table := chassis.NewStateTable(reg, log)
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond

	return &Daemon{
		config:    cfg,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
		poller:    chassis.NewPoller(detector, table, timeout, log),
		metrics:   collector,
		startTime: time.Now(),
	}
}

// Run starts the daemon
func (d *Daemon) Run() error {
	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// The detector comes up before the socket so a broken platform never
	// accepts clients.
	if err := d.poller.Start(d.ctx); err != nil {
		logger.Critical(d.logger, "Failed to initialize change detector", "source", d.config.Platform.Source, "error", err)
		return err
	}
	d.metrics.SetPorts(d.poller.Table().Snapshot())

	d.wg.Add(1)
	go d.consumeEvents()

	d.activated = d.systemdMode && activatedForUs()

	// Clean up existing socket if unix
	if d.config.Network == "unix" && !d.activated {
		// Set umask for socket permissions
		oldUmask := syscall.Umask(0077)
		defer syscall.Umask(oldUmask)

		// Remove existing socket
		if err := os.RemoveAll(d.config.Address); err != nil {
			d.cancel()
			<-d.poller.Done()
			return fmt.Errorf("failed to remove existing socket: %w", err)
		}

		// Ensure directory exists
		socketDir := filepath.Dir(d.config.Address)
		if err := os.MkdirAll(socketDir, 0700); err != nil {
			d.cancel()
			<-d.poller.Done()
			return fmt.Errorf("failed to create socket directory: %w", err)
		}
	}

	// Start listener
	listener, err := d.getListenerWithActivation()
	if err != nil {
		d.cancel()
		<-d.poller.Done()
		return fmt.Errorf("failed to start listener: %w", err)
	}
	d.listener = listener

	if d.config.MetricsAddress != "" {
		d.startMetricsServer()
	}

	d.logger.Info("Daemon started",
		"network", d.config.Network,
		"address", d.config.Address,
		"source", d.config.Platform.Source,
		"ports", d.poller.Table().Len(),
	)

	d.notifySystemd("READY=1")
	d.notifySystemd(fmt.Sprintf("STATUS=Watching %d transceiver ports", d.poller.Table().Len()))
	go d.watchdogLoop()

	// Start accepting connections
	d.wg.Add(1)
	go d.acceptConnections()

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		d.logger.Info("Received signal", "signal", sig)
	case <-d.ctx.Done():
		d.logger.Info("Context cancelled")
	case <-d.poller.Done():
		d.logger.Error("Change detector stopped unexpectedly")
	}

	// Shutdown
	return d.shutdown()
}

// Stop asks a running daemon to shut down.
func (d *Daemon) Stop() {
	d.cancel()
}

// consumeEvents feeds accepted transitions into the metrics.
func (d *Daemon) consumeEvents() {
	defer d.wg.Done()

	for ev := range d.poller.Events() {
		d.metrics.ObserveEvent(ev)
	}
}

func (d *Daemon) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())

	d.metricsServer = &http.Server{
		Addr:              d.config.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.logger.Info("Serving metrics", "address", d.config.MetricsAddress)
		if err := d.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

// acceptConnections accepts incoming connections
func (d *Daemon) acceptConnections() {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				// Shutting down
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				d.logger.Error("Failed to accept connection", "error", err)
				continue
			}
		}

		// Handle connection in goroutine
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleConnection(conn)
		}()
	}
}

// handleConnection handles a single connection
func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	remoteAddr := conn.RemoteAddr().String()
	d.logger.Debug("New connection", "remote", remoteAddr)

	// Read request from connection
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		if err != io.EOF {
			d.logger.Error("Failed to read from connection", "error", err, "remote", remoteAddr)
		}
		return
	}

	// Parse request
	req, err := protocol.ParseRequest([]byte(line))
	if err != nil {
		d.logger.Error("Failed to parse request", "error", err, "remote", remoteAddr)
		resp := protocol.NewErrorResponse("", fmt.Errorf("invalid request format"))
		d.sendResponse(conn, resp)
		return
	}

	d.logger.Debug("Received command", "type", req.Type, "id", req.ID, "remote", remoteAddr)

	resp := d.handleCommand(req)
	d.sendResponse(conn, resp)

	d.logger.Debug("Connection closed", "remote", remoteAddr)
}

// handleCommand processes a command and returns a response
func (d *Daemon) handleCommand(req *protocol.Request) *protocol.Response {
	switch req.Type {
	case protocol.CommandStatus:
		return d.handleStatusCommand(req)
	case protocol.CommandList:
		return d.handleListCommand(req)
	case protocol.CommandGet:
		return d.handleGetCommand(req)
	default:
		return protocol.NewErrorResponse(req.ID, fmt.Errorf("unknown command type: %s", req.Type))
	}
}

// handleStatusCommand handles the status command
func (d *Daemon) handleStatusCommand(req *protocol.Request) *protocol.Response {
	table := d.poller.Table()

	counts := make(map[string]int)
	for status, n := range table.Counts() {
		counts[status.Name()] = n
	}

	status := protocol.StatusResponse{
		Version: version.GetVersion(),
		Uptime:  time.Since(d.startTime).Round(time.Second).String(),
		Source:  d.config.Platform.Source,
		Ports:   table.Len(),
		Counts:  counts,
	}

	resp, err := protocol.NewSuccessResponse(req.ID, status)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}
	return resp
}

// handleListCommand handles the list ports command
func (d *Daemon) handleListCommand(req *protocol.Request) *protocol.Response {
	snapshot := d.poller.Table().Snapshot()

	ports := make([]protocol.PortInfo, 0, len(snapshot))
	for _, st := range snapshot {
		ports = append(ports, portInfo(st))
	}

	resp, err := protocol.NewSuccessResponse(req.ID, protocol.ListResponse{Ports: ports})
	if err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}
	return resp
}

// handleGetCommand handles the single port command
func (d *Daemon) handleGetCommand(req *protocol.Request) *protocol.Response {
	var getReq protocol.GetRequest
	if err := json.Unmarshal(req.Payload, &getReq); err != nil {
		return protocol.NewErrorResponse(req.ID, fmt.Errorf("invalid payload: %w", err))
	}

	st, err := d.poller.Table().Get(getReq.Port)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}

	resp, err := protocol.NewSuccessResponse(req.ID, portInfo(st))
	if err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}
	return resp
}

func portInfo(st chassis.PortState) protocol.PortInfo {
	status := xcvr.StatusUnknown
	if st.Known {
		status = st.Status
	}
	return protocol.PortInfo{
		Port:       st.Port,
		Name:       st.Name,
		Status:     status.String(),
		StatusName: status.Name(),
		Known:      st.Known,
		Updated:    st.Updated,
		Changes:    st.Changes,
	}
}

// sendResponse sends a response to the client
func (d *Daemon) sendResponse(conn net.Conn, resp *protocol.Response) {
	data, err := protocol.MarshalResponse(resp)
	if err != nil {
		d.logger.Error("Failed to marshal response", "error", err)
		return
	}

	// Add newline for easier parsing
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		d.logger.Error("Failed to send response", "error", err)
	}
}

// shutdown gracefully shuts down the daemon
func (d *Daemon) shutdown() error {
	d.logger.Info("Shutting down daemon")
	d.notifySystemd("STOPPING=1")

	// Cancel context to stop accepting new connections and the poller
	d.cancel()

	// Close listener
	if d.listener != nil {
		if err := d.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			d.logger.Error("Failed to close listener", "error", err)
		}
	}

	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Shutdown(ctx); err != nil {
			d.logger.Error("Failed to stop metrics server", "error", err)
		}
		cancel()
	}

	<-d.poller.Done()

	// Wait for all connections to finish
	d.wg.Wait()

	// Clean up socket file if unix
	if d.config.Network == "unix" && !d.activated {
		if err := os.RemoveAll(d.config.Address); err != nil {
			d.logger.Error("Failed to remove socket file", "error", err)
		}
	}

	d.logger.Info("Daemon stopped", "uptime", time.Since(d.startTime).Round(time.Second))
	return nil
}
