// Package chassis owns the chassis-level view of the transceiver ports: the
// last known status of every port and the loop that feeds it from a change
// detector.
package chassis

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

// ChangeEvent is one accepted status transition of one port.
type ChangeEvent struct {
	ID        string
	Port      int
	Name      string
	Status    xcvr.Status
	Previous  xcvr.Status
	Timestamp time.Time
}

// PortState is the last known state of one port.
type PortState struct {
	Port    int
	Name    string
	Status  xcvr.Status
	Known   bool
	Updated time.Time
	Changes int
}

// StateTable is the last-known-state table. Deltas from the detector are
// merged into it; repeated statuses and invalid transitions are dropped.
type StateTable struct {
	registry *xcvr.Registry
	logger   *slog.Logger

	mu     sync.RWMutex
	states map[int]*PortState
}

// NewStateTable returns a table holding every port of registry, all unknown.
func NewStateTable(registry *xcvr.Registry, logger *slog.Logger) *StateTable {
	if logger == nil {
		logger = slog.Default()
	}
	t := &StateTable{
		registry: registry,
		logger:   logger,
		states:   make(map[int]*PortState, registry.Len()),
	}
	for _, p := range registry.Ports() {
		t.states[p.Index] = &PortState{Port: p.Index, Name: p.Name, Status: xcvr.StatusUnknown}
	}
	return t
}

// Merge applies changes and returns the accepted transitions in port order.
// The first report for a port is always accepted.
func (t *StateTable) Merge(changes map[int]xcvr.Status, now time.Time) []ChangeEvent {
	if len(changes) == 0 {
		return nil
	}

	ports := make([]int, 0, len(changes))
	for port := range changes {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	t.mu.Lock()
	defer t.mu.Unlock()

	var events []ChangeEvent
	for _, port := range ports {
		status := changes[port]
		st, ok := t.states[port]
		if !ok {
			t.logger.Warn("change for unknown port ignored", "port", port, "status", status.Name())
			continue
		}
		if !status.Valid() || status == xcvr.StatusUnknown {
			t.logger.Warn("unknown status ignored", "port", port)
			continue
		}
		if st.Known {
			if st.Status == status {
				t.logger.Debug("repeated status ignored", "port", port, "status", status.Name())
				continue
			}
			if !xcvr.ValidTransition(st.Status, status) {
				t.logger.Warn("invalid transition, treated as unknown",
					"port", port,
					"from", st.Status.Name(),
					"to", status.Name())
				continue
			}
		}

		prev := st.Status
		st.Status = status
		st.Known = true
		st.Updated = now
		st.Changes++

		events = append(events, ChangeEvent{
			ID:        uuid.New().String(),
			Port:      port,
			Name:      st.Name,
			Status:    status,
			Previous:  prev,
			Timestamp: now,
		})
	}
	return events
}

// Get returns the state of one port.
func (t *StateTable) Get(port int) (PortState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[port]
	if !ok {
		return PortState{}, fmt.Errorf("%w: %d", xcvr.ErrUnknownPort, port)
	}
	return *st, nil
}

// Snapshot returns every port in index order.
func (t *StateTable) Snapshot() []PortState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]PortState, 0, len(t.states))
	for _, p := range t.registry.Ports() {
		out = append(out, *t.states[p.Index])
	}
	return out
}

// Len returns the number of ports in the table.
func (t *StateTable) Len() int {
	return t.registry.Len()
}

// Counts returns how many ports are in each status.
func (t *StateTable) Counts() map[xcvr.Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[xcvr.Status]int)
	for _, st := range t.states {
		counts[st.Status]++
	}
	return counts
}

// FormatChanges renders a delta the way chassis change consumers expect it:
// port index to status code, e.g. {"12": "1"}.
func FormatChanges(changes map[int]xcvr.Status) map[string]string {
	out := make(map[string]string, len(changes))
	for port, status := range changes {
		out[strconv.Itoa(port)] = status.String()
	}
	return out
}
