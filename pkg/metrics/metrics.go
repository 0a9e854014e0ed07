// Package metrics exports the detector and port state as prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sfpwatch/sfpwatch/pkg/chassis"
	"github.com/sfpwatch/sfpwatch/pkg/xcvr"
)

const namespace = "sfpwatch"

// Collector holds every sfpwatch metric on a private registry.
type Collector struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	status      *prometheus.GaugeVec
	filtered    *prometheus.CounterVec
	readRetries *prometheus.CounterVec
	waitErrors  *prometheus.CounterVec
}

// New returns a collector with its metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transceiver_events_total",
			Help:      "Accepted transceiver status transitions by new status.",
		}, []string{"status"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transceiver_status",
			Help:      "Last known status code per port (-1 unknown, 0 absent, 1 present, 2-6 module errors).",
		}, []string{"port"}),
		filtered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_unknown_total",
			Help:      "Raw signals that decoded to no reportable status.",
		}, []string{"source"}),
		readRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_retries_total",
			Help:      "Retried register and attribute reads.",
		}, []string{"source"}),
		waitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wait_errors_total",
			Help:      "Failed waits on the event source descriptor.",
		}, []string{"source"}),
	}

	c.registry.MustRegister(c.events, c.status, c.filtered, c.readRetries, c.waitErrors)
	return c
}

// ReadRetry counts one retried read.
func (c *Collector) ReadRetry(source string) { c.readRetries.WithLabelValues(source).Inc() }

// WaitError counts one failed wait.
func (c *Collector) WaitError(source string) { c.waitErrors.WithLabelValues(source).Inc() }

// Filtered counts one raw signal that produced no change.
func (c *Collector) Filtered(source string) { c.filtered.WithLabelValues(source).Inc() }

// ObserveEvent records an accepted transition.
func (c *Collector) ObserveEvent(ev chassis.ChangeEvent) {
	c.events.WithLabelValues(ev.Status.Name()).Inc()
	c.status.WithLabelValues(strconv.Itoa(ev.Port)).Set(float64(ev.Status))
}

// SetPorts seeds the status gauge with every port of the table.
func (c *Collector) SetPorts(states []chassis.PortState) {
	for _, st := range states {
		code := xcvr.StatusUnknown
		if st.Known {
			code = st.Status
		}
		c.status.WithLabelValues(strconv.Itoa(st.Port)).Set(float64(code))
	}
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
