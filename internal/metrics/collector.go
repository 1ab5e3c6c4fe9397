package ripmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gorip"
	subsystem = "rip"
)

// Label names for RIP metrics.
const (
	labelInterface = "interface"
	labelReason    = "reason"
)

// -------------------------------------------------------------------------
// Collector — Prometheus RIP Metrics
// -------------------------------------------------------------------------

// Collector holds all RIP Prometheus metrics.
//
//   - Routes tracks the current route database size.
//   - Neighbors tracks discovered neighbors.
//   - Packet counters track TX/RX/drop volumes per interface.
//   - Route change counters record acceptance-rule outcomes for alerting.
//   - Auth failure counters flag potential security issues.
type Collector struct {
	// Routes tracks the number of routes currently held in the route
	// database, labeled by interface.
	Routes *prometheus.GaugeVec

	// Neighbors tracks the number of currently known RIP neighbors per
	// interface.
	Neighbors *prometheus.GaugeVec

	// PacketsSent counts RIP packets transmitted per interface.
	PacketsSent *prometheus.CounterVec

	// PacketsReceived counts RIP packets received per interface.
	PacketsReceived *prometheus.CounterVec

	// PacketsDropped counts RIP packets dropped per interface, labeled
	// with a reason (malformed, auth_failure, unknown_interface, ...).
	PacketsDropped *prometheus.CounterVec

	// RouteChanges counts route database mutations per interface,
	// labeled with a reason (accepted, rejected, timeout, garbage_collected).
	RouteChanges *prometheus.CounterVec

	// AuthFailures counts authentication verification failures per
	// interface (RFC 2453 Section 4.2, RFC 4822).
	AuthFailures *prometheus.CounterVec

	// TriggeredUpdates counts triggered updates sent per interface
	// (RFC 2453 Section 3.10.1).
	TriggeredUpdates *prometheus.CounterVec
}

// NewCollector creates a Collector with all RIP metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
//
// All metrics are created with the "gorip_rip_" prefix (namespace_subsystem)
// to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Routes,
		c.Neighbors,
		c.PacketsSent,
		c.PacketsReceived,
		c.PacketsDropped,
		c.RouteChanges,
		c.AuthFailures,
		c.TriggeredUpdates,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	ifaceLabels := []string{labelInterface}
	dropLabels := []string{labelInterface, labelReason}
	changeLabels := []string{labelInterface, labelReason}

	return &Collector{
		Routes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "routes",
			Help:      "Number of routes currently held in the route database.",
		}, ifaceLabels),

		Neighbors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "neighbors",
			Help:      "Number of currently known RIP neighbors.",
		}, ifaceLabels),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total RIP packets transmitted.",
		}, ifaceLabels),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total RIP packets received.",
		}, ifaceLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total RIP packets dropped, labeled by reason.",
		}, dropLabels),

		RouteChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "route_changes_total",
			Help:      "Total route database mutations, labeled by reason.",
		}, changeLabels),

		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_failures_total",
			Help:      "Total authentication verification failures (RFC 2453 Section 4.2).",
		}, ifaceLabels),

		TriggeredUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "triggered_updates_total",
			Help:      "Total triggered updates sent (RFC 2453 Section 3.10.1).",
		}, ifaceLabels),
	}
}

// -------------------------------------------------------------------------
// Route/Neighbor Gauges
// -------------------------------------------------------------------------

// SetRoutes sets the route count gauge for the given interface.
func (c *Collector) SetRoutes(iface string, n int) {
	c.Routes.WithLabelValues(iface).Set(float64(n))
}

// SetNeighbors sets the neighbor count gauge for the given interface.
func (c *Collector) SetNeighbors(iface string, n int) {
	c.Neighbors.WithLabelValues(iface).Set(float64(n))
}

// -------------------------------------------------------------------------
// Packet Counters
// -------------------------------------------------------------------------

// IncPacketsSent increments the transmitted packets counter for iface.
func (c *Collector) IncPacketsSent(iface string) {
	c.PacketsSent.WithLabelValues(iface).Inc()
}

// IncPacketsReceived increments the received packets counter for iface.
func (c *Collector) IncPacketsReceived(iface string) {
	c.PacketsReceived.WithLabelValues(iface).Inc()
}

// IncPacketsDropped increments the dropped packets counter for iface with
// the given reason.
func (c *Collector) IncPacketsDropped(iface, reason string) {
	c.PacketsDropped.WithLabelValues(iface, reason).Inc()
}

// -------------------------------------------------------------------------
// Route Changes
// -------------------------------------------------------------------------

// RecordRouteChange increments the route change counter for iface with the
// given reason (accepted, rejected, timeout, garbage_collected).
func (c *Collector) RecordRouteChange(iface, reason string) {
	c.RouteChanges.WithLabelValues(iface, reason).Inc()
}

// IncTriggeredUpdates increments the triggered update counter for iface.
func (c *Collector) IncTriggeredUpdates(iface string) {
	c.TriggeredUpdates.WithLabelValues(iface).Inc()
}

// -------------------------------------------------------------------------
// Authentication
// -------------------------------------------------------------------------

// IncAuthFailures increments the authentication failure counter for iface
// (RFC 2453 Section 4.2, RFC 4822).
func (c *Collector) IncAuthFailures(iface string) {
	c.AuthFailures.WithLabelValues(iface).Inc()
}
