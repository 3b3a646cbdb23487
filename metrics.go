package p2core

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parallax-p2/p2term-core/internal/tag"
)

// Metrics backs Processor.Stats() and, when registered, exports the same
// counters to Prometheus so a host process can expose them on /metrics
// (the scrape endpoint itself is out of scope; only registration is).
type Metrics struct {
	routedTotal     *prometheus.CounterVec
	debuggerPackets prometheus.Counter
	reboots         prometheus.Counter
	routingErrors   *prometheus.CounterVec

	routed  atomic.Uint64
	dbgPkts atomic.Uint64
	reboot  atomic.Uint64
	rtErrs  atomic.Uint64
}

// NewMetrics constructs a Metrics with its own counters, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		routedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2term",
			Subsystem: "router",
			Name:      "messages_routed_total",
			Help:      "Messages routed, partitioned by message tag.",
		}, []string{"tag"}),
		debuggerPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2term",
			Subsystem: "router",
			Name:      "debugger_packets_total",
			Help:      "Debugger status packets routed, across all cores.",
		}),
		reboots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2term",
			Subsystem: "router",
			Name:      "p2_system_reboots_total",
			Help:      "P2_SYSTEM_INIT messages observed.",
		}),
		routingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2term",
			Subsystem: "router",
			Name:      "routing_errors_total",
			Help:      "Routing errors, partitioned by error kind.",
		}, []string{"kind"}),
	}
}

// Register registers every collector with reg. Call once at startup; reg
// is typically prometheus.DefaultRegisterer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.routedTotal, m.debuggerPackets, m.reboots, m.routingErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveMessageRouted implements interfaces.Observer.
func (m *Metrics) ObserveMessageRouted(t tag.Tag) {
	m.routed.Add(1)
	m.routedTotal.WithLabelValues(t.String()).Inc()
}

// ObserveDebuggerPacketReceived implements interfaces.Observer.
func (m *Metrics) ObserveDebuggerPacketReceived(core int) {
	m.dbgPkts.Add(1)
	m.debuggerPackets.Inc()
}

// ObserveP2SystemReboot implements interfaces.Observer.
func (m *Metrics) ObserveP2SystemReboot() {
	m.reboot.Add(1)
	m.reboots.Inc()
}

// ObserveRoutingError implements interfaces.Observer.
func (m *Metrics) ObserveRoutingError(kind string) {
	m.rtErrs.Add(1)
	m.routingErrors.WithLabelValues(kind).Inc()
}

// PerformanceStats is the plain-struct snapshot returned by Stats(), kept
// independent of Prometheus types so callers that don't care about metrics
// export never need to import prometheus.
type PerformanceStats struct {
	MessagesRouted  uint64
	DebuggerPackets uint64
	P2SystemReboots uint64
	RoutingErrors   uint64
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() PerformanceStats {
	return PerformanceStats{
		MessagesRouted:  m.routed.Load(),
		DebuggerPackets: m.dbgPkts.Load(),
		P2SystemReboots: m.reboot.Load(),
		RoutingErrors:   m.rtErrs.Load(),
	}
}
