// Package metrics exposes Prometheus counters for the driver core. A nil
// *Metrics is valid and records nothing, so components never need to guard
// their instrumentation sites.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the driver-wide counters.
type Metrics struct {
	commands     *prometheus.CounterVec
	events       *prometheus.CounterVec
	timeouts     *prometheus.CounterVec
	decodeErrors prometheus.Counter
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airvane",
			Name:      "commands_total",
			Help:      "Wire commands issued to firmware, by logical operation.",
		}, []string{"op"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airvane",
			Name:      "events_total",
			Help:      "Firmware events decoded, by event type.",
		}, []string{"type"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airvane",
			Name:      "operation_timeouts_total",
			Help:      "Blocking operations that timed out waiting for firmware.",
		}, []string{"op"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airvane",
			Name:      "event_decode_errors_total",
			Help:      "Firmware events dropped because their payload did not parse.",
		}),
	}
	reg.MustRegister(m.commands, m.events, m.timeouts, m.decodeErrors)
	return m
}

// CommandSent records one issued wire command.
func (m *Metrics) CommandSent(op string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(op).Inc()
}

// EventDecoded records one decoded firmware event.
func (m *Metrics) EventDecoded(typ string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(typ).Inc()
}

// Timeout records one blocking operation that gave up waiting.
func (m *Metrics) Timeout(op string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(op).Inc()
}

// DecodeError records one dropped, unparseable event.
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}
