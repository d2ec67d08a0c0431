// Package metrics declares the hub's Prometheus instrumentation, following
// the field-grouped Metrics struct shape of
// api_realtime/internal/metrics/metrics.go and the registration idiom of
// pkg/clients/circuit_breaker_metrics.go, generalized from a single
// WebSocket hub's metrics to this repository's full component set.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector the hub registers.
type Metrics struct {
	HubConnections *prometheus.GaugeVec
	HubMessages    *prometheus.CounterVec
	SlowConsumerDrops *prometheus.CounterVec

	RateLimitDrops *prometheus.CounterVec
	ChatRejections *prometheus.CounterVec

	ServiceState          *prometheus.GaugeVec
	CircuitBreakerState   *prometheus.GaugeVec
	CircuitBreakerTrips   *prometheus.CounterVec
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HubConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hub_connections",
			Help: "Current number of live hub connections.",
		}, []string{"role"}),
		HubMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_messages_total",
			Help: "Total inbound messages processed by the hub, by type.",
		}, []string{"type"}),
		SlowConsumerDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_slow_consumer_drops_total",
			Help: "Total messages dropped for slow-consumer subscribers.",
		}, []string{"channel"}),
		RateLimitDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_rate_limit_drops_total",
			Help: "Total inbound messages rejected by the connection token bucket.",
		}, []string{}),
		ChatRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_chat_rejections_total",
			Help: "Total chat messages rejected by the per-room sliding window.",
		}, []string{"contest"}),
		ServiceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supervisor_service_state",
			Help: "Current lifecycle state of each supervised service (1 = active state).",
		}, []string{"service", "state"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state per service (0=closed, 1=half-open, 2=open).",
		}, []string{"service"}),
		CircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total circuit breaker state transitions, by service and target state.",
		}, []string{"service", "to"}),
	}

	reg.MustRegister(
		m.HubConnections, m.HubMessages, m.SlowConsumerDrops,
		m.RateLimitDrops, m.ChatRejections, m.ServiceState,
		m.CircuitBreakerState, m.CircuitBreakerTrips,
	)
	return m
}

// RecordCircuitState updates the state gauge, mirroring
// pkg/clients/circuit_breaker_metrics.go's RecordCircuitBreakerState.
func (m *Metrics) RecordCircuitState(service string, stateValue float64) {
	m.CircuitBreakerState.WithLabelValues(service).Set(stateValue)
}

// RecordCircuitTransition increments the trip counter for a transition.
func (m *Metrics) RecordCircuitTransition(service, to string) {
	m.CircuitBreakerTrips.WithLabelValues(service, to).Inc()
}
