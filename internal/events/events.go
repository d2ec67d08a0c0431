// Package events defines the payload types carried on the hub's internal
// event bus instances (C1), shared between the supervisor, breaker, and
// hub packages so none of them needs to import one another directly.
package events

import "time"

// ServiceState mirrors a Service Record's lifecycle state (C8).
type ServiceState string

const (
	ServiceRegistered   ServiceState = "registered"
	ServiceInitializing ServiceState = "initializing"
	ServiceStarted      ServiceState = "started"
	ServiceStopping     ServiceState = "stopping"
	ServiceStopped      ServiceState = "stopped"
	ServiceFailed       ServiceState = "failed"
)

// ServiceLifecycleEvent is published on every Service Record state
// transition.
type ServiceLifecycleEvent struct {
	Service string
	From    ServiceState
	To      ServiceState
	At      time.Time
	Detail  string
}

// CircuitState mirrors the breaker state machine (C9).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitHalfOpen CircuitState = "half-open"
	CircuitOpen     CircuitState = "open"
)

// CircuitTransitionEvent is published whenever a service's breaker changes
// state.
type CircuitTransitionEvent struct {
	Service string
	From    CircuitState
	To      CircuitState
	At      time.Time
}

// ServiceUnavailableEvent describes a service whose breaker has opened.
// Nothing in this module publishes it; breaker transitions are published
// as CircuitTransitionEvent.
type ServiceUnavailableEvent struct {
	Service   string
	At        time.Time
	RetryHint time.Duration
}

// MetricsSnapshot is the periodic aggregate C8 broadcasts on the `monitor`
// topic.
type MetricsSnapshot struct {
	At       time.Time
	Services map[string]ServiceState
	Breakers map[string]CircuitState
}
