// Package breaker implements the Circuit Breaker (C9): a per-service
// failure accounting state machine with an append-only incident log. Calls
// are executed through pkg/clients.CircuitBreaker (failsafe-go), exactly as
// that package wraps it for HTTP collaborators, but the actual
// closed/open/half-open trip decision is driven by this layer's own windowed
// failure accounting: failsafe-go's execution-count ratio has no notion of
// spec.md's monitoringWindow, so the decision of record lives here and
// failsafe-go is used purely as the execution/instrumentation path.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BranchManager69/degenduel-sub003/internal/events"
	"github.com/BranchManager69/degenduel-sub003/pkg/clients"
	"github.com/BranchManager69/degenduel-sub003/pkg/logging"
)

// ErrCircuitOpen is returned by Call without invoking fn when the breaker is
// open, or when half-open has already admitted its configured RequestLimit
// of concurrent probes.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ServiceBreaker is one service's circuit-breaker state: a windowed
// closed/open/half-open machine matching spec.md §4.8, layered over a
// failsafe-go executor used to run the guarded call itself.
type ServiceBreaker struct {
	name   string
	cfg    Config
	store  *Store
	bus    eventBus
	logger logging.Logger

	underlying *clients.CircuitBreaker

	mu               sync.Mutex
	state            events.CircuitState
	failures         []time.Time // failure timestamps within cfg.MonitoringWindow
	requests         []time.Time // all request timestamps within cfg.MonitoringWindow
	total            int         // lifetime requests recorded since the last reset, for Snapshot
	openedAt         time.Time
	halfOpenInFlight int
	recoveryAttempts int
	lastFailureAt    time.Time
	lastSuccessAt    time.Time
	activeIncidentID string
	pending          pendingTransition
}

// eventBus is the narrow slice of eventbus.Bus[events.CircuitTransitionEvent]
// the breaker needs, so this package doesn't import the generic Bus type
// directly into its exported surface.
type eventBus interface {
	Publish(events.CircuitTransitionEvent)
}

// New builds a ServiceBreaker for a service from cfg. It does not read or
// write the persisted config; Manager.Register does that.
func New(ctx context.Context, name string, cfg Config, store *Store, bus eventBus, logger logging.Logger) *ServiceBreaker {
	sb := &ServiceBreaker{
		name:   name,
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logger,
		state:  events.CircuitClosed,
	}

	// The failsafe-go breaker runs the call itself (retry-free single
	// execution here) and logs its own state view; the trip decision
	// authoritative for IsOpen/State is sb.state below, not this one.
	sb.underlying = clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  uint32(cfg.RequestLimit),
		Timeout:      cfg.RecoveryTimeout,
		FailureRatio: float64(cfg.FailureThreshold) / float64(max(cfg.MinimumRequests, 1)),
		MinRequests:  uint32(cfg.MinimumRequests),
		Logger:       logger,
	})

	return sb
}

func (sb *ServiceBreaker) metricsSnapshotLocked() map[string]any {
	return map[string]any{
		"failureCount":     len(sb.failures),
		"requestsInWindow": len(sb.requests),
		"total":            sb.total,
		"recoveryAttempts": sb.recoveryAttempts,
	}
}

// State returns the current breaker state.
func (sb *ServiceBreaker) State() events.CircuitState {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.state
}

// IsOpen reports whether requests should be rejected with
// service_unavailable. A breaker whose recoveryTimeout has elapsed while
// open is reported as no longer open so the router can admit a probe, but
// the actual transition to half-open happens inside Call so a single probe
// is admitted at a time.
func (sb *ServiceBreaker) IsOpen() bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.state == events.CircuitOpen && time.Since(sb.openedAt) >= sb.cfg.RecoveryTimeout {
		return false
	}
	return sb.state == events.CircuitOpen
}

// RecoveryTimeout is the configured backoff before Open -> HalfOpen.
func (sb *ServiceBreaker) RecoveryTimeout() time.Duration {
	return sb.cfg.RecoveryTimeout
}

// Call executes fn if the breaker's current state admits it, recording the
// outcome against the windowed failure/request counts that drive
// closed/open/half-open transitions per spec.md §4.8.
func (sb *ServiceBreaker) Call(ctx context.Context, fn func() error) error {
	admitted := sb.admit()
	sb.publishPending(ctx)
	if !admitted {
		return ErrCircuitOpen
	}

	err := sb.underlying.Call(fn)
	sb.record(err)
	sb.publishPending(ctx)
	return err
}

// admit decides, under lock, whether this call may proceed: it performs the
// Open -> HalfOpen transition once recoveryTimeout has elapsed, and caps
// half-open to the configured RequestLimit concurrent probes (fixed at 1
// unless the operator raises it; see DESIGN.md's half-open Open Question).
// Any transition it makes is left in sb.pending for the caller to flush via
// publishPending once the lock below is released.
func (sb *ServiceBreaker) admit() bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	now := time.Now()
	switch sb.state {
	case events.CircuitOpen:
		if now.Sub(sb.openedAt) < sb.cfg.RecoveryTimeout {
			return false
		}
		sb.transitionLocked(events.CircuitHalfOpen)
		sb.halfOpenInFlight = 0
		fallthrough
	case events.CircuitHalfOpen:
		limit := sb.cfg.RequestLimit
		if limit < 1 {
			limit = 1
		}
		if sb.halfOpenInFlight >= limit {
			return false
		}
		sb.halfOpenInFlight++
		return true
	default:
		return true
	}
}

// record applies one call's outcome under lock: half-open probes resolve
// immediately to Closed (success) or Open (failure); closed-state calls
// accumulate into the monitoringWindow and trip Open once both
// failureThreshold and minimumRequests are satisfied inside that window. Any
// transition it makes is left in sb.pending for the caller to flush via
// publishPending once the lock is released.
func (sb *ServiceBreaker) record(err error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	now := time.Now()

	if sb.state == events.CircuitHalfOpen {
		sb.halfOpenInFlight--
		sb.total++
		if err != nil {
			sb.lastFailureAt = now
			sb.recoveryAttempts++
			sb.openedAt = now
			sb.transitionLocked(events.CircuitOpen)
		} else {
			sb.lastSuccessAt = now
			sb.failures = nil
			sb.requests = nil
			sb.transitionLocked(events.CircuitClosed)
		}
		return
	}

	cutoff := now.Add(-sb.cfg.MonitoringWindow)
	sb.requests = trimBefore(sb.requests, cutoff)
	sb.failures = trimBefore(sb.failures, cutoff)

	sb.requests = append(sb.requests, now)
	sb.total++
	if err != nil {
		sb.failures = append(sb.failures, now)
		sb.lastFailureAt = now
	} else {
		sb.lastSuccessAt = now
	}

	if len(sb.failures) >= sb.cfg.FailureThreshold && len(sb.requests) >= sb.cfg.MinimumRequests {
		sb.openedAt = now
		sb.transitionLocked(events.CircuitOpen)
	}
}

func trimBefore(ts []time.Time, cutoff time.Time) []time.Time {
	live := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	return live
}

// pendingTransition carries a transition across the mu unlock boundary so
// incident I/O and bus publication never happen while the mutex is held.
type pendingTransition struct {
	from, to events.CircuitState
	valid    bool
}

// transitionLocked updates sb.state and records the transition so
// publishPending can act on it after the caller releases mu. Must be
// called with mu held.
func (sb *ServiceBreaker) transitionLocked(to events.CircuitState) {
	sb.pending = pendingTransition{from: sb.state, to: to, valid: sb.state != to}
	sb.state = to
}

// publishPending flushes any transition left by admit/record: it opens or
// resolves the transition's incident and publishes the CircuitTransitionEvent.
// Called with mu released so incident I/O never happens while other
// connections' calls are blocked on the breaker.
func (sb *ServiceBreaker) publishPending(ctx context.Context) {
	sb.mu.Lock()
	t := sb.pending
	sb.pending = pendingTransition{}
	metrics := sb.metricsSnapshotLocked()
	sb.mu.Unlock()
	if !t.valid {
		return
	}

	switch t.to {
	case events.CircuitOpen:
		if sb.store != nil {
			id, err := sb.store.OpenIncident(ctx, sb.name, "circuit_open", "critical",
				"circuit breaker tripped", metrics)
			if err == nil {
				sb.mu.Lock()
				sb.activeIncidentID = id
				sb.mu.Unlock()
			}
		}
	case events.CircuitClosed:
		sb.mu.Lock()
		incidentID := sb.activeIncidentID
		sb.activeIncidentID = ""
		sb.mu.Unlock()
		if sb.store != nil && incidentID != "" {
			_ = sb.store.ResolveActiveIncident(ctx, sb.name)
		}
	}

	if sb.bus != nil {
		sb.bus.Publish(events.CircuitTransitionEvent{
			Service: sb.name, From: t.from, To: t.to, At: time.Now().UTC(),
		})
	}
}

// ManualReset forces the breaker Closed, logging an incident of type
// manual_reset. Calling it twice in a row is idempotent: the second call
// observes the breaker already closed and still writes its own incident
// record, but yields the same resulting state.
func (sb *ServiceBreaker) ManualReset(ctx context.Context, reason string) {
	sb.underlying.Underlying().Close()

	sb.mu.Lock()
	wasOpenIncident := sb.activeIncidentID
	sb.state = events.CircuitClosed
	sb.failures = nil
	sb.requests = nil
	sb.total = 0
	sb.halfOpenInFlight = 0
	sb.activeIncidentID = ""
	sb.mu.Unlock()

	if sb.store != nil {
		if wasOpenIncident != "" {
			_ = sb.store.ResolveActiveIncident(ctx, sb.name)
		}
		_, _ = sb.store.OpenIncident(ctx, sb.name, "manual_reset", "info", reason, nil)
		_ = sb.store.ResolveActiveIncident(ctx, sb.name)
	}
}

// Snapshot reports a point-in-time view of the breaker's internal counters,
// used by Circuit State queries and the monitor snapshot.
type Snapshot struct {
	State            events.CircuitState
	FailureCount     int
	Total            int
	RecoveryAttempts int
	LastFailureAt    time.Time
	LastSuccessAt    time.Time
	Config           Config
}

// Snapshot returns the breaker's current state for read-only inspection.
func (sb *ServiceBreaker) Snapshot() Snapshot {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return Snapshot{
		State:            sb.state,
		FailureCount:     len(sb.failures),
		Total:            sb.total,
		RecoveryAttempts: sb.recoveryAttempts,
		LastFailureAt:    sb.lastFailureAt,
		LastSuccessAt:    sb.lastSuccessAt,
		Config:           sb.cfg,
	}
}
