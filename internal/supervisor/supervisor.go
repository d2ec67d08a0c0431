// Package supervisor implements the Service Supervisor (C8): registers
// backend services with declared dependencies, starts them in topological
// order, and tears them down in reverse. No pack example ships an
// in-process dependency-ordered supervisor (the closest analogue,
// Quartermaster's service registry, persists dependency lists in Postgres
// for a UI, not for driving in-process startup order) so the topological
// sort and lifecycle state machine are built fresh, in the teacher's idiom:
// structured logging per transition, an events.ServiceLifecycleEvent
// published on every change, mirroring how pkg/clients/failsafe.go reports
// circuit transitions through a logger and a callback.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BranchManager69/degenduel-sub003/internal/breaker"
	"github.com/BranchManager69/degenduel-sub003/internal/events"
	"github.com/BranchManager69/degenduel-sub003/pkg/logging"
)

// Hooks are the four lifecycle callbacks a registered service provides.
type Hooks struct {
	Init        func(ctx context.Context) error
	Start       func(ctx context.Context) error
	Stop        func(ctx context.Context) error
	HealthCheck func(ctx context.Context) error
	// Metrics returns a point-in-time stats snapshot. The supervisor stores
	// this hook but does not call it; MetricsSnapshot reports lifecycle and
	// breaker states only.
	Metrics func() map[string]any
}

type registration struct {
	name         string
	dependencies []string
	hooks        Hooks

	mu    sync.Mutex
	state events.ServiceState
	stats map[string]any
}

// Report summarizes a startup attempt.
type Report struct {
	Initialized []string
	Failed      []string
}

type eventBus interface {
	Publish(events.ServiceLifecycleEvent)
}

// Supervisor owns every registered service's lifecycle state.
type Supervisor struct {
	logger   logging.Logger
	bus      eventBus
	breakers *breaker.Manager

	mu    sync.Mutex
	order []string // registration order, for deterministic iteration
	regs  map[string]*registration

	stopTimeout time.Duration
}

// New builds a Supervisor. breakers may be nil if circuit-breaker wiring
// for service health is not needed (e.g. in unit tests).
func New(logger logging.Logger, bus eventBus, breakers *breaker.Manager, stopTimeout time.Duration) *Supervisor {
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &Supervisor{
		logger:      logger,
		bus:         bus,
		breakers:    breakers,
		regs:        make(map[string]*registration),
		stopTimeout: stopTimeout,
	}
}

// Register adds a service with its declared dependencies. Must be called
// before Start.
func (s *Supervisor) Register(name string, dependencies []string, hooks Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[name] = &registration{
		name:         name,
		dependencies: dependencies,
		hooks:        hooks,
		state:        events.ServiceRegistered,
		stats:        map[string]any{},
	}
	s.order = append(s.order, name)
	if s.breakers != nil {
		s.breakers.Register(context.Background(), name)
	}
}

func (s *Supervisor) transition(r *registration, to events.ServiceState, detail string) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()

	if s.logger != nil {
		s.logger.WithFields(logging.Fields{
			"service": r.name, "from": string(from), "to": string(to),
		}).Info("service state transition")
	}
	if s.bus != nil {
		s.bus.Publish(events.ServiceLifecycleEvent{
			Service: r.name, From: from, To: to, At: time.Now().UTC(), Detail: detail,
		})
	}
}

// State returns a service's current lifecycle state.
func (s *Supervisor) State(name string) (events.ServiceState, bool) {
	s.mu.Lock()
	r, ok := s.regs[name]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, true
}

// topoLayers groups registered services into dependency layers: layer 0 has
// no dependencies, layer 1 depends only on layer 0 services, and so on. A
// cycle (or a reference to an unregistered dependency) is a fatal error.
func (s *Supervisor) topoLayers() ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := make(map[string]*registration, len(s.regs))
	for k, v := range s.regs {
		remaining[k] = v
	}

	var layers [][]string
	for len(remaining) > 0 {
		var layer []string
		for name, r := range remaining {
			ready := true
			for _, dep := range r.dependencies {
				if _, stillPending := remaining[dep]; stillPending {
					ready = false
					break
				}
				if _, known := s.regs[dep]; !known {
					return nil, fmt.Errorf("service %q depends on unregistered service %q", name, dep)
				}
			}
			if ready {
				layer = append(layer, name)
			}
		}
		if len(layer) == 0 {
			return nil, fmt.Errorf("dependency cycle detected among services: %v", keysOf(remaining))
		}
		for _, name := range layer {
			delete(remaining, name)
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

func keysOf(m map[string]*registration) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Start brings every registered service up, layer by layer, running all
// services within a layer concurrently. A dependency's init failure
// prevents its dependents from ever starting.
func (s *Supervisor) Start(ctx context.Context) (Report, error) {
	layers, err := s.topoLayers()
	if err != nil {
		return Report{}, err
	}

	var report Report
	failed := make(map[string]bool)

	for _, layer := range layers {
		var wg sync.WaitGroup
		results := make(chan struct {
			name string
			err  error
		}, len(layer))

		for _, name := range layer {
			s.mu.Lock()
			r := s.regs[name]
			s.mu.Unlock()

			depFailed := false
			for _, dep := range r.dependencies {
				if failed[dep] {
					depFailed = true
					break
				}
			}
			if depFailed {
				s.transition(r, events.ServiceFailed, "dependency failed")
				results <- struct {
					name string
					err  error
				}{name, fmt.Errorf("dependency failed")}
				continue
			}

			wg.Add(1)
			go func(r *registration) {
				defer wg.Done()
				err := s.initAndStart(ctx, r)
				results <- struct {
					name string
					err  error
				}{r.name, err}
			}(r)
		}

		wg.Wait()
		close(results)
		for res := range results {
			if res.err != nil {
				failed[res.name] = true
				report.Failed = append(report.Failed, res.name)
			} else {
				report.Initialized = append(report.Initialized, res.name)
			}
		}
	}

	return report, nil
}

func (s *Supervisor) initAndStart(ctx context.Context, r *registration) error {
	s.transition(r, events.ServiceInitializing, "")
	if r.hooks.Init != nil {
		if err := r.hooks.Init(ctx); err != nil {
			s.transition(r, events.ServiceFailed, err.Error())
			return err
		}
	}
	if r.hooks.Start != nil {
		if err := r.hooks.Start(ctx); err != nil {
			s.transition(r, events.ServiceFailed, err.Error())
			return err
		}
	}
	s.transition(r, events.ServiceStarted, "")
	return nil
}

// Stop tears services down in reverse topological order, with a bounded
// deadline per layer; services exceeding the deadline are abandoned and
// logged as stop_timeout rather than blocking shutdown indefinitely.
func (s *Supervisor) Stop(ctx context.Context) {
	layers, err := s.topoLayers()
	if err != nil {
		return
	}
	for i := len(layers) - 1; i >= 0; i-- {
		var wg sync.WaitGroup
		for _, name := range layers[i] {
			s.mu.Lock()
			r := s.regs[name]
			s.mu.Unlock()

			r.mu.Lock()
			state := r.state
			r.mu.Unlock()
			if state != events.ServiceStarted {
				continue
			}

			wg.Add(1)
			go func(r *registration) {
				defer wg.Done()
				s.stopOne(ctx, r)
			}(r)
		}
		wg.Wait()
	}
}

func (s *Supervisor) stopOne(ctx context.Context, r *registration) {
	s.transition(r, events.ServiceStopping, "")

	done := make(chan error, 1)
	go func() {
		if r.hooks.Stop != nil {
			done <- r.hooks.Stop(ctx)
			return
		}
		done <- nil
	}()

	select {
	case <-done:
		s.transition(r, events.ServiceStopped, "")
	case <-time.After(s.stopTimeout):
		if s.logger != nil {
			s.logger.WithFields(logging.Fields{"service": r.name}).Warn("stop_timeout")
		}
		s.transition(r, events.ServiceStopped, "stop_timeout")
	}
}

// MetricsSnapshot aggregates every service's current state and breaker
// state into the periodic snapshot C8 broadcasts on the monitor topic.
func (s *Supervisor) MetricsSnapshot() events.MetricsSnapshot {
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	snap := events.MetricsSnapshot{
		At:       time.Now().UTC(),
		Services: make(map[string]events.ServiceState, len(names)),
		Breakers: make(map[string]events.CircuitState, len(names)),
	}
	for _, name := range names {
		if state, ok := s.State(name); ok {
			snap.Services[name] = state
		}
		if s.breakers != nil {
			if sb, ok := s.breakers.Get(name); ok {
				snap.Breakers[name] = sb.State()
			}
		}
	}
	return snap
}
