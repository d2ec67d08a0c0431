package breaker

import (
	"context"
	"sync"

	"github.com/BranchManager69/degenduel-sub003/pkg/logging"
)

// Manager owns one ServiceBreaker per registered service.
type Manager struct {
	store  *Store
	bus    eventBus
	logger logging.Logger

	mu       sync.RWMutex
	breakers map[string]*ServiceBreaker
}

// NewManager builds a Manager persisting config/incidents through store
// (nil disables persistence, useful for tests) and publishing transitions
// on bus.
func NewManager(store *Store, bus eventBus, logger logging.Logger) *Manager {
	return &Manager{
		store:    store,
		bus:      bus,
		logger:   logger,
		breakers: make(map[string]*ServiceBreaker),
	}
}

// Register creates a service's breaker, loading persisted config if
// present and falling back to DefaultConfig otherwise.
func (m *Manager) Register(ctx context.Context, serviceName string) *ServiceBreaker {
	cfg := DefaultConfig(serviceName)
	if m.store != nil {
		if loaded, ok, err := m.store.LoadConfig(ctx, serviceName); err == nil && ok {
			cfg = loaded
		} else {
			_ = m.store.SaveConfig(ctx, cfg)
		}
	}

	sb := New(ctx, serviceName, cfg, m.store, m.bus, m.logger)

	m.mu.Lock()
	m.breakers[serviceName] = sb
	m.mu.Unlock()
	return sb
}

// Get returns a service's breaker, if registered.
func (m *Manager) Get(serviceName string) (*ServiceBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.breakers[serviceName]
	return sb, ok
}

// All returns a snapshot of every registered breaker, keyed by service name.
func (m *Manager) All() map[string]*ServiceBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*ServiceBreaker, len(m.breakers))
	for k, v := range m.breakers {
		out[k] = v
	}
	return out
}

// ManualReset forces a service's breaker closed, if it exists.
func (m *Manager) ManualReset(ctx context.Context, serviceName, reason string) bool {
	sb, ok := m.Get(serviceName)
	if !ok {
		return false
	}
	sb.ManualReset(ctx, reason)
	return true
}

// ListIncidents proxies to the Store, returning an empty slice when no
// Store is configured.
func (m *Manager) ListIncidents(ctx context.Context, f IncidentFilter) ([]Incident, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.ListIncidents(ctx, f)
}
