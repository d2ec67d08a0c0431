// Package handlers is the wiring module that builds the static (topic,
// action) handler table consumed by internal/router at startup, per
// spec.md's "registration is static at startup (built by a wiring module)"
// requirement.
package handlers

import (
	"github.com/BranchManager69/degenduel-sub003/internal/breaker"
	"github.com/BranchManager69/degenduel-sub003/internal/registry"
	"github.com/BranchManager69/degenduel-sub003/internal/rooms"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
	"github.com/BranchManager69/degenduel-sub003/internal/supervisor"
)

// Collaborators bundles every optional narrow interface a handler group
// may need. A nil Wallet, MarketData or Portfolio degrades its topic to
// stub responses; a nil Rooms, Supervisor or Breakers leaves the handler
// groups that need it unregistered.
type Collaborators struct {
	Rooms       *rooms.Engine
	Registry    *registry.Registry
	Breakers    *breaker.Manager
	Supervisor  *supervisor.Supervisor
	Wallet      WalletBalancer
	MarketData  MarketDataSource
	Portfolio   PortfolioReader
}

// Wire registers every topic's handlers into table.
func Wire(table *router.Table, c Collaborators) {
	RegisterTerminal(table)
	RegisterAI(table)
	RegisterUser(table)
	RegisterWallet(table, c.Wallet)
	RegisterMarket(table, c.MarketData)
	RegisterPortfolio(table, c.Portfolio)
	if c.Rooms != nil {
		RegisterContest(table, c.Rooms, c.Registry)
	}
	if c.Supervisor != nil {
		RegisterAdmin(table, c.Supervisor)
		RegisterMonitor(table, c.Supervisor)
	}
	if c.Breakers != nil {
		RegisterCircuitBreaker(table, c.Breakers)
	}
}

// ServiceTopicMap is the router.Dependency adapter: which backend service
// gates which topic's requests when its breaker is open.
type ServiceTopicMap struct {
	Mapping  map[string]string
	Breakers *breaker.Manager
}

// ServiceForTopic implements router.Dependency.
func (m ServiceTopicMap) ServiceForTopic(topic string) string {
	return m.Mapping[topic]
}

// Breaker implements router.Dependency.
func (m ServiceTopicMap) Breaker(service string) (*breaker.ServiceBreaker, bool) {
	if m.Breakers == nil {
		return nil, false
	}
	return m.Breakers.Get(service)
}
