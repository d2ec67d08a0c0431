package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/breaker"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
)

type listIncidentsRequest struct {
	Service  string `json:"service"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

type manualResetRequest struct {
	Service string `json:"service"`
	Reason  string `json:"reason"`
	Force   bool   `json:"force"`
}

// RegisterCircuitBreaker wires the admin-only `circuit-breaker` topic:
// incident log queries and manual reset.
func RegisterCircuitBreaker(table *router.Table, manager *breaker.Manager) {
	table.Register("circuit-breaker", "listIncidents", func(ctx context.Context, p *authn.Principal, data json.RawMessage, _ router.Emit) (any, error) {
		if p == nil || !p.IsAdmin() {
			return nil, fmt.Errorf("forbidden")
		}
		var req listIncidentsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("invalid request payload: %w", err)
		}
		incidents, err := manager.ListIncidents(ctx, breaker.IncidentFilter{
			ServiceName: req.Service,
			Severity:    req.Severity,
			Status:      req.Status,
			Limit:       req.Limit,
			Offset:      req.Offset,
		})
		if err != nil {
			return nil, err
		}
		return incidents, nil
	})

	table.Register("circuit-breaker", "manualReset", func(ctx context.Context, p *authn.Principal, data json.RawMessage, _ router.Emit) (any, error) {
		if p == nil || !p.IsAdmin() {
			return nil, fmt.Errorf("forbidden")
		}
		var req manualResetRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("invalid request payload: %w", err)
		}
		if !req.Force && p.Role != authn.RoleSuperadmin {
			return nil, fmt.Errorf("manual reset requires force=true for non-superadmin callers")
		}
		if !manager.ManualReset(ctx, req.Service, req.Reason) {
			return nil, fmt.Errorf("unknown service %q", req.Service)
		}
		return map[string]any{"service": req.Service, "reset": true}, nil
	})
}
