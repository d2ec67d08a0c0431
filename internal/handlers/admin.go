package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
	"github.com/BranchManager69/degenduel-sub003/internal/supervisor"
)

// RegisterAdmin wires the admin-only `admin` topic.
func RegisterAdmin(table *router.Table, sup *supervisor.Supervisor) {
	table.Register("admin", "serviceState", func(ctx context.Context, p *authn.Principal, data json.RawMessage, _ router.Emit) (any, error) {
		if p == nil || !p.IsAdmin() {
			return nil, fmt.Errorf("forbidden")
		}
		var req struct {
			Service string `json:"service"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("invalid request payload: %w", err)
		}
		state, ok := sup.State(req.Service)
		if !ok {
			return nil, fmt.Errorf("unknown service %q", req.Service)
		}
		return map[string]any{"service": req.Service, "state": string(state)}, nil
	})
}
