package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
	"github.com/BranchManager69/degenduel-sub003/internal/supervisor"
)

// RegisterMonitor wires the admin-only `monitor` topic's pull-based
// snapshot request, complementing the periodic push C8 broadcasts on the
// same topic.
func RegisterMonitor(table *router.Table, sup *supervisor.Supervisor) {
	table.Register("monitor", "snapshot", func(ctx context.Context, p *authn.Principal, _ json.RawMessage, _ router.Emit) (any, error) {
		if p == nil || !p.IsAdmin() {
			return nil, fmt.Errorf("forbidden")
		}
		return sup.MetricsSnapshot(), nil
	})
}
