package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
)

// RegisterTerminal wires the `terminal` topic's request handlers.
func RegisterTerminal(table *router.Table) {
	table.Register("terminal", "getTerminalData", func(ctx context.Context, _ *authn.Principal, _ json.RawMessage, _ router.Emit) (any, error) {
		return map[string]any{
			"uptime":    time.Now().UTC().Format(time.RFC3339),
			"commands":  []string{"help", "status", "balance"},
		}, nil
	})
}
