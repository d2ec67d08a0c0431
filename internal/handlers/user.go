package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
)

// RegisterUser wires the authenticated `user` topic, which clients
// typically subscribe to as `user.<principalId>` for targeted notices
// rather than issuing requests against.
func RegisterUser(table *router.Table) {
	table.Register("user", "whoAmI", func(ctx context.Context, p *authn.Principal, _ json.RawMessage, _ router.Emit) (any, error) {
		if p == nil {
			return nil, fmt.Errorf("auth required")
		}
		return map[string]any{"principalId": p.ID, "role": string(p.Role)}, nil
	})
}
