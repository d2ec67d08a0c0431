package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
)

// WalletBalancer is the narrow collaborator interface for the wallet
// topic; balance formatting (lamports/SOL vs USDC/6-decimal) is that
// collaborator's concern, not the hub's, per spec.md's open questions.
type WalletBalancer interface {
	Balance(ctx context.Context, principalID string) (map[string]any, error)
}

// RegisterWallet wires the `wallet` topic.
func RegisterWallet(table *router.Table, balancer WalletBalancer) {
	table.Register("wallet", "getBalance", func(ctx context.Context, p *authn.Principal, _ json.RawMessage, _ router.Emit) (any, error) {
		if p == nil {
			return nil, fmt.Errorf("auth required")
		}
		if balancer == nil {
			return map[string]any{}, nil
		}
		return balancer.Balance(ctx, p.ID)
	})
}
