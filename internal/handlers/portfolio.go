package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
)

// PortfolioReader is the narrow collaborator interface for portfolio
// holdings; the relational store itself lives outside this repository.
type PortfolioReader interface {
	Holdings(ctx context.Context, principalID string) (any, error)
}

// RegisterPortfolio wires the authenticated `portfolio` topic.
func RegisterPortfolio(table *router.Table, reader PortfolioReader) {
	table.Register("portfolio", "getHoldings", func(ctx context.Context, p *authn.Principal, _ json.RawMessage, _ router.Emit) (any, error) {
		if p == nil {
			return nil, fmt.Errorf("auth required")
		}
		if reader == nil {
			return []any{}, nil
		}
		return reader.Holdings(ctx, p.ID)
	})
}
