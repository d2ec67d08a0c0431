package handlers

import (
	"context"
	"encoding/json"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
)

// MarketDataSource is the narrow collaborator interface for quotes; actual
// market-data clients are explicitly out of scope for this repository.
type MarketDataSource interface {
	Quote(ctx context.Context, symbol string) (map[string]any, error)
}

type quoteRequest struct {
	Symbol string `json:"symbol"`
}

// RegisterMarket wires the public `market-data` topic.
func RegisterMarket(table *router.Table, source MarketDataSource) {
	table.Register("market-data", "getQuote", func(ctx context.Context, _ *authn.Principal, data json.RawMessage, _ router.Emit) (any, error) {
		var req quoteRequest
		_ = json.Unmarshal(data, &req)
		if source == nil {
			return map[string]any{"symbol": req.Symbol}, nil
		}
		return source.Quote(ctx, req.Symbol)
	})
}
