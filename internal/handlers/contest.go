package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/registry"
	"github.com/BranchManager69/degenduel-sub003/internal/rooms"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
)

type joinRequest struct {
	ContestID  int64  `json:"contestId"`
	Visibility string `json:"visibility,omitempty"`
}

type chatRequest struct {
	ContestID int64  `json:"contestId"`
	Text      string `json:"text"`
}

type adminPresenceRequest struct {
	ContestID  int64  `json:"contestId"`
	Visibility string `json:"visibility"`
}

// ConnLookup resolves the registry.Connection backing a principal for the
// duration of one request, since handlers only receive the principal, not
// the connection, from the router.
type ConnLookup interface {
	ByPrincipal(principalID string) (*registry.Connection, bool)
}

// RegisterContest wires the `contest` topic's room-presence and chat
// actions.
func RegisterContest(table *router.Table, engine *rooms.Engine, lookup ConnLookup) {
	table.Register("contest", "join", func(ctx context.Context, p *authn.Principal, data json.RawMessage, _ router.Emit) (any, error) {
		var req joinRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("invalid request payload: %w", err)
		}
		conn, ok := connFor(lookup, p)
		if !ok {
			return nil, fmt.Errorf("no live connection for principal")
		}
		engine.Join(req.ContestID, conn, rooms.Visibility(req.Visibility))
		return map[string]any{"joined": req.ContestID}, nil
	})

	table.Register("contest", "leave", func(ctx context.Context, p *authn.Principal, data json.RawMessage, _ router.Emit) (any, error) {
		var req joinRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("invalid request payload: %w", err)
		}
		conn, ok := connFor(lookup, p)
		if !ok {
			return nil, fmt.Errorf("no live connection for principal")
		}
		engine.Leave(req.ContestID, conn)
		return map[string]any{"left": req.ContestID}, nil
	})

	table.Register("contest", "chat", func(ctx context.Context, p *authn.Principal, data json.RawMessage, _ router.Emit) (any, error) {
		var req chatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("invalid request payload: %w", err)
		}
		conn, ok := connFor(lookup, p)
		if !ok {
			return nil, fmt.Errorf("no live connection for principal")
		}
		msg, err := engine.Chat(req.ContestID, conn, req.Text)
		if err != nil {
			return nil, err
		}
		return msg, nil
	})

	table.Register("contest", "SET_ADMIN_PRESENCE", func(ctx context.Context, p *authn.Principal, data json.RawMessage, _ router.Emit) (any, error) {
		if p == nil || !p.IsAdmin() {
			return nil, fmt.Errorf("forbidden")
		}
		var req adminPresenceRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("invalid request payload: %w", err)
		}
		visible := req.Visibility == string(rooms.VisibilityVisible)
		if err := engine.SetAdminPresence(req.ContestID, p.ID, visible); err != nil {
			return nil, err
		}
		return map[string]any{"contestId": req.ContestID, "visibility": req.Visibility}, nil
	})
}

func connFor(lookup ConnLookup, p *authn.Principal) (*registry.Connection, bool) {
	if p == nil || lookup == nil {
		return nil, false
	}
	return lookup.ByPrincipal(p.ID)
}
