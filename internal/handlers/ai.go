package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
)

type aiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type aiStreamRequest struct {
	Messages []aiMessage `json:"messages"`
}

// RegisterAI wires the `ai` topic's streaming request handler. The actual
// model call is a narrow collaborator interface out of this repo's scope;
// here it is simulated by chunking a canned reply, which is enough to
// exercise the router's streaming contract end to end.
func RegisterAI(table *router.Table) {
	table.Register("ai", "stream", func(ctx context.Context, _ *authn.Principal, data json.RawMessage, emit router.Emit) (any, error) {
		var req aiStreamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("invalid request payload: %w", err)
		}

		reply := fmt.Sprintf("You said: %s", lastUserMessage(req.Messages))
		words := strings.Fields(reply)
		for _, w := range words {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			emit(map[string]any{"token": w})
		}
		return nil, nil
	})
}

func lastUserMessage(msgs []aiMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}
