package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/breaker"
	"github.com/BranchManager69/degenduel-sub003/internal/broadcast"
	"github.com/BranchManager69/degenduel-sub003/internal/envelope"
	"github.com/BranchManager69/degenduel-sub003/internal/registry"
	"github.com/BranchManager69/degenduel-sub003/internal/rooms"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
	"github.com/BranchManager69/degenduel-sub003/internal/supervisor"
	"github.com/BranchManager69/degenduel-sub003/pkg/logging"
)

func newTestRouter() (*router.Router, *router.Table, *registry.Registry) {
	table := router.NewTable()
	reg := registry.New(registry.DefaultTopicTable())
	return router.New(table, reg, nil), table, reg
}

func request(t *testing.T, r *router.Router, c *registry.Connection, topic, action string, payload any) envelope.Outbound {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request payload: %v", err)
	}
	r.Dispatch(context.Background(), c, envelope.Inbound{Type: envelope.TypeRequest, Topic: topic, Action: action, RequestID: "req-1", Data: data})
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a response to %s/%s", topic, action)
		return envelope.Outbound{}
	}
}

func authedConn(reg *registry.Registry, id string, role authn.Role) *registry.Connection {
	c := registry.NewConnection(id, &authn.Principal{ID: id, Role: role}, 8)
	reg.Register(c)
	return c
}

func guestConn(reg *registry.Registry, id string) *registry.Connection {
	c := registry.NewConnection(id, nil, 8)
	reg.Register(c)
	return c
}

type fakeWalletBalancer struct{ balance map[string]any }

func (f *fakeWalletBalancer) Balance(ctx context.Context, principalID string) (map[string]any, error) {
	return f.balance, nil
}

type fakeMarketDataSource struct{}

func (fakeMarketDataSource) Quote(ctx context.Context, symbol string) (map[string]any, error) {
	return map[string]any{"symbol": symbol, "price": 1.23}, nil
}

type fakePortfolioReader struct{ holdings []string }

func (f *fakePortfolioReader) Holdings(ctx context.Context, principalID string) (any, error) {
	return f.holdings, nil
}

func TestRegisterWalletRequiresAuth(t *testing.T) {
	r, table, reg := newTestRouter()
	RegisterWallet(table, &fakeWalletBalancer{})
	c := guestConn(reg, "c1")

	msg := request(t, r, c, "wallet", "getBalance", nil)
	if msg.Error == nil || msg.Error.Code != envelope.CodeInternal {
		t.Fatalf("expected an auth error surfaced as internal, got %+v", msg)
	}
}

func TestRegisterWalletReturnsBalanceForAuthedPrincipal(t *testing.T) {
	r, table, reg := newTestRouter()
	RegisterWallet(table, &fakeWalletBalancer{balance: map[string]any{"sol": "1.5"}})
	c := authedConn(reg, "p1", authn.RoleUser)

	msg := request(t, r, c, "wallet", "getBalance", nil)
	if msg.Type != envelope.TypeResponse {
		t.Fatalf("expected a response, got %+v", msg)
	}
}

func TestRegisterMarketReturnsQuoteWithoutAuth(t *testing.T) {
	r, table, reg := newTestRouter()
	RegisterMarket(table, fakeMarketDataSource{})
	c := guestConn(reg, "c1")

	msg := request(t, r, c, "market-data", "getQuote", map[string]string{"symbol": "SOL"})
	if msg.Type != envelope.TypeResponse {
		t.Fatalf("expected market data to be public, got %+v", msg)
	}
}

func TestRegisterPortfolioRequiresAuth(t *testing.T) {
	r, table, reg := newTestRouter()
	RegisterPortfolio(table, &fakePortfolioReader{})
	c := guestConn(reg, "c1")

	msg := request(t, r, c, "portfolio", "getHoldings", nil)
	if msg.Error == nil {
		t.Fatalf("expected an auth error for a guest requesting holdings")
	}
}

func TestRegisterUserWhoAmIReturnsPrincipal(t *testing.T) {
	r, table, reg := newTestRouter()
	RegisterUser(table)
	c := authedConn(reg, "p1", authn.RoleUser)

	msg := request(t, r, c, "user", "whoAmI", nil)
	body, ok := msg.Data.(map[string]any)
	if !ok || body["principalId"] != "p1" {
		t.Fatalf("expected whoAmI to echo the principal id, got %+v", msg.Data)
	}
}

func TestRegisterAdminRejectsNonAdmin(t *testing.T) {
	r, table, reg := newTestRouter()
	sup := supervisor.New(logging.NewLogger(), nil, nil, time.Second)
	RegisterAdmin(table, sup)
	c := authedConn(reg, "p1", authn.RoleUser)

	msg := request(t, r, c, "admin", "serviceState", map[string]string{"service": "wallet-svc"})
	if msg.Error == nil {
		t.Fatalf("expected forbidden error for a non-admin principal")
	}
}

func TestRegisterAdminReturnsServiceState(t *testing.T) {
	r, table, reg := newTestRouter()
	sup := supervisor.New(logging.NewLogger(), nil, nil, time.Second)
	sup.Register("wallet-svc", nil, supervisor.Hooks{})
	RegisterAdmin(table, sup)
	c := authedConn(reg, "admin-1", authn.RoleAdmin)

	msg := request(t, r, c, "admin", "serviceState", map[string]string{"service": "wallet-svc"})
	body, ok := msg.Data.(map[string]any)
	if !ok || body["state"] != "registered" {
		t.Fatalf("expected registered service state, got %+v", msg.Data)
	}
}

func TestRegisterMonitorReturnsSnapshotForAdmin(t *testing.T) {
	r, table, reg := newTestRouter()
	sup := supervisor.New(logging.NewLogger(), nil, nil, time.Second)
	RegisterMonitor(table, sup)
	c := authedConn(reg, "admin-1", authn.RoleAdmin)

	msg := request(t, r, c, "monitor", "snapshot", nil)
	if msg.Type != envelope.TypeResponse {
		t.Fatalf("expected a response for an admin snapshot request, got %+v", msg)
	}
}

func TestRegisterCircuitBreakerManualResetRequiresForceForNonSuperadmin(t *testing.T) {
	r, table, reg := newTestRouter()
	manager := breaker.NewManager(nil, nil, logging.NewLogger())
	manager.Register(context.Background(), "wallet-svc")
	RegisterCircuitBreaker(table, manager)
	c := authedConn(reg, "admin-1", authn.RoleAdmin)

	msg := request(t, r, c, "circuit-breaker", "manualReset", map[string]any{"service": "wallet-svc", "force": false})
	if msg.Error == nil {
		t.Fatalf("expected an error requiring force=true for a non-superadmin manual reset")
	}
}

func TestRegisterCircuitBreakerManualResetSucceedsWithForce(t *testing.T) {
	r, table, reg := newTestRouter()
	manager := breaker.NewManager(nil, nil, logging.NewLogger())
	manager.Register(context.Background(), "wallet-svc")
	RegisterCircuitBreaker(table, manager)
	c := authedConn(reg, "admin-1", authn.RoleAdmin)

	msg := request(t, r, c, "circuit-breaker", "manualReset", map[string]any{"service": "wallet-svc", "force": true})
	if msg.Error != nil {
		t.Fatalf("expected manual reset to succeed with force=true, got %+v", msg)
	}
}

func TestRegisterContestJoinAndChat(t *testing.T) {
	r, table, reg := newTestRouter()
	bcast := broadcast.New(reg, nil)
	engine := rooms.New(rooms.Config{ChatHistoryCapacity: 10, MaxChatMessageLen: 100, ChatWindowLimit: 10, ChatWindow: time.Minute},
		alwaysParticipant{}, bcast)
	RegisterContest(table, engine, reg)
	c := authedConn(reg, "p1", authn.RoleUser)

	joinMsg := request(t, r, c, "contest", "join", map[string]any{"contestId": 1})
	if joinMsg.Error != nil {
		t.Fatalf("unexpected error joining contest: %+v", joinMsg)
	}

	chatMsg := request(t, r, c, "contest", "chat", map[string]any{"contestId": 1, "text": "gl hf"})
	if chatMsg.Error != nil {
		t.Fatalf("unexpected error sending chat: %+v", chatMsg)
	}
}

type alwaysParticipant struct{}

func (alwaysParticipant) IsParticipant(contestID int64, principalID string) bool { return true }
