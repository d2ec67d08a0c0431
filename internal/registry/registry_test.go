package registry

import (
	"testing"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
)

func newTestRegistry() *Registry {
	return New(DefaultTopicTable())
}

func guestConn(id string) *Connection {
	return NewConnection(id, nil, 4)
}

func userConn(id, principalID string) *Connection {
	return NewConnection(id, &authn.Principal{ID: principalID, Role: authn.RoleUser}, 4)
}

func adminConn(id, principalID string) *Connection {
	return NewConnection(id, &authn.Principal{ID: principalID, Role: authn.RoleAdmin}, 4)
}

func TestSubscribePublicTopicAllowsGuest(t *testing.T) {
	r := newTestRegistry()
	c := guestConn("c1")
	r.Register(c)

	res := r.Subscribe(c, TopicMarketData)
	if !res.OK {
		t.Fatalf("expected guest to subscribe to public topic, got deny reason %q", res.Reason)
	}
	if r.SubscriberCount(TopicMarketData) != 1 {
		t.Fatalf("expected subscriber count 1")
	}
}

func TestSubscribeAuthenticatedTopicRejectsGuest(t *testing.T) {
	r := newTestRegistry()
	c := guestConn("c1")
	r.Register(c)

	res := r.Subscribe(c, TopicWallet)
	if res.OK || res.Reason != DenyAuthRequired {
		t.Fatalf("expected auth_required deny, got %+v", res)
	}
}

func TestSubscribeAdminTopicRejectsNonAdmin(t *testing.T) {
	r := newTestRegistry()
	c := userConn("c1", "p1")
	r.Register(c)

	res := r.Subscribe(c, TopicAdmin)
	if res.OK || res.Reason != DenyForbidden {
		t.Fatalf("expected forbidden_role deny, got %+v", res)
	}
}

func TestSubscribeAdminTopicAllowsAdmin(t *testing.T) {
	r := newTestRegistry()
	c := adminConn("c1", "p1")
	r.Register(c)

	res := r.Subscribe(c, TopicAdmin)
	if !res.OK {
		t.Fatalf("expected admin to subscribe, got %+v", res)
	}
}

func TestSubscribeUnknownTopicDenied(t *testing.T) {
	r := newTestRegistry()
	c := guestConn("c1")
	r.Register(c)

	res := r.Subscribe(c, "not-a-real-topic")
	if res.OK || res.Reason != DenyUnknownTopic {
		t.Fatalf("expected unknown_topic deny, got %+v", res)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	c := guestConn("c1")
	r.Register(c)

	for i := 0; i < 3; i++ {
		if res := r.Subscribe(c, TopicMarketData); !res.OK {
			t.Fatalf("subscribe attempt %d failed: %+v", i, res)
		}
	}
	if r.SubscriberCount(TopicMarketData) != 1 {
		t.Fatalf("expected exactly one subscriber after repeated subscribe, got %d", r.SubscriberCount(TopicMarketData))
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	c := guestConn("c1")
	r.Register(c)
	r.Subscribe(c, TopicMarketData)

	r.Unsubscribe(c, TopicMarketData)
	r.Unsubscribe(c, TopicMarketData) // second call is a no-op, not an error

	if r.SubscriberCount(TopicMarketData) != 0 {
		t.Fatalf("expected zero subscribers after unsubscribe")
	}
}

func TestUnregisterRemovesAllSubscriptions(t *testing.T) {
	r := newTestRegistry()
	c := guestConn("c1")
	r.Register(c)
	r.Subscribe(c, TopicMarketData)
	r.Subscribe(c, TopicContest)

	r.Unregister(c)

	if _, ok := r.Get(c.ID); ok {
		t.Fatalf("expected connection to be gone after unregister")
	}
	if r.SubscriberCount(TopicMarketData) != 0 || r.SubscriberCount(TopicContest) != 0 {
		t.Fatalf("expected unregister to clean up all channel subscriptions")
	}
}

func TestUnregisterUnknownIsNoOp(t *testing.T) {
	r := newTestRegistry()
	c := guestConn("ghost")
	r.Unregister(c) // never registered; must not panic
}

func TestForEachSubscriberVisitsOnlySubscribed(t *testing.T) {
	r := newTestRegistry()
	a := guestConn("a")
	b := guestConn("b")
	r.Register(a)
	r.Register(b)
	r.Subscribe(a, TopicMarketData)

	seen := map[string]bool{}
	r.ForEachSubscriber(TopicMarketData, func(c *Connection) { seen[c.ID] = true })

	if len(seen) != 1 || !seen["a"] {
		t.Fatalf("expected only connection a to be visited, got %v", seen)
	}
}

func TestByPrincipalFindsAuthenticatedConnection(t *testing.T) {
	r := newTestRegistry()
	c := userConn("c1", "principal-42")
	r.Register(c)

	found, ok := r.ByPrincipal("principal-42")
	if !ok || found.ID != "c1" {
		t.Fatalf("expected to find connection by principal id")
	}

	if _, ok := r.ByPrincipal("nobody"); ok {
		t.Fatalf("expected no match for unknown principal")
	}
}

func TestDynamicChannelInheritsParentPolicy(t *testing.T) {
	r := newTestRegistry()
	c := guestConn("c1")
	r.Register(c)

	res := r.Subscribe(c, "contest.42")
	if !res.OK {
		t.Fatalf("expected dynamic channel contest.42 to inherit contest's public policy, got %+v", res)
	}
}
