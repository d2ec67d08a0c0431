package broadcast

import (
	"testing"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/envelope"
	"github.com/BranchManager69/degenduel-sub003/internal/registry"
)

type fakeDisconnector struct {
	disconnected []string
}

func (f *fakeDisconnector) Disconnect(c *registry.Connection, reason string) {
	f.disconnected = append(f.disconnected, c.ID)
}

func setup(queueDepth int) (*registry.Registry, *fakeDisconnector, *Broadcaster) {
	reg := registry.New(registry.DefaultTopicTable())
	dc := &fakeDisconnector{}
	b := New(reg, dc)
	return reg, dc, b
}

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	reg, _, b := setup(4)
	a := registry.NewConnection("a", nil, 4)
	c := registry.NewConnection("b", nil, 4)
	reg.Register(a)
	reg.Register(c)
	reg.Subscribe(a, registry.TopicMarketData)
	reg.Subscribe(c, registry.TopicMarketData)

	b.Broadcast(registry.TopicMarketData, envelope.Data(registry.TopicMarketData, "tick", "", 1))

	for _, conn := range []*registry.Connection{a, c} {
		select {
		case msg := <-conn.Send:
			if msg.Topic != registry.TopicMarketData {
				t.Fatalf("expected topic to be stamped on the outbound envelope")
			}
		default:
			t.Fatalf("expected connection %s to receive the broadcast", conn.ID)
		}
	}
}

func TestBroadcastToFiltersByPrincipal(t *testing.T) {
	reg, _, b := setup(4)
	alice := registry.NewConnection("alice-conn", &authn.Principal{ID: "alice", Role: authn.RoleUser}, 4)
	bob := registry.NewConnection("bob-conn", &authn.Principal{ID: "bob", Role: authn.RoleUser}, 4)
	reg.Register(alice)
	reg.Register(bob)
	reg.Subscribe(alice, registry.TopicWallet)
	reg.Subscribe(bob, registry.TopicWallet)

	b.BroadcastTo(registry.TopicWallet, envelope.Data(registry.TopicWallet, "balance", "", 100), Target{PrincipalID: "alice"})

	select {
	case <-alice.Send:
	default:
		t.Fatalf("expected alice to receive the targeted broadcast")
	}
	select {
	case <-bob.Send:
		t.Fatalf("expected bob to be excluded from the targeted broadcast")
	default:
	}
}

func TestBroadcastEvictsSlowConsumer(t *testing.T) {
	reg, dc, b := setup(1)
	c := registry.NewConnection("slow", nil, 1)
	reg.Register(c)
	reg.Subscribe(c, registry.TopicMarketData)

	msg := envelope.Data(registry.TopicMarketData, "tick", "", 1)
	// Fill the single-slot queue, then keep broadcasting past the threshold.
	for i := 0; i < SlowConsumerThreshold+1; i++ {
		b.Broadcast(registry.TopicMarketData, msg)
	}

	if len(dc.disconnected) != 1 || dc.disconnected[0] != "slow" {
		t.Fatalf("expected slow consumer to be disconnected exactly once, got %v", dc.disconnected)
	}
}

func TestBroadcastResetsSlowConsumerOnSuccess(t *testing.T) {
	reg, dc, b := setup(1)
	c := registry.NewConnection("recovering", nil, 1)
	reg.Register(c)
	reg.Subscribe(c, registry.TopicMarketData)

	msg := envelope.Data(registry.TopicMarketData, "tick", "", 1)

	// First send fills the queue; drop it SlowConsumerThreshold-1 times
	// (not yet enough to trip eviction), then drain and send successfully,
	// which must reset the streak.
	b.Broadcast(registry.TopicMarketData, msg) // succeeds, queue now full
	for i := 0; i < SlowConsumerThreshold-1; i++ {
		b.Broadcast(registry.TopicMarketData, msg) // dropped: queue still full
	}
	<-c.Send                                // drain
	b.Broadcast(registry.TopicMarketData, msg) // succeeds again, resets the streak

	for i := 0; i < SlowConsumerThreshold-1; i++ {
		b.Broadcast(registry.TopicMarketData, msg) // dropped again, but streak restarted
	}

	if len(dc.disconnected) != 0 {
		t.Fatalf("expected no disconnect: the successful send should have reset the drop streak, got %v", dc.disconnected)
	}
}
