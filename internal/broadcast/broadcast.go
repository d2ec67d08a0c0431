// Package broadcast implements the Broadcaster (C7): fan-out of envelopes
// to a channel's subscribers, generalizing the teacher hub's
// broadcastMessage (which matched clients by a flat channel-membership
// list) into role/principal-targeted sends with slow-consumer eviction.
package broadcast

import (
	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/envelope"
	"github.com/BranchManager69/degenduel-sub003/internal/registry"
)

// SlowConsumerThreshold is the number of consecutive dropped enqueues (K)
// after which a subscriber is disconnected.
const SlowConsumerThreshold = 5

// Disconnector closes a connection with a reason; implemented by the hub.
type Disconnector interface {
	Disconnect(c *registry.Connection, reason string)
}

// Target narrows a broadcast to a subset of a channel's subscribers.
type Target struct {
	Role        authn.Role // zero value means "any role"
	PrincipalID string     // empty means "any principal"
}

func (t Target) matches(c *registry.Connection) bool {
	if t.Role != "" && c.Role() != t.Role {
		return false
	}
	if t.PrincipalID != "" && c.PrincipalID() != t.PrincipalID {
		return false
	}
	return true
}

// Broadcaster fans envelopes out to channel subscribers. It never performs
// socket I/O itself: it only enqueues onto each connection's outbound
// queue, which the hub's per-connection writer goroutine drains.
type Broadcaster struct {
	reg *registry.Registry
	dc  Disconnector
}

// New builds a Broadcaster over reg, using dc to evict slow consumers.
func New(reg *registry.Registry, dc Disconnector) *Broadcaster {
	return &Broadcaster{reg: reg, dc: dc}
}

// Broadcast enqueues msg to every subscriber of channel. Ordering within a
// channel is FIFO with respect to the order Broadcast is called; ordering
// across channels is not preserved.
func (b *Broadcaster) Broadcast(channel string, msg envelope.Outbound) {
	b.broadcastFiltered(channel, msg, nil)
}

// BroadcastTo enqueues msg only to channel subscribers matching target.
func (b *Broadcaster) BroadcastTo(channel string, msg envelope.Outbound, target Target) {
	b.broadcastFiltered(channel, msg, &target)
}

func (b *Broadcaster) broadcastFiltered(channel string, msg envelope.Outbound, target *Target) {
	msg.Topic = channel
	b.reg.ForEachSubscriber(channel, func(c *registry.Connection) {
		if target != nil && !target.matches(c) {
			return
		}
		b.deliver(c, msg)
	})
}

func (b *Broadcaster) deliver(c *registry.Connection, msg envelope.Outbound) {
	if c.Enqueue(msg) {
		c.ResetSlowConsumer()
		return
	}
	if c.RecordSlowConsumerDrop(SlowConsumerThreshold) && b.dc != nil {
		b.dc.Disconnect(c, "slow_consumer")
	}
}
