// Package registry implements the Connection Registry (C4): it tracks live
// connections, their subscribed channels, and enforces topic access policy
// at subscribe time. Sharding follows the concurrency model's requirement
// that unrelated connections/channels proceed in parallel, generalizing the
// single global-mutex client map of the teacher's hub into per-shard locks.
package registry

import (
	"hash/fnv"
	"sync"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
)

const shardCount = 32

// DenyReason explains why a subscribe was rejected.
type DenyReason string

const (
	DenyAuthRequired DenyReason = "auth_required"
	DenyForbidden    DenyReason = "forbidden_role"
	DenyUnknownTopic DenyReason = "unknown_topic"
)

// SubscribeResult is the outcome of a subscribe attempt.
type SubscribeResult struct {
	OK     bool
	Reason DenyReason
}

func allowed() SubscribeResult { return SubscribeResult{OK: true} }
func denied(r DenyReason) SubscribeResult {
	return SubscribeResult{OK: false, Reason: r}
}

type shard struct {
	mu sync.RWMutex
	// connections registered to this shard, keyed by connection id.
	connections map[string]*Connection
}

type channelShard struct {
	mu sync.RWMutex
	// subscribers of each channel owned by this shard, keyed by channel name.
	channels map[string]map[string]*Connection
}

// Registry owns the connection→channel and channel→connection indexes.
type Registry struct {
	topics map[string]TopicDef

	connShards    [shardCount]*shard
	channelShards [shardCount]*channelShard
}

// New builds a Registry consulting the given topic table for access policy.
func New(topics map[string]TopicDef) *Registry {
	r := &Registry{topics: topics}
	for i := range r.connShards {
		r.connShards[i] = &shard{connections: make(map[string]*Connection)}
	}
	for i := range r.channelShards {
		r.channelShards[i] = &channelShard{channels: make(map[string]map[string]*Connection)}
	}
	return r
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func (r *Registry) connShard(id string) *shard {
	return r.connShards[shardIndex(id)]
}

func (r *Registry) chanShard(channel string) *channelShard {
	return r.channelShards[shardIndex(channel)]
}

// Register adds a new connection to the registry.
func (r *Registry) Register(c *Connection) {
	s := r.connShard(c.ID)
	s.mu.Lock()
	s.connections[c.ID] = c
	s.mu.Unlock()
}

// Unregister removes a connection and all of its channel subscriptions.
// Idempotent: unregistering an unknown id is a no-op.
func (r *Registry) Unregister(c *Connection) {
	s := r.connShard(c.ID)
	s.mu.Lock()
	delete(s.connections, c.ID)
	s.mu.Unlock()

	for _, ch := range c.Channels() {
		r.unsubscribe(c, ch)
	}
}

// Get looks up a live connection by id.
func (r *Registry) Get(id string) (*Connection, bool) {
	s := r.connShard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[id]
	return c, ok
}

// KnownTopic reports whether topic appears in the topic vocabulary.
func (r *Registry) KnownTopic(topic string) bool {
	_, ok := r.topics[ParentTopic(topic)]
	return ok
}

// policyFor resolves the access policy for a channel by looking up its
// parent topic; returns (policy, known).
func (r *Registry) policyFor(channel string) (Policy, bool) {
	def, ok := r.topics[ParentTopic(channel)]
	if !ok {
		return 0, false
	}
	return def.Policy, true
}

// checkAccess applies a topic's access policy to a connection's principal.
func checkAccess(policy Policy, c *Connection) DenyReason {
	switch policy {
	case PolicyPublic:
		return ""
	case PolicyAuthenticated:
		if c.Principal == nil {
			return DenyAuthRequired
		}
		return ""
	case PolicyAdminOnly:
		if c.Principal == nil {
			return DenyAuthRequired
		}
		if !c.Principal.IsAdmin() {
			return DenyForbidden
		}
		return ""
	default:
		return DenyForbidden
	}
}

// Subscribe adds c to channel if permitted, atomically with the access
// check: either both the membership and policy pass together, or neither
// bookkeeping change happens. A connection already subscribed to channel is
// left subscribed exactly once.
func (r *Registry) Subscribe(c *Connection, channel string) SubscribeResult {
	policy, known := r.policyFor(channel)
	if !known {
		return denied(DenyUnknownTopic)
	}
	if reason := checkAccess(policy, c); reason != "" {
		return denied(reason)
	}

	if c.hasChannel(channel) {
		return allowed()
	}

	cs := r.chanShard(channel)
	cs.mu.Lock()
	subs, ok := cs.channels[channel]
	if !ok {
		subs = make(map[string]*Connection)
		cs.channels[channel] = subs
	}
	subs[c.ID] = c
	cs.mu.Unlock()

	c.addChannel(channel)
	return allowed()
}

// Unsubscribe removes c from channel. Idempotent.
func (r *Registry) Unsubscribe(c *Connection, channel string) {
	r.unsubscribe(c, channel)
}

func (r *Registry) unsubscribe(c *Connection, channel string) {
	cs := r.chanShard(channel)
	cs.mu.Lock()
	if subs, ok := cs.channels[channel]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(cs.channels, channel)
		}
	}
	cs.mu.Unlock()

	c.removeChannel(channel)
}

// ForEachSubscriber invokes fn for every connection currently subscribed to
// channel. fn must not mutate the registry.
func (r *Registry) ForEachSubscriber(channel string, fn func(*Connection)) {
	cs := r.chanShard(channel)
	cs.mu.RLock()
	subs := cs.channels[channel]
	snapshot := make([]*Connection, 0, len(subs))
	for _, c := range subs {
		snapshot = append(snapshot, c)
	}
	cs.mu.RUnlock()

	for _, c := range snapshot {
		fn(c)
	}
}

// ByPrincipal finds a live connection by its authenticated principal id.
// O(n) in the number of connections; used only for admin actions, not hot
// paths.
func (r *Registry) ByPrincipal(principalID string) (*Connection, bool) {
	var found *Connection
	r.ForEachConnection(func(c *Connection) {
		if found == nil && c.PrincipalID() == principalID {
			found = c
		}
	})
	return found, found != nil
}

// ForEachConnection invokes fn for every currently registered connection,
// used for hub-wide broadcasts like server_shutdown that aren't scoped to
// a single channel.
func (r *Registry) ForEachConnection(fn func(*Connection)) {
	for _, s := range r.connShards {
		s.mu.RLock()
		snapshot := make([]*Connection, 0, len(s.connections))
		for _, c := range s.connections {
			snapshot = append(snapshot, c)
		}
		s.mu.RUnlock()
		for _, c := range snapshot {
			fn(c)
		}
	}
}

// SubscriberCount reports how many connections currently subscribe to
// channel.
func (r *Registry) SubscriberCount(channel string) int {
	cs := r.chanShard(channel)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.channels[channel])
}

// JoinRoom records that c has joined contest room id (presence bookkeeping
// only; membership semantics live in the rooms package).
func (r *Registry) JoinRoom(c *Connection, id int64) { c.addRoom(id) }

// LeaveRoom records that c has left contest room id.
func (r *Registry) LeaveRoom(c *Connection, id int64) { c.removeRoom(id) }
