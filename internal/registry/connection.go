package registry

import (
	"sync"
	"time"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/envelope"
)

// DefaultQueueDepth bounds a connection's outbound queue. Exceeding it marks
// a slow-consumer drop rather than blocking the broadcaster.
const DefaultQueueDepth = 64

// Connection is the hub's record of one live duplex transport. It is never
// shared across goroutines without going through its own methods or the
// Registry that owns it.
type Connection struct {
	ID        string
	Principal *authn.Principal // nil for an unauthenticated guest
	CreatedAt time.Time

	Send chan envelope.Outbound

	mu               sync.Mutex
	lastActivity     time.Time
	channels         map[string]struct{}
	rooms            map[int64]struct{}
	slowConsumerHits int
	closed           bool
}

// NewConnection creates a Connection record. principal is nil for guests.
func NewConnection(id string, principal *authn.Principal, queueDepth int) *Connection {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	now := time.Now()
	return &Connection{
		ID:           id,
		Principal:    principal,
		CreatedAt:    now,
		Send:         make(chan envelope.Outbound, queueDepth),
		lastActivity: now,
		channels:     make(map[string]struct{}),
		rooms:        make(map[int64]struct{}),
	}
}

// Role returns the connection's role, defaulting to guest when unauthenticated.
func (c *Connection) Role() authn.Role {
	if c.Principal == nil {
		return authn.RoleGuest
	}
	return c.Principal.Role
}

// PrincipalID returns the connection's principal id, or "" for a guest.
func (c *Connection) PrincipalID() string {
	if c.Principal == nil {
		return ""
	}
	return c.Principal.ID
}

// Touch records activity, resetting the idle timer.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// IdleSince reports how long it has been since the last client activity.
func (c *Connection) IdleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// Enqueue attempts a non-blocking send to the connection's outbound queue.
// It reports whether the message was enqueued; callers are responsible for
// counting drops toward the slow-consumer threshold.
func (c *Connection) Enqueue(msg envelope.Outbound) bool {
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// RecordSlowConsumerDrop increments the drop counter and reports whether the
// connection has now reached the slow-consumer threshold K.
func (c *Connection) RecordSlowConsumerDrop(threshold int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slowConsumerHits++
	return c.slowConsumerHits >= threshold
}

// ResetSlowConsumer clears the drop streak after a successful enqueue.
func (c *Connection) ResetSlowConsumer() {
	c.mu.Lock()
	c.slowConsumerHits = 0
	c.mu.Unlock()
}

func (c *Connection) addChannel(ch string) {
	c.mu.Lock()
	c.channels[ch] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) removeChannel(ch string) {
	c.mu.Lock()
	delete(c.channels, ch)
	c.mu.Unlock()
}

func (c *Connection) hasChannel(ch string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[ch]
	return ok
}

// Channels returns a snapshot of subscribed channel names.
func (c *Connection) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

func (c *Connection) addRoom(id int64) {
	c.mu.Lock()
	c.rooms[id] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) removeRoom(id int64) {
	c.mu.Lock()
	delete(c.rooms, id)
	c.mu.Unlock()
}

// Rooms returns a snapshot of the contest ids this connection has joined.
func (c *Connection) Rooms() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// MarkClosed reports whether this is the first call to MarkClosed, so
// callers can make connection teardown idempotent.
func (c *Connection) MarkClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}
