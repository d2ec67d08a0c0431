// Package hub implements the Hub Entry Point (C10): owns the HTTP upgrade
// path, composes C1-C9, and drives connection lifecycle. The read/write
// pump shape — ping/pong keepalive, bounded read size, serialized
// per-connection writer — is carried nearly verbatim
// from api_realtime/internal/websocket/hub.go, generalized from a single
// implicit "all clients" broadcast model into the topic/channel/room model
// the rest of this package composes. Connections are added to and removed
// from the registry by direct calls rather than through channels.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/broadcast"
	"github.com/BranchManager69/degenduel-sub003/internal/envelope"
	"github.com/BranchManager69/degenduel-sub003/internal/ratelimit"
	"github.com/BranchManager69/degenduel-sub003/internal/registry"
	"github.com/BranchManager69/degenduel-sub003/internal/router"
	"github.com/BranchManager69/degenduel-sub003/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	defaultMaxSize = 5 * 1024 * 1024 // 5 MiB, per spec.md's default payload cap
)

// Config tunes the hub's limits. cmd/hub passes DefaultConfig unchanged.
// IdleTimeout is not read: idle connections are detected by the fixed
// pongWait read deadline.
type Config struct {
	MaxPayloadBytes   int64
	IdleTimeout       time.Duration
	ShutdownGrace     time.Duration
	BucketCapacity    float64
	BucketRefillPerSec float64
}

// DefaultConfig returns the hub's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{
		MaxPayloadBytes:    defaultMaxSize,
		IdleTimeout:        90 * time.Second,
		ShutdownGrace:      5 * time.Second,
		BucketCapacity:     20,
		BucketRefillPerSec: 5,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns the registry, router, and verifier, and drives every
// connection's lifecycle.
type Hub struct {
	cfg      Config
	reg      *registry.Registry
	rt       *router.Router
	verifier *authn.Verifier
	bcast    *broadcast.Broadcaster
	logger   logging.Logger

	buckets sync.Map // connection id -> *ratelimit.Bucket

	mu          sync.Mutex
	shuttingDown bool
}

// New builds a Hub. bcast is held only so Broadcaster can expose it to
// wiring code; Shutdown enqueues server_shutdown on each connection
// directly and Disconnect closes the connection's Send channel.
func New(cfg Config, reg *registry.Registry, rt *router.Router, verifier *authn.Verifier, bcast *broadcast.Broadcaster, logger logging.Logger) *Hub {
	return &Hub{cfg: cfg, reg: reg, rt: rt, verifier: verifier, bcast: bcast, logger: logger}
}

// extractCredential parses a bearer credential from header, cookie, or
// query parameter, in that preference order, per spec.md §4.9.
func extractCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := r.Cookie("session_token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// ServeWS upgrades the HTTP connection, authenticates it, registers it, and
// spawns its read/write pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	down := h.shuttingDown
	h.mu.Unlock()
	if down {
		http.Error(w, "hub shutting down", http.StatusServiceUnavailable)
		return
	}

	var principal *authn.Principal
	if cred := extractCredential(r); cred != "" {
		p, err := h.verifier.VerifySession(cred)
		if err != nil {
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}
		principal = &p
	}

	isService := false
	if svc := r.Header.Get("X-Service-Auth"); svc != "" {
		if err := h.verifier.VerifyServiceHeader(svc); err != nil {
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}
		isService = true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.WithFields(logging.Fields{"error": err.Error()}).Warn("websocket upgrade failed")
		}
		return
	}

	c := registry.NewConnection(uuid.New().String(), principal, registry.DefaultQueueDepth)
	h.reg.Register(c)
	h.buckets.Store(c.ID, ratelimit.NewBucket(h.cfg.BucketCapacity, h.cfg.BucketRefillPerSec))

	role := c.Role()
	welcome := envelope.Data("", "welcome", "", map[string]any{
		"connectionId": c.ID,
		"role":         string(role),
		"capabilities": authn.CapabilitiesFor(role, isService),
	})
	c.Enqueue(welcome)

	go h.writePump(conn, c)
	go h.readPump(conn, c)
}

// Registry exposes the connection registry for wiring handlers that need
// to look up connections directly (e.g. targeted sends by principal id).
func (h *Hub) Registry() *registry.Registry { return h.reg }

// Broadcaster exposes the shared broadcaster so room/service wiring code
// publishes through the same fan-out path the hub itself uses.
func (h *Hub) Broadcaster() *broadcast.Broadcaster { return h.bcast }

func (h *Hub) bucketFor(connID string) *ratelimit.Bucket {
	v, _ := h.buckets.Load(connID)
	b, _ := v.(*ratelimit.Bucket)
	return b
}

// readPump reads one connection's inbound frames in order, serializing
// dispatch for that connection; it never blocks on another connection.
func (h *Hub) readPump(wsConn *websocket.Conn, c *registry.Connection) {
	defer h.teardown(wsConn, c)

	wsConn.SetReadLimit(h.cfg.MaxPayloadBytes)
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		c.Touch()
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := context.Background()
	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		c.Touch()

		var in envelope.Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			c.Enqueue(envelope.Error(envelope.CodeProtocol, "malformed frame", ""))
			continue
		}

		bucket := h.bucketFor(c.ID)
		if bucket != nil && !bucket.TryAcquire() {
			c.Enqueue(envelope.Error(envelope.CodeRateLimit, "rate limit exceeded", in.RequestID))
			continue
		}

		h.rt.Dispatch(ctx, c, in)
	}
}

// writePump serializes every outbound write for one connection, including
// the periodic ping keepalive, mirroring the write pump of the teacher hub.
// Each queued message is written as its own frame.
func (h *Hub) writePump(wsConn *websocket.Conn, c *registry.Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = wsConn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := wsConn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Disconnect implements broadcast.Disconnector: closing the connection from
// the outside (slow consumer, server shutdown) is done by closing its
// outbound channel, which unblocks writePump.
func (h *Hub) Disconnect(c *registry.Connection, reason string) {
	if !c.MarkClosed() {
		return
	}
	if h.logger != nil {
		h.logger.WithFields(logging.Fields{"connection": c.ID, "reason": reason}).Info("disconnecting connection")
	}
	close(c.Send)
}

func (h *Hub) teardown(wsConn *websocket.Conn, c *registry.Connection) {
	h.reg.Unregister(c)
	h.buckets.Delete(c.ID)
	if c.MarkClosed() {
		close(c.Send)
	}
	_ = wsConn.Close()
}

// Shutdown stops accepting new upgrades (the caller must stop routing to
// ServeWS separately), announces server_shutdown to every live connection,
// waits the configured grace period, then force-closes whatever sockets are
// still open.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.shuttingDown = true
	h.mu.Unlock()

	msg := envelope.Data("", "server_shutdown", "", nil)
	h.reg.ForEachConnection(func(c *registry.Connection) {
		c.Enqueue(msg)
	})

	select {
	case <-ctx.Done():
	case <-time.After(h.cfg.ShutdownGrace):
	}

	h.reg.ForEachConnection(func(c *registry.Connection) {
		h.Disconnect(c, "server_shutdown")
	})
}
