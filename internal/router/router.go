// Package router implements the Topic Router & Request Dispatcher (C5): it
// maps {topic, action} to a registered handler, serializes per-requestId
// responses, and supports streamed chunked replies.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/breaker"
	"github.com/BranchManager69/degenduel-sub003/internal/envelope"
	"github.com/BranchManager69/degenduel-sub003/internal/registry"
)

// Emit streams one chunk of a streaming response.
type Emit func(chunk any)

// Handler handles one REQUEST. If it returns (resp, nil) with emit unused,
// the router sends a single RESPONSE. A handler that calls emit one or more
// times is treated as streaming: the router sends DATA{stream-chunk} for
// each call and DATA{stream-complete} once the handler returns a nil error
// (the returned resp is then ignored). A non-nil error is sent as ERROR,
// whether or not chunks were emitted.
type Handler func(ctx context.Context, principal *authn.Principal, data json.RawMessage, emit Emit) (any, error)

// key identifies one entry in the handler table.
type key struct {
	topic  string
	action string
}

// Table is the runtime (topic, action) -> Handler table. Registration is
// static at startup (built by a wiring module) but the router treats it as
// opaque data, never assuming compile-time knowledge of its contents.
type Table struct {
	handlers map[key]Handler
}

// NewTable builds an empty handler table.
func NewTable() *Table {
	return &Table{handlers: make(map[key]Handler)}
}

// Register adds a handler for (topic, action).
func (t *Table) Register(topic, action string, h Handler) {
	t.handlers[key{topic, action}] = h
}

func (t *Table) lookup(topic, action string) (Handler, bool) {
	h, ok := t.handlers[key{topic, action}]
	return h, ok
}

// RequestDeadline is the default per-request deadline, per spec.md §5.
const RequestDeadline = 30 * time.Second

// Dependency is consulted to reject requests against a service whose
// breaker is open, surfacing Dependency errors with a retryAfter hint.
type Dependency interface {
	// ServiceForTopic maps a topic to the backend service name whose
	// breaker should gate it, or "" if the topic has no breaker gate.
	ServiceForTopic(topic string) string
	Breaker(service string) (*breaker.ServiceBreaker, bool)
}

// Sender is the narrow connection surface the router writes replies to.
type Sender interface {
	Enqueue(envelope.Outbound) bool
}

// Router dispatches inbound messages for one connection at a time in
// receipt order; handler invocation itself may run concurrently across
// connections (each call below is made from that connection's own inbound
// goroutine in the hub).
type Router struct {
	table *Table
	reg   *registry.Registry
	dep   Dependency
}

// New builds a Router.
func New(table *Table, reg *registry.Registry, dep Dependency) *Router {
	return &Router{table: table, reg: reg, dep: dep}
}

// Dispatch handles one inbound message from conn, writing zero or more
// outbound envelopes to conn.Send. It never blocks on socket I/O itself.
func (r *Router) Dispatch(ctx context.Context, conn *registry.Connection, in envelope.Inbound) {
	switch in.Type {
	case envelope.TypeSubscribe:
		r.handleSubscribe(conn, in)
	case envelope.TypeUnsubscribe:
		r.handleUnsubscribe(conn, in)
	case envelope.TypeRequest:
		r.handleRequest(ctx, conn, in)
	case envelope.TypePing:
		conn.Touch()
		conn.Enqueue(envelope.Pong())
	default:
		conn.Enqueue(envelope.Error(envelope.CodeProtocol, "unknown message type", in.RequestID))
	}
}

func (r *Router) handleSubscribe(conn *registry.Connection, in envelope.Inbound) {
	channel := in.Topic
	result := r.reg.Subscribe(conn, channel)
	if !result.OK {
		conn.Enqueue(envelope.Error(denyCode(result.Reason), "subscribe denied", in.RequestID))
		return
	}
	conn.Enqueue(envelope.Ack(channel, "subscribed"))
}

func (r *Router) handleUnsubscribe(conn *registry.Connection, in envelope.Inbound) {
	r.reg.Unsubscribe(conn, in.Topic)
	conn.Enqueue(envelope.Ack(in.Topic, "unsubscribed"))
}

// recordHandlerPanic feeds an unhandled handler panic into the owning
// service's breaker as a failure, per spec.md §7: "Unhandled panics inside
// a handler mark the owning service failed and increment its breaker."
func (r *Router) recordHandlerPanic(ctx context.Context, topic string, cause error) {
	if r.dep == nil {
		return
	}
	svc := r.dep.ServiceForTopic(topic)
	if svc == "" {
		return
	}
	if sb, ok := r.dep.Breaker(svc); ok {
		_ = sb.Call(ctx, func() error { return cause })
	}
}

func denyCode(reason registry.DenyReason) string {
	switch reason {
	case registry.DenyAuthRequired:
		return envelope.CodeAuthRequired
	case registry.DenyUnknownTopic:
		return envelope.CodeUnknownTopic
	default:
		return envelope.CodeForbidden
	}
}

func (r *Router) handleRequest(ctx context.Context, conn *registry.Connection, in envelope.Inbound) {
	if r.dep != nil {
		if svc := r.dep.ServiceForTopic(in.Topic); svc != "" {
			if sb, ok := r.dep.Breaker(svc); ok && sb.IsOpen() {
				conn.Enqueue(envelope.ErrorWithRetry(envelope.CodeServiceUnavailable,
					fmt.Sprintf("%s is currently unavailable", svc), in.RequestID,
					int(sb.RecoveryTimeout().Seconds())))
				return
			}
		}
	}

	h, ok := r.table.lookup(in.Topic, in.Action)
	if !ok {
		if !r.reg.KnownTopic(in.Topic) {
			conn.Enqueue(envelope.Error(envelope.CodeUnknownTopic, "unknown topic", in.RequestID))
			return
		}
		conn.Enqueue(envelope.Error(envelope.CodeUnknownAction, "unknown action", in.RequestID))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, RequestDeadline)
	defer cancel()

	emit := func(chunk any) {
		conn.Enqueue(envelope.StreamChunk(in.Topic, in.RequestID, chunk))
	}

	streamed := false
	wrappedEmit := func(chunk any) {
		streamed = true
		emit(chunk)
	}

	resultCh := make(chan struct {
		resp any
		err  error
	}, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("handler panic: %v", rec)
				r.recordHandlerPanic(reqCtx, in.Topic, err)
				resultCh <- struct {
					resp any
					err  error
				}{nil, err}
			}
		}()
		resp, err := h(reqCtx, conn.Principal, in.Data, wrappedEmit)
		resultCh <- struct {
			resp any
			err  error
		}{resp, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			conn.Enqueue(envelope.Error(envelope.CodeInternal, res.err.Error(), in.RequestID))
			return
		}
		if streamed {
			conn.Enqueue(envelope.StreamComplete(in.Topic, in.RequestID))
			return
		}
		conn.Enqueue(envelope.Response(in.Topic, in.RequestID, res.resp))
	case <-reqCtx.Done():
		conn.Enqueue(envelope.Error(envelope.CodeTimeout, "request deadline exceeded", in.RequestID))
	}
}
