// Package envelope defines the canonical JSON message shape crossing the
// hub's wire protocol, in both directions.
package envelope

import (
	"encoding/json"
	"time"
)

// Type is the top-level discriminator for every message crossing the wire.
type Type string

const (
	TypeData        Type = "DATA"
	TypeError       Type = "ERROR"
	TypeAck         Type = "ACK"
	TypeRequest     Type = "REQUEST"
	TypeResponse    Type = "RESPONSE"
	TypeSubscribe   Type = "SUBSCRIBE"
	TypeUnsubscribe Type = "UNSUBSCRIBE"
	TypePing        Type = "PING"
	TypePong        Type = "PONG"
)

// Error codes carried in an Outbound's Error field.
const (
	CodeAuthRequired      = "auth_required"
	CodeForbidden         = "forbidden"
	CodeRateLimit         = "rate_limit"
	CodeUnknownTopic      = "unknown_topic"
	CodeUnknownAction     = "unknown_action"
	CodeProtocol          = "protocol"
	CodePayloadTooLarge   = "payload_too_large"
	CodeTimeout           = "timeout"
	CodeInternal          = "internal"
	CodeServiceUnavailable = "service_unavailable"
)

// Inbound is a message received from a client. Only the fields relevant to
// its Type are populated; the router validates shape per Type.
type Inbound struct {
	Type      Type            `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Action    string          `json:"action,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload is the body of an ERROR envelope.
type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Outbound is a message sent to a client. Timestamp is always set by the
// constructors below; callers should not set it directly.
type Outbound struct {
	Type      Type          `json:"type"`
	Topic     string        `json:"topic,omitempty"`
	Subtype   string        `json:"subtype,omitempty"`
	Action    string        `json:"action,omitempty"`
	RequestID string        `json:"requestId,omitempty"`
	Data      any           `json:"data,omitempty"`
	Error     *ErrorPayload `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func now() time.Time { return time.Now().UTC() }

// Data builds a DATA envelope for the given topic.
func Data(topic, action string, requestID string, payload any) Outbound {
	return Outbound{
		Type:      TypeData,
		Topic:     topic,
		Action:    action,
		RequestID: requestID,
		Data:      payload,
		Timestamp: now(),
	}
}

// Response builds a single-shot RESPONSE envelope for a REQUEST.
func Response(topic, requestID string, payload any) Outbound {
	return Outbound{
		Type:      TypeResponse,
		Topic:     topic,
		RequestID: requestID,
		Data:      payload,
		Timestamp: now(),
	}
}

// Ack builds an ACK envelope, used to confirm SUBSCRIBE/UNSUBSCRIBE.
func Ack(topic, subtype string) Outbound {
	return Outbound{
		Type:      TypeAck,
		Topic:     topic,
		Subtype:   subtype,
		Timestamp: now(),
	}
}

// Error builds an ERROR envelope, optionally echoing a requestId.
func Error(code, message, requestID string) Outbound {
	return Outbound{
		Type:      TypeError,
		RequestID: requestID,
		Error:     &ErrorPayload{Code: code, Message: message},
		Timestamp: now(),
	}
}

// ErrorWithRetry builds an ERROR envelope carrying a retryAfter hint, used
// for Dependency errors (open breaker) per spec.
func ErrorWithRetry(code, message, requestID string, retryAfterSeconds int) Outbound {
	out := Error(code, message, requestID)
	out.Error.RetryAfter = retryAfterSeconds
	return out
}

// Pong builds a PONG envelope in reply to a client PING.
func Pong() Outbound {
	return Outbound{Type: TypePong, Timestamp: now()}
}

// StreamChunk marks one chunk of a streaming RESPONSE.
func StreamChunk(topic, requestID string, payload any) Outbound {
	o := Data(topic, "stream-chunk", requestID, payload)
	return o
}

// StreamComplete marks the terminal chunk of a streaming RESPONSE.
func StreamComplete(topic, requestID string) Outbound {
	return Data(topic, "stream-complete", requestID, nil)
}
