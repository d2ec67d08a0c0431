// Package rooms implements the Room/Presence Engine (C6): per-contest
// rooms with participant/spectator/admin roles, visibility flags, and a
// bounded chat history, broadcasting presence and chat through C7.
package rooms

import (
	"fmt"
	"sync"
	"time"

	"github.com/BranchManager69/degenduel-sub003/internal/authn"
	"github.com/BranchManager69/degenduel-sub003/internal/broadcast"
	"github.com/BranchManager69/degenduel-sub003/internal/envelope"
	"github.com/BranchManager69/degenduel-sub003/internal/ratelimit"
	"github.com/BranchManager69/degenduel-sub003/internal/registry"
)

// Visibility is an admin's presence flag within a room.
type Visibility string

const (
	VisibilityHidden  Visibility = "hidden"
	VisibilityVisible Visibility = "visible"
)

// ChatMessage is one accepted, immutable chat entry.
type ChatMessage struct {
	ID              string
	ContestID       int64
	SenderPrincipal string
	Text            string
	Timestamp       time.Time
	IsAdmin         bool
}

// ParticipationChecker classifies whether a principal is a contest
// participant, a narrow collaborator interface rather than a direct
// dependency on the contest-entry datastore.
type ParticipationChecker interface {
	IsParticipant(contestID int64, principalID string) bool
}

// Room is one contest's presence aggregate.
type Room struct {
	ContestID int64

	mu             sync.Mutex
	members        map[string]*registry.Connection // connection id -> conn
	participants   map[string]bool                 // principal id -> true
	admins         map[string]Visibility            // principal id -> visibility
	spectatorCount int
	chatHistory    []ChatMessage
	chatCap        int
	nextChatID     int
}

func newRoom(contestID int64, chatCap int) *Room {
	return &Room{
		ContestID:    contestID,
		members:      make(map[string]*registry.Connection),
		participants: make(map[string]bool),
		admins:       make(map[string]Visibility),
		chatCap:      chatCap,
	}
}

func (r *Room) channel() string {
	return fmt.Sprintf("contest.%d", r.ContestID)
}

func (r *Room) anyVisibleAdminLocked() bool {
	for _, v := range r.admins {
		if v == VisibilityVisible {
			return true
		}
	}
	return false
}

// Engine owns every live Room, each independently locked so unrelated
// rooms proceed in parallel.
type Engine struct {
	chatCap      int
	maxChatLen   int
	participants ParticipationChecker
	bcast        *broadcast.Broadcaster
	chat         *ratelimit.ChatWindow

	mu    sync.Mutex
	rooms map[int64]*Room
}

// Config tunes the engine's bounds.
type Config struct {
	ChatHistoryCapacity int
	MaxChatMessageLen   int
	ChatWindowLimit     int
	ChatWindow          time.Duration
}

// New builds a room engine.
func New(cfg Config, participants ParticipationChecker, bcast *broadcast.Broadcaster) *Engine {
	return &Engine{
		chatCap:      cfg.ChatHistoryCapacity,
		maxChatLen:   cfg.MaxChatMessageLen,
		participants: participants,
		bcast:        bcast,
		chat:         ratelimit.NewChatWindow(cfg.ChatWindowLimit, cfg.ChatWindow),
		rooms:        make(map[int64]*Room),
	}
}

func (e *Engine) roomFor(contestID int64) *Room {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rooms[contestID]
	if !ok {
		r = newRoom(contestID, e.chatCap)
		e.rooms[contestID] = r
	}
	return r
}

func (e *Engine) dropIfEmpty(r *Room) {
	r.mu.Lock()
	empty := len(r.members) == 0
	r.mu.Unlock()
	if !empty {
		return
	}
	e.mu.Lock()
	if cur, ok := e.rooms[r.ContestID]; ok && cur == r {
		r.mu.Lock()
		stillEmpty := len(cur.members) == 0
		r.mu.Unlock()
		if stillEmpty {
			delete(e.rooms, r.ContestID)
		}
	}
	e.mu.Unlock()
}

// Kind classifies a member's role within a room.
type Kind string

const (
	KindAdmin       Kind = "admin"
	KindParticipant Kind = "participant"
	KindSpectator   Kind = "spectator"
)

func (e *Engine) classify(contestID int64, c *registry.Connection) Kind {
	if c.Role() == authn.RoleAdmin || c.Role() == authn.RoleSuperadmin {
		return KindAdmin
	}
	if e.participants != nil && e.participants.IsParticipant(contestID, c.PrincipalID()) {
		return KindParticipant
	}
	return KindSpectator
}

// Join adds conn to the room for contestID, classifying it as admin,
// participant, or spectator. initialVisibility only applies to admins.
func (e *Engine) Join(contestID int64, c *registry.Connection, initialVisibility Visibility) {
	r := e.roomFor(contestID)
	kind := e.classify(contestID, c)

	r.mu.Lock()
	r.members[c.ID] = c
	switch kind {
	case KindParticipant:
		r.participants[c.PrincipalID()] = true
	case KindAdmin:
		if initialVisibility == "" {
			initialVisibility = VisibilityHidden
		}
		r.admins[c.PrincipalID()] = initialVisibility
	default:
		r.spectatorCount++
	}
	spectators := r.spectatorCount
	adminVisible := kind == KindAdmin && r.admins[c.PrincipalID()] == VisibilityVisible
	anyVisible := r.anyVisibleAdminLocked()
	r.mu.Unlock()

	c.Touch()
	if kind != KindAdmin || adminVisible {
		e.bcast.Broadcast(r.channel(), envelope.Data(r.channel(), "PRESENCE", "", map[string]any{
			"action":      "join",
			"contestId":   contestID,
			"principalId": c.PrincipalID(),
			"kind":        string(kind),
		}))
	}
	if kind == KindAdmin && adminVisible {
		e.bcast.Broadcast(r.channel(), envelope.Data(r.channel(), "ADMIN_PRESENCE", "", map[string]any{
			"active": anyVisible,
		}))
	}
	if kind == KindSpectator {
		e.bcast.Broadcast(r.channel(), envelope.Data(r.channel(), "SPECTATOR_COUNT", "", map[string]any{
			"count": spectators,
		}))
	}
}

// Leave removes conn from the room, deallocating the room if it was the
// last member.
func (e *Engine) Leave(contestID int64, c *registry.Connection) {
	r := e.roomFor(contestID)

	r.mu.Lock()
	if _, present := r.members[c.ID]; !present {
		r.mu.Unlock()
		return
	}
	delete(r.members, c.ID)
	kind := Kind("")
	wasVisible := false
	if r.participants[c.PrincipalID()] {
		delete(r.participants, c.PrincipalID())
		kind = KindParticipant
	} else if v, ok := r.admins[c.PrincipalID()]; ok {
		kind = KindAdmin
		wasVisible = v == VisibilityVisible
		delete(r.admins, c.PrincipalID())
	} else {
		kind = KindSpectator
		if r.spectatorCount > 0 {
			r.spectatorCount--
		}
	}
	spectators := r.spectatorCount
	anyVisible := r.anyVisibleAdminLocked()
	r.mu.Unlock()

	if kind != KindAdmin || wasVisible {
		e.bcast.Broadcast(r.channel(), envelope.Data(r.channel(), "PRESENCE", "", map[string]any{
			"action":      "leave",
			"contestId":   contestID,
			"principalId": c.PrincipalID(),
			"kind":        string(kind),
		}))
	}
	if kind == KindAdmin && wasVisible {
		e.bcast.Broadcast(r.channel(), envelope.Data(r.channel(), "ADMIN_PRESENCE", "", map[string]any{
			"active": anyVisible,
		}))
	}
	if kind == KindSpectator {
		e.bcast.Broadcast(r.channel(), envelope.Data(r.channel(), "SPECTATOR_COUNT", "", map[string]any{
			"count": spectators,
		}))
	}

	e.dropIfEmpty(r)
}

// SetAdminPresence flips an admin's visibility, broadcasting ADMIN_PRESENCE
// only when the room's any-visible-admin flag actually changes.
func (e *Engine) SetAdminPresence(contestID int64, principalID string, visible bool) error {
	r := e.roomFor(contestID)

	r.mu.Lock()
	if _, ok := r.admins[principalID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("principal %q is not an admin member of room %d", principalID, contestID)
	}
	before := r.anyVisibleAdminLocked()
	if visible {
		r.admins[principalID] = VisibilityVisible
	} else {
		r.admins[principalID] = VisibilityHidden
	}
	after := r.anyVisibleAdminLocked()
	r.mu.Unlock()

	if before != after {
		e.bcast.Broadcast(r.channel(), envelope.Data(r.channel(), "ADMIN_PRESENCE", "", map[string]any{
			"active": after,
		}))
	}
	return nil
}

// ChatError enumerates why a chat message was rejected.
type ChatError string

const (
	ChatErrNotMember  ChatError = "not_member"
	ChatErrTooLong    ChatError = "too_long"
	ChatErrRateLimit  ChatError = "rate_limit"
)

func (e ChatError) Error() string { return string(e) }

// Chat runs the acceptance pipeline: membership, length, chat rate limit,
// ring-buffer append, broadcast. A single room's chat broadcast is
// serialized by the room's own mutex; unrelated rooms proceed in parallel.
func (e *Engine) Chat(contestID int64, c *registry.Connection, text string) (ChatMessage, error) {
	r := e.roomFor(contestID)

	r.mu.Lock()
	_, isMember := r.members[c.ID]
	r.mu.Unlock()
	if !isMember {
		return ChatMessage{}, ChatErrNotMember
	}

	if len(text) > e.maxChatLen {
		return ChatMessage{}, ChatErrTooLong
	}

	if !e.chat.TryChat(c.PrincipalID(), contestID) {
		return ChatMessage{}, ChatErrRateLimit
	}

	isAdmin := c.Role() == authn.RoleAdmin || c.Role() == authn.RoleSuperadmin

	r.mu.Lock()
	r.nextChatID++
	msg := ChatMessage{
		ID:              fmt.Sprintf("%d-%d", contestID, r.nextChatID),
		ContestID:       contestID,
		SenderPrincipal: c.PrincipalID(),
		Text:            text,
		Timestamp:       time.Now().UTC(),
		IsAdmin:         isAdmin,
	}
	if e.chatCap > 0 && len(r.chatHistory) >= e.chatCap {
		r.chatHistory = append(r.chatHistory[1:], msg)
	} else {
		r.chatHistory = append(r.chatHistory, msg)
	}
	e.bcast.Broadcast(r.channel(), envelope.Data(r.channel(), "CHAT_MESSAGE", "", msg))
	r.mu.Unlock()

	return msg, nil
}

// SpectatorCount returns a room's current spectator count (0 if the room
// doesn't currently exist).
func (e *Engine) SpectatorCount(contestID int64) int {
	e.mu.Lock()
	r, ok := e.rooms[contestID]
	e.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spectatorCount
}

// ChatHistory returns a snapshot of a room's chat history.
func (e *Engine) ChatHistory(contestID int64) []ChatMessage {
	e.mu.Lock()
	r, ok := e.rooms[contestID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChatMessage, len(r.chatHistory))
	copy(out, r.chatHistory)
	return out
}
