// Package store defines the session store contract: durable per-session
// state, a distributed per-session lock, an append-only event log, and a
// real-time publish/subscribe channel (spec.md §5). The session record, its
// event log, and its sequence counter are owned exclusively by whichever
// process currently holds the session's lock.
package store

import (
	"context"
	"errors"
	"time"
)

type (
	// SessionState is the mutable per-session record. FlowName pins the
	// bound flow definition (and its version) for the lifetime of the
	// session; it is set at creation and never changes.
	SessionState struct {
		SessionID      string         `json:"sessionId"`
		FlowName       string         `json:"flowName"`
		FlowVersion    int            `json:"flowVersion"`
		CurrentState   string         `json:"currentState"`
		Context        map[string]any `json:"context"`
		LastIntent     *Intent        `json:"lastIntent,omitempty"`
		LastToolCallID string         `json:"lastToolCallId,omitempty"`
		LastToolResult any            `json:"lastToolResult,omitempty"`
		CreatedAt      time.Time      `json:"createdAt"`
	}

	// Intent is the last classified user intent recorded against a session.
	Intent struct {
		Name       string         `json:"name"`
		Confidence float64        `json:"confidence"`
		Slots      map[string]any `json:"slots"`
	}

	// Event is a single entry in a session's durable event log. Type is one
	// of the server event kinds from spec.md §6 (say, ask, tool.call, ...).
	// Payload carries the event-specific fields; SessionID, Seq, and
	// Timestamp are stamped by the store at emission time.
	Event struct {
		Type      string         `json:"type"`
		SessionID string         `json:"sessionId"`
		Seq       int64          `json:"seq"`
		Timestamp time.Time      `json:"timestamp"`
		Payload   map[string]any `json:"payload,omitempty"`
	}

	// Lock represents a held distributed lock on a session. Release is
	// idempotent and safe to call multiple times or after expiry; a lost
	// lock (e.g. due to TTL expiry under a long-running holder) surfaces as
	// ErrLockLost from Release or Extend, never as a panic.
	Lock interface {
		Release(ctx context.Context) error
		Extend(ctx context.Context, ttl time.Duration) error
	}

	// Store persists session state and flow binding, serializes access via
	// a per-session distributed lock, and fans out emitted events through a
	// durable log plus a live pub/sub channel.
	Store interface {
		// CreateSession creates a new session bound to the given flow name
		// and initial state. Returns ErrSessionExists if sessionID is
		// already present.
		CreateSession(ctx context.Context, sessionID, flowName string, flowVersion int, start string) (SessionState, error)

		// LoadSession returns the current state record. Returns
		// ErrSessionNotFound if absent.
		LoadSession(ctx context.Context, sessionID string) (SessionState, error)

		// SaveSession persists an updated state record. Callers must hold
		// the session's lock.
		SaveSession(ctx context.Context, state SessionState) error

		// DeleteSession drops the session record, its event log, and its
		// sequence counter.
		DeleteSession(ctx context.Context, sessionID string) error

		// Lock acquires the distributed per-session lock, blocking (subject
		// to ctx) until acquired or ctx is done.
		Lock(ctx context.Context, sessionID string) (Lock, error)

		// AppendEvent assigns the next sequence number to evt, persists it
		// to the durable log, and publishes it on the session's live
		// topic. Returns the sequence number assigned.
		AppendEvent(ctx context.Context, sessionID string, evt Event) (int64, error)

		// EventsSince returns every logged event with seq > since, in
		// ascending seq order.
		EventsSince(ctx context.Context, sessionID string, since int64) ([]Event, error)

		// Subscribe opens a live subscription to the session's event topic.
		// The returned channel is closed when ctx is done or the store
		// tears the subscription down (the in-memory store does so when the
		// session is deleted); callers should range over it until closed.
		Subscribe(ctx context.Context, sessionID string) (<-chan Event, error)
	}
)

var (
	// ErrSessionNotFound indicates no session record exists for the id.
	ErrSessionNotFound = errors.New("store: session not found")
	// ErrSessionExists indicates CreateSession was called for an id already in use.
	ErrSessionExists = errors.New("store: session already exists")
	// ErrLockLost indicates a held lock expired or was released by another
	// holder before Release/Extend was called.
	ErrLockLost = errors.New("store: lock lost")
)
