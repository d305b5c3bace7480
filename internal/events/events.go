// Package events carries session state changes and errors from the call
// controller out to the presentation layer. Publishers may be no-op,
// logging, or channel-backed; a message-bus publisher can implement the
// same interface without touching the controller.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of a call event.
type EventType string

const (
	// TypeStateChanged - a session committed a state transition.
	TypeStateChanged EventType = "call.state_changed"
	// TypeError - a session hit an asynchronous failure.
	TypeError EventType = "call.error"
)

// Event is one notification about a call session.
type Event interface {
	// ID returns the unique event id.
	ID() string
	// Type returns the event kind.
	Type() EventType
	// SessionID returns the session the event belongs to.
	SessionID() string
	// Timestamp returns the event creation time (UTC).
	Timestamp() time.Time
	// Subject returns the routing subject, e.g. "voxcall.calls.<id>.state".
	Subject() string
}

// BaseEvent holds the fields common to all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	Session   string    `json:"session_id"`
	EventTime time.Time `json:"event_time"`
}

func (e BaseEvent) ID() string           { return e.EventID }
func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) SessionID() string    { return e.Session }
func (e BaseEvent) Timestamp() time.Time { return e.EventTime }

func newBase(t EventType, sessionID string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: t,
		Session:   sessionID,
		EventTime: time.Now().UTC(),
	}
}

// StateChangedEvent reports a committed session state transition.
type StateChangedEvent struct {
	BaseEvent
	From string `json:"from"`
	To   string `json:"to"`
}

// Subject returns the routing subject for the event.
func (e *StateChangedEvent) Subject() string {
	return fmt.Sprintf("voxcall.calls.%s.state", e.Session)
}

// NewStateChanged creates a state-change event.
func NewStateChanged(sessionID, from, to string) *StateChangedEvent {
	return &StateChangedEvent{
		BaseEvent: newBase(TypeStateChanged, sessionID),
		From:      from,
		To:        to,
	}
}

// ErrorEvent reports an asynchronous session failure.
type ErrorEvent struct {
	BaseEvent
	Kind    string `json:"kind"` // e.g. "platform_rejected", "negotiation_failed"
	Message string `json:"message"`
}

// Subject returns the routing subject for the event.
func (e *ErrorEvent) Subject() string {
	return fmt.Sprintf("voxcall.calls.%s.error", e.Session)
}

// NewError creates an error event.
func NewError(sessionID, kind, message string) *ErrorEvent {
	return &ErrorEvent{
		BaseEvent: newBase(TypeError, sessionID),
		Kind:      kind,
		Message:   message,
	}
}
