package call

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrSessionBusy indicates another session is already non-terminal
	// for the local party.
	ErrSessionBusy = errors.New("session busy")

	// ErrSessionTerminated indicates a command arrived after the session
	// reached a terminal state.
	ErrSessionTerminated = errors.New("session already terminated")

	// ErrInvalidTransition indicates the command is not valid in the
	// session's current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionNotFound indicates no session matches the given id.
	ErrSessionNotFound = errors.New("session not found")
)

// StateTransitionError indicates an invalid state transition was attempted.
type StateTransitionError struct {
	SessionID string       // Session identifier
	Command   string       // Command that was attempted
	From      SessionState // Current state
	To        SessionState // Attempted state
}

// Error returns the error message.
func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("session %s: %s: cannot transition from %s to %s",
		e.SessionID, e.Command, e.From, e.To)
}

// Unwrap returns the matching sentinel so callers can use errors.Is.
func (e *StateTransitionError) Unwrap() error {
	if e.From.IsTerminal() {
		return ErrSessionTerminated
	}
	return ErrInvalidTransition
}

// NegotiationError wraps an asynchronous media negotiation failure.
type NegotiationError struct {
	SessionID string
	Stage     string // "offer", "answer", "attach"
	Cause     error
}

// Error returns the error message.
func (e *NegotiationError) Error() string {
	return fmt.Sprintf("session %s: negotiation %s failed: %v", e.SessionID, e.Stage, e.Cause)
}

// Unwrap returns the underlying error.
func (e *NegotiationError) Unwrap() error {
	return e.Cause
}
