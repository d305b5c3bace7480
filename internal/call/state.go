// Package call defines the call-session domain model: session states,
// directions, media kinds and the CallSession entity itself.
package call

import "fmt"

// SessionState represents the lifecycle state of a call session.
type SessionState int

const (
	// StateIdle is the state before any call attempt exists.
	StateIdle SessionState = iota
	// StateDialing is an outbound attempt waiting for the remote side.
	StateDialing
	// StateRinging is an outbound attempt with remote ringback reported.
	StateRinging
	// StateRingingLocal is an inbound attempt awaiting local answer/decline.
	StateRingingLocal
	// StateActive is a connected call with media flowing.
	StateActive
	// StateOnHold is a connected call placed on hold locally.
	StateOnHold
	// StateEnding is a call being torn down, awaiting platform confirmation.
	StateEnding
	// StateEnded is the terminal state after a normal hangup.
	StateEnded
	// StateMissed is the terminal state after the ring timer expired unanswered.
	StateMissed
	// StateDeclined is the terminal state after a local decline.
	StateDeclined
	// StateFailed is the terminal state after a platform or negotiation failure.
	StateFailed
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateDialing:
		return "Dialing"
	case StateRinging:
		return "Ringing"
	case StateRingingLocal:
		return "RingingLocal"
	case StateActive:
		return "Active"
	case StateOnHold:
		return "OnHold"
	case StateEnding:
		return "Ending"
	case StateEnded:
		return "Ended"
	case StateMissed:
		return "Missed"
	case StateDeclined:
		return "Declined"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsTerminal returns true if no further transition is possible from s.
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateEnded, StateMissed, StateDeclined, StateFailed:
		return true
	}
	return false
}

// validTransitions defines which state transitions are allowed.
var validTransitions = map[SessionState][]SessionState{
	StateIdle:         {StateDialing, StateRingingLocal, StateFailed},
	StateDialing:      {StateRinging, StateActive, StateEnding, StateEnded, StateFailed},
	StateRinging:      {StateActive, StateEnding, StateEnded, StateFailed},
	StateRingingLocal: {StateActive, StateDeclined, StateMissed, StateEnding, StateEnded, StateFailed},
	StateActive:       {StateOnHold, StateEnding, StateEnded, StateFailed},
	StateOnHold:       {StateActive, StateEnding, StateEnded, StateFailed},
	StateEnding:       {StateEnded, StateFailed},
	StateEnded:        {},
	StateMissed:       {},
	StateDeclined:     {},
	StateFailed:       {},
}

// CanTransitionTo checks if a transition from s to next is valid.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Direction indicates whether the local party placed or received the call.
type Direction int

const (
	// DirectionOutgoing - the local party placed the call.
	DirectionOutgoing Direction = iota
	// DirectionIncoming - the local party received the call.
	DirectionIncoming
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionOutgoing:
		return "outgoing"
	case DirectionIncoming:
		return "incoming"
	default:
		return "unknown"
	}
}

// MediaKind indicates the media profile of a call attempt.
type MediaKind int

const (
	// MediaVoice - audio only.
	MediaVoice MediaKind = iota
	// MediaVideo - audio plus video.
	MediaVideo
)

// String returns the string representation of the media kind.
func (k MediaKind) String() string {
	switch k {
	case MediaVoice:
		return "voice"
	case MediaVideo:
		return "video"
	default:
		return "unknown"
	}
}
