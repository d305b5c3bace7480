package call

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// Command names, used for FSM events and error reporting.
const (
	cmdDial           = "dial"
	cmdRingLocal      = "ring_local"
	cmdRemoteRinging  = "remote_ringing"
	cmdRemoteAnswered = "remote_answered"
	cmdAnswer         = "answer"
	cmdDecline        = "decline"
	cmdRingTimeout    = "ring_timeout"
	cmdHold           = "hold"
	cmdUnhold         = "unhold"
	cmdHangup         = "hangup"
	cmdDisconnected   = "disconnected"
	cmdFail           = "fail"
)

// Session is the live working copy of one call attempt.
//
// A Session is created on a start/incoming command, mutated by every state
// transition and frozen once it reaches a terminal state. The authoritative
// history record lives in the record store; the controller keeps the Session
// and mirrors every transition into the store.
//
// Thread safety: all mutating calls must be serialized by the owner
// (the controller). Read accessors are safe for concurrent use.
type Session struct {
	mu sync.RWMutex

	id          string
	direction   Direction
	kind        MediaKind
	localParty  string
	remoteParty string

	startedAt   time.Time
	connectedAt time.Time // zero until first transition into Active
	endedAt     time.Time // zero until terminal

	muted  bool
	onHold bool

	group        bool
	participants []string

	clock   clock.Clock
	machine *fsm.FSM

	// onTransition is invoked after every committed state change.
	onTransition func(s *Session, from, to SessionState)
}

// SessionOption customizes session construction.
type SessionOption func(*Session)

// WithGroup marks the session as a group call with the given participants.
func WithGroup(participants []string) SessionOption {
	return func(s *Session) {
		s.group = true
		s.participants = append([]string(nil), participants...)
	}
}

// NewSession creates a session for a new call attempt. The session starts
// in Idle; the controller immediately drives it to Dialing or RingingLocal.
func NewSession(direction Direction, kind MediaKind, localParty, remoteParty string, clk clock.Clock, opts ...SessionOption) *Session {
	if clk == nil {
		clk = clock.New()
	}
	s := &Session{
		id:          uuid.New().String(),
		direction:   direction,
		kind:        kind,
		localParty:  localParty,
		remoteParty: remoteParty,
		startedAt:   clk.Now(),
		clock:       clk,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.machine = fsm.NewFSM(
		StateIdle.String(),
		fsm.Events{
			{Name: cmdDial, Src: []string{StateIdle.String()}, Dst: StateDialing.String()},
			{Name: cmdRingLocal, Src: []string{StateIdle.String()}, Dst: StateRingingLocal.String()},
			{Name: cmdRemoteRinging, Src: []string{StateDialing.String()}, Dst: StateRinging.String()},
			{Name: cmdRemoteAnswered, Src: []string{StateDialing.String(), StateRinging.String()}, Dst: StateActive.String()},
			{Name: cmdAnswer, Src: []string{StateRingingLocal.String()}, Dst: StateActive.String()},
			{Name: cmdDecline, Src: []string{StateRingingLocal.String()}, Dst: StateDeclined.String()},
			{Name: cmdRingTimeout, Src: []string{StateRingingLocal.String()}, Dst: StateMissed.String()},
			{Name: cmdHold, Src: []string{StateActive.String()}, Dst: StateOnHold.String()},
			{Name: cmdUnhold, Src: []string{StateOnHold.String()}, Dst: StateActive.String()},
			{Name: cmdHangup, Src: []string{
				StateDialing.String(), StateRinging.String(), StateRingingLocal.String(),
				StateActive.String(), StateOnHold.String(),
			}, Dst: StateEnding.String()},
			{Name: cmdDisconnected, Src: []string{
				StateEnding.String(), StateDialing.String(), StateRinging.String(),
				StateRingingLocal.String(), StateActive.String(), StateOnHold.String(),
			}, Dst: StateEnded.String()},
			{Name: cmdFail, Src: []string{
				StateIdle.String(), StateDialing.String(), StateRinging.String(),
				StateRingingLocal.String(), StateActive.String(), StateOnHold.String(),
				StateEnding.String(),
			}, Dst: StateFailed.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.commitTransition(parseState(e.Src), parseState(e.Dst))
			},
		},
	)
	return s
}

// SetOnTransition registers the callback invoked after each committed
// state change. Must be set before the first transition.
func (s *Session) SetOnTransition(fn func(s *Session, from, to SessionState)) {
	s.onTransition = fn
}

// commitTransition records timestamps tied to a state change.
// Runs inside the FSM callback, before Fire returns.
func (s *Session) commitTransition(from, to SessionState) {
	s.mu.Lock()
	// connected_at is set at most once, on the first entry into Active.
	if to == StateActive && s.connectedAt.IsZero() {
		s.connectedAt = s.clock.Now()
	}
	if to.IsTerminal() && s.endedAt.IsZero() {
		s.endedAt = s.clock.Now()
	}
	s.mu.Unlock()

	if s.onTransition != nil {
		s.onTransition(s, from, to)
	}
}

// fire drives the FSM and converts FSM errors to domain errors.
func (s *Session) fire(event string) error {
	from := s.State()
	if err := s.machine.Event(context.Background(), event); err != nil {
		return &StateTransitionError{
			SessionID: s.id,
			Command:   event,
			From:      from,
			To:        eventDst(event),
		}
	}
	return nil
}

// eventDst maps an FSM event name to its destination state, for error
// reporting only.
func eventDst(event string) SessionState {
	switch event {
	case cmdDial:
		return StateDialing
	case cmdRingLocal:
		return StateRingingLocal
	case cmdRemoteRinging:
		return StateRinging
	case cmdRemoteAnswered, cmdAnswer, cmdUnhold:
		return StateActive
	case cmdDecline:
		return StateDeclined
	case cmdRingTimeout:
		return StateMissed
	case cmdHold:
		return StateOnHold
	case cmdHangup:
		return StateEnding
	case cmdDisconnected:
		return StateEnded
	case cmdFail:
		return StateFailed
	default:
		return StateIdle
	}
}

// parseState converts an FSM state string back to a SessionState.
func parseState(s string) SessionState {
	for st := StateIdle; st <= StateFailed; st++ {
		if st.String() == s {
			return st
		}
	}
	return StateIdle
}

// --- Read accessors ---

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// Direction returns whether the call is outgoing or incoming.
func (s *Session) Direction() Direction { return s.direction }

// Kind returns the media kind of the call.
func (s *Session) Kind() MediaKind { return s.kind }

// LocalParty returns the local party identifier.
func (s *Session) LocalParty() string { return s.localParty }

// RemoteParty returns the remote party identifier or address.
func (s *Session) RemoteParty() string { return s.remoteParty }

// State returns the current session state.
func (s *Session) State() SessionState {
	return parseState(s.machine.Current())
}

// IsTerminal reports whether the session reached a terminal state.
func (s *Session) IsTerminal() bool { return s.State().IsTerminal() }

// Muted reports whether the microphone is muted.
func (s *Session) Muted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted
}

// OnHold reports whether the session is on hold.
func (s *Session) OnHold() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onHold
}

// StartedAt returns the creation time of the call attempt.
func (s *Session) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// ConnectedAt returns the time the session first became Active,
// or the zero time if it never connected.
func (s *Session) ConnectedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedAt
}

// EndedAt returns the time the session reached a terminal state,
// or the zero time if still live.
func (s *Session) EndedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedAt
}

// Duration returns ended_at - connected_at for sessions that connected,
// and zero otherwise. Never negative.
func (s *Session) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.connectedAt.IsZero() || s.endedAt.IsZero() {
		return 0
	}
	d := s.endedAt.Sub(s.connectedAt)
	if d < 0 {
		return 0
	}
	return d
}

// setMuted flips the mute flag. No telephony transition is involved.
func (s *Session) setMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

// setOnHold tracks the hold flag alongside the OnHold state.
func (s *Session) setOnHold(onHold bool) {
	s.mu.Lock()
	s.onHold = onHold
	s.mu.Unlock()
}

// Info returns a point-in-time snapshot of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:           s.id,
		Direction:    s.direction,
		Kind:         s.kind,
		LocalParty:   s.localParty,
		RemoteParty:  s.remoteParty,
		State:        parseState(s.machine.Current()),
		StartedAt:    s.startedAt,
		ConnectedAt:  s.connectedAt,
		EndedAt:      s.endedAt,
		Muted:        s.muted,
		OnHold:       s.onHold,
		Group:        s.group,
		Participants: append([]string(nil), s.participants...),
	}
}

// Info is a point-in-time snapshot of a session's observable fields.
type Info struct {
	ID           string       `json:"id"`
	Direction    Direction    `json:"direction"`
	Kind         MediaKind    `json:"kind"`
	LocalParty   string       `json:"local_party"`
	RemoteParty  string       `json:"remote_party"`
	State        SessionState `json:"state"`
	StartedAt    time.Time    `json:"started_at"`
	ConnectedAt  time.Time    `json:"connected_at,omitzero"`
	EndedAt      time.Time    `json:"ended_at,omitzero"`
	Muted        bool         `json:"muted"`
	OnHold       bool         `json:"on_hold"`
	Group        bool         `json:"group"`
	Participants []string     `json:"participants,omitempty"`
}

// Duration returns the derived call duration for the snapshot.
func (i Info) Duration() time.Duration {
	if i.ConnectedAt.IsZero() || i.EndedAt.IsZero() {
		return 0
	}
	if d := i.EndedAt.Sub(i.ConnectedAt); d > 0 {
		return d
	}
	return 0
}
