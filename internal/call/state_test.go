package call

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateIdle, "Idle"},
		{StateDialing, "Dialing"},
		{StateRinging, "Ringing"},
		{StateRingingLocal, "RingingLocal"},
		{StateActive, "Active"},
		{StateOnHold, "OnHold"},
		{StateEnding, "Ending"},
		{StateEnded, "Ended"},
		{StateMissed, "Missed"},
		{StateDeclined, "Declined"},
		{StateFailed, "Failed"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []SessionState{StateEnded, StateMissed, StateDeclined, StateFailed}
	live := []SessionState{StateIdle, StateDialing, StateRinging, StateRingingLocal, StateActive, StateOnHold, StateEnding}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to SessionState
		want     bool
	}{
		{StateIdle, StateDialing, true},
		{StateIdle, StateRingingLocal, true},
		{StateIdle, StateActive, false},
		{StateDialing, StateRinging, true},
		{StateDialing, StateActive, true},
		{StateRinging, StateActive, true},
		{StateRingingLocal, StateActive, true},
		{StateRingingLocal, StateDeclined, true},
		{StateRingingLocal, StateMissed, true},
		{StateActive, StateOnHold, true},
		{StateOnHold, StateActive, true},
		{StateActive, StateEnding, true},
		{StateEnding, StateEnded, true},
		{StateEnded, StateActive, false},
		{StateDeclined, StateDialing, false},
		{StateMissed, StateEnding, false},
		{StateFailed, StateActive, false},
		{StateOnHold, StateRinging, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSessionLifecycleTimestamps(t *testing.T) {
	clk := clock.NewMock()
	s := NewSession(DirectionOutgoing, MediaVoice, "me", "alice", clk)

	if s.State() != StateIdle {
		t.Fatalf("new session state = %s, want Idle", s.State())
	}
	if !s.ConnectedAt().IsZero() {
		t.Error("connected_at should be zero before Active")
	}

	mustFire(t, s, cmdDial)
	mustFire(t, s, cmdRemoteRinging)

	clk.Add(5 * time.Second)
	mustFire(t, s, cmdRemoteAnswered)
	connected := s.ConnectedAt()
	if connected.IsZero() {
		t.Fatal("connected_at not set on Active")
	}

	// Hold round trip must not reset connected_at.
	mustFire(t, s, cmdHold)
	mustFire(t, s, cmdUnhold)
	if !s.ConnectedAt().Equal(connected) {
		t.Error("connected_at changed on re-entering Active")
	}

	clk.Add(42 * time.Second)
	mustFire(t, s, cmdHangup)
	mustFire(t, s, cmdDisconnected)

	if s.State() != StateEnded {
		t.Fatalf("state = %s, want Ended", s.State())
	}
	if got := s.Duration(); got != 42*time.Second {
		t.Errorf("duration = %s, want 42s", got)
	}
}

func TestSessionNeverConnectedHasZeroDuration(t *testing.T) {
	clk := clock.NewMock()
	s := NewSession(DirectionIncoming, MediaVoice, "me", "bob", clk)

	mustFire(t, s, cmdRingLocal)
	clk.Add(30 * time.Second)
	mustFire(t, s, cmdRingTimeout)

	if s.State() != StateMissed {
		t.Fatalf("state = %s, want Missed", s.State())
	}
	if got := s.Duration(); got != 0 {
		t.Errorf("duration = %s, want 0", got)
	}
	if s.EndedAt().IsZero() {
		t.Error("ended_at not set on terminal state")
	}
}

func TestFireInvalidTransition(t *testing.T) {
	s := NewSession(DirectionOutgoing, MediaVoice, "me", "alice", clock.NewMock())

	err := s.fire(cmdHold)
	if err == nil {
		t.Fatal("hold from Idle should fail")
	}
	var transErr *StateTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("error type = %T, want *StateTransitionError", err)
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("error should wrap ErrInvalidTransition")
	}
}

func TestFireOnTerminalSession(t *testing.T) {
	s := NewSession(DirectionIncoming, MediaVoice, "me", "bob", clock.NewMock())
	mustFire(t, s, cmdRingLocal)
	mustFire(t, s, cmdDecline)

	err := s.fire(cmdAnswer)
	if err == nil {
		t.Fatal("answer on declined session should fail")
	}
	if !errors.Is(err, ErrSessionTerminated) {
		t.Error("error from terminal state should wrap ErrSessionTerminated")
	}
}

func TestGroupSession(t *testing.T) {
	s := NewSession(DirectionIncoming, MediaVideo, "me", "team", clock.NewMock(),
		WithGroup([]string{"alice", "bob"}))

	info := s.Info()
	if !info.Group {
		t.Error("session should be marked as group call")
	}
	if len(info.Participants) != 2 {
		t.Errorf("participants = %v, want 2 entries", info.Participants)
	}
}

func mustFire(t *testing.T, s *Session, event string) {
	t.Helper()
	if err := s.fire(event); err != nil {
		t.Fatalf("fire(%s) from %s: %v", event, s.State(), err)
	}
}
