package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/voxcall/voxcall/internal/events"
	"github.com/voxcall/voxcall/internal/history"
	"github.com/voxcall/voxcall/internal/media"
	"github.com/voxcall/voxcall/internal/telephony"
)

// DefaultRingTimeout is the bounded wait for a local answer/decline
// before an inbound call is declared missed.
const DefaultRingTimeout = 30 * time.Second

// ControllerConfig carries the controller's collaborators. The local
// party identity is an explicit value here, never a global lookup.
type ControllerConfig struct {
	// LocalParty is the identity this controller places and receives
	// calls for.
	LocalParty string

	// Bridge is the telephony platform adapter.
	Bridge telephony.Bridge

	// Media creates one negotiator per session needing media.
	Media media.Factory

	// Store is the call-history ledger.
	Store *history.Store

	// Events receives state-change and error notifications for the UI.
	Events events.Publisher

	// Clock drives timestamps and the ring timer. Real clock when nil.
	Clock clock.Clock

	// RingTimeout overrides DefaultRingTimeout when positive.
	RingTimeout time.Duration

	// OnLocalDescription, when set, receives locally created offers and
	// answers for forwarding by an external signaling collaborator.
	OnLocalDescription func(sessionID string, desc media.SessionDescription)

	Logger  *slog.Logger
	Metrics *Metrics
}

// activeCall bundles the live session with the resources it owns.
type activeCall struct {
	session    *Session
	conn       telephony.Connection
	unsubConn  func()
	negotiator media.Negotiator
	ringTimer  *clock.Timer

	// remoteOffer is the peer description delivered with an inbound
	// call, applied when the local party answers.
	remoteOffer *media.SessionDescription

	// gen invalidates in-flight negotiation completions: a completion
	// captured with an older generation is discarded on arrival.
	gen uint64

	// answerPending is set between a local answer command and the
	// media-ready completion that commits the Active transition.
	answerPending bool
}

// Controller drives the call-session state machine. It accepts commands
// from the UI layer, delegates to the telephony bridge and the media
// negotiator, and mirrors every transition into the record store.
//
// All commands and asynchronous completions for a session are serialized
// on the controller mutex; platform callbacks are marshaled through it
// before touching session state.
type Controller struct {
	cfg    ControllerConfig
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	active *activeCall
}

// NewController creates a controller for one local party.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.LocalParty == "" {
		return nil, fmt.Errorf("controller: local party identity required")
	}
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("controller: telephony bridge required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("controller: record store required")
	}
	if cfg.Events == nil {
		cfg.Events = events.NewNoopPublisher()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("local_party", cfg.LocalParty),
	}, nil
}

// CallOption customizes a start/incoming command.
type CallOption func(*callOptions)

type callOptions struct {
	remoteOffer *media.SessionDescription
	sessionOpts []SessionOption
}

// WithRemoteOffer supplies the peer's offer delivered out-of-band with
// an incoming call (e.g. inside a push payload).
func WithRemoteOffer(desc media.SessionDescription) CallOption {
	return func(o *callOptions) { o.remoteOffer = &desc }
}

// WithParticipants marks the call as a group call.
func WithParticipants(ids []string) CallOption {
	return func(o *callOptions) {
		o.sessionOpts = append(o.sessionOpts, WithGroup(ids))
	}
}

// Start places an outbound call and returns the new session id.
// Returns ErrSessionBusy while another session is non-terminal.
func (c *Controller) Start(ctx context.Context, remoteParty string, kind MediaKind, opts ...CallOption) (string, error) {
	var options callOptions
	for _, opt := range opts {
		opt(&options)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIdle(); err != nil {
		return "", err
	}

	ac := c.newAttempt(DirectionOutgoing, kind, remoteParty, options.sessionOpts)
	if err := ac.session.fire(cmdDial); err != nil {
		return "", err
	}

	conn, err := c.cfg.Bridge.CreateOutbound(ctx, remoteParty)
	if err != nil {
		c.failLocked(ac, "platform_rejected", err)
		return ac.session.ID(), fmt.Errorf("start call: %w", err)
	}
	c.adoptConnection(ac, conn)

	if err := c.attachMedia(ctx, ac, kind); err != nil {
		c.failLocked(ac, "device_unavailable", err)
		return ac.session.ID(), fmt.Errorf("start call: %w", err)
	}

	gen := ac.gen
	sid := ac.session.ID()
	ac.negotiator.CreateOffer(ctx, func(desc media.SessionDescription, err error) {
		c.negotiationDone(sid, gen, "offer", desc, err)
	})

	c.logger.Info("outbound call started", "session_id", sid, "remote", remoteParty, "kind", kind)
	return sid, nil
}

// Incoming registers an inbound call attempt (driven by an external
// push/signal) and returns the new session id. The ring timer is armed;
// without an answer or decline the session expires to Missed.
func (c *Controller) Incoming(ctx context.Context, remoteParty string, kind MediaKind, opts ...CallOption) (string, error) {
	var options callOptions
	for _, opt := range opts {
		opt(&options)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIdle(); err != nil {
		return "", err
	}

	ac := c.newAttempt(DirectionIncoming, kind, remoteParty, options.sessionOpts)
	ac.remoteOffer = options.remoteOffer
	if err := ac.session.fire(cmdRingLocal); err != nil {
		return "", err
	}

	conn, err := c.cfg.Bridge.CreateInbound(ctx, remoteParty)
	if err != nil {
		c.failLocked(ac, "platform_rejected", err)
		return ac.session.ID(), fmt.Errorf("incoming call: %w", err)
	}
	c.adoptConnection(ac, conn)

	sid := ac.session.ID()
	ac.ringTimer = c.clock.AfterFunc(c.cfg.RingTimeout, func() {
		c.ringExpired(sid)
	})

	c.logger.Info("incoming call ringing", "session_id", sid, "remote", remoteParty, "kind", kind)
	return sid, nil
}

// Answer accepts an inbound call. The session commits to Active once
// the media pipeline reports ready; until then end/decline remain valid.
func (c *Controller) Answer(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ac, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	if st := ac.session.State(); st != StateRingingLocal {
		return &StateTransitionError{SessionID: sessionID, Command: cmdAnswer, From: st, To: StateActive}
	}
	if ac.answerPending {
		return &StateTransitionError{SessionID: sessionID, Command: cmdAnswer, From: StateRingingLocal, To: StateActive}
	}

	c.stopRingTimer(ac)

	if err := c.cfg.Bridge.Answer(ac.conn); err != nil {
		c.failLocked(ac, "platform_rejected", err)
		return fmt.Errorf("answer: %w", err)
	}

	if err := c.attachMedia(ctx, ac, ac.session.Kind()); err != nil {
		c.failLocked(ac, "device_unavailable", err)
		return fmt.Errorf("answer: %w", err)
	}
	if ac.remoteOffer != nil {
		if err := ac.negotiator.SetRemoteDescription(*ac.remoteOffer); err != nil {
			c.failLocked(ac, "negotiation_failed", err)
			return fmt.Errorf("answer: %w", err)
		}
	}

	ac.answerPending = true
	gen := ac.gen
	ac.negotiator.CreateAnswer(ctx, func(desc media.SessionDescription, err error) {
		c.negotiationDone(sessionID, gen, "answer", desc, err)
	})

	c.logger.Info("call answered, awaiting media", "session_id", sessionID)
	return nil
}

// Decline rejects an inbound call. Terminal state: Declined.
func (c *Controller) Decline(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ac, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	if err := ac.session.fire(cmdDecline); err != nil {
		return err
	}
	c.cancelAsync(ac)
	if err := c.cfg.Bridge.Reject(ac.conn); err != nil {
		c.logger.Warn("reject failed", "session_id", sessionID, "error", err)
	}
	c.releaseLocked(ac)
	c.logger.Info("call declined", "session_id", sessionID)
	return nil
}

// End hangs up the session from any live state. The platform-confirmed
// disconnect callback commits the terminal Ended state; when the handle
// is already gone the session is finalized immediately.
func (c *Controller) End(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ac, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	wasConnected := ac.session.State() == StateActive || ac.session.State() == StateOnHold
	if err := ac.session.fire(cmdHangup); err != nil {
		return err
	}
	c.cancelAsync(ac)

	if wasConnected {
		err = c.cfg.Bridge.Disconnect(ac.conn)
	} else {
		err = c.cfg.Bridge.Abort(ac.conn)
	}
	if err != nil {
		c.logger.Warn("disconnect failed", "session_id", sessionID, "error", err)
	}

	// The platform may already have destroyed the handle (e.g. a remote
	// hangup racing this command); there will be no callback then.
	if ac.conn == nil || ac.conn.State() == telephony.ConnDisconnected {
		c.finalizeEnded(ac)
	}
	c.logger.Info("call ending", "session_id", sessionID)
	return nil
}

// Hold places an active call on hold.
func (c *Controller) Hold(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ac, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	if st := ac.session.State(); st != StateActive {
		return &StateTransitionError{SessionID: sessionID, Command: cmdHold, From: st, To: StateOnHold}
	}
	if err := c.cfg.Bridge.Hold(ac.conn); err != nil {
		return fmt.Errorf("hold: %w", err)
	}
	ac.session.setOnHold(true)
	return ac.session.fire(cmdHold)
}

// Unhold resumes a held call. Re-entering Active does not reset
// connected_at.
func (c *Controller) Unhold(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ac, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	if st := ac.session.State(); st != StateOnHold {
		return &StateTransitionError{SessionID: sessionID, Command: cmdUnhold, From: st, To: StateActive}
	}
	if err := c.cfg.Bridge.Unhold(ac.conn); err != nil {
		return fmt.Errorf("unhold: %w", err)
	}
	ac.session.setOnHold(false)
	return ac.session.fire(cmdUnhold)
}

// ToggleMute flips the microphone mute flag. No telephony transition.
func (c *Controller) ToggleMute(sessionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ac, err := c.lookup(sessionID)
	if err != nil {
		return false, err
	}
	st := ac.session.State()
	if st != StateActive && st != StateOnHold {
		return false, &StateTransitionError{SessionID: sessionID, Command: "toggle_mute", From: st, To: st}
	}
	muted := !ac.session.Muted()
	ac.session.setMuted(muted)
	c.syncRecord(ac.session)
	return muted, nil
}

// PlayDTMF plays a DTMF digit on a connected call.
func (c *Controller) PlayDTMF(sessionID string, digit rune) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ac, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	st := ac.session.State()
	if st != StateActive && st != StateOnHold {
		return &StateTransitionError{SessionID: sessionID, Command: "dtmf", From: st, To: st}
	}
	return c.cfg.Bridge.PlayDTMF(ac.conn, digit)
}

// ActiveSession returns a snapshot of the live session, if any.
func (c *Controller) ActiveSession() (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.session.IsTerminal() {
		return Info{}, false
	}
	return c.active.session.Info(), true
}

// Close aborts any live session and releases resources.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && !c.active.session.IsTerminal() {
		ac := c.active
		c.cancelAsync(ac)
		_ = c.cfg.Bridge.Abort(ac.conn)
		if err := ac.session.fire(cmdFail); err == nil {
			c.releaseLocked(ac)
		}
	}
	return nil
}

// --- internals (all called with c.mu held unless noted) ---

// checkIdle enforces the single-non-terminal-session invariant.
func (c *Controller) checkIdle() error {
	if c.active != nil && !c.active.session.IsTerminal() {
		return fmt.Errorf("session %s still live: %w", c.active.session.ID(), ErrSessionBusy)
	}
	return nil
}

// newAttempt creates the session, appends its record and registers the
// transition hook. The session still sits in Idle.
func (c *Controller) newAttempt(dir Direction, kind MediaKind, remoteParty string, opts []SessionOption) *activeCall {
	session := NewSession(dir, kind, c.cfg.LocalParty, remoteParty, c.clock, opts...)
	ac := &activeCall{session: session}
	c.active = ac

	if err := c.cfg.Store.Append(snapshotRecord(session)); err != nil {
		// A duplicate id here means controller/store desync; a bug, not
		// a user condition.
		c.logger.Error("record append failed", "session_id", session.ID(), "error", err)
	}
	session.SetOnTransition(func(s *Session, from, to SessionState) {
		c.transitionCommitted(ac, from, to)
	})
	c.cfg.Metrics.sessionStarted()
	return ac
}

// adoptConnection wires platform callbacks into the controller.
func (c *Controller) adoptConnection(ac *activeCall, conn telephony.Connection) {
	ac.conn = conn
	sid := ac.session.ID()
	ac.unsubConn = conn.OnStateChange(func(change telephony.StateChange) {
		c.platformEvent(sid, change)
	})
}

// attachMedia allocates the negotiator and acquires capture devices.
func (c *Controller) attachMedia(ctx context.Context, ac *activeCall, kind MediaKind) error {
	if c.cfg.Media == nil {
		return fmt.Errorf("no media factory configured: %w", media.ErrDeviceUnavailable)
	}
	negotiator, err := c.cfg.Media.New(ac.session.ID())
	if err != nil {
		return err
	}
	ac.negotiator = negotiator
	mediaKind := media.KindVoice
	if kind == MediaVideo {
		mediaKind = media.KindVideo
	}
	return negotiator.AttachLocalMedia(ctx, mediaKind)
}

// transitionCommitted mirrors a committed transition into the store and
// out to the UI. Runs synchronously inside Session.fire, under c.mu.
func (c *Controller) transitionCommitted(ac *activeCall, from, to SessionState) {
	if from == StateRingingLocal {
		c.stopRingTimer(ac)
	}
	c.syncRecord(ac.session)
	c.cfg.Events.Publish(events.NewStateChanged(ac.session.ID(), from.String(), to.String()))

	if to.IsTerminal() {
		info := ac.session.Info()
		c.cfg.Metrics.sessionEnded(info.Direction, to, info.Duration().Seconds())
		c.logger.Info("call finished",
			"session_id", info.ID,
			"state", to.String(),
			"duration", info.Duration(),
		)
	}
}

// syncRecord pushes the session's current snapshot into the store.
// Store errors indicate a desync bug: logged, never propagated.
func (c *Controller) syncRecord(s *Session) {
	info := s.Info()
	if err := c.cfg.Store.Update(info.ID, func(r *history.Record) {
		*r = recordFromInfo(info)
	}); err != nil {
		c.logger.Error("record update failed", "session_id", info.ID, "error", err)
	}
}

// lookup resolves a command's session id against the live session.
func (c *Controller) lookup(sessionID string) (*activeCall, error) {
	if c.active != nil && c.active.session.ID() == sessionID {
		if c.active.session.IsTerminal() {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionTerminated)
		}
		return c.active, nil
	}
	if _, err := c.cfg.Store.Get(sessionID); err == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionTerminated)
	}
	return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
}

// cancelAsync invalidates in-flight negotiation completions and stops
// the ring timer.
func (c *Controller) cancelAsync(ac *activeCall) {
	ac.gen++
	ac.answerPending = false
	c.stopRingTimer(ac)
}

func (c *Controller) stopRingTimer(ac *activeCall) {
	if ac.ringTimer != nil {
		ac.ringTimer.Stop()
		ac.ringTimer = nil
	}
}

// releaseLocked disposes the media session and detaches the connection.
func (c *Controller) releaseLocked(ac *activeCall) {
	if ac.negotiator != nil {
		ac.negotiator.Dispose()
		ac.negotiator = nil
	}
	if ac.unsubConn != nil {
		ac.unsubConn()
		ac.unsubConn = nil
	}
	ac.conn = nil
}

// failLocked drives the session to Failed after an asynchronous-style
// platform or media failure and emits the error event.
func (c *Controller) failLocked(ac *activeCall, kind string, cause error) {
	c.cancelAsync(ac)
	if ac.conn != nil {
		_ = c.cfg.Bridge.Abort(ac.conn)
	}
	if err := ac.session.fire(cmdFail); err != nil {
		// Session already terminal; nothing to finalize.
		return
	}
	c.cfg.Events.Publish(events.NewError(ac.session.ID(), kind, cause.Error()))
	c.releaseLocked(ac)
	c.logger.Warn("call failed", "session_id", ac.session.ID(), "kind", kind, "error", cause)
}

// finalizeEnded commits the terminal Ended state.
func (c *Controller) finalizeEnded(ac *activeCall) {
	if err := ac.session.fire(cmdDisconnected); err != nil {
		return
	}
	c.releaseLocked(ac)
}

// ringExpired fires when the ring timer elapses. Clock goroutine entry
// point: takes the lock, then re-validates.
func (c *Controller) ringExpired(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ac := c.active
	if ac == nil || ac.session.ID() != sessionID {
		return
	}
	if ac.session.State() != StateRingingLocal || ac.answerPending {
		return
	}
	if err := ac.session.fire(cmdRingTimeout); err != nil {
		return
	}
	c.cancelAsync(ac)
	_ = c.cfg.Bridge.Abort(ac.conn)
	c.releaseLocked(ac)
	c.logger.Info("call missed", "session_id", sessionID)
}

// negotiationDone receives offer/answer completions. Completions from a
// canceled generation are discarded.
func (c *Controller) negotiationDone(sessionID string, gen uint64, stage string, desc media.SessionDescription, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ac := c.active
	if ac == nil || ac.session.ID() != sessionID || ac.gen != gen {
		return // session moved on; late completion discarded
	}
	if ac.session.IsTerminal() {
		return
	}

	if cause != nil {
		err := &NegotiationError{SessionID: sessionID, Stage: stage, Cause: cause}
		c.failLocked(ac, "negotiation_failed", err)
		return
	}

	if c.cfg.OnLocalDescription != nil {
		c.cfg.OnLocalDescription(sessionID, desc)
	}

	if stage == "answer" && ac.answerPending {
		ac.answerPending = false
		if err := ac.session.fire(cmdAnswer); err != nil {
			c.logger.Error("answer commit failed", "session_id", sessionID, "error", err)
			return
		}
		c.logger.Info("call active", "session_id", sessionID)
	}
}

// platformEvent marshals a telephony callback onto the session's
// serialization point. The platform owns final connection state.
func (c *Controller) platformEvent(sessionID string, change telephony.StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ac := c.active
	if ac == nil || ac.session.ID() != sessionID || ac.conn == nil || ac.conn.ID() != change.ConnectionID {
		return
	}
	if ac.session.IsTerminal() {
		return
	}

	switch change.State {
	case telephony.ConnRinging:
		if ac.session.State() == StateDialing {
			_ = ac.session.fire(cmdRemoteRinging)
		}

	case telephony.ConnActive:
		switch ac.session.State() {
		case StateDialing, StateRinging:
			_ = ac.session.fire(cmdRemoteAnswered)
			c.logger.Info("remote answered", "session_id", sessionID)
		}
		// RingingLocal: platform ack of our answer; the session commits
		// to Active when media reports ready.
		// OnHold/Active: hold-resume echoes, already applied.

	case telephony.ConnOnHold:
		// Hold echo, already applied synchronously.

	case telephony.ConnDisconnected:
		c.platformDisconnected(ac, change.Cause)
	}
}

// platformDisconnected handles the final platform notification.
func (c *Controller) platformDisconnected(ac *activeCall, cause telephony.DisconnectCause) {
	sid := ac.session.ID()
	switch cause {
	case telephony.CauseRemote:
		c.cancelAsync(ac)
		c.finalizeEnded(ac)
		c.logger.Info("remote hangup", "session_id", sid)
	case telephony.CauseError:
		c.failLocked(ac, "platform_error", telephony.ErrPlatformRejected)
	default:
		// Local, Canceled, Rejected: confirmations of commands already
		// applied. Finalize if the session is mid-teardown.
		if ac.session.State() == StateEnding {
			c.finalizeEnded(ac)
		}
	}
}

// snapshotRecord builds the initial store record for a session.
func snapshotRecord(s *Session) history.Record {
	return recordFromInfo(s.Info())
}

// recordFromInfo maps a session snapshot onto a history record.
func recordFromInfo(info Info) history.Record {
	return history.Record{
		ID:           info.ID,
		Direction:    info.Direction.String(),
		Kind:         info.Kind.String(),
		LocalParty:   info.LocalParty,
		RemoteParty:  info.RemoteParty,
		Status:       statusFor(info.State),
		State:        info.State.String(),
		StartedAt:    info.StartedAt,
		ConnectedAt:  info.ConnectedAt,
		EndedAt:      info.EndedAt,
		Duration:     info.Duration(),
		Muted:        info.Muted,
		Group:        info.Group,
		Participants: info.Participants,
	}
}

// statusFor maps a session state to the user-visible disposition.
// Failed, Missed and Declined stay distinct in history.
func statusFor(state SessionState) history.Status {
	switch state {
	case StateEnded:
		return history.StatusCompleted
	case StateMissed:
		return history.StatusMissed
	case StateDeclined:
		return history.StatusDeclined
	case StateFailed:
		return history.StatusFailed
	default:
		return history.StatusOngoing
	}
}
