package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// LoopbackOption customizes loopback bridge construction.
type LoopbackOption func(*LoopbackBridge)

// WithRejectOutbound makes the bridge decline outbound allocations,
// emulating a platform with no call permission or no registered account.
func WithRejectOutbound() LoopbackOption {
	return func(b *LoopbackBridge) { b.rejectOutbound = true }
}

// WithRejectInbound makes the bridge decline inbound allocations.
func WithRejectInbound() LoopbackOption {
	return func(b *LoopbackBridge) { b.rejectInbound = true }
}

// LoopbackBridge is an in-process telephony platform emulation.
//
// It applies transitions to its own connection objects and delivers the
// resulting state-changed notifications asynchronously from a dispatcher
// goroutine per connection, preserving per-connection ordering. Remote
// party behavior is scripted through RemoteRinging/RemoteAnswer/
// RemoteHangup.
type LoopbackBridge struct {
	mu     sync.Mutex
	conns  map[string]*loopbackConn
	closed bool

	rejectOutbound bool
	rejectInbound  bool

	logger *slog.Logger
}

// NewLoopbackBridge creates a loopback bridge.
func NewLoopbackBridge(logger *slog.Logger, opts ...LoopbackOption) *LoopbackBridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &LoopbackBridge{
		conns:  make(map[string]*loopbackConn),
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// loopbackConn is one emulated call leg.
type loopbackConn struct {
	id         string
	remoteAddr string

	mu    sync.Mutex
	state ConnectionState
	cause DisconnectCause

	events chan StateChange
	done   chan struct{}

	cbMu      sync.Mutex
	callbacks map[int]func(StateChange)
	nextCB    int
}

func (c *loopbackConn) ID() string         { return c.id }
func (c *loopbackConn) RemoteAddr() string { return c.remoteAddr }

func (c *loopbackConn) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *loopbackConn) Cause() DisconnectCause {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func (c *loopbackConn) OnStateChange(fn func(StateChange)) func() {
	c.cbMu.Lock()
	id := c.nextCB
	c.nextCB++
	c.callbacks[id] = fn
	c.cbMu.Unlock()
	return func() {
		c.cbMu.Lock()
		delete(c.callbacks, id)
		c.cbMu.Unlock()
	}
}

// dispatch delivers queued notifications in order until the leg is done.
func (c *loopbackConn) dispatch() {
	for {
		select {
		case ev := <-c.events:
			c.cbMu.Lock()
			fns := make([]func(StateChange), 0, len(c.callbacks))
			for _, fn := range c.callbacks {
				fns = append(fns, fn)
			}
			c.cbMu.Unlock()
			for _, fn := range fns {
				fn(ev)
			}
			if ev.State == ConnDisconnected {
				close(c.done)
				return
			}
		case <-c.done:
			return
		}
	}
}

// transition applies a state change and queues the notification.
// Returns false if the leg is already destroyed.
func (c *loopbackConn) transition(state ConnectionState, cause DisconnectCause) bool {
	c.mu.Lock()
	if c.state == ConnDisconnected {
		c.mu.Unlock()
		return false
	}
	c.state = state
	c.cause = cause
	c.mu.Unlock()

	c.events <- StateChange{ConnectionID: c.id, State: state, Cause: cause}
	return true
}

func (b *LoopbackBridge) newConn(remoteAddr string, initial ConnectionState) *loopbackConn {
	c := &loopbackConn{
		id:         "conn-" + uuid.New().String(),
		remoteAddr: remoteAddr,
		state:      initial,
		events:     make(chan StateChange, 16),
		done:       make(chan struct{}),
		callbacks:  make(map[int]func(StateChange)),
	}
	go c.dispatch()

	b.mu.Lock()
	b.conns[c.id] = c
	b.mu.Unlock()
	return c
}

// CreateOutbound allocates a leg in the Dialing state.
func (b *LoopbackBridge) CreateOutbound(ctx context.Context, remoteAddr string) (Connection, error) {
	if err := b.checkAlloc(b.rejectOutbound); err != nil {
		return nil, err
	}
	c := b.newConn(remoteAddr, ConnDialing)
	b.logger.Debug("loopback: outbound leg created", "conn_id", c.id, "remote", remoteAddr)
	return c, nil
}

// CreateInbound allocates a leg in the Ringing state.
func (b *LoopbackBridge) CreateInbound(ctx context.Context, remoteAddr string) (Connection, error) {
	if err := b.checkAlloc(b.rejectInbound); err != nil {
		return nil, err
	}
	c := b.newConn(remoteAddr, ConnRinging)
	b.logger.Debug("loopback: inbound leg created", "conn_id", c.id, "remote", remoteAddr)
	return c, nil
}

func (b *LoopbackBridge) checkAlloc(reject bool) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("loopback bridge closed: %w", ErrPlatformRejected)
	}
	if reject {
		return ErrPlatformRejected
	}
	return nil
}

func (b *LoopbackBridge) lookup(conn Connection) (*loopbackConn, bool) {
	if conn == nil {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[conn.ID()]
	return c, ok
}

// Answer transitions an inbound leg to Active.
func (b *LoopbackBridge) Answer(conn Connection) error {
	c, ok := b.lookup(conn)
	if !ok || c.State() == ConnDisconnected {
		return ErrInvalidHandle
	}
	if c.State() != ConnRinging {
		return fmt.Errorf("answer from %s: %w", c.State(), ErrInvalidTransition)
	}
	c.transition(ConnActive, CauseNone)
	return nil
}

// Reject disconnects an inbound leg with CauseRejected.
func (b *LoopbackBridge) Reject(conn Connection) error {
	return b.destroy(conn, CauseRejected)
}

// Disconnect disconnects an established leg with CauseLocal.
func (b *LoopbackBridge) Disconnect(conn Connection) error {
	return b.destroy(conn, CauseLocal)
}

// Abort disconnects a not-yet-established leg with CauseCanceled.
func (b *LoopbackBridge) Abort(conn Connection) error {
	return b.destroy(conn, CauseCanceled)
}

// destroy tears a leg down. No-op on an already-destroyed handle.
func (b *LoopbackBridge) destroy(conn Connection, cause DisconnectCause) error {
	c, ok := b.lookup(conn)
	if !ok {
		return nil
	}
	if c.transition(ConnDisconnected, cause) {
		b.logger.Debug("loopback: leg destroyed", "conn_id", c.id, "cause", cause)
	}
	b.mu.Lock()
	delete(b.conns, c.id)
	b.mu.Unlock()
	return nil
}

// Hold places an active leg on hold.
func (b *LoopbackBridge) Hold(conn Connection) error {
	c, ok := b.lookup(conn)
	if !ok {
		return ErrInvalidHandle
	}
	if c.State() != ConnActive {
		return fmt.Errorf("hold from %s: %w", c.State(), ErrInvalidTransition)
	}
	c.transition(ConnOnHold, CauseNone)
	return nil
}

// Unhold resumes a held leg.
func (b *LoopbackBridge) Unhold(conn Connection) error {
	c, ok := b.lookup(conn)
	if !ok {
		return ErrInvalidHandle
	}
	if c.State() != ConnOnHold {
		return fmt.Errorf("unhold from %s: %w", c.State(), ErrInvalidTransition)
	}
	c.transition(ConnActive, CauseNone)
	return nil
}

// PlayDTMF logs the digit. The loopback platform has no far end to hear it.
func (b *LoopbackBridge) PlayDTMF(conn Connection, digit rune) error {
	c, ok := b.lookup(conn)
	if !ok {
		return ErrInvalidHandle
	}
	b.logger.Debug("loopback: dtmf", "conn_id", c.id, "digit", string(digit))
	return nil
}

// Close destroys any remaining legs.
func (b *LoopbackBridge) Close() error {
	b.mu.Lock()
	b.closed = true
	conns := make([]*loopbackConn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.conns = make(map[string]*loopbackConn)
	b.mu.Unlock()

	for _, c := range conns {
		c.transition(ConnDisconnected, CauseError)
	}
	return nil
}

// FindByRemote returns the live leg for a remote address, if any.
// Intended for scripted remote behavior in demos and tests.
func (b *LoopbackBridge) FindByRemote(remoteAddr string) Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		if c.remoteAddr == remoteAddr {
			return c
		}
	}
	return nil
}

// --- Scripted remote behavior ---

// RemoteRinging reports remote ringback on an outbound leg.
func (b *LoopbackBridge) RemoteRinging(conn Connection) error {
	c, ok := b.lookup(conn)
	if !ok {
		return ErrInvalidHandle
	}
	if c.State() != ConnDialing {
		return fmt.Errorf("remote ringing from %s: %w", c.State(), ErrInvalidTransition)
	}
	c.transition(ConnRinging, CauseNone)
	return nil
}

// RemoteAnswer makes the emulated far end answer an outbound leg.
func (b *LoopbackBridge) RemoteAnswer(conn Connection) error {
	c, ok := b.lookup(conn)
	if !ok {
		return ErrInvalidHandle
	}
	switch c.State() {
	case ConnDialing, ConnRinging:
		c.transition(ConnActive, CauseNone)
		return nil
	default:
		return fmt.Errorf("remote answer from %s: %w", c.State(), ErrInvalidTransition)
	}
}

// RemoteHangup makes the emulated far end terminate a leg.
func (b *LoopbackBridge) RemoteHangup(conn Connection) error {
	return b.destroy(conn, CauseRemote)
}
