// Package telephony adapts a platform telephony stack's connection
// lifecycle to the call-session controller.
//
// The platform owns final connection state: Bridge methods are requests,
// and the state-changed callbacks delivered on each Connection are the
// source of truth. Two implementations exist: a loopback in-process
// emulation (demo and tests) and a SIP-backed bridge on sipgo.
package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrPlatformRejected indicates the platform declined to allocate a
	// connection (no call permission, no registered provider account).
	ErrPlatformRejected = errors.New("platform rejected connection")

	// ErrInvalidHandle indicates the connection handle was already destroyed.
	ErrInvalidHandle = errors.New("invalid connection handle")

	// ErrInvalidTransition indicates the connection is not in a state that
	// permits the requested transition.
	ErrInvalidTransition = errors.New("invalid connection transition")
)

// ConnectionState represents the platform-level state of one call leg.
type ConnectionState int

const (
	// ConnDialing - outbound leg, waiting for the remote side.
	ConnDialing ConnectionState = iota
	// ConnRinging - inbound leg ringing locally, or outbound remote ringback.
	ConnRinging
	// ConnActive - the leg is connected.
	ConnActive
	// ConnOnHold - the leg is connected and held.
	ConnOnHold
	// ConnDisconnected - the leg is torn down; the handle is destroyed.
	ConnDisconnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case ConnDialing:
		return "Dialing"
	case ConnRinging:
		return "Ringing"
	case ConnActive:
		return "Active"
	case ConnOnHold:
		return "OnHold"
	case ConnDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// DisconnectCause explains why a connection was disconnected.
type DisconnectCause int

const (
	// CauseNone - the connection is not disconnected.
	CauseNone DisconnectCause = iota
	// CauseRejected - the local party rejected an inbound leg.
	CauseRejected
	// CauseLocal - the local party hung up an established leg.
	CauseLocal
	// CauseCanceled - the attempt was aborted before establishment.
	CauseCanceled
	// CauseRemote - the remote party ended the leg.
	CauseRemote
	// CauseError - the platform failed the leg.
	CauseError
)

// String returns the string representation of the cause.
func (c DisconnectCause) String() string {
	switch c {
	case CauseNone:
		return "None"
	case CauseRejected:
		return "Rejected"
	case CauseLocal:
		return "Local"
	case CauseCanceled:
		return "Canceled"
	case CauseRemote:
		return "Remote"
	case CauseError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}

// StateChange is one platform-level state notification for a connection.
type StateChange struct {
	ConnectionID string
	State        ConnectionState
	Cause        DisconnectCause // meaningful only when State is ConnDisconnected
}

// Connection is an opaque handle for one call leg. It is owned by the
// bridge for the lifetime of one call attempt and destroyed when the
// leg disconnects.
type Connection interface {
	// ID returns the unique identifier of the leg.
	ID() string

	// RemoteAddr returns the remote party address the leg was created for.
	RemoteAddr() string

	// State returns the current platform-level state.
	State() ConnectionState

	// Cause returns the disconnect cause, or CauseNone while live.
	Cause() DisconnectCause

	// OnStateChange registers a callback for platform state notifications.
	// Notifications for one connection are delivered in order, one at a
	// time. Returns a function that unregisters the callback.
	OnStateChange(fn func(StateChange)) func()
}

// Bridge translates controller commands into platform connection
// transitions. All methods are safe for concurrent use.
//
// Disconnect-family methods (Reject, Disconnect, Abort) are idempotent on
// an already-destroyed handle. Answer returns ErrInvalidHandle on a
// destroyed handle; Hold/Unhold return ErrInvalidTransition when the leg
// is not active/held respectively.
type Bridge interface {
	// CreateOutbound allocates a leg in the Dialing state.
	CreateOutbound(ctx context.Context, remoteAddr string) (Connection, error)

	// CreateInbound allocates a leg in the Ringing state.
	CreateInbound(ctx context.Context, remoteAddr string) (Connection, error)

	// Answer transitions an inbound leg to Active.
	Answer(conn Connection) error

	// Reject disconnects an inbound leg with CauseRejected.
	Reject(conn Connection) error

	// Disconnect disconnects an established leg with CauseLocal.
	Disconnect(conn Connection) error

	// Abort disconnects a not-yet-established leg with CauseCanceled.
	Abort(conn Connection) error

	// Hold places an active leg on hold.
	Hold(conn Connection) error

	// Unhold resumes a held leg.
	Unhold(conn Connection) error

	// PlayDTMF plays a DTMF digit on an active leg. Best effort.
	PlayDTMF(conn Connection, digit rune) error

	// Close releases the bridge and destroys any remaining legs.
	Close() error
}
