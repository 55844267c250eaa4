// Package core declares the seams between the conference orchestrator and
// its collaborators: the signaling transport, the authenticator and the
// media engine. Implementations live in adapters; nothing here does I/O.
package core

import (
	"time"

	"github.com/venrik/meetwire/internal/domain"
)

// SessionState is the transport-level connection state. It is owned by the
// signaling link; everyone else only observes it.
type SessionState int

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
	SessionAuthenticating
	SessionAuthenticated
	SessionJoiningRoom
	SessionInRoom
	SessionDisconnecting
	SessionError
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionAuthenticating:
		return "authenticating"
	case SessionAuthenticated:
		return "authenticated"
	case SessionJoiningRoom:
		return "joining_room"
	case SessionInRoom:
		return "in_room"
	case SessionDisconnecting:
		return "disconnecting"
	case SessionError:
		return "error"
	default:
		return "unknown"
	}
}

// SignalLink is what the orchestrator requires from a signaling transport.
// All calls return immediately; outcomes arrive through LinkEvents.
type SignalLink interface {
	// Connect is valid from the disconnected and error states only.
	Connect(serverURL string, room domain.RoomName, displayName string)
	// Disconnect stops timers synchronously and closes the wire; any
	// scheduled reconnect attempt is invalidated before it returns.
	Disconnect()
	// LeaveRoom sends the unavailable presence without dropping the wire.
	LeaveRoom()

	// The send operations fail soft: when not connected they log a warning
	// and do nothing.
	SendChatMessage(text string)
	SendPresence(statusText string)
	SetAudioMuted(muted bool)
	SetVideoMuted(muted bool)

	State() SessionState
	LocalAddress() domain.Address
}

// LinkEvents receives everything a signaling link reports upward. The link
// calls these from its dispatch goroutine, in wire arrival order.
type LinkEvents interface {
	OnSessionStateChanged(state SessionState)
	OnRoomJoined()
	OnRoomLeft()
	OnParticipantJoined(p domain.Participant)
	OnParticipantLeft(address domain.Address)
	OnParticipantUpdated(p domain.Participant)
	OnChatMessage(from domain.Address, body string, timestamp time.Time)
	// OnReconnecting fires when the link schedules wire-level reconnect
	// attempt n after an unexpected close.
	OnReconnecting(attempt int)
	OnLinkError(err *domain.Error)
}
