package conference

import (
	"time"

	"github.com/venrik/meetwire/internal/domain"
)

// Events are the application-facing callbacks. Any field may be nil.
// Callbacks are invoked outside the orchestrator's lock, in the order the
// underlying protocol events arrived; they must not block for long.
type Events struct {
	ConnectionStateChanged func(state ConnectionState)
	ConferenceStateChanged func(state State)

	ConferenceJoined      func(info domain.ConferenceInfo)
	ConferenceLeft        func()
	ConferenceInfoUpdated func(info domain.ConferenceInfo)

	ParticipantJoined  func(p domain.Participant)
	ParticipantLeft    func(address domain.Address)
	ParticipantUpdated func(p domain.Participant)

	ChatMessageReceived func(from domain.Address, text string, timestamp time.Time)

	ReconnectionStarted   func(attempt int)
	ReconnectionSucceeded func()
	ReconnectionFailed    func(reason string)

	LocalMediaStateChanged  func(audioMuted, videoMuted bool)
	ScreenShareStateChanged func(active bool, address domain.Address)

	ErrorOccurred func(err *domain.Error)
}

func (e Events) emitConnectionState(s ConnectionState) {
	if e.ConnectionStateChanged != nil {
		e.ConnectionStateChanged(s)
	}
}

func (e Events) emitConferenceState(s State) {
	if e.ConferenceStateChanged != nil {
		e.ConferenceStateChanged(s)
	}
}

func (e Events) emitError(err *domain.Error) {
	if e.ErrorOccurred != nil {
		e.ErrorOccurred(err)
	}
}
