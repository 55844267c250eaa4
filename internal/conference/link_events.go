package conference

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/venrik/meetwire/internal/core"
	"github.com/venrik/meetwire/internal/domain"
)

var _ core.LinkEvents = (*Orchestrator)(nil)

// OnSessionStateChanged derives the coarse connection view from transport
// session states. Session Error is not mapped directly; the follow-up
// OnReconnecting or capacity error decides between retrying and failed.
func (o *Orchestrator) OnSessionStateChanged(s core.SessionState) {
	o.mu.Lock()
	var emit func()
	switch s {
	case core.SessionConnecting:
		if o.sup.active {
			emit = o.setConnStateLocked(Reconnecting)
		} else {
			emit = o.setConnStateLocked(Connecting)
		}
	case core.SessionConnected:
		emit = o.setConnStateLocked(Connected)
	case core.SessionDisconnected:
		if o.confState == Leaving || o.confState == Idle {
			o.mu.Unlock()
			return
		}
		emit = o.setConnStateLocked(Disconnected)
	default:
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	emit()
}

func (o *Orchestrator) OnRoomJoined() {
	o.mu.Lock()
	if o.confState == Leaving || o.confState == Idle {
		o.mu.Unlock()
		return
	}
	wasReconnecting := o.sup.active || o.connState == Reconnecting
	o.sup.reset()

	emits := []func(){
		o.setConnStateLocked(Connected),
		o.setConfStateLocked(InConference),
	}
	o.local.StatusText = "connected"
	o.startHealthLocked(o.gen)
	info := o.info
	o.mu.Unlock()

	// The transport assigned our address during the handshake.
	addr := o.link.LocalAddress()
	o.mu.Lock()
	o.local.Address = addr
	local := o.local
	o.mu.Unlock()

	for _, emit := range emits {
		emit()
	}
	if o.media != nil {
		go func() {
			if err := o.media.RoomJoined(info); err != nil {
				var derr *domain.Error
				if e, ok := err.(*domain.Error); ok {
					derr = e
				} else {
					derr = domain.NewError(domain.KindMedia, "media engine failed to join", err.Error())
				}
				o.events.emitError(derr)
			}
		}()
	}
	if o.events.ConferenceJoined != nil {
		o.events.ConferenceJoined(info)
	}
	if wasReconnecting && o.events.ReconnectionSucceeded != nil {
		o.events.ReconnectionSucceeded()
	}
	log.Info().Str("module", "conference").Str("local_address", string(local.Address)).Str("room", string(info.RoomName)).Msg("conference joined")
}

func (o *Orchestrator) OnRoomLeft() {
	o.mu.Lock()
	deliberate := o.confState == Leaving || o.confState == Idle
	o.mu.Unlock()
	if deliberate {
		return
	}
	// An unexpected room exit; the transport notices the wire state and
	// drives any retry, nothing to do here beyond surfacing it.
	log.Warn().Str("module", "conference").Msg("left room unexpectedly")
}

func (o *Orchestrator) OnParticipantJoined(p domain.Participant) {
	o.applyPresence(p)
}

func (o *Orchestrator) OnParticipantUpdated(p domain.Participant) {
	o.applyPresence(p)
}

// applyPresence translates a transport-level participant into the
// conference roster, preserving conference-only fields across updates.
// The roster's new-vs-known answer decides the event, so a repeated join
// presence surfaces as an update.
func (o *Orchestrator) applyPresence(p domain.Participant) {
	o.mu.Lock()
	if o.confState == Leaving || o.confState == Idle {
		o.mu.Unlock()
		return
	}
	if existing, ok := o.roster.Get(p.Address); ok {
		p.IsScreenSharing = existing.IsScreenSharing
		p.JoinedAt = existing.JoinedAt
	}
	isNew := o.roster.Upsert(p)
	o.info.ParticipantCount = o.roster.Size()
	info := o.info
	o.mu.Unlock()

	if isNew {
		if o.events.ParticipantJoined != nil {
			o.events.ParticipantJoined(p)
		}
	} else {
		if o.events.ParticipantUpdated != nil {
			o.events.ParticipantUpdated(p)
		}
	}
	if o.events.ConferenceInfoUpdated != nil {
		o.events.ConferenceInfoUpdated(info)
	}
}

// OnParticipantLeft removes the participant exactly once; a duplicate
// unavailable presence for the same address emits nothing.
func (o *Orchestrator) OnParticipantLeft(address domain.Address) {
	o.mu.Lock()
	if o.confState == Leaving || o.confState == Idle {
		o.mu.Unlock()
		return
	}
	removed := o.roster.Remove(address)
	o.info.ParticipantCount = o.roster.Size()
	info := o.info
	o.mu.Unlock()

	if !removed {
		return
	}
	if o.events.ParticipantLeft != nil {
		o.events.ParticipantLeft(address)
	}
	if o.events.ConferenceInfoUpdated != nil {
		o.events.ConferenceInfoUpdated(info)
	}
}

func (o *Orchestrator) OnChatMessage(from domain.Address, body string, timestamp time.Time) {
	if o.events.ChatMessageReceived != nil {
		o.events.ChatMessageReceived(from, body, timestamp)
	}
}

// OnReconnecting observes a transport-level retry. The supervisor arms on
// the first attempt seen while in conference and reports progress; it
// never issues a competing connect call of its own.
func (o *Orchestrator) OnReconnecting(attempt int) {
	o.mu.Lock()
	if !o.sup.active && o.confState == InConference {
		o.sup.activate()
	}
	report, exceeded := o.sup.observeAttempt(attempt)
	var emit func()
	if o.sup.active {
		emit = o.setConnStateLocked(Reconnecting)
	}
	o.mu.Unlock()

	if emit != nil {
		emit()
	}
	if report && o.events.ReconnectionStarted != nil {
		o.events.ReconnectionStarted(attempt)
	}
	if exceeded {
		o.reconnectionExhausted("conference reconnect policy exceeded")
	}
}

func (o *Orchestrator) OnLinkError(err *domain.Error) {
	o.events.emitError(err)
	if err.Kind == domain.KindCapacity {
		o.reconnectionExhausted(err.Message)
	}
}

// reconnectionExhausted marks the terminal failure path: no further
// automatic attempt happens until the caller reconnects explicitly.
func (o *Orchestrator) reconnectionExhausted(reason string) {
	o.mu.Lock()
	wasActive := o.sup.active
	o.sup.reset()
	o.stopHealthLocked()
	emits := []func(){o.setConnStateLocked(ConnectionFailed)}
	if o.confState == InConference || o.confState == Joining {
		emits = append(emits, o.setConfStateLocked(Failed))
	}
	o.mu.Unlock()

	for _, emit := range emits {
		emit()
	}
	if wasActive && o.events.ReconnectionFailed != nil {
		o.events.ReconnectionFailed(reason)
	}
	log.Error().Str("module", "conference").Str("reason", reason).Msg("reconnection exhausted")
}
