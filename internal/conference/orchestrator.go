// Package conference is the application-facing facade of the session
// protocol layer. It composes the URL resolver, the authenticator, the
// signaling transport and the participant roster, and exposes the simpler
// conference state machine to the caller.
package conference

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/venrik/meetwire/internal/core"
	"github.com/venrik/meetwire/internal/domain"
	"github.com/venrik/meetwire/internal/locator"
	"github.com/venrik/meetwire/internal/registry"
	"github.com/venrik/meetwire/internal/transport"
)

// Options configure one orchestrator.
type Options struct {
	DefaultServer        string
	MaxReconnectAttempts int
	HealthCheckInterval  time.Duration

	Transport transport.Options

	// LinkFactory overrides the signaling transport, for tests. The
	// orchestrator passes itself as the link's event sink.
	LinkFactory func(events core.LinkEvents) core.SignalLink
}

// Orchestrator drives one conference at a time. At most one live signaling
// link exists per instance; all public operations return immediately.
type Orchestrator struct {
	opts   Options
	authn  core.Authenticator
	media  core.MediaEngine
	events Events

	link   core.SignalLink
	roster *registry.Registry

	mu         sync.Mutex
	confState  State
	connState  ConnectionState
	gen        int
	info       domain.ConferenceInfo
	hasInfo    bool
	local      domain.Participant
	audioMuted bool
	videoMuted bool
	sharing    bool
	lastAuth   *core.AuthResult
	sup        supervisor
	healthStop chan struct{}
}

// New wires an orchestrator. media may be nil (no media path); events
// fields may be nil.
func New(authn core.Authenticator, media core.MediaEngine, events Events, opts Options) *Orchestrator {
	if opts.DefaultServer == "" {
		opts.DefaultServer = locator.DefaultServerURL
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = 10 * time.Second
	}
	o := &Orchestrator{
		opts:   opts,
		authn:  authn,
		media:  media,
		events: events,
		roster: registry.New(),
	}
	o.sup.maxAttempts = opts.MaxReconnectAttempts
	if opts.LinkFactory != nil {
		o.link = opts.LinkFactory(o)
	} else {
		o.link = transport.New(o, opts.Transport)
	}
	return o
}

// JoinConference resolves the identifier, authenticates, and commands the
// transport to connect. Fails fast when not idle or on an unresolvable
// identifier; both are reported as structured errors, never panics.
func (o *Orchestrator) JoinConference(identifier, displayName string) *domain.Error {
	o.mu.Lock()
	if o.confState != Idle {
		o.mu.Unlock()
		err := domain.NewError(domain.KindInvalidIdentifier, "already in a conference or joining", o.confState.String())
		o.events.emitError(err)
		return err
	}

	loc, rerr := locator.ResolveWithDefault(identifier, o.opts.DefaultServer)
	if rerr != nil {
		o.mu.Unlock()
		log.Warn().Str("module", "conference").Str("identifier", identifier).Str("reason", rerr.Message).Msg("join rejected")
		o.events.emitError(rerr)
		return rerr
	}

	if displayName == "" {
		displayName = "Anonymous"
	}
	now := time.Now()
	o.info = domain.ConferenceInfo{
		RoomName:    loc.RoomName,
		ServerURL:   loc.ServerURL,
		FullURL:     identifier,
		DisplayName: displayName,
		JoinedAt:    now,
	}
	o.hasInfo = true
	o.local = domain.Participant{
		DisplayName:     displayName,
		AudioMuted:      o.audioMuted,
		VideoMuted:      o.videoMuted,
		IsScreenSharing: o.sharing,
		StatusText:      "joining",
		JoinedAt:        now,
	}
	o.roster.Clear()
	o.sup.reset()

	o.gen++
	g := o.gen
	emits := []func(){
		o.setConfStateLocked(Joining),
		o.setConnStateLocked(Connecting),
	}
	serverURL, room := loc.ServerURL, loc.RoomName
	o.mu.Unlock()
	for _, emit := range emits {
		emit()
	}

	log.Info().Str("module", "conference").Str("server", serverURL).Str("room", string(room)).Str("display_name", displayName).Msg("joining conference")
	go o.authenticate(g, serverURL, room, displayName)
	return nil
}

func (o *Orchestrator) authenticate(g int, serverURL string, room domain.RoomName, displayName string) {
	result, err := o.authn.Authenticate(context.Background(), serverURL, room, displayName)

	o.mu.Lock()
	if o.gen != g || (o.confState != Joining && o.confState != InConference) {
		o.mu.Unlock()
		return
	}
	if err != nil {
		// No automatic retry: authentication failures need new caller input.
		emits := []func(){
			o.setConfStateLocked(Idle),
			o.setConnStateLocked(Disconnected),
		}
		o.mu.Unlock()
		for _, emit := range emits {
			emit()
		}
		var derr *domain.Error
		if !errors.As(err, &derr) {
			derr = domain.NewError(domain.KindAuthentication, "authentication failed", err.Error())
		}
		log.Warn().Str("module", "conference").Str("detail", derr.Details).Msg("authentication failed")
		o.events.emitError(derr)
		return
	}

	o.lastAuth = &result
	if result.DisplayName != "" {
		o.info.DisplayName = result.DisplayName
		o.local.DisplayName = result.DisplayName
	}
	displayName = o.info.DisplayName
	o.mu.Unlock()

	log.Info().Str("module", "conference").Str("user_id", result.UserID).Msg("authenticated")
	o.link.Connect(serverURL, room, displayName)
}

// LeaveConference tears down deliberately. A leave while idle is a no-op:
// no state change, no events.
func (o *Orchestrator) LeaveConference() {
	o.mu.Lock()
	if o.confState == Idle {
		o.mu.Unlock()
		return
	}
	o.gen++
	o.sup.reset()
	o.stopHealthLocked()
	emit := o.setConfStateLocked(Leaving)
	o.mu.Unlock()
	emit()

	// The transport sends the room-leave presence and closes the wire;
	// its events during Leaving are ignored by the handlers.
	o.link.Disconnect()
	if o.media != nil {
		go o.media.RoomLeft()
	}

	o.mu.Lock()
	o.roster.Clear()
	o.sharing = false
	o.local.IsScreenSharing = false
	emits := []func(){
		o.setConnStateLocked(Disconnected),
		o.setConfStateLocked(Idle),
	}
	o.mu.Unlock()
	for _, emit := range emits {
		emit()
	}
	if o.events.ConferenceLeft != nil {
		o.events.ConferenceLeft()
	}
	log.Info().Str("module", "conference").Msg("conference left")
}

// ReconnectToConference re-runs the connect sequence for the last
// conference. Authentication is reused when the authenticator's previous
// result is still held; otherwise the full sequence runs again.
func (o *Orchestrator) ReconnectToConference() *domain.Error {
	o.mu.Lock()
	if !o.hasInfo {
		o.mu.Unlock()
		err := domain.NewError(domain.KindTransport, "no conference to reconnect to", "")
		o.events.emitError(err)
		return err
	}
	if o.connState == Connecting || o.connState == Reconnecting {
		o.mu.Unlock()
		return nil
	}

	o.gen++
	g := o.gen
	// Arm the supervisor so the retry outcome is reported as a
	// reconnection, same as for transport-initiated attempts.
	o.sup.activate()
	attempt := o.sup.attempts + 1
	serverURL, room, displayName := o.info.ServerURL, o.info.RoomName, o.info.DisplayName
	haveAuth := o.lastAuth != nil
	var emits []func()
	if o.confState != InConference {
		emits = append(emits, o.setConfStateLocked(Joining))
	}
	emits = append(emits, o.setConnStateLocked(Reconnecting))
	o.mu.Unlock()
	for _, emit := range emits {
		emit()
	}
	if o.events.ReconnectionStarted != nil {
		o.events.ReconnectionStarted(attempt)
	}

	log.Info().Str("module", "conference").Str("room", string(room)).Bool("reuse_auth", haveAuth).Msg("reconnecting to conference")
	if haveAuth {
		o.link.Connect(serverURL, room, displayName)
	} else {
		go o.authenticate(g, serverURL, room, displayName)
	}
	return nil
}

// SendChatMessage forwards to the transport only while in conference. A
// user-initiated action is never dropped silently, so the not-connected
// case reports a structured error.
func (o *Orchestrator) SendChatMessage(text string) *domain.Error {
	o.mu.Lock()
	inConf := o.confState == InConference
	o.mu.Unlock()
	if !inConf {
		err := domain.NewError(domain.KindTransport, "not connected to a conference", "cannot send chat message")
		o.events.emitError(err)
		return err
	}
	o.link.SendChatMessage(text)
	return nil
}

// SetAudioMuted updates the local flag, republishes presence through the
// transport and informs the media engine.
func (o *Orchestrator) SetAudioMuted(muted bool) {
	o.mu.Lock()
	if o.audioMuted == muted {
		o.mu.Unlock()
		return
	}
	o.audioMuted = muted
	o.local.AudioMuted = muted
	audio, video := o.audioMuted, o.videoMuted
	o.mu.Unlock()

	o.link.SetAudioMuted(muted)
	if o.media != nil {
		o.media.SetAudioMuted(muted)
	}
	o.syncLocalParticipant()
	if o.events.LocalMediaStateChanged != nil {
		o.events.LocalMediaStateChanged(audio, video)
	}
}

// SetVideoMuted mirrors SetAudioMuted for the video flag.
func (o *Orchestrator) SetVideoMuted(muted bool) {
	o.mu.Lock()
	if o.videoMuted == muted {
		o.mu.Unlock()
		return
	}
	o.videoMuted = muted
	o.local.VideoMuted = muted
	audio, video := o.audioMuted, o.videoMuted
	o.mu.Unlock()

	o.link.SetVideoMuted(muted)
	if o.media != nil {
		o.media.SetVideoMuted(muted)
	}
	o.syncLocalParticipant()
	if o.events.LocalMediaStateChanged != nil {
		o.events.LocalMediaStateChanged(audio, video)
	}
}

// StartScreenShare flips the local screen-share flag. The capture pipeline
// itself belongs to the media collaborator; only the flag and the event are
// produced here.
func (o *Orchestrator) StartScreenShare() {
	o.setScreenShare(true)
}

// StopScreenShare clears the local screen-share flag.
func (o *Orchestrator) StopScreenShare() {
	o.setScreenShare(false)
}

func (o *Orchestrator) setScreenShare(active bool) {
	o.mu.Lock()
	if o.sharing == active {
		o.mu.Unlock()
		return
	}
	o.sharing = active
	o.local.IsScreenSharing = active
	addr := o.local.Address
	o.mu.Unlock()

	o.syncLocalParticipant()
	if o.events.ScreenShareStateChanged != nil {
		o.events.ScreenShareStateChanged(active, addr)
	}
	log.Info().Bool("active", active).Str("module", "conference").Msg("screen share state")
}

// syncLocalParticipant refreshes the roster copy of the local participant
// when its echo is already present.
func (o *Orchestrator) syncLocalParticipant() {
	o.mu.Lock()
	local := o.local
	o.mu.Unlock()
	if local.Address == "" {
		return
	}
	if _, ok := o.roster.Get(local.Address); !ok {
		return
	}
	o.roster.Upsert(local)
	if o.events.ParticipantUpdated != nil {
		o.events.ParticipantUpdated(local)
	}
}

// State returns the conference-level state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.confState
}

// Connection returns the coarse wire state.
func (o *Orchestrator) Connection() ConnectionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connState
}

// Info returns the current conference snapshot.
func (o *Orchestrator) Info() domain.ConferenceInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.info
}

// Participants returns a copy of the roster.
func (o *Orchestrator) Participants() []domain.Participant {
	return o.roster.Snapshot()
}

// LocalParticipant returns the local member's record.
func (o *Orchestrator) LocalParticipant() domain.Participant {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.local
}

func (o *Orchestrator) setConfStateLocked(s State) func() {
	if o.confState == s {
		return func() {}
	}
	old := o.confState
	o.confState = s
	log.Debug().Str("module", "conference").Str("from", old.String()).Str("to", s.String()).Msg("conference state")
	return func() { o.events.emitConferenceState(s) }
}

func (o *Orchestrator) setConnStateLocked(s ConnectionState) func() {
	if o.connState == s {
		return func() {}
	}
	old := o.connState
	o.connState = s
	log.Debug().Str("module", "conference").Str("from", old.String()).Str("to", s.String()).Msg("connection state")
	return func() { o.events.emitConnectionState(s) }
}

// startHealthLocked arms the periodic connection health check for the
// current generation.
func (o *Orchestrator) startHealthLocked(g int) {
	o.stopHealthLocked()
	stop := make(chan struct{})
	o.healthStop = stop
	go o.healthLoop(g, stop)
}

func (o *Orchestrator) stopHealthLocked() {
	if o.healthStop != nil {
		close(o.healthStop)
		o.healthStop = nil
	}
}

// healthLoop watches the transport while in conference. Retries are the
// transport's job; the health check only surfaces a stuck link.
func (o *Orchestrator) healthLoop(g int, stop chan struct{}) {
	t := time.NewTicker(o.opts.HealthCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			o.mu.Lock()
			stale := o.gen != g
			inConf := o.confState == InConference
			o.mu.Unlock()
			if stale {
				return
			}
			if !inConf {
				continue
			}
			if s := o.link.State(); s != core.SessionInRoom {
				log.Warn().Str("module", "conference").Str("session_state", s.String()).Msg("health check: transport not in room")
			}
		}
	}
}
