// Package transport owns the wire connection to the conferencing server and
// the session-level state machine driven over it: connect, claim the local
// address, join the room, heartbeat, and bounded reconnection after
// unexpected closes.
package transport

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/venrik/meetwire/internal/core"
	"github.com/venrik/meetwire/internal/domain"
	"github.com/venrik/meetwire/internal/stanza"
)

// Options tune one Link. Zero values fall back to the defaults below.
type Options struct {
	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	DialTimeout          time.Duration
	ConfigFetchTimeout   time.Duration

	// Dialer and HTTPClient may be replaced in tests.
	Dialer     *websocket.Dialer
	HTTPClient *http.Client
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultReconnectInterval = 3 * time.Second
	defaultMaxReconnects     = 5
	defaultDialTimeout       = 15 * time.Second
	defaultConfigTimeout     = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = defaultReconnectInterval
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = defaultMaxReconnects
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.ConfigFetchTimeout <= 0 {
		o.ConfigFetchTimeout = defaultConfigTimeout
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: o.DialTimeout}
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	return o
}

// Link is one signaling connection to a conferencing server. All exported
// methods return immediately; outcomes are reported through core.LinkEvents.
//
// Every write to the wire happens with mu held, which also serializes
// writers as gorilla/websocket requires. Timer and pump callbacks validate
// gen under mu so a synchronous Disconnect invalidates anything already
// scheduled.
type Link struct {
	opts   Options
	events core.LinkEvents

	mu    sync.Mutex
	state core.SessionState
	gen   int

	conn *websocket.Conn

	serverURL   string
	room        domain.RoomName
	displayName string

	endpoints Endpoints
	roomAddr  domain.Address
	localAddr domain.Address

	audioMuted bool
	videoMuted bool

	// known mirrors which addresses this session has seen presence from,
	// to pick joined-vs-updated. The application roster lives above.
	known map[domain.Address]struct{}

	attempts       int
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
}

var _ core.SignalLink = (*Link)(nil)

func New(events core.LinkEvents, opts Options) *Link {
	return &Link{
		opts:   opts.withDefaults(),
		events: events,
		state:  core.SessionDisconnected,
		known:  make(map[domain.Address]struct{}),
	}
}

func (l *Link) State() core.SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) LocalAddress() domain.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localAddr
}

// Connect starts a connection attempt. Valid only from the disconnected and
// error states; anything else logs a warning and returns.
func (l *Link) Connect(serverURL string, room domain.RoomName, displayName string) {
	l.mu.Lock()
	if l.state != core.SessionDisconnected && l.state != core.SessionError {
		log.Warn().Str("module", "transport").Str("state", l.state.String()).Msg("connect ignored: already connected or connecting")
		l.mu.Unlock()
		return
	}

	if displayName == "" {
		displayName = "User_" + generateID()[:8]
	}
	l.serverURL = serverURL
	l.room = room
	l.displayName = displayName
	l.resetLocked()

	l.gen++
	g := l.gen
	emit := l.setStateLocked(core.SessionConnecting)
	l.mu.Unlock()
	emit()

	log.Info().Str("module", "transport").Str("server", serverURL).Str("room", string(room)).Msg("connecting")
	go l.establish(g, serverURL, room, true)
}

// establish discovers endpoints (on the first attempt of a connect cycle)
// and dials the candidates in order.
func (l *Link) establish(g int, serverURL string, room domain.RoomName, discover bool) {
	var ep Endpoints
	if discover {
		ep = Discover(l.opts.HTTPClient, serverURL, room, l.opts.ConfigFetchTimeout)
	}

	l.mu.Lock()
	if l.gen != g || l.state != core.SessionConnecting {
		l.mu.Unlock()
		return
	}
	if discover {
		l.endpoints = ep
		l.roomAddr = domain.Address(string(room) + "@" + l.endpoints.MUCDomain)
	}
	candidates := l.endpoints.Candidates
	dialer := l.opts.Dialer
	header := http.Header{"Origin": []string{l.serverURL}}
	l.mu.Unlock()

	var conn *websocket.Conn
	var lastErr error
	for _, candidate := range candidates {
		c, _, err := dialer.Dial(candidate, header)
		if err != nil {
			log.Debug().Err(err).Str("module", "transport").Str("url", candidate).Msg("candidate dial failed")
			lastErr = err
			continue
		}
		log.Info().Str("module", "transport").Str("url", candidate).Msg("wire connected")
		conn = c
		break
	}

	if conn == nil {
		l.wireFailed(g, domain.NewError(domain.KindTransport, "failed to reach any websocket endpoint", errString(lastErr)))
		return
	}
	l.wireOpened(g, conn)
}

// wireOpened runs the post-open handshake: claim the local address with the
// initial presence, then join the room. Stanza dispatch starts before the
// handshake so the server's replies are not lost.
func (l *Link) wireOpened(g int, conn *websocket.Conn) {
	l.mu.Lock()
	if l.gen != g {
		l.mu.Unlock()
		_ = conn.Close()
		return
	}
	l.conn = conn
	l.attempts = 0

	emits := []func(){l.setStateLocked(core.SessionConnected)}

	stop := make(chan struct{})
	l.heartbeatStop = stop
	go l.heartbeatLoop(g, stop)
	go l.readLoop(g, conn)

	// Claim the local address and announce ourselves.
	emits = append(emits, l.setStateLocked(core.SessionAuthenticating))
	l.localAddr = domain.NewAddress(generateID(), l.endpoints.Domain, l.displayName)
	l.writeLocked(stanza.AvailablePresence(l.presenceAddrLocked(), generateID(), "available", l.audioMuted, l.videoMuted))
	emits = append(emits, l.setStateLocked(core.SessionAuthenticated))

	// Join the room.
	emits = append(emits, l.setStateLocked(core.SessionJoiningRoom))
	l.writeLocked(stanza.JoinPresence(l.presenceAddrLocked(), generateID(), l.audioMuted, l.videoMuted))
	emits = append(emits, l.setStateLocked(core.SessionInRoom))
	roomAddr, localAddr := l.roomAddr, l.localAddr
	l.mu.Unlock()

	for _, emit := range emits {
		emit()
	}
	l.events.OnRoomJoined()
	log.Info().Str("module", "transport").Str("room_address", string(roomAddr)).Str("local_address", string(localAddr)).Msg("room joined")
}

// presenceAddrLocked is the room-scoped address presence is sent to:
// room@muc-domain/displayName.
func (l *Link) presenceAddrLocked() domain.Address {
	return domain.Address(string(l.roomAddr) + "/" + l.displayName)
}

// Disconnect tears the session down deliberately. Both timers are stopped
// and any scheduled reconnect is invalidated before it returns.
func (l *Link) Disconnect() {
	l.mu.Lock()
	if l.state == core.SessionDisconnected {
		l.mu.Unlock()
		return
	}
	wasInRoom := l.state == core.SessionInRoom

	var emits []func()
	emits = append(emits, l.setStateLocked(core.SessionDisconnecting))

	// Bumping the generation invalidates the read pump, the heartbeat and
	// any reconnect callback that has fired but not yet taken the lock.
	l.gen++
	l.stopTimersLocked()

	if wasInRoom && l.conn != nil {
		l.writeLocked(stanza.LeavePresence(l.presenceAddrLocked(), generateID()))
		emits = append(emits, func() { l.events.OnRoomLeft() })
	}

	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
	l.resetLocked()
	emits = append(emits, l.setStateLocked(core.SessionDisconnected))
	l.mu.Unlock()

	for _, emit := range emits {
		emit()
	}
	log.Info().Str("module", "transport").Msg("disconnected")
}

// LeaveRoom sends the unavailable presence and falls back to the
// authenticated state, keeping the wire up.
func (l *Link) LeaveRoom() {
	l.mu.Lock()
	if l.state != core.SessionInRoom {
		l.mu.Unlock()
		return
	}
	l.writeLocked(stanza.LeavePresence(l.presenceAddrLocked(), generateID()))
	l.known = make(map[domain.Address]struct{})
	emit := l.setStateLocked(core.SessionAuthenticated)
	l.mu.Unlock()

	l.events.OnRoomLeft()
	emit()
	log.Info().Str("module", "transport").Str("room", string(l.room)).Msg("left room")
}

// SendChatMessage posts a groupchat line to the room. Fails soft when not
// in the room.
func (l *Link) SendChatMessage(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != core.SessionInRoom || text == "" {
		log.Warn().Str("module", "transport").Str("state", l.state.String()).Msg("chat message dropped: not in room or empty")
		return
	}
	l.writeLocked(stanza.GroupChatMessage(l.roomAddr, generateID(), text))
}

// SendPresence publishes availability with an optional status text and the
// current mute flags. Fails soft when not connected.
func (l *Link) SendPresence(statusText string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendPresenceLocked(statusText)
}

func (l *Link) sendPresenceLocked(statusText string) {
	if !l.connectedLocked() {
		log.Warn().Str("module", "transport").Str("state", l.state.String()).Msg("presence dropped: not connected")
		return
	}
	l.writeLocked(stanza.AvailablePresence(l.presenceAddrLocked(), generateID(), statusText, l.audioMuted, l.videoMuted))
}

// SetAudioMuted updates the flag and republishes presence when it changed.
func (l *Link) SetAudioMuted(muted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.audioMuted == muted {
		return
	}
	l.audioMuted = muted
	l.sendPresenceLocked("")
}

// SetVideoMuted updates the flag and republishes presence when it changed.
func (l *Link) SetVideoMuted(muted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.videoMuted == muted {
		return
	}
	l.videoMuted = muted
	l.sendPresenceLocked("")
}

// connectedLocked reports whether the session reached the wire-open stage
// and has not started tearing down.
func (l *Link) connectedLocked() bool {
	switch l.state {
	case core.SessionConnected, core.SessionAuthenticating, core.SessionAuthenticated,
		core.SessionJoiningRoom, core.SessionInRoom:
		return true
	}
	return false
}

func (l *Link) writeLocked(s string) {
	if l.conn == nil {
		log.Warn().Str("module", "transport").Msg("stanza dropped: wire not open")
		return
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := l.conn.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
		log.Error().Err(err).Str("module", "transport").Msg("stanza write failed")
	}
}

// readLoop is the single dispatch goroutine for one wire connection.
// Stanzas are processed strictly in arrival order.
func (l *Link) readLoop(g int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.wireClosed(g, err)
			return
		}
		l.dispatch(data)
	}
}

func (l *Link) dispatch(data []byte) {
	ev, perr := stanza.Parse(data)
	if perr != nil {
		// Protocol errors never alter session state: log and drop.
		log.Warn().Str("module", "transport").Str("detail", perr.Details).Msg("dropping unparsable stanza")
		return
	}

	switch ev := ev.(type) {
	case stanza.Presence:
		l.dispatchPresence(ev)
	case stanza.Message:
		if !ev.GroupChat || ev.Body == "" {
			return
		}
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		l.events.OnChatMessage(ev.From, ev.Body, ts)
	case stanza.IQ:
		l.dispatchIQ(ev)
	case stanza.Unrecognized:
		log.Debug().Str("module", "transport").Str("stanza", ev.Name).Msg("ignoring unrecognized stanza")
	}
}

func (l *Link) dispatchPresence(p stanza.Presence) {
	if p.From == "" {
		return
	}

	if p.Unavailable {
		l.mu.Lock()
		_, existed := l.known[p.From]
		delete(l.known, p.From)
		l.mu.Unlock()
		if existed {
			l.events.OnParticipantLeft(p.From)
		}
		return
	}

	node, _, resource, err := p.From.Split()
	if err != nil {
		log.Warn().Str("module", "transport").Str("address", string(p.From)).Msg("presence with invalid address")
		return
	}
	displayName := resource
	if displayName == "" {
		displayName = node
	}

	participant := domain.Participant{
		Address:     p.From,
		DisplayName: displayName,
		Role:        "participant",
		AudioMuted:  p.AudioMuted,
		VideoMuted:  p.VideoMuted,
		StatusText:  p.StatusText,
		JoinedAt:    time.Now(),
	}

	l.mu.Lock()
	_, existed := l.known[p.From]
	l.known[p.From] = struct{}{}
	l.mu.Unlock()

	if existed {
		l.events.OnParticipantUpdated(participant)
	} else {
		l.events.OnParticipantJoined(participant)
	}
}

func (l *Link) dispatchIQ(q stanza.IQ) {
	switch q.Type {
	case "result":
		log.Debug().Str("module", "transport").Str("id", q.ID).Msg("iq result")
	case "error":
		log.Warn().Str("module", "transport").Str("error_type", q.ErrorType).Str("text", q.ErrorText).Msg("iq error")
		l.events.OnLinkError(domain.NewError(domain.KindProtocol, "iq error", q.ErrorType+": "+q.ErrorText))
	}
}

// wireClosed handles the read pump ending, deliberately or not.
func (l *Link) wireClosed(g int, err error) {
	l.mu.Lock()
	if l.gen != g {
		// Disconnect already tore this connection down.
		l.mu.Unlock()
		return
	}
	log.Warn().Err(err).Str("module", "transport").Msg("wire closed unexpectedly")
	l.stopHeartbeatLocked()
	l.conn = nil
	l.known = make(map[domain.Address]struct{})
	l.failAndMaybeReconnect(g, domain.NewError(domain.KindTransport, "connection lost", errString(err)))
}

// wireFailed handles a connect attempt that reached no endpoint.
func (l *Link) wireFailed(g int, cause *domain.Error) {
	l.mu.Lock()
	if l.gen != g {
		l.mu.Unlock()
		return
	}
	log.Warn().Str("module", "transport").Str("detail", cause.Details).Msg("all websocket endpoints failed")
	l.failAndMaybeReconnect(g, cause)
}

// failAndMaybeReconnect applies the retry policy: under the cap it arms the
// reconnect timer, at the cap it goes terminal. Called with mu held;
// releases it before emitting.
func (l *Link) failAndMaybeReconnect(g int, cause *domain.Error) {
	emit := l.setStateLocked(core.SessionError)

	if l.attempts >= l.opts.MaxReconnectAttempts {
		l.mu.Unlock()
		emit()
		l.events.OnLinkError(domain.NewError(domain.KindCapacity, "reconnect attempts exhausted", cause.Message))
		log.Error().Int("attempts", l.attempts).Str("module", "transport").Msg("giving up on reconnection")
		return
	}

	l.attempts++
	attempt := l.attempts
	l.reconnectTimer = time.AfterFunc(l.opts.ReconnectInterval, func() {
		l.reconnect(g)
	})
	l.mu.Unlock()

	emit()
	l.events.OnLinkError(cause)
	l.events.OnReconnecting(attempt)
	log.Info().Int("attempt", attempt).Int("max", l.opts.MaxReconnectAttempts).Str("module", "transport").Msg("reconnect scheduled")
}

func (l *Link) reconnect(g int) {
	l.mu.Lock()
	if l.gen != g || l.state != core.SessionError {
		l.mu.Unlock()
		return
	}
	emit := l.setStateLocked(core.SessionConnecting)
	serverURL, room := l.serverURL, l.room
	l.mu.Unlock()
	emit()

	// Endpoints from the original discovery are reused; a reconnect does
	// not refetch the server configuration.
	l.establish(g, serverURL, room, false)
}

func (l *Link) heartbeatLoop(g int, stop chan struct{}) {
	t := time.NewTicker(l.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			l.mu.Lock()
			if l.gen != g || !l.connectedLocked() {
				l.mu.Unlock()
				return
			}
			l.writeLocked(stanza.Ping(l.endpoints.Domain, generateID()))
			l.mu.Unlock()
		}
	}
}

func (l *Link) setStateLocked(s core.SessionState) func() {
	if l.state == s {
		return func() {}
	}
	old := l.state
	l.state = s
	log.Debug().Str("module", "transport").Str("from", old.String()).Str("to", s.String()).Msg("session state")
	return func() { l.events.OnSessionStateChanged(s) }
}

func (l *Link) stopTimersLocked() {
	l.stopHeartbeatLocked()
	if l.reconnectTimer != nil {
		l.reconnectTimer.Stop()
		l.reconnectTimer = nil
	}
	l.attempts = 0
}

func (l *Link) stopHeartbeatLocked() {
	if l.heartbeatStop != nil {
		close(l.heartbeatStop)
		l.heartbeatStop = nil
	}
}

func (l *Link) resetLocked() {
	l.known = make(map[domain.Address]struct{})
	l.localAddr = ""
	l.stopTimersLocked()
}

func generateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
