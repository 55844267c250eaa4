package conference

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venrik/meetwire/internal/core"
	"github.com/venrik/meetwire/internal/domain"
)

// fakeLink is a scripted signaling transport. Connect immediately walks the
// happy-path session sequence and reports the room as joined.
type fakeLink struct {
	events core.LinkEvents

	mu          sync.Mutex
	state       core.SessionState
	localAddr   domain.Address
	connects    int
	disconnects int
	chats       []string
	audio       []bool
	video       []bool
}

var _ core.SignalLink = (*fakeLink)(nil)

func (f *fakeLink) Connect(_ string, room domain.RoomName, displayName string) {
	f.mu.Lock()
	if f.state != core.SessionDisconnected && f.state != core.SessionError {
		f.mu.Unlock()
		return
	}
	f.connects++
	f.state = core.SessionInRoom
	f.localAddr = domain.Address(string(room) + "@conference.test/" + displayName)
	f.mu.Unlock()

	f.events.OnSessionStateChanged(core.SessionConnecting)
	f.events.OnSessionStateChanged(core.SessionConnected)
	f.events.OnRoomJoined()
}

func (f *fakeLink) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.state = core.SessionDisconnected
	f.mu.Unlock()
}

func (f *fakeLink) LeaveRoom() {}

func (f *fakeLink) SendChatMessage(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, text)
}

func (f *fakeLink) SendPresence(string) {}

func (f *fakeLink) SetAudioMuted(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, muted)
}

func (f *fakeLink) SetVideoMuted(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = append(f.video, muted)
}

func (f *fakeLink) State() core.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeLink) LocalAddress() domain.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localAddr
}

func (f *fakeLink) setState(s core.SessionState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

type fakeAuth struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *fakeAuth) Authenticate(_ context.Context, _ string, _ domain.RoomName, displayName string) (core.AuthResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return core.AuthResult{}, a.err
	}
	return core.AuthResult{UserID: "user-1", DisplayName: displayName}, nil
}

func (a *fakeAuth) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// sink records every orchestrator event for assertions.
type sink struct {
	mu          sync.Mutex
	confStates  []State
	connStates  []ConnectionState
	joins       []domain.ConferenceInfo
	lefts       int
	pJoined     []domain.Participant
	pUpdated    []domain.Participant
	pLeft       []domain.Address
	chats       []string
	recStarted  []int
	recSucceeds int
	recFailed   []string
	media       [][2]bool
	shares      []bool
	errs        []*domain.Error
}

func (s *sink) events() Events {
	return Events{
		ConferenceStateChanged: func(st State) { s.with(func() { s.confStates = append(s.confStates, st) }) },
		ConnectionStateChanged: func(st ConnectionState) { s.with(func() { s.connStates = append(s.connStates, st) }) },
		ConferenceJoined:       func(info domain.ConferenceInfo) { s.with(func() { s.joins = append(s.joins, info) }) },
		ConferenceLeft:         func() { s.with(func() { s.lefts++ }) },
		ParticipantJoined:      func(p domain.Participant) { s.with(func() { s.pJoined = append(s.pJoined, p) }) },
		ParticipantUpdated:     func(p domain.Participant) { s.with(func() { s.pUpdated = append(s.pUpdated, p) }) },
		ParticipantLeft:        func(a domain.Address) { s.with(func() { s.pLeft = append(s.pLeft, a) }) },
		ChatMessageReceived: func(_ domain.Address, body string, _ time.Time) {
			s.with(func() { s.chats = append(s.chats, body) })
		},
		ReconnectionStarted:   func(n int) { s.with(func() { s.recStarted = append(s.recStarted, n) }) },
		ReconnectionSucceeded: func() { s.with(func() { s.recSucceeds++ }) },
		ReconnectionFailed:    func(r string) { s.with(func() { s.recFailed = append(s.recFailed, r) }) },
		LocalMediaStateChanged: func(a, v bool) {
			s.with(func() { s.media = append(s.media, [2]bool{a, v}) })
		},
		ScreenShareStateChanged: func(active bool, _ domain.Address) {
			s.with(func() { s.shares = append(s.shares, active) })
		},
		ErrorOccurred: func(e *domain.Error) { s.with(func() { s.errs = append(s.errs, e) }) },
	}
}

func (s *sink) with(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f()
}

func (s *sink) snapshot() sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sink{
		confStates:  append([]State(nil), s.confStates...),
		connStates:  append([]ConnectionState(nil), s.connStates...),
		joins:       append([]domain.ConferenceInfo(nil), s.joins...),
		lefts:       s.lefts,
		pJoined:     append([]domain.Participant(nil), s.pJoined...),
		pUpdated:    append([]domain.Participant(nil), s.pUpdated...),
		pLeft:       append([]domain.Address(nil), s.pLeft...),
		chats:       append([]string(nil), s.chats...),
		recStarted:  append([]int(nil), s.recStarted...),
		recSucceeds: s.recSucceeds,
		recFailed:   append([]string(nil), s.recFailed...),
		media:       append([][2]bool(nil), s.media...),
		shares:      append([]bool(nil), s.shares...),
		errs:        append([]*domain.Error(nil), s.errs...),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newHarness(authn *fakeAuth) (*Orchestrator, *fakeLink, *sink) {
	link := &fakeLink{}
	s := &sink{}
	o := New(authn, nil, s.events(), Options{
		LinkFactory: func(events core.LinkEvents) core.SignalLink {
			link.events = events
			return link
		},
	})
	return o, link, s
}

func joinAndWait(t *testing.T, o *Orchestrator, s *sink) {
	t.Helper()
	require.Nil(t, o.JoinConference("Room1", "Alice"))
	waitFor(t, "in conference", func() bool { return o.State() == InConference })
}

func TestJoinHappyPath(t *testing.T) {
	o, link, s := newHarness(&fakeAuth{})

	joinAndWait(t, o, s)

	got := s.snapshot()
	assert.Equal(t, []State{Joining, InConference}, got.confStates)
	assert.Equal(t, []ConnectionState{Connecting, Connected}, got.connStates)
	require.Len(t, got.joins, 1)
	assert.Equal(t, domain.RoomName("Room1"), got.joins[0].RoomName)
	assert.Equal(t, "https://meet.jit.si", got.joins[0].ServerURL)
	assert.Equal(t, "Alice", got.joins[0].DisplayName)

	assert.Equal(t, 1, link.connects)
	local := o.LocalParticipant()
	assert.Equal(t, link.LocalAddress(), local.Address)
	assert.Equal(t, "connected", local.StatusText)
}

func TestJoinRejectsInvalidIdentifier(t *testing.T) {
	o, link, s := newHarness(&fakeAuth{})

	err := o.JoinConference("room with spaces", "Alice")
	require.NotNil(t, err)
	assert.Equal(t, domain.KindInvalidIdentifier, err.Kind)
	assert.Equal(t, Idle, o.State())
	assert.Equal(t, 0, link.connects)
	require.Len(t, s.snapshot().errs, 1)
}

func TestJoinWhileBusyFailsFast(t *testing.T) {
	o, _, s := newHarness(&fakeAuth{})
	joinAndWait(t, o, s)

	err := o.JoinConference("Room2", "Alice")
	require.NotNil(t, err)
	assert.Equal(t, domain.KindInvalidIdentifier, err.Kind)
	assert.Equal(t, InConference, o.State())
}

func TestAuthenticationFailureReturnsToIdle(t *testing.T) {
	authn := &fakeAuth{err: domain.NewError(domain.KindAuthentication, "token rejected", "")}
	o, link, s := newHarness(authn)

	require.Nil(t, o.JoinConference("Room1", "Alice"))
	waitFor(t, "back to idle", func() bool {
		return o.State() == Idle && len(s.snapshot().errs) == 1
	})

	got := s.snapshot()
	assert.Equal(t, domain.KindAuthentication, got.errs[0].Kind)
	assert.Equal(t, Disconnected, o.Connection())
	assert.Equal(t, 0, link.connects)

	// A failed join leaves the orchestrator usable.
	joinAndWaitRetry := func() {
		authn.mu.Lock()
		authn.err = nil
		authn.mu.Unlock()
		require.Nil(t, o.JoinConference("Room1", "Alice"))
		waitFor(t, "in conference", func() bool { return o.State() == InConference })
	}
	joinAndWaitRetry()
}

func TestLeaveWhileIdleIsNoOp(t *testing.T) {
	o, link, s := newHarness(&fakeAuth{})

	o.LeaveConference()

	assert.Equal(t, Idle, o.State())
	assert.Equal(t, 0, link.disconnects)
	got := s.snapshot()
	assert.Empty(t, got.confStates)
	assert.Zero(t, got.lefts)
}

func TestLeaveConference(t *testing.T) {
	o, link, s := newHarness(&fakeAuth{})
	joinAndWait(t, o, s)
	o.OnParticipantJoined(domain.Participant{Address: "Room1@conference.test/Bob", DisplayName: "Bob"})

	o.LeaveConference()

	assert.Equal(t, Idle, o.State())
	assert.Equal(t, Disconnected, o.Connection())
	assert.Equal(t, 1, link.disconnects)
	assert.Equal(t, 1, s.snapshot().lefts)
	assert.Empty(t, o.Participants())
}

func TestChatRequiresConference(t *testing.T) {
	o, link, s := newHarness(&fakeAuth{})

	err := o.SendChatMessage("too early")
	require.NotNil(t, err)
	assert.Equal(t, domain.KindTransport, err.Kind)
	require.Len(t, s.snapshot().errs, 1)

	joinAndWait(t, o, s)
	require.Nil(t, o.SendChatMessage("hello"))
	assert.Equal(t, []string{"hello"}, link.chats)
}

func TestMuteForwardingAndDeduplication(t *testing.T) {
	o, link, s := newHarness(&fakeAuth{})
	joinAndWait(t, o, s)

	o.SetAudioMuted(true)
	o.SetAudioMuted(true)
	o.SetVideoMuted(true)
	o.SetAudioMuted(false)

	assert.Equal(t, []bool{true, false}, link.audio)
	assert.Equal(t, []bool{true}, link.video)
	assert.Equal(t, [][2]bool{{true, false}, {true, true}, {false, true}}, s.snapshot().media)
}

func TestParticipantLifecycle(t *testing.T) {
	o, _, s := newHarness(&fakeAuth{})
	joinAndWait(t, o, s)

	bob := domain.Participant{Address: "Room1@conference.test/Bob", DisplayName: "Bob"}
	o.OnParticipantJoined(bob)
	bob.AudioMuted = true
	o.OnParticipantUpdated(bob)
	// A repeated join presence for a known address is an update.
	o.OnParticipantJoined(bob)
	o.OnParticipantLeft(bob.Address)
	o.OnParticipantLeft(bob.Address)

	got := s.snapshot()
	require.Len(t, got.pJoined, 1)
	assert.Equal(t, "Bob", got.pJoined[0].DisplayName)
	assert.Len(t, got.pUpdated, 2)
	assert.True(t, got.pUpdated[0].AudioMuted)
	assert.Equal(t, []domain.Address{bob.Address}, got.pLeft)

	assert.Equal(t, 0, o.Info().ParticipantCount)
	assert.Empty(t, o.Participants())
}

func TestChatDelivery(t *testing.T) {
	o, _, s := newHarness(&fakeAuth{})
	joinAndWait(t, o, s)

	o.OnChatMessage("Room1@conference.test/Bob", "hi there", time.Now())
	assert.Equal(t, []string{"hi there"}, s.snapshot().chats)
}

func TestReconnectionObservedAndReported(t *testing.T) {
	o, link, s := newHarness(&fakeAuth{})
	joinAndWait(t, o, s)

	// The transport drops and starts its retry loop.
	link.setState(core.SessionError)
	o.OnLinkError(domain.NewError(domain.KindTransport, "connection lost", ""))
	o.OnReconnecting(1)

	assert.Equal(t, Reconnecting, o.Connection())
	assert.Equal(t, []int{1}, s.snapshot().recStarted)

	// The retry lands.
	o.OnSessionStateChanged(core.SessionConnecting)
	link.setState(core.SessionInRoom)
	o.OnRoomJoined()

	waitFor(t, "reconnection succeeded", func() bool { return s.snapshot().recSucceeds == 1 })
	assert.Equal(t, Connected, o.Connection())
	assert.Equal(t, InConference, o.State())
}

func TestReconnectionExhaustion(t *testing.T) {
	o, link, s := newHarness(&fakeAuth{})
	joinAndWait(t, o, s)

	link.setState(core.SessionError)
	o.OnReconnecting(1)
	o.OnLinkError(domain.NewError(domain.KindCapacity, "reconnect attempts exhausted", ""))

	assert.Equal(t, ConnectionFailed, o.Connection())
	assert.Equal(t, Failed, o.State())
	got := s.snapshot()
	require.Len(t, got.recFailed, 1)
	assert.Equal(t, "reconnect attempts exhausted", got.recFailed[0])
}

func TestReconnectToConferenceWithoutHistory(t *testing.T) {
	o, _, _ := newHarness(&fakeAuth{})

	err := o.ReconnectToConference()
	require.NotNil(t, err)
	assert.Equal(t, domain.KindTransport, err.Kind)
}

func TestReconnectToConferenceReusesAuthentication(t *testing.T) {
	authn := &fakeAuth{}
	o, link, s := newHarness(authn)
	joinAndWait(t, o, s)
	require.Equal(t, 1, authn.callCount())

	// Terminal failure: transport gave up.
	link.setState(core.SessionError)
	o.OnReconnecting(1)
	o.OnLinkError(domain.NewError(domain.KindCapacity, "reconnect attempts exhausted", ""))
	require.Equal(t, Failed, o.State())

	require.Nil(t, o.ReconnectToConference())
	waitFor(t, "rejoined", func() bool { return o.State() == InConference })

	assert.Equal(t, 1, authn.callCount())
	assert.Equal(t, 2, link.connects)
	got := s.snapshot()
	assert.GreaterOrEqual(t, got.recSucceeds, 1)
	assert.Len(t, got.joins, 2)
}

func TestScreenShareFlag(t *testing.T) {
	o, _, s := newHarness(&fakeAuth{})
	joinAndWait(t, o, s)

	o.StartScreenShare()
	o.StartScreenShare()
	o.StopScreenShare()

	assert.Equal(t, []bool{true, false}, s.snapshot().shares)
	assert.False(t, o.LocalParticipant().IsScreenSharing)
}
