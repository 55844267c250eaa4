package stanza

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venrik/meetwire/internal/domain"
)

func TestJoinPresenceCarriesRoomMarkerAndFlags(t *testing.T) {
	out := JoinPresence("room1@conference.meet.example.com/Alice", "p1", true, false)

	assert.Contains(t, out, `to="room1@conference.meet.example.com/Alice"`)
	assert.Contains(t, out, `xmlns="http://jabber.org/protocol/muc"`)
	assert.Contains(t, out, `<audiomuted xmlns="http://jitsi.org/jitmeet/audio">true</audiomuted>`)
	assert.Contains(t, out, `<videomuted xmlns="http://jitsi.org/jitmeet/video">false</videomuted>`)
	assert.NotContains(t, out, "unavailable")
}

func TestLeavePresence(t *testing.T) {
	out := LeavePresence("room1@conference.meet.example.com/Alice", "p2")
	assert.Contains(t, out, `type="unavailable"`)
	assert.Contains(t, out, `id="p2"`)
}

func TestGroupChatMessageEscapesBody(t *testing.T) {
	out := GroupChatMessage("room1@conference.meet.example.com", "m1", `a <b> & "c"`)
	assert.Contains(t, out, `type="groupchat"`)
	assert.Contains(t, out, "a &lt;b&gt; &amp;")
	assert.NotContains(t, out, "<b>")
}

func TestPing(t *testing.T) {
	out := Ping("meet.example.com", "ping-1")
	assert.Contains(t, out, `type="get"`)
	assert.Contains(t, out, `<ping xmlns="urn:xmpp:ping">`)
}

func TestParsePresence(t *testing.T) {
	raw := `<presence from='room1@conference.x/Bob'>` +
		`<status>away</status>` +
		`<audiomuted xmlns='http://jitsi.org/jitmeet/audio'>true</audiomuted>` +
		`<videomuted xmlns='http://jitsi.org/jitmeet/video'>false</videomuted>` +
		`</presence>`

	v, err := Parse([]byte(raw))
	require.Nil(t, err)
	p, ok := v.(Presence)
	require.True(t, ok)
	assert.Equal(t, domain.Address("room1@conference.x/Bob"), p.From)
	assert.False(t, p.Unavailable)
	assert.Equal(t, "away", p.StatusText)
	assert.True(t, p.AudioMuted)
	assert.False(t, p.VideoMuted)
}

func TestParseUnavailablePresence(t *testing.T) {
	v, err := Parse([]byte(`<presence from='room1@conference.x/Bob' type='unavailable'/>`))
	require.Nil(t, err)
	p := v.(Presence)
	assert.True(t, p.Unavailable)
}

func TestParseGroupChatMessageWithDelay(t *testing.T) {
	raw := `<message from='room1@conference.x/Bob' type='groupchat'>` +
		`<body>hello</body>` +
		`<delay stamp='2026-08-29T10:00:00Z'/>` +
		`</message>`

	v, err := Parse([]byte(raw))
	require.Nil(t, err)
	m := v.(Message)
	assert.True(t, m.GroupChat)
	assert.Equal(t, "hello", m.Body)
	assert.Equal(t, time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC), m.Timestamp)
}

func TestParseMessageWithoutDelayHasZeroTimestamp(t *testing.T) {
	v, err := Parse([]byte(`<message from='a@b/c' type='groupchat'><body>hi</body></message>`))
	require.Nil(t, err)
	assert.True(t, v.(Message).Timestamp.IsZero())
}

func TestParseIQError(t *testing.T) {
	raw := `<iq type='error' id='ping-1'><error type='cancel'><text>gone</text></error></iq>`
	v, err := Parse([]byte(raw))
	require.Nil(t, err)
	q := v.(IQ)
	assert.Equal(t, "error", q.Type)
	assert.Equal(t, "ping-1", q.ID)
	assert.Equal(t, "cancel", q.ErrorType)
	assert.Equal(t, "gone", q.ErrorText)
}

func TestParseUnrecognized(t *testing.T) {
	v, err := Parse([]byte(`<streamfeatures/>`))
	require.Nil(t, err)
	assert.Equal(t, Unrecognized{Name: "streamfeatures"}, v)
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{"", "not xml at all", "<presence", "<a><b></a>"} {
		_, err := Parse([]byte(raw))
		require.NotNil(t, err, "input %q", raw)
		assert.Equal(t, domain.KindProtocol, err.Kind)
	}
}

func TestParseRoundTrip(t *testing.T) {
	out := GroupChatMessage("room1@conference.x", "m9", "round trip")
	v, err := Parse([]byte(strings.TrimSpace(out)))
	require.Nil(t, err)
	m := v.(Message)
	assert.Equal(t, "round trip", m.Body)
	assert.True(t, m.GroupChat)
}
