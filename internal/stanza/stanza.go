// Package stanza builds and parses the textual wire protocol units
// (presence, groupchat message, iq). It performs no I/O; the transport
// owns sending and receiving.
package stanza

import (
	"encoding/xml"
	"strconv"
	"time"

	"github.com/venrik/meetwire/internal/domain"
)

const (
	nsMUC   = "http://jabber.org/protocol/muc"
	nsAudio = "http://jitsi.org/jitmeet/audio"
	nsVideo = "http://jitsi.org/jitmeet/video"
	nsPing  = "urn:xmpp:ping"
)

// Presence reports availability of one participant address.
// Unavailable means the participant left the room.
type Presence struct {
	From        domain.Address
	Unavailable bool
	StatusText  string
	AudioMuted  bool
	VideoMuted  bool
}

// Message is a chat line. Only groupchat messages with a body are
// delivered to the application; the dispatcher drops the rest.
type Message struct {
	From      domain.Address
	Body      string
	GroupChat bool
	Timestamp time.Time
}

// IQ is a query result or error.
type IQ struct {
	Type      string
	ID        string
	ErrorType string
	ErrorText string
}

// Unrecognized carries the tag name of a stanza the codec does not model.
type Unrecognized struct {
	Name string
}

type extFlag struct {
	XMLName xml.Name
	XMLNS   string `xml:"xmlns,attr"`
	Value   string `xml:",chardata"`
}

type mucMarker struct {
	XMLName xml.Name `xml:"x"`
	XMLNS   string   `xml:"xmlns,attr"`
}

type presenceXML struct {
	XMLName    xml.Name   `xml:"presence"`
	To         string     `xml:"to,attr,omitempty"`
	From       string     `xml:"from,attr,omitempty"`
	Type       string     `xml:"type,attr,omitempty"`
	ID         string     `xml:"id,attr,omitempty"`
	Status     string     `xml:"status,omitempty"`
	MUC        *mucMarker `xml:"x,omitempty"`
	AudioMuted *extFlag   `xml:"audiomuted,omitempty"`
	VideoMuted *extFlag   `xml:"videomuted,omitempty"`
}

type messageXML struct {
	XMLName xml.Name  `xml:"message"`
	To      string    `xml:"to,attr,omitempty"`
	From    string    `xml:"from,attr,omitempty"`
	Type    string    `xml:"type,attr,omitempty"`
	ID      string    `xml:"id,attr,omitempty"`
	Body    string    `xml:"body,omitempty"`
	Delay   *delayXML `xml:"delay,omitempty"`
}

type delayXML struct {
	XMLName xml.Name `xml:"delay"`
	Stamp   string   `xml:"stamp,attr"`
}

type iqXML struct {
	XMLName xml.Name    `xml:"iq"`
	To      string      `xml:"to,attr,omitempty"`
	From    string      `xml:"from,attr,omitempty"`
	Type    string      `xml:"type,attr,omitempty"`
	ID      string      `xml:"id,attr,omitempty"`
	Ping    *pingXML    `xml:"ping,omitempty"`
	Error   *iqErrorXML `xml:"error,omitempty"`
}

type pingXML struct {
	XMLName xml.Name `xml:"ping"`
	XMLNS   string   `xml:"xmlns,attr"`
}

type iqErrorXML struct {
	XMLName xml.Name `xml:"error"`
	Type    string   `xml:"type,attr,omitempty"`
	Text    string   `xml:"text,omitempty"`
}

func muteFlags(audioMuted, videoMuted bool) (*extFlag, *extFlag) {
	audio := &extFlag{
		XMLName: xml.Name{Local: "audiomuted"},
		XMLNS:   nsAudio,
		Value:   strconv.FormatBool(audioMuted),
	}
	video := &extFlag{
		XMLName: xml.Name{Local: "videomuted"},
		XMLNS:   nsVideo,
		Value:   strconv.FormatBool(videoMuted),
	}
	return audio, video
}

func render(v any) string {
	// The structs above cannot fail to marshal; keep the builders string-only.
	b, _ := xml.Marshal(v)
	return string(b)
}

// AvailablePresence announces the local participant to to (room address with
// the display name as resource), carrying mute flags and an optional status.
func AvailablePresence(to domain.Address, id, status string, audioMuted, videoMuted bool) string {
	audio, video := muteFlags(audioMuted, videoMuted)
	return render(presenceXML{
		To:         string(to),
		ID:         id,
		Status:     status,
		AudioMuted: audio,
		VideoMuted: video,
	})
}

// JoinPresence is the room-join announcement: available presence with the
// multi-user-chat marker element.
func JoinPresence(to domain.Address, id string, audioMuted, videoMuted bool) string {
	audio, video := muteFlags(audioMuted, videoMuted)
	return render(presenceXML{
		To:         string(to),
		ID:         id,
		MUC:        &mucMarker{XMLNS: nsMUC},
		AudioMuted: audio,
		VideoMuted: video,
	})
}

// LeavePresence announces departure from the room.
func LeavePresence(to domain.Address, id string) string {
	return render(presenceXML{To: string(to), Type: "unavailable", ID: id})
}

// GroupChatMessage is a room-addressed chat line. The body is XML-escaped
// by the marshaller.
func GroupChatMessage(to domain.Address, id, body string) string {
	return render(messageXML{To: string(to), Type: "groupchat", ID: id, Body: body})
}

// Ping is the fire-and-forget heartbeat query sent to the protocol domain.
func Ping(to, id string) string {
	return render(iqXML{To: to, Type: "get", ID: id, Ping: &pingXML{XMLNS: nsPing}})
}

// Parse decodes one inbound stanza into a Presence, Message, IQ or
// Unrecognized value. A nil error with Unrecognized means the XML was valid
// but not a stanza this layer models; a non-nil error means the text was not
// parsable and must be dropped by the caller without touching session state.
func Parse(raw []byte) (any, *domain.Error) {
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(raw, &probe); err != nil {
		return nil, domain.NewError(domain.KindProtocol, "unparsable stanza", err.Error())
	}

	switch probe.XMLName.Local {
	case "presence":
		var p presenceXML
		if err := xml.Unmarshal(raw, &p); err != nil {
			return nil, domain.NewError(domain.KindProtocol, "malformed presence", err.Error())
		}
		out := Presence{
			From:        domain.Address(p.From),
			Unavailable: p.Type == "unavailable",
			StatusText:  p.Status,
		}
		if p.AudioMuted != nil {
			out.AudioMuted = p.AudioMuted.Value == "true"
		}
		if p.VideoMuted != nil {
			out.VideoMuted = p.VideoMuted.Value == "true"
		}
		return out, nil

	case "message":
		var m messageXML
		if err := xml.Unmarshal(raw, &m); err != nil {
			return nil, domain.NewError(domain.KindProtocol, "malformed message", err.Error())
		}
		out := Message{From: domain.Address(m.From), Body: m.Body, GroupChat: m.Type == "groupchat"}
		if m.Delay != nil {
			if ts, err := time.Parse(time.RFC3339, m.Delay.Stamp); err == nil {
				out.Timestamp = ts
			}
		}
		return out, nil

	case "iq":
		var q iqXML
		if err := xml.Unmarshal(raw, &q); err != nil {
			return nil, domain.NewError(domain.KindProtocol, "malformed iq", err.Error())
		}
		out := IQ{Type: q.Type, ID: q.ID}
		if q.Error != nil {
			out.ErrorType = q.Error.Type
			out.ErrorText = q.Error.Text
		}
		return out, nil
	}

	return Unrecognized{Name: probe.XMLName.Local}, nil
}
