// Package media is the concrete media-engine collaborator. It owns the
// peer connection lifecycle bound to room membership; the signaling layer
// never touches media and never blocks on this package.
package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/venrik/meetwire/internal/core"
	"github.com/venrik/meetwire/internal/domain"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Engine builds a peer connection when a room is joined and tears it down
// on leave. Mute intent is applied to the matching transceiver direction.
type Engine struct {
	cfg webrtc.Configuration

	mu    sync.Mutex
	pc    *webrtc.PeerConnection
	audio *webrtc.RTPTransceiver
	video *webrtc.RTPTransceiver

	audioMuted bool
	videoMuted bool
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine(cfg webrtc.Configuration) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) RoomJoined(info domain.ConferenceInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pc != nil {
		// A reconnect reuses the engine; replace the old connection.
		e.closeLocked()
	}

	pc, err := webrtc.NewPeerConnection(e.cfg)
	if err != nil {
		return domain.NewError(domain.KindMedia, "failed to create peer connection", err.Error())
	}

	audio, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	if err != nil {
		_ = pc.Close()
		return domain.NewError(domain.KindMedia, "failed to add audio transceiver", err.Error())
	}
	video, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo)
	if err != nil {
		_ = pc.Close()
		return domain.NewError(domain.KindMedia, "failed to add video transceiver", err.Error())
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "media").Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "media").Str("peer_connection_state", s.String()).Msg("peer state")
	})

	e.pc = pc
	e.audio = audio
	e.video = video
	e.applyMuteLocked()

	log.Info().Str("module", "media").Str("room", string(info.RoomName)).Msg("media path established")
	return nil
}

func (e *Engine) RoomLeft() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
}

func (e *Engine) SetAudioMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audioMuted = muted
	e.applyMuteLocked()
}

func (e *Engine) SetVideoMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoMuted = muted
	e.applyMuteLocked()
}

func (e *Engine) applyMuteLocked() {
	if e.pc == nil {
		return
	}
	setDirection(e.audio, e.audioMuted)
	setDirection(e.video, e.videoMuted)
}

func setDirection(t *webrtc.RTPTransceiver, muted bool) {
	if t == nil {
		return
	}
	dir := webrtc.RTPTransceiverDirectionSendrecv
	if muted {
		dir = webrtc.RTPTransceiverDirectionRecvonly
	}
	if err := t.SetDirection(dir); err != nil {
		log.Error().Err(err).Str("module", "media").Str("direction", dir.String()).Msg("set direction failed")
	}
}

func (e *Engine) closeLocked() {
	if e.pc == nil {
		return
	}
	if err := e.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "media").Msg("close error")
	} else {
		log.Info().Str("module", "media").Msg("media path closed")
	}
	e.pc = nil
	e.audio = nil
	e.video = nil
}
