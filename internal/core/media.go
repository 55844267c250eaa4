package core

import "github.com/venrik/meetwire/internal/domain"

// MediaEngine owns the actual audio/video path. The orchestrator only
// notifies it of room lifecycle and local mute intent; a nil engine is a
// valid no-op configuration.
type MediaEngine interface {
	RoomJoined(info domain.ConferenceInfo) error
	RoomLeft()
	SetAudioMuted(muted bool)
	SetVideoMuted(muted bool)
}
