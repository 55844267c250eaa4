package domain

import "time"

type RoomName string

// Participant is the roster entry for one remote (or the local) member
// of a conference, built from presence traffic.
type Participant struct {
	Address         Address   `json:"address"`
	DisplayName     string    `json:"display_name"`
	Role            string    `json:"role"`
	AudioMuted      bool      `json:"audio_muted"`
	VideoMuted      bool      `json:"video_muted"`
	StatusText      string    `json:"status_text"`
	IsScreenSharing bool      `json:"is_screen_sharing"`
	JoinedAt        time.Time `json:"joined_at"`
}

// ConferenceInfo is a snapshot of the conference the caller is in or joining.
// Recomputed whenever the roster changes; handed out by value.
type ConferenceInfo struct {
	RoomName         RoomName  `json:"room_name"`
	ServerURL        string    `json:"server_url"`
	FullURL          string    `json:"full_url"`
	DisplayName      string    `json:"display_name"`
	JoinedAt         time.Time `json:"joined_at"`
	ParticipantCount int       `json:"participant_count"`
	IsLocked         bool      `json:"is_locked"`
	IsRecording      bool      `json:"is_recording"`
}
