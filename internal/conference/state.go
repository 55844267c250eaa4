package conference

// State is the application-level conference state. InConference is only
// claimed while the transport session is in the room.
type State int

const (
	Idle State = iota
	Joining
	InConference
	Leaving
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case InConference:
		return "in_conference"
	case Leaving:
		return "leaving"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectionState is the orchestrator's coarse view of the wire, derived
// from transport session events.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	ConnectionFailed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case ConnectionFailed:
		return "failed"
	default:
		return "unknown"
	}
}
