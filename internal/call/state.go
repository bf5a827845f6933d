package call

// State is the human-observable phase of a call.
type State int

const (
	StateIdle State = iota
	StateOutgoingRinging
	StateIncomingRinging
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoingRinging:
		return "outgoing-ringing"
	case StateIncomingRinging:
		return "incoming-ringing"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MediaKind selects the capture tracks a call needs.
type MediaKind int

const (
	MediaAudio MediaKind = iota
	MediaAudioVideo
)

func (k MediaKind) String() string {
	if k == MediaAudioVideo {
		return "audio+video"
	}
	return "audio"
}

// Invite is the metadata that bootstraps a call before media negotiation.
type Invite struct {
	CallerID    string
	CalleeID    string
	DisplayName string
	MediaKind   MediaKind
}
