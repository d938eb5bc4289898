package constant

import "time"

// slog attribute keys.
const (
	Error       = "error"
	ProfileID   = "profile_id"
	ProfileKind = "profile_kind"
	SessionID   = "session_id"
	PageID      = "page_id"
	StrokeID    = "stroke_id"
	MessageType = "message_type"
	Peer        = "peer"
	CallState   = "call_state"
)

// Protocol timings.
const (
	// ChannelPingInterval keeps the websocket alive.
	ChannelPingInterval = 30 * time.Second

	// PresenceInterval reports liveness while a session is open.
	PresenceInterval = 15 * time.Second

	PongWait  = 60 * time.Second
	WriteWait = 10 * time.Second

	// Reconnect delays after an unexpected channel closure. Capped,
	// not exponential: a live call tolerates far less downtime.
	ReconnectInCall = 1 * time.Second
	ReconnectIdle   = 5 * time.Second

	// TypingMinGap throttles typing previews to at most 10 per second.
	TypingMinGap = 100 * time.Millisecond

	// TypingExpiry removes a remote typing overlay after the sender
	// goes quiet.
	TypingExpiry = 2 * time.Second

	// RecentLeaverWindow is how long a voluntary leaver keeps the right
	// to auto-accepted reconnection.
	RecentLeaverWindow = 2 * time.Minute

	// PresenceTTL is the relay-side liveness record lifetime; three
	// missed presence heartbeats expire it.
	PresenceTTL = 45 * time.Second
)
