package domain

import "time"

// SessionState models the realtime session lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateActive     SessionState = "active"
	SessionStateStopping   SessionState = "stopping"
	SessionStateError      SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady           SessionStateReason = "ready"
	SessionReasonConnecting      SessionStateReason = "connecting"
	SessionReasonConnected       SessionStateReason = "connected"
	SessionReasonChannelOpen     SessionStateReason = "channel_open"
	SessionReasonStopped         SessionStateReason = "stopped"
	SessionReasonTokenFailed     SessionStateReason = "token_failed"
	SessionReasonHandshakeFailed SessionStateReason = "handshake_failed"
	SessionReasonTransportClosed SessionStateReason = "transport_closed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup   ErrorCode = "startup"
	ErrorCodeToken     ErrorCode = "token"
	ErrorCodeHandshake ErrorCode = "handshake"
	ErrorCodeTransport ErrorCode = "transport"
	ErrorCodeParse     ErrorCode = "parse"
	ErrorCodeRemote    ErrorCode = "remote"
	ErrorCodeCapture   ErrorCode = "capture"
	ErrorCodeTurn      ErrorCode = "turn"
)

// TrackState says what the outbound audio senders carry.
type TrackState string

const (
	TrackStateMuted TrackState = "muted"
	TrackStateLive  TrackState = "live"
)

// TurnState is the synchronizer state for the open turn.
type TurnState string

const (
	TurnStateIdle                    TurnState = "idle"
	TurnStateAccumulating            TurnState = "accumulating"
	TurnStateAwaitingJointCompletion TurnState = "awaiting_joint_completion"
)

// TurnStatus is the lifecycle marker carried by timeline entries.
type TurnStatus string

const (
	TurnStatusOpen     TurnStatus = "open"
	TurnStatusComplete TurnStatus = "complete"
	TurnStatusExpired  TurnStatus = "expired"
)

// Turn is one user utterance and assistant response pair in the timeline.
type Turn struct {
	LocalID   string     `json:"localId"`
	ID        string     `json:"id"`
	UserText  *string    `json:"userText,omitempty"`
	BotText   *string    `json:"botText,omitempty"`
	Status    TurnStatus `json:"status"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// User returns the user text or "" when none arrived yet.
func (t Turn) User() string {
	if t.UserText == nil {
		return ""
	}
	return *t.UserText
}

// Bot returns the assistant text or "" when none arrived yet.
func (t Turn) Bot() string {
	if t.BotText == nil {
		return ""
	}
	return *t.BotText
}

// Clone returns a copy that shares no text storage with t.
func (t Turn) Clone() Turn {
	if t.UserText != nil {
		user := *t.UserText
		t.UserText = &user
	}
	if t.BotText != nil {
		bot := *t.BotText
		t.BotText = &bot
	}
	return t
}

// CloneTurns deep-copies a timeline.
func CloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, turn := range turns {
		out[i] = turn.Clone()
	}
	return out
}

// Status summarizes the current runtime status.
type Status struct {
	State   SessionState `json:"state"`
	Active  bool         `json:"active"`
	Track   TrackState   `json:"track"`
	Turn    TurnState    `json:"turn"`
	Message string       `json:"message,omitempty"`
}
