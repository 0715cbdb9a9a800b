package protocol

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Outbound event type discriminators.
const (
	TypeSessionUpdate          = "session.update"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
)

// ClientEvent is an event sent to the remote service.
type ClientEvent interface {
	EventType() string
	header() *Header
}

// Header carries the discriminator and the client correlation id.
type Header struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

func (h *Header) EventType() string { return h.Type }
func (h *Header) header() *Header   { return h }

// SessionUpdate configures the remote session.
type SessionUpdate struct {
	Header
	Session SessionConfig `json:"session"`
}

// SessionConfig is the body of session.update.
type SessionConfig struct {
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	Modalities              []string             `json:"modalities,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	MaxResponseOutputTokens int                  `json:"max_response_output_tokens,omitempty"`
	Tools                   []Tool               `json:"tools,omitempty"`
}

// TranscriptionConfig selects the model used for user speech transcription.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// Tool is a function the assistant may call.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ConversationItemCreate adds an item to the remote conversation.
type ConversationItemCreate struct {
	Header
	Item ConversationItem `json:"item"`
}

// ConversationItem is the inner item of conversation.item.create.
type ConversationItem struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ItemContent `json:"content,omitempty"`
}

// ItemContent is one content part of a conversation item.
type ItemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponseCreate asks the remote side to produce a response.
type ResponseCreate struct {
	Header
}

// NewSessionUpdate builds a session.update event.
func NewSessionUpdate(cfg SessionConfig) *SessionUpdate {
	return &SessionUpdate{Header: Header{Type: TypeSessionUpdate}, Session: cfg}
}

// NewUserMessage builds a conversation.item.create carrying user text. The
// item gets a client-assigned id so later events about it can be matched.
func NewUserMessage(text string) *ConversationItemCreate {
	return &ConversationItemCreate{
		Header: Header{Type: TypeConversationItemCreate},
		Item: ConversationItem{
			ID:      NewItemID(),
			Type:    "message",
			Role:    "user",
			Content: []ItemContent{{Type: "input_text", Text: text}},
		},
	}
}

// NewItemID returns a client item id. The remote side caps item ids at
// 32 characters.
func NewItemID() string {
	return "item_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:27]
}

// NewResponseCreate builds a response.create event.
func NewResponseCreate() *ResponseCreate {
	return &ResponseCreate{Header: Header{Type: TypeResponseCreate}}
}

// EnsureEventID assigns a fresh event id when the event has none and
// returns the id the event will be sent with.
func EnsureEventID(event ClientEvent) string {
	h := event.header()
	if h.EventID == "" {
		h.EventID = "evt_" + uuid.NewString()
	}
	return h.EventID
}

// Marshal encodes a client event for the wire.
func Marshal(event ClientEvent) ([]byte, error) {
	return json.Marshal(event)
}
