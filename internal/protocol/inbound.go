// Package protocol holds the realtime event wire format: the closed set of
// inbound server events, the outbound client events, and the Router that
// dispatches decoded events to a Handler.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound event type discriminators.
const (
	TypeResponseAudioTranscriptDelta       = "response.audio_transcript.delta"
	TypeResponseTextDelta                  = "response.text.delta"
	TypeResponseOutputAudioTranscriptDelta = "response.output_audio_transcript.delta"
	TypeResponseOutputTextDelta            = "response.output_text.delta"
	TypeTranscriptionDelta                 = "conversation.item.input_audio_transcription.delta"
	TypeTranscriptionCompleted             = "conversation.item.input_audio_transcription.completed"
	TypeTranscriptionFailed                = "conversation.item.input_audio_transcription.failed"
	TypeResponseDone                       = "response.done"
	TypeError                              = "error"
)

// Output item kinds carried by response.done.
const (
	OutputKindMessage      = "message"
	OutputKindFunctionCall = "function_call"
)

// ServerEvent is one decoded inbound event. The set of implementations is
// closed; Unknown carries anything this package does not model.
type ServerEvent interface {
	EventType() string
	serverEvent()
}

// BotDelta is a partial chunk of the assistant response text.
type BotDelta struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta"`
}

// UserDelta is a partial chunk of the user speech transcription.
type UserDelta struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	Delta   string `json:"delta"`
}

// UserCompleted carries the authoritative transcript of a user utterance.
type UserCompleted struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Transcript string `json:"transcript"`
}

// UserFailed reports that transcription of a user utterance failed.
type UserFailed struct {
	Type    string      `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	ItemID  string      `json:"item_id,omitempty"`
	Error   ErrorDetail `json:"error"`
}

// TurnDone signals that the response producer finished a response.
type TurnDone struct {
	Type     string   `json:"type"`
	EventID  string   `json:"event_id,omitempty"`
	Response Response `json:"response"`
}

// Response is the payload of response.done.
type Response struct {
	ID     string       `json:"id"`
	Status string       `json:"status,omitempty"`
	Output []OutputItem `json:"output"`
}

// OutputItem is one item produced by a response.
type OutputItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Name    string        `json:"name,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

// ContentPart is a piece of message content.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ServerError is an error event sent by the remote service.
type ServerError struct {
	Type    string      `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail is the error object embedded in error-bearing events.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// Unknown is any well-formed event with an unrecognized type.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (e BotDelta) EventType() string      { return e.Type }
func (e UserDelta) EventType() string     { return e.Type }
func (e UserCompleted) EventType() string { return e.Type }
func (e UserFailed) EventType() string    { return e.Type }
func (e TurnDone) EventType() string      { return e.Type }
func (e ServerError) EventType() string   { return e.Type }
func (e Unknown) EventType() string       { return e.Type }

func (BotDelta) serverEvent()      {}
func (UserDelta) serverEvent()     {}
func (UserCompleted) serverEvent() {}
func (UserFailed) serverEvent()    {}
func (TurnDone) serverEvent()      {}
func (ServerError) serverEvent()   {}
func (Unknown) serverEvent()       {}

// FinalMessage returns the first message output and its transcript. ok is
// false when the response produced no message with transcript or text.
func (r Response) FinalMessage() (item OutputItem, transcript string, ok bool) {
	for _, out := range r.Output {
		if out.Type != OutputKindMessage {
			continue
		}
		for _, part := range out.Content {
			if part.Transcript != "" {
				return out, part.Transcript, true
			}
			if part.Text != "" {
				return out, part.Text, true
			}
		}
		if item.ID == "" {
			item = out
		}
	}
	return item, "", false
}

func (d ErrorDetail) String() string {
	parts := make([]string, 0, 3)
	for _, v := range []string{d.Type, d.Code, d.Message} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return "unspecified error"
	}
	return strings.Join(parts, ": ")
}

// ParseError reports an inbound payload that could not be decoded.
type ParseError struct {
	Type string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed event: %v", e.Err)
	}
	return fmt.Sprintf("malformed %s event: %v", e.Type, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errMissingType = errors.New("missing type discriminator")

type envelope struct {
	Type string `json:"type"`
}

// Parse decodes one inbound payload into its typed variant.
func Parse(payload []byte) (ServerEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &ParseError{Err: err}
	}
	if env.Type == "" {
		return nil, &ParseError{Err: errMissingType}
	}

	switch env.Type {
	case TypeResponseAudioTranscriptDelta,
		TypeResponseTextDelta,
		TypeResponseOutputAudioTranscriptDelta,
		TypeResponseOutputTextDelta:
		return decode[BotDelta](env.Type, payload)
	case TypeTranscriptionDelta:
		return decode[UserDelta](env.Type, payload)
	case TypeTranscriptionCompleted:
		return decode[UserCompleted](env.Type, payload)
	case TypeTranscriptionFailed:
		return decode[UserFailed](env.Type, payload)
	case TypeResponseDone:
		return decode[TurnDone](env.Type, payload)
	case TypeError:
		return decode[ServerError](env.Type, payload)
	default:
		raw := make(json.RawMessage, len(payload))
		copy(raw, payload)
		return Unknown{Type: env.Type, Raw: raw}, nil
	}
}

func decode[T ServerEvent](eventType string, payload []byte) (ServerEvent, error) {
	var event T
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &ParseError{Type: eventType, Err: err}
	}
	return event, nil
}
