package ports

import (
	"context"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"voxsync/internal/domain"
	"voxsync/internal/protocol"
)

// TokenSource issues short-lived bearer tokens for the realtime endpoint.
type TokenSource interface {
	EphemeralToken(ctx context.Context) (string, error)
}

// OpenRequest describes how to reach the remote conversational service.
type OpenRequest struct {
	Token        string
	Endpoint     string
	Model        string
	InitialTrack webrtc.TrackLocal
}

// Sender is an outbound media sender whose track can be swapped in place.
// *webrtc.RTPSender satisfies it.
type Sender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(track webrtc.TrackLocal) error
}

// Connection is an established bidirectional event channel.
type Connection interface {
	// Send is best effort: when the channel is not writable yet the event
	// is dropped with a warning and nil is returned.
	Send(event protocol.ClientEvent) error
	// Events delivers raw inbound payloads in arrival order.
	Events() <-chan []byte
	// Ready is closed once the event path becomes writable.
	Ready() <-chan struct{}
	// Done is closed when the connection is torn down for any reason.
	Done() <-chan struct{}
	// Err returns the cause of an unexpected close, or nil.
	Err() error
	Senders() []Sender
	Close() error
}

// Transport opens connections to the remote service.
type Transport interface {
	Open(ctx context.Context, req OpenRequest) (Connection, error)
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
	Bitrate     int
}

// LiveAudio is a running microphone capture exposed as an outbound track.
type LiveAudio interface {
	Track() webrtc.TrackLocal
	Done() <-chan struct{}
	Stop() error
}

// AudioCapture starts microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (LiveAudio, error)
}

// AudioSink consumes the remote audio stream.
type AudioSink interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// EventSink emits backend state and timeline snapshots to the UI.
type EventSink interface {
	TimelineChanged(turns []domain.Turn)
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TrackStateChanged(state domain.TrackState)
	SessionError(code domain.ErrorCode, detail string)
}
