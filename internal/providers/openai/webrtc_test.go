package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"voxsync/internal/domain"
	"voxsync/internal/ports"
	"voxsync/internal/protocol"
)

func newTestTrack(t *testing.T) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"mic", "voxsync-test",
	)
	if err != nil {
		t.Fatalf("failed to create track: %v", err)
	}
	return track
}

type capturedOffer struct {
	mu          sync.Mutex
	contentType string
	auth        string
	model       string
	sdp         string
}

func (c *capturedOffer) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contentType = r.Header.Get("Content-Type")
	c.auth = r.Header.Get("Authorization")
	c.model = r.URL.Query().Get("model")
	c.sdp = string(body)
}

func TestWebRTCOpenRequiresInitialTrack(t *testing.T) {
	t.Parallel()

	transport := NewWebRTCTransport(Config{}, zerolog.Nop())
	_, err := transport.Open(context.Background(), ports.OpenRequest{Token: "ek"})

	var handshakeErr *domain.HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("expected handshake error, got %v", err)
	}
}

func TestWebRTCOpenRejectedHandshake(t *testing.T) {
	t.Parallel()

	offer := &capturedOffer{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offer.record(r)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"token expired"}}`))
	}))
	defer server.Close()

	transport := NewWebRTCTransport(Config{Model: "gpt-test"}, zerolog.Nop())
	_, err := transport.Open(context.Background(), ports.OpenRequest{
		Token:        "ek_1",
		Endpoint:     server.URL + "/v1/realtime",
		InitialTrack: newTestTrack(t),
	})

	var handshakeErr *domain.HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("expected handshake error, got %v", err)
	}
	if handshakeErr.Status != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", handshakeErr.Status)
	}
	if handshakeErr.Detail != "token expired" {
		t.Fatalf("unexpected detail: %q", handshakeErr.Detail)
	}

	offer.mu.Lock()
	defer offer.mu.Unlock()
	if offer.contentType != "application/sdp" {
		t.Fatalf("unexpected content type: %q", offer.contentType)
	}
	if offer.auth != "Bearer ek_1" {
		t.Fatalf("unexpected authorization: %q", offer.auth)
	}
	if offer.model != "gpt-test" {
		t.Fatalf("unexpected model query: %q", offer.model)
	}
	if !strings.Contains(offer.sdp, "m=audio") || !strings.Contains(offer.sdp, "m=application") {
		t.Fatalf("offer is missing audio or data sections:\n%s", offer.sdp)
	}
}

func TestWebRTCOpenInvalidAnswer(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("definitely not sdp"))
	}))
	defer server.Close()

	transport := NewWebRTCTransport(Config{}, zerolog.Nop())
	_, err := transport.Open(context.Background(), ports.OpenRequest{
		Endpoint:     server.URL,
		InitialTrack: newTestTrack(t),
	})

	var handshakeErr *domain.HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("expected handshake error, got %v", err)
	}
	if handshakeErr.Detail != "failed to apply remote answer" {
		t.Fatalf("unexpected detail: %q", handshakeErr.Detail)
	}
}

func TestWebRTCOpenHandshakeTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	transport := NewWebRTCTransport(Config{HandshakeTimeout: 500 * time.Millisecond}, zerolog.Nop())
	started := time.Now()
	_, err := transport.Open(context.Background(), ports.OpenRequest{
		Endpoint:     server.URL,
		InitialTrack: newTestTrack(t),
	})

	var handshakeErr *domain.HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("expected handshake error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("handshake timeout took too long: %s", elapsed)
	}
}

func TestWebRTCOpenPlaybackSinkFailure(t *testing.T) {
	t.Parallel()

	transport := NewWebRTCTransport(Config{}, zerolog.Nop())
	transport.newSink = func(string) (ports.AudioSink, error) {
		return nil, errors.New("disk full")
	}

	_, err := transport.Open(context.Background(), ports.OpenRequest{InitialTrack: newTestTrack(t)})
	var handshakeErr *domain.HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("expected handshake error, got %v", err)
	}
	if handshakeErr.Detail != "failed to open playback sink" {
		t.Fatalf("unexpected detail: %q", handshakeErr.Detail)
	}
}

func TestRTCConnectionSendBeforeReadyIsDropped(t *testing.T) {
	t.Parallel()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("failed to create peer connection: %v", err)
	}
	c := newRTCConnection(pc, zerolog.Nop())

	if err := c.Send(protocol.NewResponseCreate()); err != nil {
		t.Fatalf("expected dropped send to return nil, got %v", err)
	}

	select {
	case <-c.Ready():
		t.Fatalf("connection must not be ready without an open channel")
	default:
	}

	if err := c.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected second close error: %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("expected done after close")
	}
	if c.Err() != nil {
		t.Fatalf("local close must not report an error, got %v", c.Err())
	}
	if err := c.Send(protocol.NewResponseCreate()); err != nil {
		t.Fatalf("expected send after close to be dropped, got %v", err)
	}
}

func TestRTCConnectionFailureIsRecordedOnce(t *testing.T) {
	t.Parallel()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("failed to create peer connection: %v", err)
	}
	c := newRTCConnection(pc, zerolog.Nop())

	c.handleConnectionState(webrtc.PeerConnectionStateFailed)
	c.fail(errors.New("second cause"))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected connection to tear down after failure")
	}
	if !errors.Is(c.Err(), domain.ErrTransportClosed) {
		t.Fatalf("expected transport closed error, got %v", c.Err())
	}
	if strings.Contains(c.Err().Error(), "second cause") {
		t.Fatalf("first failure must win, got %v", c.Err())
	}
}
