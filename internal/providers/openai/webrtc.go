package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"voxsync/internal/audio"
	"voxsync/internal/domain"
	"voxsync/internal/metrics"
	"voxsync/internal/ports"
	"voxsync/internal/protocol"
)

const eventBuffer = 256

// WebRTCTransport negotiates a peer connection carrying the microphone
// track, the remote voice track and the oai-events data channel.
type WebRTCTransport struct {
	cfg     Config
	log     zerolog.Logger
	newSink func(path string) (ports.AudioSink, error)
}

func NewWebRTCTransport(cfg Config, logger zerolog.Logger) *WebRTCTransport {
	return &WebRTCTransport{
		cfg:     cfg.withDefaults(),
		log:     logger.With().Str("component", "webrtc").Logger(),
		newSink: audio.NewPlaybackSink,
	}
}

// Open performs the SDP exchange. Every failure, including the handshake
// timeout, comes back as *domain.HandshakeError with the partial
// connection already torn down.
func (t *WebRTCTransport) Open(ctx context.Context, req ports.OpenRequest) (ports.Connection, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := t.open(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.HandshakeDuration.WithLabelValues("webrtc", outcome).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (t *WebRTCTransport) open(ctx context.Context, req ports.OpenRequest) (*rtcConnection, error) {
	if req.InitialTrack == nil {
		return nil, &domain.HandshakeError{Detail: "no outbound audio track"}
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, &domain.HandshakeError{Detail: "failed to create peer connection", Err: err}
	}

	c := newRTCConnection(pc, t.log)
	fail := func(detail string, err error) (*rtcConnection, error) {
		_ = c.Close()
		return nil, &domain.HandshakeError{Detail: detail, Err: err}
	}

	sender, err := pc.AddTrack(req.InitialTrack)
	if err != nil {
		return fail("failed to add outbound audio track", err)
	}
	c.senders = []ports.Sender{sender}
	go drainRTCP(sender)

	sink, err := t.newSink(t.cfg.PlaybackPath)
	if err != nil {
		return fail("failed to open playback sink", err)
	}
	c.setSink(sink)

	pc.OnTrack(c.handleRemoteTrack)
	pc.OnConnectionStateChange(c.handleConnectionState)

	dc, err := pc.CreateDataChannel(EventsChannelLabel, nil)
	if err != nil {
		return fail("failed to create event channel", err)
	}
	c.attachChannel(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail("failed to create offer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail("failed to apply local description", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return fail("ice gathering did not complete", ctx.Err())
	}

	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = RealtimeEndpoint(t.cfg.APIBaseURL)
	}
	model := req.Model
	if model == "" {
		model = t.cfg.Model
	}

	answer, err := t.exchangeSDP(ctx, endpoint, model, req.Token, pc.LocalDescription().SDP)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fail("failed to apply remote answer", err)
	}

	t.log.Info().Str("model", model).Msg("peer connection negotiated")
	return c, nil
}

func (t *WebRTCTransport) exchangeSDP(ctx context.Context, endpoint string, model string, token string, offer string) (string, error) {
	target, err := buildRealtimeURL(endpoint, model, false)
	if err != nil {
		return "", &domain.HandshakeError{Detail: "invalid endpoint", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(offer))
	if err != nil {
		return "", &domain.HandshakeError{Detail: "failed to build handshake request", Err: err}
	}
	req.Header.Set("Content-Type", "application/sdp")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", &domain.HandshakeError{Detail: "handshake request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", &domain.HandshakeError{Status: resp.StatusCode, Detail: "failed to read answer", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &domain.HandshakeError{Status: resp.StatusCode, Detail: apiErrorMessage(body)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", &domain.HandshakeError{Status: resp.StatusCode, Detail: "empty answer"}
	}
	return string(body), nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type rtcConnection struct {
	pc      *webrtc.PeerConnection
	log     zerolog.Logger
	senders []ports.Sender

	events    chan []byte
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	channelMu sync.RWMutex
	channel   *webrtc.DataChannel

	sinkMu sync.Mutex
	sink   ports.AudioSink

	trackOnce sync.Once

	errMu         sync.Mutex
	err           error
	closedLocally bool

	closeOnce sync.Once
	closeErr  error
}

func newRTCConnection(pc *webrtc.PeerConnection, logger zerolog.Logger) *rtcConnection {
	return &rtcConnection{
		pc:     pc,
		log:    logger,
		events: make(chan []byte, eventBuffer),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *rtcConnection) attachChannel(dc *webrtc.DataChannel) {
	c.channelMu.Lock()
	c.channel = dc
	c.channelMu.Unlock()

	dc.OnOpen(func() {
		c.readyOnce.Do(func() { close(c.ready) })
		c.log.Debug().Str("label", dc.Label()).Msg("event channel open")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		c.emit(append([]byte(nil), msg.Data...))
	})
	dc.OnClose(func() {
		c.fail(fmt.Errorf("%w: event channel closed", domain.ErrTransportClosed))
	})
}

func (c *rtcConnection) Send(event protocol.ClientEvent) error {
	dc := c.writableChannel()
	if dc == nil {
		c.log.Warn().Str("type", event.EventType()).Msg("event channel not writable, dropping event")
		metrics.DroppedSends.WithLabelValues("webrtc").Inc()
		return nil
	}

	payload, err := protocol.Marshal(event)
	if err != nil {
		return err
	}
	if err := dc.SendText(string(payload)); err != nil {
		return fmt.Errorf("failed to send %s: %w", event.EventType(), err)
	}
	return nil
}

func (c *rtcConnection) writableChannel() *webrtc.DataChannel {
	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case <-c.ready:
	default:
		return nil
	}

	c.channelMu.RLock()
	defer c.channelMu.RUnlock()
	if c.channel == nil || c.channel.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	return c.channel
}

func (c *rtcConnection) Events() <-chan []byte {
	return c.events
}

func (c *rtcConnection) Ready() <-chan struct{} {
	return c.ready
}

func (c *rtcConnection) Done() <-chan struct{} {
	return c.done
}

func (c *rtcConnection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *rtcConnection) Senders() []ports.Sender {
	return append([]ports.Sender(nil), c.senders...)
}

func (c *rtcConnection) Close() error {
	c.errMu.Lock()
	if c.err == nil {
		c.closedLocally = true
	}
	c.errMu.Unlock()

	c.closeOnce.Do(c.teardown)
	return c.closeErr
}

func (c *rtcConnection) fail(cause error) {
	c.errMu.Lock()
	if c.err == nil && !c.closedLocally {
		c.err = cause
		c.log.Warn().Err(cause).Msg("connection lost")
	}
	c.errMu.Unlock()

	// Called from pion callbacks, which must not block on peer connection teardown.
	go c.closeOnce.Do(c.teardown)
}

func (c *rtcConnection) teardown() {
	close(c.done)

	c.channelMu.RLock()
	dc := c.channel
	c.channelMu.RUnlock()
	if dc != nil {
		_ = dc.Close()
	}

	if err := c.pc.Close(); err != nil {
		c.closeErr = fmt.Errorf("failed to close peer connection: %w", err)
	}

	c.sinkMu.Lock()
	if c.sink != nil {
		if err := c.sink.Close(); err != nil && c.closeErr == nil {
			c.closeErr = fmt.Errorf("failed to close playback sink: %w", err)
		}
		c.sink = nil
	}
	c.sinkMu.Unlock()
}

func (c *rtcConnection) emit(payload []byte) {
	select {
	case c.events <- payload:
	case <-c.done:
	}
}

func (c *rtcConnection) setSink(sink ports.AudioSink) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.sink = sink
}

func (c *rtcConnection) handleConnectionState(state webrtc.PeerConnectionState) {
	c.log.Debug().Str("state", state.String()).Msg("peer connection state changed")
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		c.fail(fmt.Errorf("%w: peer connection %s", domain.ErrTransportClosed, state))
	}
}

// handleRemoteTrack pipes the first remote track into the playback sink
// until the track ends. Later tracks are ignored.
func (c *rtcConnection) handleRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	first := false
	c.trackOnce.Do(func() { first = true })
	if !first {
		c.log.Debug().Str("track", track.ID()).Msg("ignoring additional remote track")
		return
	}
	c.log.Info().Str("track", track.ID()).Str("codec", track.Codec().MimeType).Msg("remote audio attached")

	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Debug().Err(err).Msg("remote audio ended")
			}
			return
		}

		c.sinkMu.Lock()
		sink := c.sink
		if sink != nil {
			if err := sink.WriteRTP(packet); err != nil {
				c.log.Debug().Err(err).Msg("failed to write remote audio")
			}
		}
		c.sinkMu.Unlock()
		if sink == nil {
			return
		}
	}
}
