package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voxsync/internal/domain"
	"voxsync/internal/metrics"
	"voxsync/internal/ports"
	"voxsync/internal/protocol"
)

const closeWriteWait = time.Second

// WebSocketTransport carries only the event channel. It has no media
// senders, so audio stays local and the session is text-driven.
type WebSocketTransport struct {
	cfg    Config
	log    zerolog.Logger
	dialer *websocket.Dialer
}

func NewWebSocketTransport(cfg Config, logger zerolog.Logger) *WebSocketTransport {
	return &WebSocketTransport{
		cfg:    cfg.withDefaults(),
		log:    logger.With().Str("component", "websocket").Logger(),
		dialer: websocket.DefaultDialer,
	}
}

func (t *WebSocketTransport) Open(ctx context.Context, req ports.OpenRequest) (ports.Connection, error) {
	started := time.Now()
	conn, err := t.open(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.HandshakeDuration.WithLabelValues("websocket", outcome).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (t *WebSocketTransport) open(ctx context.Context, req ports.OpenRequest) (*wsConnection, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = RealtimeEndpoint(t.cfg.APIBaseURL)
	}
	model := req.Model
	if model == "" {
		model = t.cfg.Model
	}
	wsURL, err := buildRealtimeURL(endpoint, model, true)
	if err != nil {
		return nil, &domain.HandshakeError{Detail: "invalid endpoint", Err: err}
	}

	headers := http.Header{}
	if req.Token != "" {
		headers.Set("Authorization", "Bearer "+req.Token)
	}
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := t.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		handshakeErr := &domain.HandshakeError{Detail: "failed to connect to realtime websocket", Err: err}
		if resp != nil {
			handshakeErr.Status = resp.StatusCode
		}
		return nil, handshakeErr
	}

	c := &wsConnection{
		conn:     conn,
		log:      t.log,
		events:   make(chan []byte, eventBuffer),
		outgoing: make(chan []byte, 32),
		ready:    make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	close(c.ready)

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	go func() {
		c.wg.Wait()
		close(c.done)
		_ = conn.Close()
	}()

	t.log.Info().Str("model", model).Msg("websocket connected")
	return c, nil
}

type wsConnection struct {
	conn *websocket.Conn
	log  zerolog.Logger

	events   chan []byte
	outgoing chan []byte
	ready    chan struct{}
	stop     chan struct{}
	done     chan struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once

	errMu         sync.Mutex
	err           error
	closedLocally bool

	closeOnce sync.Once
}

func (c *wsConnection) Send(event protocol.ClientEvent) error {
	payload, err := protocol.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case <-c.stop:
		c.dropped(event)
		return nil
	default:
	}

	select {
	case c.outgoing <- payload:
		return nil
	case <-c.stop:
		c.dropped(event)
		return nil
	}
}

func (c *wsConnection) dropped(event protocol.ClientEvent) {
	c.log.Warn().Str("type", event.EventType()).Msg("websocket not writable, dropping event")
	metrics.DroppedSends.WithLabelValues("websocket").Inc()
}

func (c *wsConnection) Events() <-chan []byte {
	return c.events
}

func (c *wsConnection) Ready() <-chan struct{} {
	return c.ready
}

func (c *wsConnection) Done() <-chan struct{} {
	return c.done
}

func (c *wsConnection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConnection) Senders() []ports.Sender {
	return nil
}

func (c *wsConnection) Close() error {
	c.errMu.Lock()
	if c.err == nil {
		c.closedLocally = true
	}
	c.errMu.Unlock()

	c.closeOnce.Do(func() {
		c.halt()
		deadline := time.Now().Add(closeWriteWait)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *wsConnection) halt() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *wsConnection) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = domain.ErrTransportClosed
	} else {
		err = fmt.Errorf("%w: %v", domain.ErrTransportClosed, err)
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil && !c.closedLocally {
		c.err = err
		c.log.Warn().Err(err).Msg("websocket lost")
	}
}

func (c *wsConnection) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case payload := <-c.outgoing:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.setErr(fmt.Errorf("failed to send event: %w", err))
				c.halt()
				_ = c.conn.Close()
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (c *wsConnection) readLoop() {
	defer c.wg.Done()
	defer c.halt()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				c.setErr(err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		select {
		case c.events <- payload:
		case <-c.stop:
			return
		}
	}
}
