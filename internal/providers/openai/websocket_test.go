package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voxsync/internal/domain"
	"voxsync/internal/ports"
	"voxsync/internal/protocol"
)

type wsServer struct {
	*httptest.Server
	headers  chan http.Header
	received chan string
	close    chan struct{}
}

// newWSServer greets every client with session.created, forwards client
// messages to received and closes the socket from the server side when
// close is signalled.
func newWSServer(t *testing.T) *wsServer {
	t.Helper()

	s := &wsServer{
		headers:  make(chan http.Header, 1),
		received: make(chan string, 8),
		close:    make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := r.Header.Clone()
		headers.Set("X-Model", r.URL.Query().Get("model"))
		s.headers <- headers

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created","session":{}}`)); err != nil {
			return
		}

		go func() {
			<-s.close
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(time.Second))
			_ = conn.Close()
		}()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.received <- string(payload)
		}
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func TestWebSocketOpenSendAndReceive(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	transport := NewWebSocketTransport(Config{Model: "gpt-test"}, zerolog.Nop())

	conn, err := transport.Open(context.Background(), ports.OpenRequest{Token: "ek_ws", Endpoint: server.URL + "/v1/realtime"})
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer conn.Close()

	headers := <-server.headers
	if got := headers.Get("Authorization"); got != "Bearer ek_ws" {
		t.Fatalf("unexpected authorization: %q", got)
	}
	if got := headers.Get("OpenAI-Beta"); got != "realtime=v1" {
		t.Fatalf("unexpected beta header: %q", got)
	}
	if got := headers.Get("X-Model"); got != "gpt-test" {
		t.Fatalf("unexpected model: %q", got)
	}

	select {
	case <-conn.Ready():
	default:
		t.Fatalf("websocket connection should be ready once dialed")
	}
	if len(conn.Senders()) != 0 {
		t.Fatalf("websocket connection must not expose media senders")
	}

	select {
	case payload := <-conn.Events():
		if !strings.Contains(string(payload), "session.created") {
			t.Fatalf("unexpected first event: %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for first event")
	}

	if err := conn.Send(protocol.NewUserMessage("hello")); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	select {
	case msg := <-server.received:
		if !strings.Contains(msg, `"conversation.item.create"`) || !strings.Contains(msg, "hello") {
			t.Fatalf("unexpected server message: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for client message")
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("unexpected second close error: %v", err)
	}
	if conn.Err() != nil {
		t.Fatalf("local close must not report an error, got %v", conn.Err())
	}
	if err := conn.Send(protocol.NewResponseCreate()); err != nil {
		t.Fatalf("send after close should be dropped, got %v", err)
	}
}

func TestWebSocketRemoteCloseReportsTransportClosed(t *testing.T) {
	t.Parallel()

	server := newWSServer(t)
	transport := NewWebSocketTransport(Config{}, zerolog.Nop())

	conn, err := transport.Open(context.Background(), ports.OpenRequest{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer conn.Close()
	<-server.headers
	<-conn.Events()

	close(server.close)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected connection to finish after remote close")
	}
	if !errors.Is(conn.Err(), domain.ErrTransportClosed) {
		t.Fatalf("expected transport closed error, got %v", conn.Err())
	}
}

func TestWebSocketDialFailureIsHandshakeError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	transport := NewWebSocketTransport(Config{}, zerolog.Nop())
	_, err := transport.Open(context.Background(), ports.OpenRequest{Endpoint: server.URL})

	var handshakeErr *domain.HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("expected handshake error, got %v", err)
	}
	if handshakeErr.Status != http.StatusForbidden {
		t.Fatalf("unexpected status: %d", handshakeErr.Status)
	}
}

func TestWebSocketSetErrIgnoresLocalClose(t *testing.T) {
	t.Parallel()

	c := &wsConnection{log: zerolog.Nop(), closedLocally: true}
	c.setErr(errors.New("use of closed network connection"))
	if c.Err() != nil {
		t.Fatalf("expected error after local close to be ignored")
	}

	c = &wsConnection{log: zerolog.Nop()}
	c.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	if !errors.Is(c.Err(), domain.ErrTransportClosed) {
		t.Fatalf("expected transport closed, got %v", c.Err())
	}
	c.setErr(errors.New("later"))
	if c.Err() != domain.ErrTransportClosed {
		t.Fatalf("first error must win, got %v", c.Err())
	}
}
