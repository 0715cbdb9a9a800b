package bootstrap

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"voxsync/internal/config"
	"voxsync/internal/domain"
	"voxsync/internal/providers/openai"
)

func TestBuildSuccess(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VOXSYNC_CONFIG", "")
	t.Setenv("VOXSYNC_OPENAI_API_KEY", "test-key")
	t.Setenv("VOXSYNC_LOG_LEVEL", "disabled")

	services, err := Build(noopEventSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if services.Controller == nil || services.Tokens == nil || services.Logger == nil {
		t.Fatalf("expected assembled services: %+v", services)
	}
	if services.Config.OpenAI.APIKey != "test-key" {
		t.Fatalf("unexpected config: %+v", services.Config.OpenAI)
	}
}

func TestBuildFailsOnInvalidTransport(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VOXSYNC_CONFIG", "")
	t.Setenv("VOXSYNC_OPENAI_TRANSPORT", "smoke-signals")

	if _, err := Build(noopEventSink{}); err == nil {
		t.Fatalf("expected build error due to invalid transport")
	}
}

func TestAssembleFailsOnInvalidLogFormat(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Log.Format = "xml"
	if _, err := Assemble(cfg, noopEventSink{}); err == nil {
		t.Fatalf("expected assemble error due to log format")
	}
}

func TestStartWithoutCredentialReportsTokenError(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.OpenAI.Transport = config.TransportWebRTC
	cfg.Log.Level = "disabled"

	sink := &recordingSink{}
	services, err := Assemble(cfg, sink)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	defer services.Close()

	err = services.Controller.StartSession(context.Background())
	if !errors.Is(err, domain.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	if len(sink.errors) != 1 || sink.errors[0] != domain.ErrorCodeToken {
		t.Fatalf("expected one token error, got %v", sink.errors)
	}
}

func TestNewTransportSelectsImplementation(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.OpenAI.Transport = config.TransportWebSocket
	if _, ok := newTransport(cfg, openai.Config{}, zerolog.Nop()).(*openai.WebSocketTransport); !ok {
		t.Fatalf("expected websocket transport")
	}

	cfg.OpenAI.Transport = config.TransportWebRTC
	if _, ok := newTransport(cfg, openai.Config{}, zerolog.Nop()).(*openai.WebRTCTransport); !ok {
		t.Fatalf("expected webrtc transport")
	}
}

func TestSessionConfigCarriesTools(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.OpenAI.Transport = config.TransportWebSocket
	cfg.Session.Instructions = "be brief"
	cfg.Session.TranscriptionModel = "whisper-1"
	cfg.Session.Tools = []config.ToolConfig{
		{Type: "function", Name: "get_time", Description: "current time", Parameters: map[string]any{"type": "object"}},
		{Type: "function", Name: "ping"},
	}

	session, err := sessionConfig(cfg)
	if err != nil {
		t.Fatalf("session config failed: %v", err)
	}
	if session.Instructions != "be brief" || session.InputAudioTranscription == nil || session.InputAudioTranscription.Model != "whisper-1" {
		t.Fatalf("unexpected session config: %+v", session)
	}
	if len(session.Modalities) != 1 || session.Modalities[0] != "text" {
		t.Fatalf("expected text modality over websocket, got %v", session.Modalities)
	}
	if len(session.Tools) != 2 || session.Tools[0].Name != "get_time" || session.Tools[1].Name != "ping" {
		t.Fatalf("unexpected tools: %+v", session.Tools)
	}
	if !strings.Contains(string(session.Tools[0].Parameters), `"type":"object"`) {
		t.Fatalf("unexpected parameters: %s", session.Tools[0].Parameters)
	}
	if session.Tools[1].Parameters != nil {
		t.Fatalf("tool without parameters must omit them, got %s", session.Tools[1].Parameters)
	}
}

func TestSessionConfigRejectsUnencodableParameters(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Session.Tools = []config.ToolConfig{{Type: "function", Name: "bad", Parameters: map[string]any{"fn": func() {}}}}
	if _, err := sessionConfig(cfg); err == nil {
		t.Fatalf("expected error for unencodable parameters")
	}
}

type noopEventSink struct{}

func (noopEventSink) TimelineChanged(_ []domain.Turn)                                          {}
func (noopEventSink) SessionStateChanged(_ domain.SessionState, _ domain.SessionStateReason) {}
func (noopEventSink) TrackStateChanged(_ domain.TrackState)                                  {}
func (noopEventSink) SessionError(_ domain.ErrorCode, _ string)                              {}

type recordingSink struct {
	noopEventSink
	errors []domain.ErrorCode
}

func (r *recordingSink) SessionError(code domain.ErrorCode, _ string) {
	r.errors = append(r.errors, code)
}
