package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"voxsync/internal/audio"
	"voxsync/internal/config"
	"voxsync/internal/logging"
	"voxsync/internal/ports"
	"voxsync/internal/protocol"
	"voxsync/internal/providers/openai"
	"voxsync/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Tokens     *openai.TokenClient
	Config     config.Config
	Logger     *logging.Logger
}

// Close releases resources owned by the graph.
func (s Services) Close() error {
	if s.Controller != nil {
		_ = s.Controller.StopSession()
	}
	if s.Logger != nil {
		return s.Logger.Close()
	}
	return nil
}

// Build loads configuration and wires all backend dependencies.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return Assemble(cfg, eventSink)
}

// Assemble wires the runtime graph from an already loaded configuration.
func Assemble(cfg config.Config, eventSink ports.EventSink) (Services, error) {
	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}, os.Stderr)
	if err != nil {
		return Services{}, err
	}

	providerCfg := openai.Config{
		APIKey:           cfg.OpenAI.APIKey,
		APIBaseURL:       cfg.OpenAI.APIBaseURL,
		Model:            cfg.OpenAI.Model,
		Voice:            cfg.OpenAI.Voice,
		HandshakeTimeout: cfg.OpenAI.HandshakeTimeout,
		PlaybackPath:     cfg.Audio.PlaybackPath,
	}
	tokens := openai.NewTokenClient(providerCfg)

	session, err := sessionConfig(cfg)
	if err != nil {
		_ = logger.Close()
		return Services{}, err
	}

	transport := newTransport(cfg, providerCfg, logger.Logger)

	controller := usecase.NewSessionController(
		tokens,
		transport,
		audio.NewFFMPEGCapture(cfg.Audio.FFMPEGCommand, logger.Logger),
		eventSink,
		usecase.Config{
			Endpoint: openai.RealtimeEndpoint(cfg.OpenAI.APIBaseURL),
			Model:    cfg.OpenAI.Model,
			Session:  session,
			Audio: ports.AudioConfig{
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				Bitrate:     cfg.Audio.Bitrate,
			},
			TurnTimeout: cfg.Session.TurnTimeout,
			MaxTurns:    cfg.Session.MaxTurns,
			StartLive:   cfg.Session.StartLive,
		},
		logger.Logger,
	)

	logger.Info().
		Str("transport", cfg.OpenAI.Transport).
		Str("model", cfg.OpenAI.Model).
		Bool("credential", cfg.OpenAI.APIKey != "").
		Msg("runtime assembled")

	return Services{Controller: controller, Tokens: tokens, Config: cfg, Logger: logger}, nil
}

// sessionConfig builds the session.update body sent once the event channel
// opens.
func sessionConfig(cfg config.Config) (protocol.SessionConfig, error) {
	session := protocol.SessionConfig{
		Instructions:            cfg.Session.Instructions,
		Voice:                   cfg.OpenAI.Voice,
		MaxResponseOutputTokens: cfg.Session.MaxOutputTokens,
	}
	if cfg.Session.TranscriptionModel != "" {
		session.InputAudioTranscription = &protocol.TranscriptionConfig{Model: cfg.Session.TranscriptionModel}
	}
	if cfg.OpenAI.Transport == config.TransportWebSocket {
		session.Modalities = []string{"text"}
	}

	for _, tool := range cfg.Session.Tools {
		next := protocol.Tool{Type: tool.Type, Name: tool.Name, Description: tool.Description}
		if len(tool.Parameters) > 0 {
			params, err := json.Marshal(tool.Parameters)
			if err != nil {
				return protocol.SessionConfig{}, fmt.Errorf("invalid parameters for tool %s: %w", tool.Name, err)
			}
			next.Parameters = params
		}
		session.Tools = append(session.Tools, next)
	}
	return session, nil
}

func newTransport(cfg config.Config, providerCfg openai.Config, logger zerolog.Logger) ports.Transport {
	if cfg.OpenAI.Transport == config.TransportWebSocket {
		return openai.NewWebSocketTransport(providerCfg, logger)
	}
	return openai.NewWebRTCTransport(providerCfg, logger)
}
