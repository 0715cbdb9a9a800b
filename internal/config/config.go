package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	TransportWebRTC    = "webrtc"
	TransportWebSocket = "websocket"

	envPrefix     = "VOXSYNC"
	configFileEnv = "VOXSYNC_CONFIG"
)

// Config stores runtime configuration for the realtime client.
type Config struct {
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Session SessionConfig `mapstructure:"session"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Log     LogConfig     `mapstructure:"log"`
}

type OpenAIConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	APIBaseURL       string        `mapstructure:"api_base"`
	Model            string        `mapstructure:"model"`
	Voice            string        `mapstructure:"voice"`
	Transport        string        `mapstructure:"transport"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type SessionConfig struct {
	Instructions       string        `mapstructure:"instructions"`
	TranscriptionModel string        `mapstructure:"transcription_model"`
	MaxOutputTokens    int           `mapstructure:"max_output_tokens"`
	TurnTimeout        time.Duration `mapstructure:"turn_timeout"`
	MaxTurns           int           `mapstructure:"max_turns"`
	StartLive          bool          `mapstructure:"start_live"`
	Tools              []ToolConfig  `mapstructure:"tools"`
}

// ToolConfig declares a function the assistant may call. Parameters is a
// JSON schema object, written as YAML in the config file.
type ToolConfig struct {
	Type        string         `mapstructure:"type"`
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	Parameters  map[string]any `mapstructure:"parameters"`
}

type AudioConfig struct {
	FFMPEGCommand string `mapstructure:"ffmpeg_command"`
	InputFormat   string `mapstructure:"input_format"`
	InputDevice   string `mapstructure:"input_device"`
	SampleRate    int    `mapstructure:"sample_rate"`
	Channels      int    `mapstructure:"channels"`
	Bitrate       int    `mapstructure:"bitrate"`
	PlaybackPath  string `mapstructure:"playback_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

var defaults = map[string]any{
	"openai.api_key":              "",
	"openai.api_base":             "https://api.openai.com/v1",
	"openai.model":                "gpt-4o-realtime-preview",
	"openai.voice":                "alloy",
	"openai.transport":            TransportWebRTC,
	"openai.handshake_timeout":    15 * time.Second,
	"session.instructions":        "",
	"session.transcription_model": "whisper-1",
	"session.max_output_tokens":   0,
	"session.turn_timeout":        45 * time.Second,
	"session.max_turns":           200,
	"session.start_live":          false,
	"audio.ffmpeg_command":        "ffmpeg",
	"audio.input_format":          "pulse",
	"audio.input_device":          "default",
	"audio.sample_rate":           48000,
	"audio.channels":              1,
	"audio.bitrate":               32000,
	"audio.playback_path":         "",
	"log.level":                   "info",
	"log.format":                  "console",
	"log.file":                    "",
}

// Options adjusts how configuration is resolved.
type Options struct {
	// File is an explicit config file; it wins over VOXSYNC_CONFIG.
	File string
	// Overrides are dotted keys applied above every other source.
	Overrides map[string]any
}

// Load resolves configuration from defaults, an optional YAML file and
// VOXSYNC_* environment variables, in increasing priority.
func Load() (Config, error) {
	return LoadWith(Options{})
}

// LoadWith is Load with an explicit file and command line overrides.
func LoadWith(opts Options) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := strings.TrimSpace(opts.File)
	if path == "" {
		var err error
		if path, err = configPath(); err != nil {
			return Config{}, err
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// configPath returns the explicit VOXSYNC_CONFIG file, else the default
// user config file when it exists, else "".
func configPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv(configFileEnv)); explicit != "" {
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	candidate := filepath.Join(home, ".config", "voxsync", "config.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", nil
}

func (c *Config) normalize() error {
	c.OpenAI.APIKey = strings.TrimSpace(c.OpenAI.APIKey)
	c.OpenAI.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.OpenAI.APIBaseURL), "/")
	c.OpenAI.Transport = strings.ToLower(strings.TrimSpace(c.OpenAI.Transport))

	switch c.OpenAI.Transport {
	case TransportWebRTC, TransportWebSocket:
	default:
		return fmt.Errorf("unsupported transport %q (want %s or %s)", c.OpenAI.Transport, TransportWebRTC, TransportWebSocket)
	}

	if c.OpenAI.APIBaseURL == "" {
		c.OpenAI.APIBaseURL = defaults["openai.api_base"].(string)
	}
	if c.OpenAI.HandshakeTimeout <= 0 {
		c.OpenAI.HandshakeTimeout = 15 * time.Second
	}
	if c.Session.TurnTimeout < 0 {
		c.Session.TurnTimeout = 0
	}
	if c.Session.MaxTurns < 0 {
		c.Session.MaxTurns = 0
	}
	if c.Session.MaxOutputTokens < 0 {
		c.Session.MaxOutputTokens = 0
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 48000
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.Bitrate <= 0 {
		c.Audio.Bitrate = 32000
	}
	if strings.TrimSpace(c.Audio.FFMPEGCommand) == "" {
		c.Audio.FFMPEGCommand = "ffmpeg"
	}

	for i := range c.Session.Tools {
		tool := &c.Session.Tools[i]
		tool.Name = strings.TrimSpace(tool.Name)
		if tool.Name == "" {
			return fmt.Errorf("session tool %d has no name", i)
		}
		if tool.Type = strings.TrimSpace(tool.Type); tool.Type == "" {
			tool.Type = "function"
		}
	}
	return nil
}
