package openai

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAPIBaseURL       = "https://api.openai.com/v1"
	DefaultModel            = "gpt-4o-realtime-preview"
	DefaultHandshakeTimeout = 15 * time.Second

	EventsChannelLabel = "oai-events"
)

// Config controls how the realtime service is reached.
type Config struct {
	APIKey           string
	APIBaseURL       string
	Model            string
	Voice            string
	HandshakeTimeout time.Duration
	PlaybackPath     string
	HTTPClient       *http.Client
}

func (c Config) withDefaults() Config {
	c.APIKey = strings.TrimSpace(c.APIKey)
	if strings.TrimSpace(c.APIBaseURL) == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return c
}

// RealtimeEndpoint is the default handshake endpoint for an API base URL.
func RealtimeEndpoint(apiBase string) string {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if base == "" {
		base = DefaultAPIBaseURL
	}
	return base + "/realtime"
}

// buildRealtimeURL appends the model query and, for websocket dials,
// switches http(s) to ws(s).
func buildRealtimeURL(endpoint string, model string, websocketScheme bool) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if websocketScheme {
		if strings.HasPrefix(endpoint, "https://") {
			endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
		} else if strings.HasPrefix(endpoint, "http://") {
			endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
		}
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid realtime endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid realtime endpoint %q", endpoint)
	}

	if model != "" {
		query := parsed.Query()
		query.Set("model", model)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}
