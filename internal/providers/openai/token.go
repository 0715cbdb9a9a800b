package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"voxsync/internal/domain"
)

const maxErrorBody = 1 << 16

// TokenClient mints ephemeral client secrets for realtime sessions.
type TokenClient struct {
	cfg Config
}

func NewTokenClient(cfg Config) *TokenClient {
	return &TokenClient{cfg: cfg.withDefaults()}
}

type sessionRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice,omitempty"`
}

type sessionResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// EphemeralToken returns a short-lived bearer token for the handshake.
func (c *TokenClient) EphemeralToken(ctx context.Context) (string, error) {
	if c.cfg.APIKey == "" {
		return "", domain.ErrNoCredential
	}

	body, err := json.Marshal(sessionRequest{Model: c.cfg.Model, Voice: c.cfg.Voice})
	if err != nil {
		return "", fmt.Errorf("failed to encode session request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.APIBaseURL, "/") + "/realtime/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request ephemeral token: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("ephemeral token request failed with status %d: %s", resp.StatusCode, apiErrorMessage(payload))
	}

	var decoded sessionResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	token := strings.TrimSpace(decoded.ClientSecret.Value)
	if token == "" {
		return "", errors.New("token response did not include a client secret")
	}
	return token, nil
}

func apiErrorMessage(payload []byte) string {
	var decoded apiErrorResponse
	if err := json.Unmarshal(payload, &decoded); err == nil {
		if message := strings.TrimSpace(decoded.Error.Message); message != "" {
			return message
		}
	}
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return "empty response body"
	}
	return text
}
