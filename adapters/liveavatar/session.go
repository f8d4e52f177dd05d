// Package liveavatar implements the session-issuing API of the LiveAvatar
// rendering vendor.
package liveavatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/domain/repositories"
)

const defaultAPIBaseURL = "https://api.liveavatar.com/v1"

// Config holds configuration for the LiveAvatar session issuer.
// Required fields:
// - APIKey: Your LiveAvatar API key
// - AvatarID: The avatar to drive
// Optional fields with defaults:
// - APIBaseURL: The base URL for the LiveAvatar API
type Config struct {
	APIKey     string
	AvatarID   string
	APIBaseURL string
}

// Client implements SessionIssuer against the LiveAvatar HTTP API.
// Issuing is a two-step handshake: create a session token, then start the
// session with it; the start response carries the transport endpoint.
type Client struct {
	apiKey     string
	avatarID   string
	apiBaseURL string
	client     *http.Client
	logger     *zap.Logger
}

var _ repositories.SessionIssuer = (*Client)(nil)

type sessionTokenResponse struct {
	SessionID    string `json:"session_id"`
	SessionToken string `json:"session_token"`
}

type sessionStartResponse struct {
	SessionID          string `json:"session_id"`
	TransportURL       string `json:"livekit_url"`
	TransportClientKey string `json:"livekit_client_token"`
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.APIKey == "" {
		return fmt.Errorf("live avatar API key is required")
	}
	if config.AvatarID == "" {
		return fmt.Errorf("live avatar avatar ID is required")
	}
	return nil
}

// NewClient creates a new LiveAvatar session client
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}

	return &Client{
		apiKey:     config.APIKey,
		avatarID:   config.AvatarID,
		apiBaseURL: apiBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

// NewConfigFromEnv creates a Config from environment variables. Stray
// whitespace in the key is stripped, it tends to survive copy-paste.
func NewConfigFromEnv() Config {
	return Config{
		APIKey:     strings.Join(strings.Fields(os.Getenv("LIVEAVATAR_API_KEY")), ""),
		AvatarID:   os.Getenv("LIVEAVATAR_AVATAR_ID"),
		APIBaseURL: os.Getenv("LIVEAVATAR_API_BASE_URL"),
	}
}

// IssueSession performs the token and start handshake and returns combined
// credentials valid for one session.
func (c *Client) IssueSession(ctx context.Context, mode entities.AvatarMode) (*entities.SessionCredentials, error) {
	token, err := c.createSessionToken(ctx, mode)
	if err != nil {
		return nil, err
	}

	start, err := c.startSession(ctx, token.SessionToken)
	if err != nil {
		return nil, err
	}

	creds := &entities.SessionCredentials{
		SessionID:            token.SessionID,
		SessionToken:         token.SessionToken,
		TransportURL:         start.TransportURL,
		TransportClientToken: start.TransportClientKey,
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("live avatar session response incomplete: %w", err)
	}

	c.logger.Info("Live avatar session issued",
		zap.String("sessionID", creds.SessionID),
		zap.String("mode", string(mode)))
	return creds, nil
}

func (c *Client) createSessionToken(ctx context.Context, mode entities.AvatarMode) (*sessionTokenResponse, error) {
	// The vendor spells the custom/full modes in upper case.
	vendorMode := "CUSTOM"
	if mode == entities.AvatarModeManaged {
		vendorMode = "FULL"
	}

	payload, err := json.Marshal(map[string]string{
		"mode":      vendorMode,
		"avatar_id": c.avatarID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBaseURL+"/sessions/token", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("X-API-KEY", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("token", resp)
	}

	var token sessionTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.SessionID == "" || token.SessionToken == "" {
		return nil, fmt.Errorf("token response missing session data")
	}
	return &token, nil
}

func (c *Client) startSession(ctx context.Context, sessionToken string) (*sessionStartResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBaseURL+"/sessions/start", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+sessionToken)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute start request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("start", resp)
	}

	var start sessionStartResponse
	if err := json.NewDecoder(resp.Body).Decode(&start); err != nil {
		return nil, fmt.Errorf("failed to decode start response: %w", err)
	}
	if start.TransportURL == "" || start.TransportClientKey == "" {
		return nil, fmt.Errorf("start response missing transport data")
	}
	return &start, nil
}

// StopSession tears down the remote session.
func (c *Client) StopSession(ctx context.Context, creds *entities.SessionCredentials) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBaseURL+"/sessions/stop", nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.SessionToken)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute stop request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError("stop", resp)
	}

	c.logger.Info("Live avatar session stopped", zap.String("sessionID", creds.SessionID))
	return nil
}

// KeepAlive refreshes the vendor-side idle timer for a managed session.
// Custom sessions keep alive over the data channel instead.
func (c *Client) KeepAlive(ctx context.Context, creds *entities.SessionCredentials) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBaseURL+"/sessions/keep-alive", nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.SessionToken)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute keep-alive request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError("keep-alive", resp)
	}
	return nil
}

// apiError extracts the vendor's error message when the body carries one.
func apiError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var vendorErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &vendorErr); err == nil && vendorErr.Message != "" {
		return fmt.Errorf("live avatar %s API error %d: %s", operation, resp.StatusCode, vendorErr.Message)
	}
	return fmt.Errorf("live avatar %s API error %d: %s", operation, resp.StatusCode, string(body))
}
