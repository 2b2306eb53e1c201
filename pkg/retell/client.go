// Package retell talks to the Retell voice platform API.
package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public Retell API.
	DefaultBaseURL = "https://api.retellai.com"
	// DefaultTimeout bounds one API call.
	DefaultTimeout = 15 * time.Second
)

// ErrNoAPIKey is returned when the client has no credentials.
var ErrNoAPIKey = errors.New("retell api key is not configured")

// WebCall is a browser call registered with Retell.
type WebCall struct {
	CallID      string `json:"call_id"`
	AccessToken string `json:"access_token"`
	AgentID     string `json:"agent_id,omitempty"`
	CallStatus  string `json:"call_status,omitempty"`
}

// Options configures a Client.
type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client calls the Retell REST API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a client. An empty key is allowed; calls then fail with
// ErrNoAPIKey.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Client{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Timeout: opts.Timeout},
	}
}

// CreateWebCall registers a web call for agentID and returns the token the
// browser SDK joins with.
func (c *Client) CreateWebCall(ctx context.Context, agentID string) (WebCall, error) {
	if c.apiKey == "" {
		return WebCall{}, ErrNoAPIKey
	}
	if agentID == "" {
		return WebCall{}, errors.New("agent id is required")
	}

	payload, err := json.Marshal(map[string]string{"agent_id": agentID})
	if err != nil {
		return WebCall{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/create-web-call", bytes.NewReader(payload))
	if err != nil {
		return WebCall{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return WebCall{}, fmt.Errorf("failed to call Retell API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return WebCall{}, fmt.Errorf("Retell API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var call WebCall
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return WebCall{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if call.AccessToken == "" {
		return WebCall{}, errors.New("Retell API returned no access token")
	}

	return call, nil
}
