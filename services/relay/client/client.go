// Package client is a Go client for the relay's exchange endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carlossalguero/oauthrelay/services/shared/tracing"
)

// DefaultTimeout bounds a single exchange call.
const DefaultTimeout = 10 * time.Second

// Identity is the user record returned by the relay.
type Identity struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

// APIError is a non-2xx relay response.
type APIError struct {
	StatusCode int             `json:"-"`
	Message    string          `json:"error"`
	Code       string          `json:"code,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if len(e.Details) > 0 && string(e.Details) != "null" {
		return fmt.Sprintf("relay returned %d: %s: %s", e.StatusCode, msg, e.Details)
	}
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, msg)
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the relay root, e.g. http://localhost:5000.
	BaseURL string
	// ExchangePath defaults to /oauth.
	ExchangePath string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client calls the relay.
type Client struct {
	baseURL      string
	exchangePath string
	httpClient   *http.Client
}

// New creates a relay client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	path := cfg.ExchangePath
	if path == "" {
		path = "/oauth"
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		exchangePath: path,
		httpClient:   httpClient,
	}
}

// Exchange posts code to the relay and returns the resolved identity. Relay
// failures are returned as *APIError.
func (c *Client) Exchange(ctx context.Context, code string) (*Identity, error) {
	payload, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.exchangePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	tracing.InjectHTTPHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling relay: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}

	var identity Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, fmt.Errorf("decoding identity: %w", err)
	}
	return &identity, nil
}

// Ready calls the relay's readiness endpoint and returns an *APIError when it
// does not answer 2xx.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling relay: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: "relay not ready"}
	}
	return nil
}
