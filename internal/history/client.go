// Package history wraps the messages service REST API consumed by the chat
// widget: fetching a channel's server-side history to seed reconciliation and
// persisting outbound sends fire-and-forget.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hostelhub/internal/models"
)

// Config configures a Client.
type Config struct {
	// BaseURL points at the messages service root, e.g. "https://api.example.com".
	BaseURL string
	// Token is the bearer credential supplied by the host's auth collaborator.
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the messages service over HTTP with bearer authorisation.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient validates the configuration and returns a ready client. When no
// http.Client is supplied, a client with a 10 second timeout is used so a
// hung request cannot stall a background goroutine forever.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("history base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		client:  httpClient,
		logger:  logger,
	}, nil
}

// List fetches the ordered message history for a channel.
func (c *Client) List(ctx context.Context, channelID string) ([]models.Message, error) {
	endpoint := fmt.Sprintf("%s/api/messages?channel=%s", c.baseURL, url.QueryEscape(channelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", channelID, err)
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request for %s failed: %s", channelID, resp.Status)
	}
	var messages []models.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", channelID, err)
	}
	return messages, nil
}

type createMessageRequest struct {
	Channel string `json:"channel"`
	Body    string `json:"body"`
}

// Create persists an outbound send. The response payload is ignored; the
// widget has already reflected the message locally.
func (c *Client) Create(ctx context.Context, channelID, body string) error {
	payload, err := json.Marshal(createMessageRequest{Channel: channelID, Body: body})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	endpoint := c.baseURL + "/api/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build persist request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("persist message to %s: %w", channelID, err)
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("persist request for %s failed: %s", channelID, resp.Status)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}
