package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/washline/washline/internal/models"
)

// Client is a thin wrapper around the message store's REST API. The store
// is the source of truth for message history; the realtime transport is a
// latency optimization layered on top of it.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new store client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// doRequest executes an HTTP request against the store API and decodes the
// JSON response into out (if out is non-nil).
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("store error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// Conversation fetches the full message history for one conversation, in
// ascending chronological order as returned by the store.
func (c *Client) Conversation(ctx context.Context, customerID, adminID, shopID string) ([]models.Message, error) {
	endpoint := fmt.Sprintf("/api/messages/conversation/%s/%s/%s",
		url.PathEscape(customerID), url.PathEscape(adminID), url.PathEscape(shopID))

	var messages []models.Message
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateMessage persists a message and returns the stored record with the
// store-assigned id and timestamp.
func (c *Client) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var created models.Message
	if err := c.doRequest(ctx, http.MethodPost, "/api/messages", msg, &created); err != nil {
		return models.Message{}, err
	}
	return created, nil
}

// Shops fetches the counterparty directory.
func (c *Client) Shops(ctx context.Context) ([]models.Shop, error) {
	var shops []models.Shop
	if err := c.doRequest(ctx, http.MethodGet, "/api/shop", nil, &shops); err != nil {
		return nil, err
	}
	return shops, nil
}

// Health reports whether the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/health", nil, nil)
}
