// Package provision creates chat rooms on the engine when the transport
// reports them missing.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Request identifies the room to create. The call is idempotent
// server-side; repeating it for an existing room succeeds.
type Request struct {
	LocalUser     string `json:"local_user"`
	PeerUser      string `json:"peer_user"`
	ChatReference string `json:"chat_reference"`
}

// Client calls the room-provisioning endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a provisioning client for the given API base URL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// CreateRoom provisions the chat room. A 409 means the room already
// exists and counts as success. Failure reasons are opaque to callers.
func (c *Client) CreateRoom(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode provision request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rooms", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build provision request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("provision room: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		c.logger.Info("room provisioned",
			zap.String("chat_ref", req.ChatReference),
			zap.Int("status", resp.StatusCode))
		return nil
	}
	return fmt.Errorf("provision room: unexpected status %d", resp.StatusCode)
}
