// Package api is the REST client for the pulsefeed backend. The realtime
// subsystem uses it for the session-readiness probe and as the polling
// fallback's fetch path.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// Client makes REST calls to the pulsefeed backend.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a client targeting the given base URL
// (e.g. "http://127.0.0.1:8080").
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetLikes fetches the current likes for a post.
func (c *Client) GetLikes(ctx context.Context, targetID string) ([]feed.LikeRow, error) {
	var out []feed.LikeRow
	if err := c.get(ctx, "/api/likes?target="+url.QueryEscape(targetID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetNotifications fetches the current notifications for a recipient.
func (c *Client) GetNotifications(ctx context.Context, recipientID string) ([]feed.NotificationRow, error) {
	var out []feed.NotificationRow
	if err := c.get(ctx, "/api/notifications?recipient="+url.QueryEscape(recipientID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckSession probes whether the client's credential is currently usable.
// A 2xx answer means ready; 401/403 means not ready yet (no error — the
// orchestrator keeps retrying); anything else is a probe error.
func (c *Client) CheckSession(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/session", nil)
	if err != nil {
		return false, err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("session probe: unexpected status %d", resp.StatusCode)
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
