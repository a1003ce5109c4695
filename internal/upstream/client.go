// Package upstream dispatches remote calls to the session-management server
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/navikt/breakouts/internal/config"
	"github.com/navikt/breakouts/internal/logging"
	"github.com/navikt/breakouts/internal/utils"
)

// maxErrorBody caps how much of an error response is kept in the error message
const maxErrorBody = 512

// Client handles remote calls to the session-management server
type Client struct {
	secret     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new upstream client
func NewClient(cfg config.UpstreamConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		secret:  cfg.Secret,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Body)
}

type joinURLRequest struct {
	UserID string `json:"userId"`
}

type extendRequest struct {
	Minutes int `json:"minutes"`
}

type transferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RequestJoinURL asks upstream to generate a user's join URL for a room
func (c *Client) RequestJoinURL(ctx context.Context, meetingID, roomID, userID string) error {
	path := fmt.Sprintf("/api/meetings/%s/breakouts/%s/join-url", url.PathEscape(meetingID), url.PathEscape(roomID))
	return c.post(ctx, path, joinURLRequest{UserID: userID})
}

// ExtendBreakoutsTime extends all breakout rooms of a meeting
func (c *Client) ExtendBreakoutsTime(ctx context.Context, meetingID string, minutes int) error {
	path := fmt.Sprintf("/api/meetings/%s/breakouts/extend", url.PathEscape(meetingID))
	return c.post(ctx, path, extendRequest{Minutes: minutes})
}

// EndAllRooms ends all breakout rooms of a meeting
func (c *Client) EndAllRooms(ctx context.Context, meetingID string) error {
	path := fmt.Sprintf("/api/meetings/%s/breakouts/end", url.PathEscape(meetingID))
	return c.post(ctx, path, nil)
}

// TransferUser moves a user's audio between the parent meeting and a room
func (c *Client) TransferUser(ctx context.Context, meetingID, userID, fromRoomID, toRoomID string) error {
	path := fmt.Sprintf("/api/meetings/%s/users/%s/transfer", url.PathEscape(meetingID), url.PathEscape(userID))
	return c.post(ctx, path, transferRequest{From: fromRoomID, To: toRoomID})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	logger := logging.Module("upstream")

	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	logger.Debug().
		Str("path", utils.SanitizeLogString(path)).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Upstream call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	return nil
}
