package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"parlor/internal/auth"
	"parlor/internal/room"
)

// APIError is a coded failure from the room server.
type APIError struct {
	Status int    `json:"-"`
	Code   string `json:"error"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}

// Retryable reports whether the failure is a transient conflict worth
// retrying with backoff. Auth and not-found failures surface immediately.
func (e *APIError) Retryable() bool {
	return e.Code == "rate_limited" || e.Code == "invalid_status"
}

type Client struct {
	BaseURL     string
	HTTP        *http.Client
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

func (c *Client) Signup(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) CreateRoom(ctx context.Context, token, roomID, name, idem string) (room.Snapshot, error) {
	var out room.Snapshot
	err := c.withRetry(ctx, func() error {
		return c.jsonRequest(ctx, http.MethodPost, "/v1/rooms", token, map[string]any{
			"room_id": roomID,
			"name":    name,
		}, &out, idem)
	})
	return out, err
}

func (c *Client) Snapshot(ctx context.Context, token, roomID string) (room.Snapshot, error) {
	var out room.Snapshot
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rooms/"+url.PathEscape(roomID)+"/", token, nil, &out, "")
	return out, err
}

func (c *Client) Join(ctx context.Context, token, roomID, name, idem string) (room.JoinResult, error) {
	var out room.JoinResult
	err := c.withRetry(ctx, func() error {
		return c.roomPost(ctx, token, roomID, "join", map[string]any{"name": name}, &out, idem)
	})
	return out, err
}

func (c *Client) Leave(ctx context.Context, token, roomID, idem string) (room.SyncPatch, error) {
	return c.patchPost(ctx, token, roomID, "leave", map[string]any{}, idem)
}

func (c *Client) ClaimHost(ctx context.Context, token, roomID, idem string) (room.SyncPatch, error) {
	return c.patchPost(ctx, token, roomID, "claim-host", map[string]any{}, idem)
}

func (c *Client) Start(ctx context.Context, token, roomID, idem string) (room.SyncPatch, error) {
	return c.patchPost(ctx, token, roomID, "start", map[string]any{}, idem)
}

func (c *Client) Deal(ctx context.Context, token, roomID, seed, idem string) (room.SyncPatch, error) {
	return c.patchPost(ctx, token, roomID, "deal", map[string]any{"seed": seed}, idem)
}

func (c *Client) Propose(ctx context.Context, token, roomID, action, playerID string, targetIndex int, idem string) (room.SyncPatch, error) {
	body := map[string]any{"action": action, "player_id": playerID}
	if targetIndex >= 0 {
		body["target_index"] = targetIndex
	}
	return c.patchPost(ctx, token, roomID, "proposal", body, idem)
}

func (c *Client) SubmitOrder(ctx context.Context, token, roomID string, list []string, idem string) (room.SyncPatch, error) {
	return c.patchPost(ctx, token, roomID, "order", map[string]any{"list": list}, idem)
}

func (c *Client) SetClue(ctx context.Context, token, roomID, clue string, ready bool, idem string) (room.SyncPatch, error) {
	return c.patchPost(ctx, token, roomID, "clue", map[string]any{"clue": clue, "ready": ready}, idem)
}

func (c *Client) Finish(ctx context.Context, token, roomID, idem string) (room.SyncPatch, error) {
	return c.patchPost(ctx, token, roomID, "finish", map[string]any{}, idem)
}

func (c *Client) Heartbeat(ctx context.Context, token, roomID string) error {
	var out map[string]any
	return c.roomPost(ctx, token, roomID, "heartbeat", map[string]any{}, &out, "")
}

// Do issues an arbitrary request; the offline queue replays through this.
func (c *Client) Do(ctx context.Context, method, path, token string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.withRetry(ctx, func() error {
		return c.jsonRequest(ctx, method, path, token, body, &out, idem)
	})
	return out, err
}

func (c *Client) patchPost(ctx context.Context, token, roomID, action string, body map[string]any, idem string) (room.SyncPatch, error) {
	var out struct {
		Patch room.SyncPatch `json:"patch"`
	}
	err := c.withRetry(ctx, func() error {
		return c.roomPost(ctx, token, roomID, action, body, &out, idem)
	})
	return out.Patch, err
}

func (c *Client) roomPost(ctx context.Context, token, roomID, action string, body map[string]any, out any, idem string) error {
	path := "/v1/rooms/" + url.PathEscape(roomID) + "/" + action
	return c.jsonRequest(ctx, http.MethodPost, path, token, body, out, idem)
}

// withRetry retries transient conflicts with capped exponential backoff.
// The idempotency key riding on the request makes the retry safe.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := c.BaseDelay
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.MaxDelay {
				delay = c.MaxDelay
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = fmt.Sprintf("http_%d", resp.StatusCode)
			apiErr.Detail = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
