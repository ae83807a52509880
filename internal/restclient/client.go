// Package restclient is the stateless fallback for session operations when
// the realtime transport is unavailable. No retries are built in; retrying is
// an explicit caller decision.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aivira/jobchat/internal/domain"
	"github.com/google/uuid"
)

// Client talks to the chat API over plain HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. httpClient may be nil to use http.DefaultClient;
// timeouts are whatever that client enforces.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   any             `json:"error"`
}

// CreateSession creates or resumes a session and returns it with its seeded
// message list.
func (c *Client) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.SessionWithMessages, error) {
	var out domain.SessionWithMessages
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", req, &out); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &out, nil
}

// GetSession fetches a session with full message history.
func (c *Client) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.SessionWithMessages, error) {
	var out domain.SessionWithMessages
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID.String(), nil, &out); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &out, nil
}

// ListSessions returns one page of the owner's sessions.
func (c *Client) ListSessions(ctx context.Context, limit, offset int) (*domain.SessionPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var out domain.SessionPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return &out, nil
}

// DeleteSession removes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+sessionID.String(), nil, nil); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SendMessage runs one exchange synchronously and returns the confirmed user
// message with the resulting bot messages.
func (c *Client) SendMessage(ctx context.Context, sessionID uuid.UUID, req domain.SendMessageRequest) (*domain.SendResult, error) {
	var out domain.SendResult
	path := "/api/v1/sessions/" + sessionID.String() + "/messages"
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		return fmt.Errorf("request failed with status %d: %v", resp.StatusCode, env.Error)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode payload: %w", err)
		}
	}
	return nil
}
