// Package rest is the HTTP client for the backend endpoints the realtime
// core reconciles against: notifications, online users and chat history.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/presence"
)

const maxResponseBytes = 4 << 20

// ErrUnauthorized is matched by errors.Is for 401 responses.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Detail
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("rest: %d: %s", e.StatusCode, msg)
}

// Unwrap exposes ErrUnauthorized for 401 responses.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Transient reports whether retrying the request may succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TokenSource returns the current bearer credential.
type TokenSource func() string

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	// OnUnauthorized is called for every 401, so the auth collaborator
	// can refresh or redirect. The error is still returned to the caller.
	OnUnauthorized func(error)
}

// Client calls the backend REST API with the session's bearer token.
type Client struct {
	baseURL        string
	token          TokenSource
	httpClient     *http.Client
	onUnauthorized func(error)
}

// New returns a Client for baseURL (scheme and host, optional path prefix).
func New(baseURL string, token TokenSource, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		httpClient:     httpClient,
		onUnauthorized: opts.OnUnauthorized,
	}
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

type notificationsResponse struct {
	Notifications []notification.Notification `json:"notifications"`
}

type usersResponse struct {
	Users []presence.Entry `json:"users"`
}

type messagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

// UnreadCount fetches the server's unread notification count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp unreadCountResponse
	if err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Notifications lists notifications matching the filter.
func (c *Client) Notifications(ctx context.Context, filter notification.Filter) ([]notification.Notification, error) {
	query := url.Values{}
	if filter.Kind != "" {
		query.Set("type", filter.Kind)
	}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	if filter.Priority != "" {
		query.Set("priority", string(filter.Priority))
	}
	var resp notificationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/notifications", query, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

// MarkRead marks one notification read on the server.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkAllRead marks every unread notification read on the server.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/read-all", nil, nil)
}

// Archive archives one notification on the server.
func (c *Client) Archive(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/archive", nil, nil)
}

// OnlineUsers fetches the presence snapshot of a room.
func (c *Client) OnlineUsers(ctx context.Context, room string) ([]presence.Entry, error) {
	var resp usersResponse
	if err := c.do(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(room)+"/online", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// RecentMessages fetches up to limit of the latest messages of a room.
func (c *Client) RecentMessages(ctx context.Context, room string, limit int) ([]chat.Message, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp messagesResponse
	if err := c.do(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(room)+"/messages", query, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, nil)
	if err != nil {
		return fmt.Errorf("rest: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("rest: read response of %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// Non-JSON error bodies keep the status text only.
		_ = json.Unmarshal(data, apiErr)
		if apiErr.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
			c.onUnauthorized(apiErr)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("rest: decode response of %s %s: %w", method, path, err)
	}
	return nil
}
