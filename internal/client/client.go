// ABOUTME: HTTP client SDK for the relay gateway API with bearer-token auth.
// ABOUTME: Covers conversations, message ingress, stats, and expert listings.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a relay gateway over its HTTP API.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client. Streaming calls need a
// client without a global timeout, which the default already is.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Conversation is a conversation as returned by the gateway.
type Conversation struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateConversationRequest is the body for creating a conversation.
type CreateConversationRequest struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	Title       string `json:"title,omitempty"`
}

// SendMessageRequest is the body for posting a message to a conversation.
type SendMessageRequest struct {
	Content  string         `json:"content"`
	Role     string         `json:"role,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MessageAck is the gateway's acknowledgement for a posted message. Status is
// "message_received" for fresh messages and "duplicate" for suppressed
// retries, in which case only ClientMessageID is set.
type MessageAck struct {
	Status          string         `json:"status"`
	MessageID       string         `json:"message_id,omitempty"`
	ClientMessageID string         `json:"client_message_id,omitempty"`
	Role            string         `json:"role,omitempty"`
	Content         string         `json:"content,omitempty"`
	CreatedAt       time.Time      `json:"created_at,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Message is a stored conversation message.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	HTML           string         `json:"html,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// BreakerStatus mirrors the circuit state reported per expert.
type BreakerStatus struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// ExpertStatus is one entry of the gateway's expert listing.
type ExpertStatus struct {
	Name     string        `json:"name"`
	Endpoint string        `json:"endpoint"`
	Type     string        `json:"type,omitempty"`
	Status   string        `json:"status"`
	Breaker  BreakerStatus `json:"breaker"`
}

// Stats is the gateway's runtime snapshot. Nested sections carry only the
// fields the SDK surfaces; unknown fields are ignored.
type Stats struct {
	ServerID    string `json:"server_id"`
	Connections struct {
		Total         int            `json:"total"`
		ByChannel     map[string]int `json:"by_channel"`
		DroppedEvents int            `json:"dropped_events"`
	} `json:"connections"`
	Subscriptions map[string]int `json:"bus_subscriptions"`
	Router        struct {
		QueueDepth int   `json:"queue_depth"`
		Processed  int64 `json:"processed"`
		Failed     int64 `json:"failed"`
	} `json:"router"`
	Experts       []ExpertStatus `json:"experts"`
	DedupeTracked int            `json:"dedupe_tracked"`
}

// CreateConversation creates a conversation and returns it.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Conversations lists the caller's conversations, most recently updated
// first. A non-positive limit uses the server default.
func (c *Client) Conversations(ctx context.Context, limit int) ([]Conversation, error) {
	path := "/api/conversations"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// SendMessage posts a message to a conversation. The returned ack reports
// acceptance, not completion; the routed response arrives on the
// conversation's event stream.
func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*MessageAck, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	var ack MessageAck
	if err := c.do(ctx, http.MethodPost, path, req, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Messages fetches a conversation's recent messages in chronological order.
// A non-positive limit uses the server default.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		ConversationID string    `json:"conversation_id"`
		Messages       []Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Stats fetches the gateway's runtime snapshot.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Experts lists registered experts and their connection state.
func (c *Client) Experts(ctx context.Context) ([]ExpertStatus, error) {
	var resp struct {
		Experts []ExpertStatus `json:"experts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/experts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Experts, nil
}

// do performs one JSON request against the gateway. A nil body sends no
// payload; a nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorFromResponse extracts the gateway's error message from a non-2xx
// response.
func (c *Client) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error string `json:"error"`
		Code  string `json:"code,omitempty"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
