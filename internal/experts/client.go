// ABOUTME: MCP client for a single domain-expert endpoint.
// ABOUTME: Speaks JSON-RPC 2.0 over Streamable HTTP with session tracking.

package experts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// protocolVersion is the MCP protocol revision this client speaks.
const protocolVersion = "2025-03-26"

// maxErrorBodySize caps how much of an HTTP error body is read for messages.
const maxErrorBodySize = 4 << 10

// Status describes a client's connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// JSON-RPC 2.0 wire types.

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ToolInfo describes one tool advertised by an expert.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// Client talks to one domain-expert MCP endpoint.
type Client struct {
	name     string
	endpoint string
	httpc    *http.Client
	logger   *slog.Logger
	nextID   atomic.Int64

	mu            sync.Mutex
	status        Status
	sessionID     string
	serverVersion string
	capabilities  map[string]any
}

// NewClient creates a client for the given endpoint. timeout bounds each
// HTTP round trip; zero means no client-level timeout.
func NewClient(name, endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:     name,
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: timeout},
		status:   StatusDisconnected,
		logger:   logger.With("component", "mcp_client", "expert", name),
	}
}

// Name returns the catalog name of the expert.
func (c *Client) Name() string { return c.name }

// Endpoint returns the expert's URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// SessionID returns the session identifier assigned by the server, or ""
// when no session is active.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Capabilities returns the capability map the server advertised during the
// initialize handshake.
func (c *Client) Capabilities() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.capabilities))
	for k, v := range c.capabilities {
		out[k] = v
	}
	return out
}

// Connect performs the MCP initialize handshake and records the server's
// session and capabilities. On failure any partial session state is cleaned
// up and the error is returned to the caller.
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "relay-gateway",
			"version": "1.0.0",
		},
	}

	raw, header, err := c.roundTrip(ctx, "initialize", params, false)
	if err != nil {
		c.reset(StatusError)
		return fmt.Errorf("expert %s: initialize: %w", c.name, err)
	}

	var init initializeResult
	if err := json.Unmarshal(raw, &init); err != nil {
		c.reset(StatusError)
		return fmt.Errorf("expert %s: invalid initialize result: %w", c.name, err)
	}

	c.mu.Lock()
	c.sessionID = header.Get("Mcp-Session-Id")
	c.serverVersion = init.ProtocolVersion
	c.capabilities = init.Capabilities
	c.mu.Unlock()

	if _, _, err := c.roundTrip(ctx, "notifications/initialized", nil, true); err != nil {
		c.reset(StatusError)
		return fmt.Errorf("expert %s: initialized notification: %w", c.name, err)
	}

	c.setStatus(StatusConnected)
	c.logger.Info("expert connected",
		"endpoint", c.endpoint,
		"protocol_version", init.ProtocolVersion,
		"server", init.ServerInfo.Name,
	)
	return nil
}

// reset clears session state and sets the given status.
func (c *Client) reset(s Status) {
	c.mu.Lock()
	c.sessionID = ""
	c.serverVersion = ""
	c.capabilities = nil
	c.status = s
	c.mu.Unlock()
}

// Disconnect terminates the session with an HTTP DELETE. Termination is
// best-effort: failures are logged, and the client always ends up
// disconnected locally.
func (c *Client) Disconnect(ctx context.Context) {
	c.mu.Lock()
	session := c.sessionID
	c.mu.Unlock()

	if session != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint, nil)
		if err == nil {
			req.Header.Set("Mcp-Session-Id", session)
			resp, err := c.httpc.Do(req)
			if err != nil {
				c.logger.Warn("session termination failed", "error", err)
			} else {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}
	}

	c.reset(StatusDisconnected)
	c.logger.Info("expert disconnected", "endpoint", c.endpoint)
}

// ListTools fetches the expert's tool definitions.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, _, err := c.roundTrip(ctx, "tools/list", nil, false)
	if err != nil {
		return nil, fmt.Errorf("expert %s: tools/list: %w", c.name, err)
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("expert %s: invalid tools/list result: %w", c.name, err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool and returns its result normalized into the
// canonical map envelope.
func (c *Client) CallTool(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	argJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("expert %s: encoding arguments: %w", c.name, err)
	}

	params := callToolParams{Name: tool, Arguments: argJSON}
	raw, _, err := c.roundTrip(ctx, "tools/call", params, false)
	if err != nil {
		return nil, fmt.Errorf("expert %s: tools/call %s: %w", c.name, tool, err)
	}

	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("expert %s: invalid tools/call result: %w", c.name, err)
	}

	if result.IsError {
		return nil, fmt.Errorf("expert %s: tool %s failed: %s", c.name, tool, joinText(result.Content))
	}

	text := joinText(result.Content)
	if text == "" {
		return map[string]any{}, nil
	}

	// Tool output is JSON carried in a text content block. Anything that
	// does not parse is treated as a plain string result.
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return NormalizeResult(text), nil
	}
	return NormalizeResult(decoded), nil
}

// ReadResource fetches a resource by URI and returns the normalized result.
func (c *Client) ReadResource(ctx context.Context, uri string) (map[string]any, error) {
	params := map[string]any{"uri": uri}
	raw, _, err := c.roundTrip(ctx, "resources/read", params, false)
	if err != nil {
		return nil, fmt.Errorf("expert %s: resources/read %s: %w", c.name, uri, err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("expert %s: invalid resources/read result: %w", c.name, err)
	}
	return NormalizeResult(decoded), nil
}

// joinText concatenates the text of all text content blocks.
func joinText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// roundTrip sends one JSON-RPC message. Notifications carry no id and
// expect an empty 202 response; requests expect a JSON-RPC response body.
// The response header is returned so callers can capture session metadata.
func (c *Client) roundTrip(ctx context.Context, method string, params any, notification bool) (json.RawMessage, http.Header, error) {
	req := rpcRequest{JSONRPC: "2.0", Method: method}

	if !notification {
		id, err := json.Marshal(c.nextID.Add(1))
		if err != nil {
			return nil, nil, fmt.Errorf("encoding request id: %w", err)
		}
		req.ID = id
	}

	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding params: %w", err)
		}
		req.Params = p
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	c.mu.Lock()
	if c.sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", c.sessionID)
	}
	if c.serverVersion != "" && method != "initialize" {
		httpReq.Header.Set("Mcp-Protocol-Version", c.serverVersion)
	}
	c.mu.Unlock()

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, resp.Header, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if notification {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.Header, nil
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, resp.Header, fmt.Errorf("decoding response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, resp.Header, rpcResp.Error
	}
	return rpcResp.Result, resp.Header, nil
}
