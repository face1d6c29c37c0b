package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/toolgate/toolgate/pkg/jsonrpc"
)

// HTTPConn talks to a backend MCP server over Streamable HTTP. It handles
// the Mcp-Session-Id header for stateful servers and accepts both plain JSON
// and SSE-framed responses.
type HTTPConn struct {
	name       string
	endpoint   string
	httpClient *http.Client
	requestID  atomic.Int64

	mu        sync.RWMutex
	sessionID string
}

// NewHTTPConn creates an HTTP connection to the given endpoint. The name is
// used only for error context.
func NewHTTPConn(name, endpoint string) *HTTPConn {
	return &HTTPConn{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: DefaultRequestTimeout,
		},
	}
}

// Initialize performs the MCP initialize handshake.
func (c *HTTPConn) Initialize(ctx context.Context) (ServerInfo, error) {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo: ClientInfo{
			Name:    "toolgate",
			Version: "1.0.0",
		},
		Capabilities: Capabilities{
			Tools: &ToolsCapability{},
		},
	}

	var result InitializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return ServerInfo{}, fmt.Errorf("initialize: %w", err)
	}

	// Initialized notification is non-fatal; some servers do not require it.
	_ = c.notify(ctx, "notifications/initialized", nil)

	return result.ServerInfo, nil
}

// ListTools fetches the current tool list from the backend.
func (c *HTTPConn) ListTools(ctx context.Context) ([]Tool, error) {
	var result ToolsListResult
	if err := c.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool on the backend.
func (c *HTTPConn) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	params := ToolCallParams{
		Name:      name,
		Arguments: arguments,
	}

	var result ToolCallResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return nil, fmt.Errorf("tools/call: %w", err)
	}
	return &result, nil
}

// Ping checks whether the backend endpoint is reachable.
func (c *HTTPConn) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Close releases the session. HTTP connections hold no persistent resources
// beyond idle keep-alives.
func (c *HTTPConn) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// call performs a JSON-RPC call and decodes the result.
func (c *HTTPConn) call(ctx context.Context, method string, params any, result any) error {
	var paramsBytes json.RawMessage
	if params != nil {
		var err error
		paramsBytes, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling params: %w", err)
		}
	}

	req := jsonrpc.NewRequest(c.requestID.Add(1), method, paramsBytes)

	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshaling result: %w", err)
		}
	}
	return nil
}

// notify sends a JSON-RPC notification (no response expected).
func (c *HTTPConn) notify(ctx context.Context, method string, params any) error {
	var paramsBytes json.RawMessage
	if params != nil {
		var err error
		paramsBytes, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling params: %w", err)
		}
	}

	_, err := c.send(ctx, jsonrpc.NewNotification(method, paramsBytes))
	return err
}

// send posts a request to the backend and decodes the response envelope.
func (c *HTTPConn) send(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	// Include session ID if we have one (for stateful MCP servers)
	c.mu.RLock()
	if c.sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", c.sessionID)
	}
	c.mu.RUnlock()

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, string(body))
	}

	if sid := httpResp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}

	// Notifications may get an empty 202 back.
	if req.IsNotification() {
		return &jsonrpc.Response{JSONRPC: "2.0"}, nil
	}

	contentType := httpResp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/event-stream") {
		return parseSSEResponse(httpResp.Body)
	}

	var resp jsonrpc.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

// parseSSEResponse parses a Server-Sent Events formatted response body.
func parseSSEResponse(body io.Reader) (*jsonrpc.Response, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading SSE response: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "data: ") {
			jsonData := strings.TrimPrefix(line, "data: ")
			var resp jsonrpc.Response
			if err := json.Unmarshal([]byte(jsonData), &resp); err != nil {
				return nil, fmt.Errorf("decoding SSE JSON: %w", err)
			}
			return &resp, nil
		}
	}
	return nil, fmt.Errorf("no data field found in SSE response")
}

var _ Conn = (*HTTPConn)(nil)
var _ Pingable = (*HTTPConn)(nil)
