// Package mcp implements the client side of the Model Context Protocol for
// talking to backend servers over HTTP and stdio transports.
package mcp

import (
	"context"
	"encoding/json"
	"time"
)

// ProtocolVersion is the MCP protocol version supported by this implementation.
const ProtocolVersion = "2024-11-05"

// Default timeouts for MCP transport connections.
const (
	// DefaultRequestTimeout is the timeout for individual MCP JSON-RPC requests.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultPingTimeout is the timeout for health check pings.
	DefaultPingTimeout = 5 * time.Second
)

// MaxRequestBodySize is the maximum allowed size for incoming JSON-RPC request bodies (1MB).
const MaxRequestBodySize = 1 * 1024 * 1024

// Conn is an established session with a backend MCP server. Implementations
// are safe for concurrent use.
type Conn interface {
	// Initialize performs the MCP handshake and must be called before any
	// other request.
	Initialize(ctx context.Context) (ServerInfo, error)
	// ListTools fetches the server's current tool list.
	ListTools(ctx context.Context) ([]Tool, error)
	// CallTool invokes a tool by its name as the backend knows it.
	CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error)
	// Close tears down the session and releases any resources.
	Close() error
}

// Pingable is an optional interface for Conns that support cheap liveness
// checks. Callers use type assertion to detect support.
type Pingable interface {
	Ping(ctx context.Context) error
}

// ServerInfo contains information about an MCP server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientInfo contains information about the MCP client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities describes what the server/client can do.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability indicates tools support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams contains parameters for the initialize request.
type InitializeParams struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ClientInfo      ClientInfo   `json:"clientInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// InitializeResult is the response to initialize.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// Tool represents an MCP tool definition. InputSchema is kept as raw JSON so
// the full schema passes through the gateway without loss.
type Tool struct {
	Name        string          `json:"name"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolsListResult is the response to tools/list.
type ToolsListResult struct {
	Tools      []Tool  `json:"tools"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// ToolCallParams contains parameters for tools/call.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallResult is the response to tools/call.
type ToolCallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in a tool response.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewTextContent creates a text content item.
func NewTextContent(text string) Content {
	return Content{Type: "text", Text: text}
}
