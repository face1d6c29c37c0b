// Package jsonrpc provides the JSON-RPC 2.0 framing shared by the client
// surface and the backend transports.
package jsonrpc

import "encoding/json"

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes, plus the server-defined code used by the
// gateway for authorization failures.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
	Unauthorized   = -32001
)

// NewRequest creates a JSON-RPC request with the given numeric id. Params
// must already be encoded; pass nil for parameterless methods.
func NewRequest(id int64, method string, params json.RawMessage) Request {
	idBytes, _ := json.Marshal(id)
	rawID := json.RawMessage(idBytes)

	return Request{
		JSONRPC: "2.0",
		ID:      &rawID,
		Method:  method,
		Params:  params,
	}
}

// NewNotification creates a JSON-RPC notification (no id, no response expected).
func NewNotification(method string, params json.RawMessage) Request {
	return Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}
}

// NewErrorResponse creates a JSON-RPC error response.
func NewErrorResponse(id *json.RawMessage, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// NewSuccessResponse creates a JSON-RPC success response.
func NewSuccessResponse(id *json.RawMessage, result any) Response {
	var resultBytes json.RawMessage
	if result != nil {
		resultBytes, _ = json.Marshal(result)
	}
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  resultBytes,
	}
}
