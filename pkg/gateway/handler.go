package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/jsonrpc"
	"github.com/toolgate/toolgate/pkg/mcp"
	"github.com/toolgate/toolgate/pkg/pool"
)

// Handler serves the gateway's MCP surface over HTTP at a single endpoint.
type Handler struct {
	gateway *Gateway
}

// NewHandler creates the HTTP handler for a gateway.
func NewHandler(g *Gateway) *Handler {
	return &Handler{gateway: g}
}

// ServeHTTP handles MCP requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePost handles one JSON-RPC request per HTTP request.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	r.Body = http.MaxBytesReader(w, r.Body, mcp.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeResponse(w, jsonrpc.NewErrorResponse(nil, jsonrpc.ParseError, "Failed to read request body"))
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeResponse(w, jsonrpc.NewErrorResponse(nil, jsonrpc.ParseError, "Invalid JSON"))
		return
	}
	if req.JSONRPC != "2.0" {
		h.writeResponse(w, jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidRequest, "Invalid JSON-RPC version"))
		return
	}

	if sid := r.Header.Get("Mcp-Session-Id"); sid != "" {
		h.gateway.Sessions().Touch(sid)
	}

	if req.IsNotification() {
		// Notifications get no body back.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	h.writeResponse(w, h.handleMethod(w, r, &req))
}

// handleMethod routes the request to the appropriate gateway operation.
func (h *Handler) handleMethod(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request) jsonrpc.Response {
	cred := bearerToken(r)

	switch req.Method {
	case "initialize":
		return h.handleInitialize(w, req)
	case "tools/list":
		return h.handleToolsList(req, cred)
	case "tools/call":
		return h.handleToolsCall(r, req, cred)
	case "ping":
		return jsonrpc.NewSuccessResponse(req.ID, struct{}{})
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.MethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method))
	}
}

// handleInitialize opens a session and returns it in the Mcp-Session-Id
// header alongside the handshake result.
func (h *Handler) handleInitialize(w http.ResponseWriter, req *jsonrpc.Request) jsonrpc.Response {
	var params mcp.InitializeParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidParams, "Invalid initialize params")
		}
	}

	result, session := h.gateway.Initialize(params)
	w.Header().Set("Mcp-Session-Id", session.ID)
	return jsonrpc.NewSuccessResponse(req.ID, result)
}

func (h *Handler) handleToolsList(req *jsonrpc.Request, cred auth.Credential) jsonrpc.Response {
	tools, err := h.gateway.ListTools(cred)
	if err != nil {
		return h.errorResponse(req, err)
	}
	return jsonrpc.NewSuccessResponse(req.ID, mcp.ToolsListResult{Tools: tools})
}

func (h *Handler) handleToolsCall(r *http.Request, req *jsonrpc.Request, cred auth.Credential) jsonrpc.Response {
	var params mcp.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidParams, "Invalid tools/call params")
	}

	result, err := h.gateway.CallTool(r.Context(), cred, params.Name, params.Arguments)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.Unauthorized, err.Error())
		case errors.Is(err, ErrUnknownTool):
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidParams, err.Error())
		case errors.Is(err, pool.ErrBackendUnavailable):
			// The tool exists but its backend is down: report as tool
			// failure, not a protocol error.
			return jsonrpc.NewSuccessResponse(req.ID, &mcp.ToolCallResult{
				Content: []mcp.Content{mcp.NewTextContent(err.Error())},
				IsError: true,
			})
		default:
			// Upstream transport failure mid-call.
			return jsonrpc.NewSuccessResponse(req.ID, &mcp.ToolCallResult{
				Content: []mcp.Content{mcp.NewTextContent(err.Error())},
				IsError: true,
			})
		}
	}
	return jsonrpc.NewSuccessResponse(req.ID, result)
}

// errorResponse maps gateway errors to JSON-RPC error codes.
func (h *Handler) errorResponse(req *jsonrpc.Request, err error) jsonrpc.Response {
	if errors.Is(err, auth.ErrUnauthorized) {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.Unauthorized, err.Error())
	}
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InternalError, err.Error())
}

func (h *Handler) writeResponse(w http.ResponseWriter, resp jsonrpc.Response) {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// bearerToken extracts the credential from the Authorization header.
func bearerToken(r *http.Request) auth.Credential {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return auth.Credential(strings.TrimSpace(header[len(prefix):]))
}
