package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/mcp"
)

// Built-in management tool names.
const (
	toolStatus         = BuiltinPrefix + ".status"
	toolListBackends   = BuiltinPrefix + ".backends"
	toolAddBackend     = BuiltinPrefix + ".add_backend"
	toolRemoveBackend  = BuiltinPrefix + ".remove_backend"
	toolEnableBackend  = BuiltinPrefix + ".enable_backend"
	toolDisableBackend = BuiltinPrefix + ".disable_backend"
	toolRefreshBackend = BuiltinPrefix + ".refresh_backend"
	toolListKits       = BuiltinPrefix + ".kits"
	toolLoadKit        = BuiltinPrefix + ".load_kit"
	toolUnloadKit      = BuiltinPrefix + ".unload_kit"
	toolReload         = BuiltinPrefix + ".reload"
)

func isBuiltin(name string) bool {
	return strings.HasPrefix(name, BuiltinPrefix+".")
}

func schema(s string) json.RawMessage {
	return json.RawMessage(s)
}

var emptySchema = schema(`{"type":"object","properties":{}}`)

var nameSchema = schema(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "description": "Backend name"}
	},
	"required": ["name"]
}`)

var addBackendSchema = schema(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "description": "Backend name"},
		"url": {"type": "string", "description": "HTTP endpoint of the backend MCP server"},
		"command": {"type": "array", "items": {"type": "string"}, "description": "Command to spawn a stdio backend"},
		"prefix": {"type": "string", "description": "Namespace prefix; derived from the name when omitted"},
		"enabled": {"type": "boolean", "description": "Whether to connect immediately (default true)"},
		"notes": {"type": "string", "description": "Free-form operator notes"}
	},
	"required": ["name"]
}`)

var kitPathSchema = schema(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "Path to the kit YAML file"}
	},
	"required": ["path"]
}`)

var kitNameSchema = schema(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "description": "Kit name"}
	},
	"required": ["name"]
}`)

// builtinTools returns the management tool definitions the gateway itself
// publishes alongside backend tools.
func builtinTools() []mcp.Tool {
	return []mcp.Tool{
		{Name: toolStatus, Description: "Show gateway status: backends, connections, tool counts", InputSchema: emptySchema},
		{Name: toolListBackends, Description: "List registered backend definitions", InputSchema: emptySchema},
		{Name: toolAddBackend, Description: "Register a new backend server", InputSchema: addBackendSchema},
		{Name: toolRemoveBackend, Description: "Remove a backend server", InputSchema: nameSchema},
		{Name: toolEnableBackend, Description: "Enable a backend and connect to it", InputSchema: nameSchema},
		{Name: toolDisableBackend, Description: "Disable a backend without removing it", InputSchema: nameSchema},
		{Name: toolRefreshBackend, Description: "Re-fetch a connected backend's tool list", InputSchema: nameSchema},
		{Name: toolListKits, Description: "List loaded kits", InputSchema: emptySchema},
		{Name: toolLoadKit, Description: "Load a kit of backend definitions from a file", InputSchema: kitPathSchema},
		{Name: toolUnloadKit, Description: "Unload a kit, removing its unmodified backends", InputSchema: kitNameSchema},
		{Name: toolReload, Description: "Re-read the backend store and apply external edits", InputSchema: emptySchema},
	}
}

// callBuiltin dispatches a management tool call. Authorization failures
// propagate as errors; operational failures come back as isError results so
// MCP clients see them as tool output.
func (g *Gateway) callBuiltin(ctx context.Context, cred auth.Credential, name string, args map[string]any) (*mcp.ToolCallResult, error) {
	switch name {
	case toolStatus:
		report, err := g.Status(cred)
		return jsonResult(report, err)

	case toolListBackends:
		backends, err := g.ListBackends(cred)
		return jsonResult(backends, err)

	case toolAddBackend:
		var params struct {
			Name    string   `json:"name"`
			URL     string   `json:"url"`
			Command []string `json:"command"`
			Prefix  string   `json:"prefix"`
			Enabled *bool    `json:"enabled"`
			Notes   string   `json:"notes"`
		}
		if err := decodeArgs(args, &params); err != nil {
			return errorResult(err), nil
		}
		b := config.Backend{
			Name:    params.Name,
			Prefix:  params.Prefix,
			Enabled: params.Enabled == nil || *params.Enabled,
			Notes:   params.Notes,
			Spec:    config.Spec{URL: params.URL, Command: params.Command},
		}
		b.SetDefaults()
		if err := g.AddBackend(cred, b); err != nil {
			return builtinFailure(err)
		}
		return textResult(fmt.Sprintf("backend %q added", params.Name)), nil

	case toolRemoveBackend:
		name, err := nameArg(args)
		if err != nil {
			return errorResult(err), nil
		}
		if err := g.RemoveBackend(cred, name); err != nil {
			return builtinFailure(err)
		}
		return textResult(fmt.Sprintf("backend %q removed", name)), nil

	case toolEnableBackend:
		name, err := nameArg(args)
		if err != nil {
			return errorResult(err), nil
		}
		if err := g.EnableBackend(cred, name); err != nil {
			return builtinFailure(err)
		}
		return textResult(fmt.Sprintf("backend %q enabled", name)), nil

	case toolDisableBackend:
		name, err := nameArg(args)
		if err != nil {
			return errorResult(err), nil
		}
		if err := g.DisableBackend(cred, name); err != nil {
			return builtinFailure(err)
		}
		return textResult(fmt.Sprintf("backend %q disabled", name)), nil

	case toolRefreshBackend:
		name, err := nameArg(args)
		if err != nil {
			return errorResult(err), nil
		}
		if err := g.RefreshBackend(ctx, cred, name); err != nil {
			return builtinFailure(err)
		}
		return textResult(fmt.Sprintf("backend %q refreshed", name)), nil

	case toolListKits:
		kits, err := g.ListKits(cred)
		return jsonResult(kits, err)

	case toolLoadKit:
		var params struct {
			Path string `json:"path"`
		}
		if err := decodeArgs(args, &params); err != nil {
			return errorResult(err), nil
		}
		active, err := g.LoadKit(cred, params.Path)
		if err != nil {
			return builtinFailure(err)
		}
		return jsonResult(active, nil)

	case toolUnloadKit:
		name, err := nameArg(args)
		if err != nil {
			return errorResult(err), nil
		}
		result, err := g.UnloadKit(cred, name)
		if err != nil {
			return builtinFailure(err)
		}
		return jsonResult(result, nil)

	case toolReload:
		result, err := g.Reload(cred)
		if err != nil {
			return builtinFailure(err)
		}
		return jsonResult(result, nil)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

// builtinFailure separates authorization failures, which must surface as
// protocol errors, from operational ones, which become tool output.
func builtinFailure(err error) (*mcp.ToolCallResult, error) {
	if errors.Is(err, auth.ErrUnauthorized) {
		return nil, err
	}
	return errorResult(err), nil
}

func decodeArgs(args map[string]any, into any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func nameArg(args map[string]any) (string, error) {
	var params struct {
		Name string `json:"name"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if params.Name == "" {
		return "", errors.New("name is required")
	}
	return params.Name, nil
}

func textResult(text string) *mcp.ToolCallResult {
	return &mcp.ToolCallResult{Content: []mcp.Content{mcp.NewTextContent(text)}}
}

func errorResult(err error) *mcp.ToolCallResult {
	return &mcp.ToolCallResult{
		Content: []mcp.Content{mcp.NewTextContent(err.Error())},
		IsError: true,
	}
}

func jsonResult(v any, err error) (*mcp.ToolCallResult, error) {
	if err != nil {
		return builtinFailure(err)
	}
	data, merr := json.MarshalIndent(v, "", "  ")
	if merr != nil {
		return nil, fmt.Errorf("encoding result: %w", merr)
	}
	return textResult(string(data)), nil
}
