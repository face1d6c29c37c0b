// Package gateway is the aggregation core: it exposes one MCP surface whose
// tool catalog is merged from every connected backend, plus built-in
// management tools for operating the gateway itself.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/catalog"
	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/kit"
	"github.com/toolgate/toolgate/pkg/logging"
	"github.com/toolgate/toolgate/pkg/mcp"
	"github.com/toolgate/toolgate/pkg/pool"
	"github.com/toolgate/toolgate/pkg/registry"
	"github.com/toolgate/toolgate/pkg/reload"
)

// ErrUnknownTool indicates no published or built-in tool carries the name.
var ErrUnknownTool = errors.New("unknown tool")

// BuiltinPrefix namespaces the gateway's own management tools. Backends may
// not register under it; built-ins always win at dispatch.
const BuiltinPrefix = "gate"

// Gateway routes tool calls to backends and serves the management surface.
type Gateway struct {
	name    string
	version string

	reg         *registry.Registry
	pool        *pool.Pool
	kits        *kit.Manager
	verifier    auth.Verifier
	reloader    *reload.Coordinator
	sessions    *SessionManager
	logger      *slog.Logger
	stopCleanup context.CancelFunc

	// rebuildMu orders rebuilds: reading the pool's sources and storing
	// the merged snapshot happen as one step, so a rebuild racing with a
	// management operation cannot publish a stale catalog over a newer one.
	rebuildMu sync.Mutex
	snapshot  atomic.Pointer[catalog.Snapshot]
}

// Options configures a gateway.
type Options struct {
	Name     string
	Version  string
	Verifier auth.Verifier
	Logger   *slog.Logger
}

// New creates a gateway over an already-loaded registry. The pool converges
// toward the registry's definitions immediately.
func New(reg *registry.Registry, p *pool.Pool, kits *kit.Manager, opts Options) *Gateway {
	if opts.Name == "" {
		opts.Name = "toolgate"
	}
	if opts.Version == "" {
		opts.Version = "0.0.0"
	}
	if opts.Verifier == nil {
		opts.Verifier = auth.Open{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}

	g := &Gateway{
		name:     opts.Name,
		version:  opts.Version,
		reg:      reg,
		pool:     p,
		kits:     kits,
		verifier: opts.Verifier,
		sessions: NewSessionManager(),
		logger:   opts.Logger,
	}
	g.snapshot.Store(catalog.Empty())

	p.OnUpdate(g.rebuild)
	g.Apply(reg.List())
	return g
}

// SetReloadCoordinator wires the reload coordinator in after construction;
// the coordinator needs the gateway as its applier, so it is built second.
func (g *Gateway) SetReloadCoordinator(c *reload.Coordinator) {
	g.reloader = c
}

// Apply converges the pool toward the given definitions and rebuilds the
// catalog. Implements reload.Applier.
func (g *Gateway) Apply(defs []config.Backend) {
	g.pool.Converge(defs)
	g.rebuild()
}

// rebuild merges the pool's current sources into a fresh catalog snapshot.
func (g *Gateway) rebuild() {
	g.rebuildMu.Lock()
	snap := catalog.Merge(g.pool.Sources())
	g.snapshot.Store(snap)
	g.rebuildMu.Unlock()
	for _, c := range snap.Collisions() {
		g.logger.Warn("tool name collision",
			"name", c.Name, "winner", c.Winner, "hidden", c.Loser)
	}
}

// Snapshot returns the current catalog snapshot.
func (g *Gateway) Snapshot() *catalog.Snapshot {
	return g.snapshot.Load()
}

// Initialize handles a client handshake and opens a session.
func (g *Gateway) Initialize(params mcp.InitializeParams) (*mcp.InitializeResult, *Session) {
	session := g.sessions.Create(params.ClientInfo)
	return &mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		ServerInfo:      mcp.ServerInfo{Name: g.name, Version: g.version},
		Capabilities: mcp.Capabilities{
			Tools: &mcp.ToolsCapability{ListChanged: true},
		},
	}, session
}

// Sessions returns the session manager.
func (g *Gateway) Sessions() *SessionManager {
	return g.sessions
}

// Session expiry defaults for StartCleanup.
const (
	DefaultCleanupInterval = 5 * time.Minute
	DefaultSessionMaxAge   = 30 * time.Minute
)

// StartCleanup begins periodic expiry of idle sessions. Zero durations take
// the defaults. The loop stops when ctx is cancelled or the gateway closes.
func (g *Gateway) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	ctx, g.stopCleanup = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := g.sessions.Cleanup(maxAge); removed > 0 {
					g.logger.Info("expired idle sessions", "removed", removed)
				}
			}
		}
	}()
}

// ListTools returns every published tool plus the built-in management tools,
// sorted by name with built-ins last.
func (g *Gateway) ListTools(cred auth.Credential) ([]mcp.Tool, error) {
	if err := g.verifier.Check(cred, auth.OpRead); err != nil {
		return nil, err
	}
	tools := g.snapshot.Load().Tools()
	return append(tools, builtinTools()...), nil
}

// CallTool resolves a public tool name and routes the call. Built-in names
// dispatch to the management surface; everything else goes to the owning
// backend under the backend's own tool name.
func (g *Gateway) CallTool(ctx context.Context, cred auth.Credential, name string, args map[string]any) (*mcp.ToolCallResult, error) {
	if isBuiltin(name) {
		return g.callBuiltin(ctx, cred, name, args)
	}

	if err := g.verifier.Check(cred, auth.OpRead); err != nil {
		return nil, err
	}

	entry, ok := g.snapshot.Load().Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	g.logger.Debug("routing tool call", "tool", name, "backend", entry.Backend)
	return g.pool.Call(ctx, entry.Backend, entry.ToolName, args)
}

// --- management operations ---

// AddBackend registers a definition and starts connecting to it.
func (g *Gateway) AddBackend(cred auth.Credential, b config.Backend) error {
	if err := g.verifier.Check(cred, auth.OpWrite); err != nil {
		return err
	}
	if b.Prefix == BuiltinPrefix {
		return fmt.Errorf("prefix %q is reserved", BuiltinPrefix)
	}
	if err := g.reg.Add(b); err != nil {
		return err
	}
	g.Apply(g.reg.List())
	return nil
}

// RemoveBackend deletes a definition and tears down its connection.
func (g *Gateway) RemoveBackend(cred auth.Credential, name string) error {
	if err := g.verifier.Check(cred, auth.OpWrite); err != nil {
		return err
	}
	if err := g.reg.Remove(name); err != nil {
		return err
	}
	g.Apply(g.reg.List())
	return nil
}

// EnableBackend marks a definition enabled and dials it.
func (g *Gateway) EnableBackend(cred auth.Credential, name string) error {
	if err := g.verifier.Check(cred, auth.OpWrite); err != nil {
		return err
	}
	if err := g.reg.Enable(name); err != nil {
		return err
	}
	g.Apply(g.reg.List())
	return nil
}

// DisableBackend marks a definition disabled and closes its connection. The
// definition stays registered.
func (g *Gateway) DisableBackend(cred auth.Credential, name string) error {
	if err := g.verifier.Check(cred, auth.OpWrite); err != nil {
		return err
	}
	if err := g.reg.Disable(name); err != nil {
		return err
	}
	g.Apply(g.reg.List())
	return nil
}

// RefreshBackend re-fetches a connected backend's tool list. The catalog is
// republished through the pool's update notification.
func (g *Gateway) RefreshBackend(ctx context.Context, cred auth.Credential, name string) error {
	if err := g.verifier.Check(cred, auth.OpWrite); err != nil {
		return err
	}
	return g.pool.Refresh(ctx, name)
}

// ListBackends returns all definitions in registration order. Env values are
// redacted: the management surface must not leak stored secrets.
func (g *Gateway) ListBackends(cred auth.Credential) ([]config.Backend, error) {
	if err := g.verifier.Check(cred, auth.OpRead); err != nil {
		return nil, err
	}
	backends := g.reg.List()
	for i := range backends {
		backends[i].Spec.Env = logging.RedactEnv(backends[i].Spec.Env)
	}
	return backends, nil
}

// GetBackend returns one definition, env values redacted.
func (g *Gateway) GetBackend(cred auth.Credential, name string) (config.Backend, error) {
	if err := g.verifier.Check(cred, auth.OpRead); err != nil {
		return config.Backend{}, err
	}
	b, err := g.reg.Get(name)
	if err != nil {
		return config.Backend{}, err
	}
	b.Spec.Env = logging.RedactEnv(b.Spec.Env)
	return b, nil
}

// LoadKit activates a kit from a file on disk.
func (g *Gateway) LoadKit(cred auth.Credential, path string) (*kit.Active, error) {
	if err := g.verifier.Check(cred, auth.OpWrite); err != nil {
		return nil, err
	}
	active, err := g.kits.LoadFile(path)
	if err != nil {
		return nil, err
	}
	g.Apply(g.reg.List())
	return active, nil
}

// UnloadKit deactivates a kit.
func (g *Gateway) UnloadKit(cred auth.Credential, name string) (*kit.UnloadResult, error) {
	if err := g.verifier.Check(cred, auth.OpWrite); err != nil {
		return nil, err
	}
	result, err := g.kits.Unload(name)
	if err != nil {
		return nil, err
	}
	g.Apply(g.reg.List())
	return result, nil
}

// ListKits returns the active kits.
func (g *Gateway) ListKits(cred auth.Credential) ([]kit.Active, error) {
	if err := g.verifier.Check(cred, auth.OpRead); err != nil {
		return nil, err
	}
	return g.kits.List(), nil
}

// Reload runs one reload cycle against the store.
func (g *Gateway) Reload(cred auth.Credential) (*reload.Result, error) {
	if err := g.verifier.Check(cred, auth.OpWrite); err != nil {
		return nil, err
	}
	if g.reloader == nil {
		return nil, errors.New("reload is not configured")
	}
	return g.reloader.Reload()
}

// StatusReport is the gateway-wide health view.
type StatusReport struct {
	Name       string              `json:"name"`
	Version    string              `json:"version"`
	Backends   []pool.Status       `json:"backends"`
	Tools      int                 `json:"tools"`
	Collisions []catalog.Collision `json:"collisions,omitempty"`
	Kits       []kit.Active        `json:"kits,omitempty"`
	Sessions   int                 `json:"sessions"`
	LastReload *reload.Result      `json:"lastReload,omitempty"`
}

// Status returns the gateway-wide health view.
func (g *Gateway) Status(cred auth.Credential) (*StatusReport, error) {
	if err := g.verifier.Check(cred, auth.OpRead); err != nil {
		return nil, err
	}

	backends := g.pool.Statuses()
	for i := range backends {
		backends[i].LastError = logging.RedactString(backends[i].LastError)
	}

	snap := g.snapshot.Load()
	report := &StatusReport{
		Name:       g.name,
		Version:    g.version,
		Backends:   backends,
		Tools:      snap.Len(),
		Collisions: snap.Collisions(),
		Kits:       g.kits.List(),
		Sessions:   g.sessions.Count(),
	}
	if g.reloader != nil {
		report.LastReload = g.reloader.LastResult()
	}
	return report, nil
}

// Close shuts the gateway down, closing every backend connection.
func (g *Gateway) Close() {
	if g.stopCleanup != nil {
		g.stopCleanup()
	}
	g.pool.Close()
}
