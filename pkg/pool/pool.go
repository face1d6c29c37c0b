// Package pool maintains live connections to backend servers. Each backend
// moves through a small state machine (disconnected, connecting, connected,
// disabled); failed dials retry with capped exponential backoff, and
// convergence toward the registered definitions is coalesced per backend.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/toolgate/toolgate/pkg/catalog"
	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/logging"
	"github.com/toolgate/toolgate/pkg/mcp"
)

// ErrBackendUnavailable indicates the backend exists but has no live
// connection to serve the request.
var ErrBackendUnavailable = errors.New("backend unavailable")

// State is a backend's position in the connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisabled     State = "disabled"
)

// Default retry schedule for failed dials.
const (
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffMax  = 30 * time.Second
	DefaultDialTimeout = 30 * time.Second
)

// Status is a point-in-time view of one backend's connection.
type Status struct {
	Backend    string
	Prefix     string
	State      State
	Tools      int
	Failures   int
	LastError  string
	ServerInfo mcp.ServerInfo
}

// Options tunes pool behavior. Zero values take the defaults above.
type Options struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
	DialTimeout time.Duration
	Clock       Clock
	Logger      *slog.Logger
}

type member struct {
	def        config.Backend
	state      State
	conn       mcp.Conn
	tools      []mcp.Tool
	serverInfo mcp.ServerInfo
	lastErr    error
	failures   int
	gen        int
	dialing    bool
	wake       chan struct{}
}

// Pool reconciles live connections against the definitions handed to
// Converge. It is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	dialer  mcp.Dialer
	clock   Clock
	logger  *slog.Logger
	members map[string]*member
	order   []string

	backoffBase time.Duration
	backoffMax  time.Duration
	dialTimeout time.Duration

	onUpdate func()
	done     chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New creates a pool that dials through the given dialer.
func New(dialer mcp.Dialer, opts Options) *Pool {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = DefaultBackoffMax
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}
	return &Pool{
		dialer:      dialer,
		clock:       opts.Clock,
		logger:      opts.Logger,
		members:     make(map[string]*member),
		backoffBase: opts.BackoffBase,
		backoffMax:  opts.BackoffMax,
		dialTimeout: opts.DialTimeout,
		done:        make(chan struct{}),
	}
}

// OnUpdate registers a callback fired whenever a backend's state or tool
// list changes. The callback runs on the pool's goroutines and must not call
// back into the pool's mutating methods.
func (p *Pool) OnUpdate(fn func()) {
	p.mu.Lock()
	p.onUpdate = fn
	p.mu.Unlock()
}

// Converge reconciles the pool toward the given definitions: new backends
// are added and dialed, removed ones torn down, spec changes force a redial,
// and the enabled flag moves backends in and out of the disabled state.
// Reconciliation is synchronous; dialing happens in the background, one
// in-flight attempt per backend.
func (p *Pool) Converge(defs []config.Backend) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	desired := make(map[string]config.Backend, len(defs))
	order := make([]string, 0, len(defs))
	for _, d := range defs {
		desired[d.Name] = d
		order = append(order, d.Name)
	}

	var stale []mcp.Conn

	// Tear down backends no longer registered.
	for name, m := range p.members {
		if _, keep := desired[name]; !keep {
			if m.conn != nil {
				stale = append(stale, m.conn)
			}
			m.gen++
			delete(p.members, name)
			p.logger.Info("backend dropped from pool", "backend", name)
		}
	}

	var toDial []string
	for _, def := range defs {
		m, exists := p.members[def.Name]
		if !exists {
			m = &member{def: def.Clone(), state: StateDisconnected}
			if !def.Enabled {
				m.state = StateDisabled
			}
			p.members[def.Name] = m
			if def.Enabled {
				toDial = append(toDial, def.Name)
			}
			continue
		}

		specChanged := !config.SpecEqual(m.def.Spec, def.Spec)
		m.def = def.Clone()

		switch {
		case !def.Enabled:
			if m.state != StateDisabled {
				if m.conn != nil {
					stale = append(stale, m.conn)
					m.conn = nil
				}
				m.gen++
				m.state = StateDisabled
				m.tools = nil
				m.failures = 0
				m.lastErr = nil
				p.logger.Info("backend disabled", "backend", def.Name)
			}
		case specChanged:
			if m.conn != nil {
				stale = append(stale, m.conn)
				m.conn = nil
			}
			m.gen++
			m.state = StateDisconnected
			m.tools = nil
			m.failures = 0
			m.lastErr = nil
			toDial = append(toDial, def.Name)
			p.logger.Info("backend spec changed, redialing", "backend", def.Name)
		case m.state == StateDisabled:
			// Re-enabled with the same spec.
			m.state = StateDisconnected
			toDial = append(toDial, def.Name)
		case m.state == StateDisconnected:
			// Convergence asked for this backend again: forget the failure
			// streak and retry now instead of sleeping out the backoff.
			m.failures = 0
			m.lastErr = nil
			if m.wake != nil {
				close(m.wake)
				m.wake = nil
			}
			toDial = append(toDial, def.Name)
		}
	}

	p.order = order
	for _, name := range toDial {
		p.ensureDialingLocked(name)
	}
	p.mu.Unlock()

	for _, conn := range stale {
		conn.Close()
	}
	if len(stale) > 0 || len(toDial) > 0 {
		p.notifyUpdate()
	}
}

// ensureDialingLocked starts a dial loop for the backend unless one is
// already in flight. Caller holds p.mu.
func (p *Pool) ensureDialingLocked(name string) {
	m, ok := p.members[name]
	if !ok || m.dialing || p.closed {
		return
	}
	m.dialing = true
	p.wg.Add(1)
	go p.dialLoop(name)
}

// dialLoop repeatedly attempts to connect a backend until it succeeds, the
// backend is removed or disabled, or the pool closes. Definition changes
// during an attempt discard the stale connection and retry with the new spec.
func (p *Pool) dialLoop(name string) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		m, ok := p.members[name]
		if !ok || m.state == StateDisabled || p.closed {
			if ok {
				m.dialing = false
			}
			p.mu.Unlock()
			return
		}
		gen := m.gen
		def := m.def.Clone()
		m.state = StateConnecting
		p.mu.Unlock()
		p.notifyUpdate()

		conn, info, tools, err := p.connect(def)

		p.mu.Lock()
		m, ok = p.members[name]
		if !ok || p.closed {
			p.mu.Unlock()
			if conn != nil {
				conn.Close()
			}
			return
		}
		if m.gen != gen {
			// Definition changed underneath us; retry with the new spec.
			p.mu.Unlock()
			if conn != nil {
				conn.Close()
			}
			continue
		}

		if err != nil {
			m.failures++
			m.lastErr = err
			m.state = StateDisconnected
			delay := backoffFor(p.backoffBase, p.backoffMax, m.failures)
			failures := m.failures
			m.wake = make(chan struct{})
			wake := m.wake
			p.mu.Unlock()

			p.logger.Warn("backend dial failed",
				"backend", name, "failures", failures, "retry_in", delay,
				"error", logging.RedactString(err.Error()))
			p.notifyUpdate()

			select {
			case <-p.clock.After(delay):
				continue
			case <-wake:
				// Convergence cut the backoff short.
				continue
			case <-p.done:
				p.mu.Lock()
				if m, ok := p.members[name]; ok {
					m.dialing = false
				}
				p.mu.Unlock()
				return
			}
		}

		m.conn = conn
		m.serverInfo = info
		m.tools = tools
		m.state = StateConnected
		m.failures = 0
		m.lastErr = nil
		m.dialing = false
		p.mu.Unlock()

		p.logger.Info("backend connected", "backend", name, "tools", len(tools))
		p.notifyUpdate()
		return
	}
}

// connect dials, initializes, and fetches the tool list in one attempt.
func (p *Pool) connect(def config.Backend) (mcp.Conn, mcp.ServerInfo, []mcp.Tool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.dialTimeout)
	defer cancel()

	conn, err := p.dialer.Dial(ctx, def)
	if err != nil {
		return nil, mcp.ServerInfo{}, nil, err
	}
	info, err := conn.Initialize(ctx)
	if err != nil {
		conn.Close()
		return nil, mcp.ServerInfo{}, nil, err
	}
	tools, err := conn.ListTools(ctx)
	if err != nil {
		conn.Close()
		return nil, mcp.ServerInfo{}, nil, err
	}
	return conn, info, tools, nil
}

// backoffFor computes the capped exponential delay for the nth consecutive
// failure (1-based).
func backoffFor(base, max time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Call invokes a tool on a connected backend using the backend's own tool
// name. A transport failure marks the backend disconnected and schedules a
// redial.
func (p *Pool) Call(ctx context.Context, backendName, toolName string, arguments map[string]any) (*mcp.ToolCallResult, error) {
	p.mu.Lock()
	m, ok := p.members[backendName]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is not in the pool", ErrBackendUnavailable, backendName)
	}
	if m.state != StateConnected || m.conn == nil {
		state := m.state
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is %s", ErrBackendUnavailable, backendName, state)
	}
	conn := m.conn
	gen := m.gen
	p.mu.Unlock()

	result, err := conn.CallTool(ctx, toolName, arguments)
	if err != nil {
		p.handleCallFailure(backendName, gen, conn, err)
		return nil, fmt.Errorf("%w: backend %q: %w", ErrBackendUnavailable, backendName, err)
	}
	return result, nil
}

// handleCallFailure tears down a connection that failed mid-call and starts
// the redial cycle, unless the member has already moved on.
func (p *Pool) handleCallFailure(name string, gen int, conn mcp.Conn, err error) {
	p.mu.Lock()
	m, ok := p.members[name]
	if !ok || m.gen != gen || m.conn != conn {
		p.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateDisconnected
	m.tools = nil
	m.failures = 1
	m.lastErr = err
	p.ensureDialingLocked(name)
	p.mu.Unlock()

	conn.Close()
	p.logger.Warn("backend call failed, reconnecting",
		"backend", name, "error", logging.RedactString(err.Error()))
	p.notifyUpdate()
}

// Refresh re-fetches the tool list of a connected backend.
func (p *Pool) Refresh(ctx context.Context, backendName string) error {
	p.mu.Lock()
	m, ok := p.members[backendName]
	if !ok || m.state != StateConnected || m.conn == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBackendUnavailable, backendName)
	}
	conn := m.conn
	gen := m.gen
	p.mu.Unlock()

	tools, err := conn.ListTools(ctx)
	if err != nil {
		p.handleCallFailure(backendName, gen, conn, err)
		return fmt.Errorf("%w: backend %q: %w", ErrBackendUnavailable, backendName, err)
	}

	p.mu.Lock()
	if m, ok := p.members[backendName]; ok && m.gen == gen {
		m.tools = tools
	}
	p.mu.Unlock()
	p.notifyUpdate()
	return nil
}

// Sources returns each connected backend's contribution to the catalog, in
// registration order. Disabled and disconnected backends contribute nothing.
func (p *Pool) Sources() []catalog.Source {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]catalog.Source, 0, len(p.order))
	for _, name := range p.order {
		m, ok := p.members[name]
		if !ok || m.state != StateConnected {
			continue
		}
		tools := make([]mcp.Tool, len(m.tools))
		copy(tools, m.tools)
		out = append(out, catalog.Source{
			Backend: name,
			Prefix:  m.def.Prefix,
			Tools:   tools,
		})
	}
	return out
}

// Statuses returns the connection status of every backend in registration
// order, disabled backends included.
func (p *Pool) Statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Status, 0, len(p.order))
	for _, name := range p.order {
		m, ok := p.members[name]
		if !ok {
			continue
		}
		s := Status{
			Backend:    name,
			Prefix:     m.def.Prefix,
			State:      m.state,
			Tools:      len(m.tools),
			Failures:   m.failures,
			ServerInfo: m.serverInfo,
		}
		if m.lastErr != nil {
			s.LastError = m.lastErr.Error()
		}
		out = append(out, s)
	}
	return out
}

// Close tears down every connection and stops all retry loops.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	conns := make([]mcp.Conn, 0, len(p.members))
	for _, m := range p.members {
		if m.conn != nil {
			conns = append(conns, m.conn)
			m.conn = nil
		}
		m.state = StateDisconnected
	}
	p.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	p.wg.Wait()
}

func (p *Pool) notifyUpdate() {
	p.mu.Lock()
	fn := p.onUpdate
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}
