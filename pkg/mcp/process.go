package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/toolgate/toolgate/pkg/jsonrpc"
	"github.com/toolgate/toolgate/pkg/logging"
)

const processKillGracePeriod = 5 * time.Second

// ProcessConn talks to a backend MCP server over the stdin/stdout of a child
// process, one JSON-RPC message per line.
type ProcessConn struct {
	name      string
	command   []string
	workDir   string
	env       []string
	logger    *slog.Logger
	requestID atomic.Int64

	// Process state
	procMu  sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.Reader
	started bool
	cancel  context.CancelFunc

	// Response routing by request id
	responses   map[int64]chan *jsonrpc.Response
	responsesMu sync.Mutex
}

// NewProcessConn creates a process-backed connection. The command runs in the
// given working directory; env entries are merged over the current process
// environment.
func NewProcessConn(name string, command []string, workDir string, env map[string]string) *ProcessConn {
	envList := os.Environ()
	for k, v := range env {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}

	return &ProcessConn{
		name:      name,
		command:   command,
		workDir:   workDir,
		env:       envList,
		logger:    logging.NewDiscardLogger(),
		responses: make(map[int64]chan *jsonrpc.Response),
	}
}

// SetLogger sets the logger used for process output and request tracing.
func (c *ProcessConn) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// start launches the process and attaches to its pipes. Idempotent.
//
// The child runs under a connection-lifetime context cancelled in Close, not
// under the caller's context: dial timeouts bound the handshake RPCs only and
// must not kill the process once it is up.
func (c *ProcessConn) start(ctx context.Context) error {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	if c.started {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(c.command) == 0 {
		return fmt.Errorf("no command specified")
	}

	procCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.cmd = exec.CommandContext(procCtx, c.command[0], c.command[1:]...)
	c.cmd.Dir = c.workDir
	c.cmd.Env = c.env

	stdin, err := c.cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	c.stdin = stdin

	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		cancel()
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	c.stdout = stdout

	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		c.cmd.Stderr = nil // fall back to discard on pipe error
	}

	if err := c.cmd.Start(); err != nil {
		stdin.Close()
		cancel()
		return fmt.Errorf("starting process: %w", err)
	}
	c.started = true

	go c.readResponses(procCtx)
	if stderr != nil {
		go c.readStderr(procCtx, stderr)
	}
	return nil
}

// readResponses reads JSON-RPC responses from stdout and routes them to
// waiting callers by id.
func (c *ProcessConn) readResponses(ctx context.Context) {
	scanner := bufio.NewScanner(c.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp jsonrpc.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Info("server output", "backend", c.name, "msg", string(line))
			continue
		}

		if resp.ID != nil {
			var id int64
			if err := json.Unmarshal(*resp.ID, &id); err == nil {
				c.responsesMu.Lock()
				if ch, ok := c.responses[id]; ok {
					ch <- &resp
					delete(c.responses, id)
				}
				c.responsesMu.Unlock()
			}
		}
	}
}

// readStderr logs lines from the process stderr.
func (c *ProcessConn) readStderr(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.logger.Warn("server stderr", "backend", c.name, "output", scanner.Text())
	}
}

// Initialize starts the process if needed and performs the MCP handshake.
func (c *ProcessConn) Initialize(ctx context.Context) (ServerInfo, error) {
	if err := c.start(ctx); err != nil {
		return ServerInfo{}, err
	}

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

	_ = c.notify("notifications/initialized", nil)

	return result.ServerInfo, nil
}

// ListTools fetches the current tool list from the backend.
func (c *ProcessConn) ListTools(ctx context.Context) ([]Tool, error) {
	var result ToolsListResult
	if err := c.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool on the backend.
func (c *ProcessConn) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
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

// call performs a JSON-RPC call via stdin/stdout.
func (c *ProcessConn) call(ctx context.Context, method string, params any, result any) error {
	var paramsBytes json.RawMessage
	if params != nil {
		var err error
		paramsBytes, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling params: %w", err)
		}
	}

	id := c.requestID.Add(1)
	req := jsonrpc.NewRequest(id, method, paramsBytes)

	respCh := make(chan *jsonrpc.Response, 1)
	c.responsesMu.Lock()
	c.responses[id] = respCh
	c.responsesMu.Unlock()

	c.logger.Debug("sending request", "backend", c.name, "method", method, "id", id)

	if err := c.sendStdio(req); err != nil {
		c.dropPending(id)
		return err
	}

	// Guard against hanging on a dead process.
	timeout := time.NewTimer(DefaultRequestTimeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	case <-timeout.C:
		c.dropPending(id)
		c.logger.Debug("request timed out", "backend", c.name, "method", method, "id", id)
		return fmt.Errorf("timeout waiting for response from process")
	case resp := <-respCh:
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
}

func (c *ProcessConn) dropPending(id int64) {
	c.responsesMu.Lock()
	delete(c.responses, id)
	c.responsesMu.Unlock()
}

// notify sends a JSON-RPC notification via stdin (no response expected).
func (c *ProcessConn) notify(method string, params any) error {
	var paramsBytes json.RawMessage
	if params != nil {
		var err error
		paramsBytes, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling params: %w", err)
		}
	}
	return c.sendStdio(jsonrpc.NewNotification(method, paramsBytes))
}

// sendStdio writes one message to stdin, newline-terminated.
func (c *ProcessConn) sendStdio(req jsonrpc.Request) error {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	if !c.started || c.stdin == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing to stdin: %w", err)
	}
	return nil
}

// Close terminates the process gracefully: SIGTERM, wait up to the grace
// period, then SIGKILL if still running.
func (c *ProcessConn) Close() error {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	// Cancelling the process context hard-kills the child, so release it
	// only after the graceful SIGTERM path has run its course. It also
	// stops the reader goroutines.
	if c.cancel != nil {
		defer c.cancel()
	}

	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}

	// Close stdin first to signal EOF.
	if c.stdin != nil {
		c.stdin.Close()
	}

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process already exited.
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- c.cmd.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(processKillGracePeriod):
		_ = c.cmd.Process.Kill()
		<-done
		return nil
	}
}

var _ Conn = (*ProcessConn)(nil)
