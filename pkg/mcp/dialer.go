package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/logging"
)

// Dialer opens a connection for a backend definition. The returned Conn has
// not been initialized yet; the caller drives the handshake.
type Dialer interface {
	Dial(ctx context.Context, backend config.Backend) (Conn, error)
}

// StandardDialer builds HTTP or process connections from the backend spec.
type StandardDialer struct {
	logger *slog.Logger
}

// NewStandardDialer creates a dialer. The logger is handed to process
// connections for stderr capture; nil discards.
func NewStandardDialer(logger *slog.Logger) *StandardDialer {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &StandardDialer{logger: logger}
}

func (d *StandardDialer) Dial(_ context.Context, backend config.Backend) (Conn, error) {
	if backend.Spec.IsStdio() {
		conn := NewProcessConn(backend.Name, backend.Spec.Command, backend.Spec.WorkDir, backend.Spec.Env)
		conn.SetLogger(d.logger)
		return conn, nil
	}
	if backend.Spec.URL == "" {
		return nil, fmt.Errorf("backend %q has no url or command", backend.Name)
	}
	return NewHTTPConn(backend.Name, backend.Spec.URL), nil
}

var _ Dialer = (*StandardDialer)(nil)
