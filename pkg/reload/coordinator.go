package reload

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/logging"
	"github.com/toolgate/toolgate/pkg/registry"
	"github.com/toolgate/toolgate/pkg/store"
)

// Applier pushes a freshly adopted definition set into the connection layer.
// The gateway implements this by converging the pool and rebuilding the
// catalog.
type Applier interface {
	Apply(defs []config.Backend)
}

// Result summarizes one reload cycle.
type Result struct {
	At      time.Time
	Added   []string
	Removed []string
	Changed []string
	Err     string
}

// NoChange reports whether the cycle found nothing to do.
func (r *Result) NoChange() bool {
	return r.Err == "" && len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0
}

// Coordinator picks up external edits to the store and applies them to the
// running gateway. A cycle fails wholesale: if the store cannot be read or
// the new set is invalid, nothing is applied and the previous state stays
// live.
type Coordinator struct {
	mu      sync.Mutex
	store   store.Store
	reg     *registry.Registry
	applier Applier
	logger  *slog.Logger
	last    *Result
}

// NewCoordinator creates a reload coordinator.
func NewCoordinator(st store.Store, reg *registry.Registry, applier Applier) *Coordinator {
	return &Coordinator{
		store:   st,
		reg:     reg,
		applier: applier,
		logger:  logging.NewDiscardLogger(),
	}
}

// SetLogger sets the logger for reload cycles.
func (c *Coordinator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Reload runs one cycle: read the store, diff against the live set, adopt
// the new definitions, and converge connections. Cycles are serialized; a
// cycle triggered while another runs waits its turn and then sees the
// already-updated state as a no-op.
func (c *Coordinator) Reload() (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &Result{At: time.Now()}

	next, err := c.store.ReadAll()
	if err != nil {
		result.Err = err.Error()
		c.last = result
		c.logger.Error("reload failed, keeping previous state", "error", err)
		return result, fmt.Errorf("reload: %w", err)
	}
	config.Normalize(next)
	if err := config.ValidateSet(next); err != nil {
		result.Err = err.Error()
		c.last = result
		c.logger.Error("reload failed, keeping previous state", "error", err)
		return result, fmt.Errorf("reload: %w", err)
	}

	diff := Compute(c.reg.List(), next)
	if diff.IsEmpty() {
		c.last = result
		c.logger.Debug("reload found no changes")
		return result, nil
	}

	if err := c.reg.Replace(next); err != nil {
		result.Err = err.Error()
		c.last = result
		return result, fmt.Errorf("reload: %w", err)
	}

	for _, b := range diff.Added {
		result.Added = append(result.Added, b.Name)
	}
	for _, b := range diff.Removed {
		result.Removed = append(result.Removed, b.Name)
	}
	for _, ch := range diff.Changed {
		result.Changed = append(result.Changed, ch.Name)
	}

	if c.applier != nil {
		c.applier.Apply(c.reg.List())
	}

	c.last = result
	c.logger.Info("reload applied",
		"added", len(result.Added),
		"removed", len(result.Removed),
		"changed", len(result.Changed))
	return result, nil
}

// LastResult returns the most recent cycle's outcome, or nil before the
// first cycle.
func (c *Coordinator) LastResult() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	out := *c.last
	return &out
}
