// Package registry manages the durable set of backend definitions. Every
// mutation is persisted before it is acknowledged: the new set is written to
// the store first, and only a successful write commits the in-memory state.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/logging"
	"github.com/toolgate/toolgate/pkg/store"
)

var (
	// ErrConflict indicates a definition with the same name already exists.
	ErrConflict = errors.New("backend already exists")
	// ErrNotFound indicates no definition carries the given name.
	ErrNotFound = errors.New("backend not found")
)

// Registry is the authoritative, ordered collection of backend definitions.
// Order is registration order; it decides catalog collision winners and is
// preserved through the store so it survives restarts.
type Registry struct {
	// writeMu serializes mutations end to end so the check-compute-flush
	// sequence stays atomic across writers. mu guards only the in-memory
	// state; it is never held across a store write, so readers are not
	// blocked on disk.
	writeMu  sync.Mutex
	mu       sync.RWMutex
	store    store.Store
	backends []config.Backend
	index    map[string]int
	logger   *slog.Logger
}

// New creates a registry backed by the given store.
func New(st store.Store) *Registry {
	return &Registry{
		store:  st,
		index:  make(map[string]int),
		logger: logging.NewDiscardLogger(),
	}
}

// SetLogger sets the logger for registry operations.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Load reads all definitions from the store, replacing in-memory state.
// Invalid definitions fail the whole load.
func (r *Registry) Load() error {
	backends, err := r.store.ReadAll()
	if err != nil {
		return err
	}
	config.Normalize(backends)
	if err := config.ValidateSet(backends); err != nil {
		return fmt.Errorf("loading backends: %w", err)
	}

	r.writeMu.Lock()
	r.commit(backends)
	r.writeMu.Unlock()

	r.logger.Info("backends loaded", "count", len(backends))
	return nil
}

// Add registers a new definition. The prefix is derived from the name when
// absent. Fails with ErrConflict if the name is taken, and with a store error
// if persistence fails; neither leaves any trace in memory.
func (r *Registry) Add(b config.Backend) error {
	return r.AddAll([]config.Backend{b})
}

// AddAll registers several definitions as one atomic step: one validation
// pass, one store write, and either all definitions commit or none do.
func (r *Registry) AddAll(newBackends []config.Backend) error {
	if len(newBackends) == 0 {
		return nil
	}
	config.Normalize(newBackends)
	for i := range newBackends {
		if err := newBackends[i].Validate(); err != nil {
			return err
		}
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	prefixes := r.enabledPrefixesLocked()
	seen := make(map[string]struct{}, len(newBackends))
	for i := range newBackends {
		name := newBackends[i].Name
		if _, exists := r.index[name]; exists {
			r.mu.RUnlock()
			return fmt.Errorf("%w: %q", ErrConflict, name)
		}
		if _, dup := seen[name]; dup {
			r.mu.RUnlock()
			return fmt.Errorf("%w: %q appears twice", ErrConflict, name)
		}
		seen[name] = struct{}{}

		if newBackends[i].Enabled && newBackends[i].Prefix != "" {
			prefix := newBackends[i].Prefix
			if other, taken := prefixes[prefix]; taken {
				r.mu.RUnlock()
				return fmt.Errorf("%w: prefix %q already used by enabled backend %q", ErrConflict, prefix, other)
			}
			prefixes[prefix] = name
		}
	}
	next := append(cloneAll(r.backends), cloneAll(newBackends)...)
	r.mu.RUnlock()

	if err := r.store.WriteAll(next); err != nil {
		return err
	}
	r.commit(next)

	for i := range newBackends {
		r.logger.Info("backend added", "backend", newBackends[i].Name, "prefix", newBackends[i].Prefix)
	}
	return nil
}

// Remove deletes a definition by name.
func (r *Registry) Remove(name string) error {
	return r.RemoveAll([]string{name})
}

// RemoveAll deletes several definitions as one atomic step. All names must
// exist or nothing is removed.
func (r *Registry) RemoveAll(names []string) error {
	if len(names) == 0 {
		return nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	doomed := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, exists := r.index[name]; !exists {
			r.mu.RUnlock()
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		doomed[name] = struct{}{}
	}

	next := make([]config.Backend, 0, len(r.backends)-len(doomed))
	for i := range r.backends {
		if _, gone := doomed[r.backends[i].Name]; !gone {
			next = append(next, r.backends[i].Clone())
		}
	}
	r.mu.RUnlock()

	if err := r.store.WriteAll(next); err != nil {
		return err
	}
	r.commit(next)

	for _, name := range names {
		r.logger.Info("backend removed", "backend", name)
	}
	return nil
}

// Enable marks a definition as enabled.
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable marks a definition as disabled. The definition stays registered.
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	i, exists := r.index[name]
	if !exists {
		r.mu.RUnlock()
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if r.backends[i].Enabled == enabled {
		r.mu.RUnlock()
		return nil
	}
	if enabled && r.backends[i].Prefix != "" {
		if other, taken := r.enabledPrefixesLocked()[r.backends[i].Prefix]; taken {
			r.mu.RUnlock()
			return fmt.Errorf("%w: prefix %q already used by enabled backend %q", ErrConflict, r.backends[i].Prefix, other)
		}
	}
	next := cloneAll(r.backends)
	next[i].Enabled = enabled
	r.mu.RUnlock()

	if err := r.store.WriteAll(next); err != nil {
		return err
	}
	r.commit(next)

	r.logger.Info("backend toggled", "backend", name, "enabled", enabled)
	return nil
}

// Get returns a copy of the named definition.
func (r *Registry) Get(name string) (config.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, exists := r.index[name]
	if !exists {
		return config.Backend{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return r.backends[i].Clone(), nil
}

// List returns copies of all definitions in registration order.
func (r *Registry) List() []config.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.backends)
}

// ByOrigin returns the names of definitions tagged with the given origin, in
// registration order.
func (r *Registry) ByOrigin(origin string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for i := range r.backends {
		if r.backends[i].Origin == origin {
			names = append(names, r.backends[i].Name)
		}
	}
	return names
}

// Replace swaps the entire in-memory set with definitions already read from
// the store, without writing back. Used by the reload coordinator after an
// external edit: the store is the source, so re-flushing it would be
// redundant.
func (r *Registry) Replace(backends []config.Backend) error {
	config.Normalize(backends)
	if err := config.ValidateSet(backends); err != nil {
		return err
	}

	r.writeMu.Lock()
	r.commit(cloneAll(backends))
	r.writeMu.Unlock()
	return nil
}

// commit swaps in the already-persisted set under the state lock.
func (r *Registry) commit(next []config.Backend) {
	r.mu.Lock()
	r.backends = next
	r.reindex()
	r.mu.Unlock()
}

// enabledPrefixesLocked maps non-empty prefixes of enabled backends to their
// owners. Callers must hold r.mu at least for reading.
func (r *Registry) enabledPrefixesLocked() map[string]string {
	prefixes := make(map[string]string, len(r.backends))
	for i := range r.backends {
		if r.backends[i].Enabled && r.backends[i].Prefix != "" {
			prefixes[r.backends[i].Prefix] = r.backends[i].Name
		}
	}
	return prefixes
}

func (r *Registry) reindex() {
	r.index = make(map[string]int, len(r.backends))
	for i := range r.backends {
		r.index[r.backends[i].Name] = i
	}
}

func cloneAll(in []config.Backend) []config.Backend {
	out := make([]config.Backend, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
