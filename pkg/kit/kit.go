// Package kit loads and unloads named bundles of backend definitions. A kit
// is a versioned YAML document; loading registers all of its backends in one
// atomic step, and unloading removes them unless the operator has modified
// them since.
package kit

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/logging"
	"github.com/toolgate/toolgate/pkg/registry"
)

var (
	// ErrAlreadyLoaded indicates a kit with the same name is active.
	ErrAlreadyLoaded = errors.New("kit already loaded")
	// ErrNotLoaded indicates no active kit carries the given name.
	ErrNotLoaded = errors.New("kit not loaded")
)

// Kit is a parsed bundle document.
type Kit struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description,omitempty"`
	// Requires constrains the gateway version this kit works with,
	// e.g. ">= 1.0.0".
	Requires string           `yaml:"requires,omitempty"`
	Backends []config.Backend `yaml:"backends"`
}

// Active describes a loaded kit.
type Active struct {
	ID          string
	Name        string
	Version     string
	Description string
	Source      string
	LoadedAt    time.Time
	Backends    []string
}

// UnloadResult reports what an unload did. Retained backends diverged from
// the kit's definitions since load and were kept whole; their origin tag
// still names the kit that introduced them.
type UnloadResult struct {
	Removed  []string
	Retained []string
}

// Manager tracks active kits and applies their backends to the registry.
type Manager struct {
	mu          sync.Mutex
	reg         *registry.Registry
	gateVersion *semver.Version
	active      map[string]*activeKit
	logger      *slog.Logger
}

type activeKit struct {
	Active
	// definitions as loaded, used to detect operator edits at unload time
	loaded map[string]config.Backend
}

// NewManager creates a kit manager. gateVersion is matched against each
// kit's Requires constraint.
func NewManager(reg *registry.Registry, gateVersion string) (*Manager, error) {
	v, err := semver.NewVersion(gateVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway version %q: %w", gateVersion, err)
	}
	return &Manager{
		reg:         reg,
		gateVersion: v,
		active:      make(map[string]*activeKit),
		logger:      logging.NewDiscardLogger(),
	}, nil
}

// SetLogger sets the logger for kit operations.
func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Parse decodes and validates a kit document.
func Parse(data []byte) (*Kit, error) {
	var k Kit
	if err := yaml.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("parsing kit: %w", err)
	}
	if k.Name == "" {
		return nil, fmt.Errorf("kit name is required")
	}
	if _, err := semver.NewVersion(k.Version); err != nil {
		return nil, fmt.Errorf("kit %q: invalid version %q: %w", k.Name, k.Version, err)
	}
	if k.Requires != "" {
		if _, err := semver.NewConstraint(k.Requires); err != nil {
			return nil, fmt.Errorf("kit %q: invalid requires constraint %q: %w", k.Name, k.Requires, err)
		}
	}
	if len(k.Backends) == 0 {
		return nil, fmt.Errorf("kit %q has no backends", k.Name)
	}
	for i := range k.Backends {
		k.Backends[i].SetDefaults()
		if err := k.Backends[i].Validate(); err != nil {
			return nil, fmt.Errorf("kit %q: %w", k.Name, err)
		}
	}
	return &k, nil
}

// Origin returns the origin tag for backends introduced by the named kit.
func Origin(kitName string) string {
	return "kit:" + kitName
}

// ParseFile reads and validates a kit document from disk.
func ParseFile(path string) (*Kit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading kit file: %w", err)
	}
	return Parse(data)
}

// LoadFile reads a kit document from disk and loads it.
func (m *Manager) LoadFile(path string) (*Active, error) {
	k, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return m.Load(k, path)
}

// Load activates a kit: all of its backends register in one atomic step, so
// a name conflict with an existing backend fails the whole load and leaves
// nothing behind.
func (m *Manager) Load(k *Kit, source string) (*Active, error) {
	if k.Requires != "" {
		c, err := semver.NewConstraint(k.Requires)
		if err != nil {
			return nil, fmt.Errorf("kit %q: invalid requires constraint %q: %w", k.Name, k.Requires, err)
		}
		if !c.Check(m.gateVersion) {
			return nil, fmt.Errorf("kit %q requires gateway %s, running %s", k.Name, k.Requires, m.gateVersion)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.active[k.Name]; dup {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyLoaded, k.Name)
	}

	origin := Origin(k.Name)
	backends := make([]config.Backend, len(k.Backends))
	names := make([]string, len(k.Backends))
	loaded := make(map[string]config.Backend, len(k.Backends))
	for i := range k.Backends {
		backends[i] = k.Backends[i].Clone()
		backends[i].Origin = origin
	}
	// Normalize before snapshotting so the as-loaded copies match what the
	// registry's Get returns later.
	config.Normalize(backends)
	for i := range backends {
		names[i] = backends[i].Name
		loaded[backends[i].Name] = backends[i].Clone()
	}

	if err := m.reg.AddAll(backends); err != nil {
		return nil, fmt.Errorf("loading kit %q: %w", k.Name, err)
	}

	active := &activeKit{
		Active: Active{
			ID:          uuid.NewString(),
			Name:        k.Name,
			Version:     k.Version,
			Description: k.Description,
			Source:      source,
			LoadedAt:    time.Now(),
			Backends:    names,
		},
		loaded: loaded,
	}
	m.active[k.Name] = active

	m.logger.Info("kit loaded", "kit", k.Name, "version", k.Version, "backends", len(names))
	out := active.Active
	return &out, nil
}

// Unload deactivates a kit. Backends still matching their as-loaded
// definitions are removed; backends the operator has modified since load
// (a toggled enabled flag counts) are retained whole. Backends the operator
// already removed are skipped.
func (m *Manager) Unload(kitName string) (*UnloadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, ok := m.active[kitName]
	if !ok {
		return m.unloadByOrigin(kitName)
	}

	result := &UnloadResult{}
	var toRemove []string
	var toAdopt []string
	for _, name := range active.Backends {
		current, err := m.reg.Get(name)
		if err != nil {
			// Already removed by the operator; nothing to do.
			continue
		}
		asLoaded := active.loaded[name]
		if config.Equal(current, asLoaded) {
			toRemove = append(toRemove, name)
		} else {
			toAdopt = append(toAdopt, name)
		}
	}

	if len(toRemove) > 0 {
		if err := m.reg.RemoveAll(toRemove); err != nil {
			return nil, fmt.Errorf("unloading kit %q: %w", kitName, err)
		}
	}
	result.Removed = toRemove
	result.Retained = toAdopt

	delete(m.active, kitName)
	m.logger.Info("kit unloaded", "kit", kitName,
		"removed", len(result.Removed), "retained", len(result.Retained))
	return result, nil
}

// unloadByOrigin removes the backends still tagged with the kit's origin.
// The in-memory record does not survive a restart, but the origin tags do;
// without the as-loaded snapshot there is no baseline to detect operator
// edits against, so every tagged backend is removed. Caller holds m.mu.
func (m *Manager) unloadByOrigin(kitName string) (*UnloadResult, error) {
	names := m.reg.ByOrigin(Origin(kitName))
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotLoaded, kitName)
	}
	if err := m.reg.RemoveAll(names); err != nil {
		return nil, fmt.Errorf("unloading kit %q: %w", kitName, err)
	}
	m.logger.Info("kit unloaded by origin", "kit", kitName, "removed", len(names))
	return &UnloadResult{Removed: names}, nil
}

// List returns the active kits sorted by load time.
func (m *Manager) List() []Active {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Active, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, a.Active)
	}
	// Stable order for display.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].LoadedAt.Before(out[j-1].LoadedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Get returns the active kit with the given name.
func (m *Manager) Get(kitName string) (*Active, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[kitName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotLoaded, kitName)
	}
	out := a.Active
	return &out, nil
}
