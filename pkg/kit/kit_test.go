package kit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/registry"
	"github.com/toolgate/toolgate/pkg/store"
)

const mathKit = `
name: math
version: 1.2.0
description: Arithmetic backends
backends:
  - name: calc
    prefix: calc
    enabled: true
    spec:
      url: http://localhost:9001/mcp
  - name: stats
    enabled: true
    spec:
      command: [mcp-stats]
`

func newManager(t *testing.T) (*Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New(store.NewMemStore())
	m, err := NewManager(reg, "1.0.0")
	require.NoError(t, err)
	return m, reg
}

func TestParse(t *testing.T) {
	k, err := Parse([]byte(mathKit))
	require.NoError(t, err)
	assert.Equal(t, "math", k.Name)
	assert.Equal(t, "1.2.0", k.Version)
	require.Len(t, k.Backends, 2)
	assert.Equal(t, config.TransportStdio, k.Backends[1].Spec.Transport)
}

func TestParseRejectsBadVersion(t *testing.T) {
	_, err := Parse([]byte("name: math\nversion: not-semver\nbackends:\n  - name: calc\n    spec:\n      url: http://localhost:9001\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid version")
}

func TestParseRejectsEmptyBackends(t *testing.T) {
	_, err := Parse([]byte("name: math\nversion: 1.0.0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backends")
}

func TestLoadRegistersAllBackendsWithOrigin(t *testing.T) {
	m, reg := newManager(t)
	k, err := Parse([]byte(mathKit))
	require.NoError(t, err)

	active, err := m.Load(k, "math.yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, active.ID)
	assert.Equal(t, []string{"calc", "stats"}, active.Backends)

	got, err := reg.Get("calc")
	require.NoError(t, err)
	assert.Equal(t, "kit:math", got.Origin)
	assert.Equal(t, []string{"calc", "stats"}, reg.ByOrigin("kit:math"))
}

func TestLoadConflictLeavesNothingBehind(t *testing.T) {
	m, reg := newManager(t)
	require.NoError(t, reg.Add(config.Backend{
		Name: "stats", Enabled: true,
		Spec: config.Spec{URL: "http://localhost:9002"},
	}))

	k, err := Parse([]byte(mathKit))
	require.NoError(t, err)

	_, err = m.Load(k, "math.yaml")
	require.ErrorIs(t, err, registry.ErrConflict)

	// calc must not have been registered by the failed load.
	_, err = reg.Get("calc")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Empty(t, m.List())
}

func TestLoadPrefixConflictLeavesNothingBehind(t *testing.T) {
	m, reg := newManager(t)
	require.NoError(t, reg.Add(config.Backend{
		Name: "other", Prefix: "calc", Enabled: true,
		Spec: config.Spec{URL: "http://localhost:9002"},
	}))

	k, err := Parse([]byte(mathKit))
	require.NoError(t, err)

	_, err = m.Load(k, "math.yaml")
	require.ErrorIs(t, err, registry.ErrConflict)

	_, err = reg.Get("stats")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Empty(t, m.List())
}

func TestLoadDuplicateKit(t *testing.T) {
	m, _ := newManager(t)
	k, err := Parse([]byte(mathKit))
	require.NoError(t, err)

	_, err = m.Load(k, "math.yaml")
	require.NoError(t, err)
	_, err = m.Load(k, "math.yaml")
	assert.ErrorIs(t, err, ErrAlreadyLoaded)
}

func TestRequiresConstraint(t *testing.T) {
	reg := registry.New(store.NewMemStore())
	m, err := NewManager(reg, "0.9.0")
	require.NoError(t, err)

	k, err := Parse([]byte(mathKit))
	require.NoError(t, err)
	k.Requires = ">= 1.0.0"

	_, err = m.Load(k, "math.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires gateway")
}

func TestUnloadRemovesUntouchedBackends(t *testing.T) {
	m, reg := newManager(t)
	k, err := Parse([]byte(mathKit))
	require.NoError(t, err)
	_, err = m.Load(k, "math.yaml")
	require.NoError(t, err)

	result, err := m.Unload("math")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"calc", "stats"}, result.Removed)
	assert.Empty(t, result.Retained)
	assert.Empty(t, reg.List())
}

func TestUnloadRetainsModifiedBackends(t *testing.T) {
	m, reg := newManager(t)
	k, err := Parse([]byte(mathKit))
	require.NoError(t, err)
	_, err = m.Load(k, "math.yaml")
	require.NoError(t, err)

	// Operator touches one backend after the kit loaded.
	require.NoError(t, reg.Disable("calc"))

	result, err := m.Unload("math")
	require.NoError(t, err)
	assert.Equal(t, []string{"stats"}, result.Removed)
	assert.Equal(t, []string{"calc"}, result.Retained)

	got, err := reg.Get("calc")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "kit:math", got.Origin)
}

func TestUnloadSkipsAlreadyRemovedBackends(t *testing.T) {
	m, reg := newManager(t)
	k, err := Parse([]byte(mathKit))
	require.NoError(t, err)
	_, err = m.Load(k, "math.yaml")
	require.NoError(t, err)

	require.NoError(t, reg.Remove("stats"))

	result, err := m.Unload("math")
	require.NoError(t, err)
	assert.Equal(t, []string{"calc"}, result.Removed)
	assert.Empty(t, result.Retained)
}

func TestUnloadByOriginAfterRestart(t *testing.T) {
	st := store.NewMemStore()
	reg := registry.New(st)
	m, err := NewManager(reg, "1.0.0")
	require.NoError(t, err)

	k, err := Parse([]byte(mathKit))
	require.NoError(t, err)
	_, err = m.Load(k, "math.yaml")
	require.NoError(t, err)

	// A fresh manager over the same persisted registry, as after a restart:
	// the in-memory record is gone, but the origin tags survived.
	fresh := registry.New(st)
	require.NoError(t, fresh.Load())
	restarted, err := NewManager(fresh, "1.0.0")
	require.NoError(t, err)

	result, err := restarted.Unload("math")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"calc", "stats"}, result.Removed)
	assert.Empty(t, fresh.List())
}

func TestUnloadUnknownKit(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Unload("ghost")
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestLoadFile(t *testing.T) {
	m, _ := newManager(t)
	path := filepath.Join(t.TempDir(), "math.yaml")
	require.NoError(t, os.WriteFile(path, []byte(mathKit), 0o644))

	active, err := m.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, active.Source)

	listed := m.List()
	require.Len(t, listed, 1)
	assert.Equal(t, "math", listed[0].Name)
}
