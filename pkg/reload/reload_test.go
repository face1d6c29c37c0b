package reload

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/registry"
	"github.com/toolgate/toolgate/pkg/store"
)

func httpBackend(name, url string) config.Backend {
	return config.Backend{
		Name:    name,
		Prefix:  name,
		Enabled: true,
		Spec:    config.Spec{Transport: config.TransportHTTP, URL: url},
	}
}

func TestComputeDiff(t *testing.T) {
	old := []config.Backend{
		httpBackend("calc", "http://localhost:9001"),
		httpBackend("files", "http://localhost:9002"),
	}
	new := []config.Backend{
		httpBackend("calc", "http://localhost:9999"),   // changed
		httpBackend("search", "http://localhost:9003"), // added
	}

	diff := Compute(old, new)
	require.Len(t, diff.Added, 1)
	assert.Equal(t, "search", diff.Added[0].Name)
	require.Len(t, diff.Removed, 1)
	assert.Equal(t, "files", diff.Removed[0].Name)
	require.Len(t, diff.Changed, 1)
	assert.Equal(t, "calc", diff.Changed[0].Name)
	assert.Equal(t, "http://localhost:9001", diff.Changed[0].Old.Spec.URL)
	assert.Equal(t, "http://localhost:9999", diff.Changed[0].New.Spec.URL)
	assert.False(t, diff.IsEmpty())
}

func TestComputeDiffEmpty(t *testing.T) {
	set := []config.Backend{httpBackend("calc", "http://localhost:9001")}
	diff := Compute(set, set)
	assert.True(t, diff.IsEmpty())
}

// recordingApplier captures the definition sets handed to Apply.
type recordingApplier struct {
	mu      sync.Mutex
	applied [][]config.Backend
}

func (a *recordingApplier) Apply(defs []config.Backend) {
	a.mu.Lock()
	a.applied = append(a.applied, defs)
	a.mu.Unlock()
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied)
}

func setup(t *testing.T) (*store.MemStore, *registry.Registry, *recordingApplier, *Coordinator) {
	t.Helper()
	st := store.NewMemStore()
	reg := registry.New(st)
	require.NoError(t, reg.Load())
	applier := &recordingApplier{}
	return st, reg, applier, NewCoordinator(st, reg, applier)
}

func TestReloadAdoptsExternalEdit(t *testing.T) {
	st, reg, applier, c := setup(t)
	require.NoError(t, reg.Add(httpBackend("calc", "http://localhost:9001")))

	// Simulate an external edit: new backend appears, calc's URL changes.
	st.Set([]config.Backend{
		httpBackend("calc", "http://localhost:9999"),
		httpBackend("files", "http://localhost:9002"),
	})

	result, err := c.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"files"}, result.Added)
	assert.Equal(t, []string{"calc"}, result.Changed)
	assert.Empty(t, result.Removed)

	got, err := reg.Get("calc")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999", got.Spec.URL)

	require.Equal(t, 1, applier.count())
}

func TestReloadNoChangeSkipsApply(t *testing.T) {
	_, reg, applier, c := setup(t)
	require.NoError(t, reg.Add(httpBackend("calc", "http://localhost:9001")))

	result, err := c.Reload()
	require.NoError(t, err)
	assert.True(t, result.NoChange())
	assert.Zero(t, applier.count())
}

func TestReloadFailsWholesaleOnReadError(t *testing.T) {
	st, reg, applier, c := setup(t)
	require.NoError(t, reg.Add(httpBackend("calc", "http://localhost:9001")))

	st.FailReads = true
	result, err := c.Reload()
	require.ErrorIs(t, err, store.ErrPersistence)
	assert.NotEmpty(t, result.Err)

	// Nothing was applied and the live set is untouched.
	assert.Zero(t, applier.count())
	_, err = reg.Get("calc")
	assert.NoError(t, err)
}

func TestReloadNormalizesBeforeDiffing(t *testing.T) {
	st, reg, applier, c := setup(t)
	require.NoError(t, reg.Add(httpBackend("calc", "http://localhost:9001")))

	// An external edit without prefix or transport: defaults must be applied
	// before diffing, or every cycle would see a phantom change.
	raw := config.Backend{
		Name:    "files",
		Enabled: true,
		Spec:    config.Spec{URL: "http://localhost:9002"},
	}
	st.Set([]config.Backend{httpBackend("calc", "http://localhost:9001"), raw})

	result, err := c.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"files"}, result.Added)

	got, err := reg.Get("files")
	require.NoError(t, err)
	assert.Equal(t, "files", got.Prefix)
	assert.Equal(t, config.TransportHTTP, got.Spec.Transport)

	applies := applier.count()
	result, err = c.Reload()
	require.NoError(t, err)
	assert.True(t, result.NoChange(), "second cycle over unchanged store must be a no-op")
	assert.Equal(t, applies, applier.count())
}

func TestReloadRejectsInvalidSet(t *testing.T) {
	st, reg, applier, c := setup(t)
	require.NoError(t, reg.Add(httpBackend("calc", "http://localhost:9001")))

	bad := httpBackend("files", "http://localhost:9002")
	bad.Spec.Command = []string{"oops"} // url and command together
	st.Set([]config.Backend{bad})

	_, err := c.Reload()
	require.Error(t, err)
	assert.Zero(t, applier.count())
	_, err = reg.Get("calc")
	assert.NoError(t, err, "invalid store content must not evict the live set")
}

func TestReloadDoesNotWriteStoreBack(t *testing.T) {
	st, reg, _, c := setup(t)
	require.NoError(t, reg.Add(httpBackend("calc", "http://localhost:9001")))
	writesBefore := st.Writes

	st.Set([]config.Backend{httpBackend("files", "http://localhost:9002")})
	_, err := c.Reload()
	require.NoError(t, err)
	assert.Equal(t, writesBefore, st.Writes, "the store is the source during reload")
}

func TestLastResult(t *testing.T) {
	_, reg, _, c := setup(t)
	assert.Nil(t, c.LastResult())

	require.NoError(t, reg.Add(httpBackend("calc", "http://localhost:9001")))
	_, err := c.Reload()
	require.NoError(t, err)

	last := c.LastResult()
	require.NotNil(t, last)
	assert.True(t, last.NoChange())
	assert.False(t, last.At.IsZero())
}
