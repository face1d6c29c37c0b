package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/store"
)

func httpBackend(name string) config.Backend {
	return config.Backend{
		Name:    name,
		Enabled: true,
		Spec:    config.Spec{Transport: config.TransportHTTP, URL: "http://localhost:9001/mcp"},
	}
}

func TestAddPersistsBeforeAcknowledge(t *testing.T) {
	st := store.NewMemStore()
	r := New(st)
	require.NoError(t, r.Load())

	require.NoError(t, r.Add(httpBackend("calc")))
	assert.Equal(t, 1, st.Writes)

	persisted, err := st.ReadAll()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "calc", persisted[0].Name)
}

func TestAddDerivesPrefix(t *testing.T) {
	r := New(store.NewMemStore())

	b := httpBackend("Calc-Server")
	b.Name = "calc-server"
	require.NoError(t, r.Add(b))

	got, err := r.Get("calc-server")
	require.NoError(t, err)
	assert.Equal(t, "calcserver", got.Prefix)
}

func TestAddConflict(t *testing.T) {
	r := New(store.NewMemStore())
	require.NoError(t, r.Add(httpBackend("calc")))

	err := r.Add(httpBackend("calc"))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, r.List(), 1)
}

func TestAddRejectsPrefixHeldByEnabledBackend(t *testing.T) {
	r := New(store.NewMemStore())

	alpha := httpBackend("alpha")
	alpha.Prefix = "shared"
	require.NoError(t, r.Add(alpha))

	beta := httpBackend("beta")
	beta.Prefix = "shared"
	err := r.Add(beta)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, r.List(), 1)

	// Disabled backends may share the prefix.
	beta.Enabled = false
	require.NoError(t, r.Add(beta))
}

func TestEnableRechecksPrefixUniqueness(t *testing.T) {
	r := New(store.NewMemStore())

	alpha := httpBackend("alpha")
	alpha.Prefix = "shared"
	require.NoError(t, r.Add(alpha))

	beta := httpBackend("beta")
	beta.Prefix = "shared"
	beta.Enabled = false
	require.NoError(t, r.Add(beta))

	err := r.Enable("beta")
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, r.Disable("alpha"))
	require.NoError(t, r.Enable("beta"))
}

func TestAddRollsBackOnStoreFailure(t *testing.T) {
	st := store.NewMemStore()
	r := New(st)
	require.NoError(t, r.Add(httpBackend("calc")))

	st.FailWrites = true
	err := r.Add(httpBackend("files"))
	require.ErrorIs(t, err, store.ErrPersistence)

	// The failed add must leave no trace.
	_, err = r.Get("files")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, r.List(), 1)
}

// blockingStore parks WriteAll until released, to observe registry behavior
// while a flush is in flight.
type blockingStore struct {
	*store.MemStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) WriteAll(backends []config.Backend) error {
	close(s.entered)
	<-s.release
	return s.MemStore.WriteAll(backends)
}

func TestReadsNotBlockedByStoreFlush(t *testing.T) {
	st := &blockingStore{
		MemStore: store.NewMemStore(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	r := New(st)

	done := make(chan error, 1)
	go func() { done <- r.Add(httpBackend("calc")) }()
	<-st.entered

	// The flush is parked inside WriteAll; reads must still answer.
	listed := make(chan int, 1)
	go func() { listed <- len(r.List()) }()
	select {
	case n := <-listed:
		assert.Equal(t, 0, n, "uncommitted add must not be visible")
	case <-time.After(2 * time.Second):
		t.Fatal("List blocked behind a store flush")
	}
	_, err := r.Get("calc")
	assert.ErrorIs(t, err, ErrNotFound)

	close(st.release)
	require.NoError(t, <-done)
	assert.Len(t, r.List(), 1)
}

func TestRemove(t *testing.T) {
	st := store.NewMemStore()
	r := New(st)
	require.NoError(t, r.Add(httpBackend("calc")))
	require.NoError(t, r.Add(httpBackend("files")))

	require.NoError(t, r.Remove("calc"))
	_, err := r.Get("calc")
	assert.ErrorIs(t, err, ErrNotFound)

	persisted, err := st.ReadAll()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "files", persisted[0].Name)
}

func TestRemoveUnknown(t *testing.T) {
	r := New(store.NewMemStore())
	err := r.Remove("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnableDisablePersist(t *testing.T) {
	st := store.NewMemStore()
	r := New(st)
	require.NoError(t, r.Add(httpBackend("calc")))

	require.NoError(t, r.Disable("calc"))
	got, err := r.Get("calc")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	persisted, err := st.ReadAll()
	require.NoError(t, err)
	assert.False(t, persisted[0].Enabled)

	require.NoError(t, r.Enable("calc"))
	got, err = r.Get("calc")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
}

func TestDisableFailedWriteKeepsState(t *testing.T) {
	st := store.NewMemStore()
	r := New(st)
	require.NoError(t, r.Add(httpBackend("calc")))

	st.FailWrites = true
	err := r.Disable("calc")
	require.ErrorIs(t, err, store.ErrPersistence)

	got, err := r.Get("calc")
	require.NoError(t, err)
	assert.True(t, got.Enabled, "failed write must not flip in-memory state")
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := New(store.NewMemStore())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Add(httpBackend(name)))
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "zeta", list[0].Name)
	assert.Equal(t, "alpha", list[1].Name)
	assert.Equal(t, "mid", list[2].Name)
}

func TestOrderSurvivesReload(t *testing.T) {
	st := store.NewMemStore()
	r := New(st)
	for _, name := range []string{"zeta", "alpha"} {
		require.NoError(t, r.Add(httpBackend(name)))
	}

	fresh := New(st)
	require.NoError(t, fresh.Load())
	list := fresh.List()
	require.Len(t, list, 2)
	assert.Equal(t, "zeta", list[0].Name)
	assert.Equal(t, "alpha", list[1].Name)
}

func TestAddAllAtomicity(t *testing.T) {
	r := New(store.NewMemStore())
	require.NoError(t, r.Add(httpBackend("calc")))

	err := r.AddAll([]config.Backend{httpBackend("files"), httpBackend("calc")})
	require.ErrorIs(t, err, ErrConflict)

	// Neither definition from the failed batch may appear.
	_, err = r.Get("files")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveAllAtomicity(t *testing.T) {
	r := New(store.NewMemStore())
	require.NoError(t, r.Add(httpBackend("calc")))

	err := r.RemoveAll([]string{"calc", "ghost"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Get("calc")
	assert.NoError(t, err, "failed batch must not remove anything")
}

func TestByOrigin(t *testing.T) {
	r := New(store.NewMemStore())
	kitBackend := httpBackend("kit-calc")
	kitBackend.Origin = "kit:math"
	require.NoError(t, r.Add(httpBackend("plain")))
	require.NoError(t, r.Add(kitBackend))

	assert.Equal(t, []string{"kit-calc"}, r.ByOrigin("kit:math"))
	assert.Empty(t, r.ByOrigin("kit:other"))
}

func TestReplaceDoesNotWriteStore(t *testing.T) {
	st := store.NewMemStore()
	r := New(st)
	require.NoError(t, r.Add(httpBackend("calc")))
	writesBefore := st.Writes

	require.NoError(t, r.Replace([]config.Backend{httpBackend("files")}))
	assert.Equal(t, writesBefore, st.Writes)

	_, err := r.Get("files")
	assert.NoError(t, err)
	_, err = r.Get("calc")
	assert.ErrorIs(t, err, ErrNotFound)
}
