package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcmdiag/internal/diagnosis"
	"tcmdiag/internal/gateway/repository/sessionstore"
)

type countingStore struct {
	diagnosis.SessionStore
	loads       int
	activeLoads int
}

func (c *countingStore) Load(ctx context.Context, id string) (*diagnosis.State, error) {
	c.loads++
	return c.SessionStore.Load(ctx, id)
}

func (c *countingStore) LoadActiveByOwner(ctx context.Context, owner string) (*diagnosis.State, bool, error) {
	c.activeLoads++
	return c.SessionStore.LoadActiveByOwner(ctx, owner)
}

func newCached(t *testing.T) (*CachedStore, *countingStore) {
	t.Helper()
	origin := &countingStore{SessionStore: sessionstore.New("")}
	return NewCachedStore(origin, CacheConfig{}), origin
}

func TestCachedStore_LoadHitsCacheAfterSave(t *testing.T) {
	ctx := context.Background()
	c, origin := newCached(t)
	st := diagnosis.NewState("s1", "owner-1", time.Now().UTC())
	require.NoError(t, c.Save(ctx, st))

	got, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 0, origin.loads)

	got.CurrentStageOrdinal = 5
	again, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.CurrentStageOrdinal, "cached snapshot must not alias callers")

	active, ok, err := c.LoadActiveByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", active.SessionID)
	assert.Equal(t, 1, origin.activeLoads)
	assert.Equal(t, 0, origin.loads)
}

func TestCachedStore_ConflictEvicts(t *testing.T) {
	ctx := context.Background()
	c, origin := newCached(t)
	st := diagnosis.NewState("s1", "owner-1", time.Now().UTC())
	require.NoError(t, c.Save(ctx, st))

	// Another writer advances the session behind the cache's back.
	direct, err := origin.SessionStore.Load(ctx, "s1")
	require.NoError(t, err)
	direct.CurrentStageOrdinal = 1
	require.NoError(t, origin.SessionStore.Save(ctx, direct))

	stale, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stale.Version)
	stale.CurrentStageOrdinal = 1
	assert.ErrorIs(t, c.Save(ctx, stale), diagnosis.ErrConcurrentModification)

	fresh, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Version)
	assert.Equal(t, 1, origin.loads)
}

func TestCachedStore_MarkAbandonedDropsActive(t *testing.T) {
	ctx := context.Background()
	c, _ := newCached(t)
	st := diagnosis.NewState("s1", "owner-1", time.Now().UTC())
	require.NoError(t, c.Save(ctx, st))

	require.NoError(t, c.MarkAbandoned(ctx, "s1"))
	_, ok, err := c.LoadActiveByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, diagnosis.StatusAbandoned, got.Status)

	list, err := c.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCachedStore_CompletedSessionLeavesOwnerSlot(t *testing.T) {
	ctx := context.Background()
	c, _ := newCached(t)
	st := diagnosis.NewState("s1", "owner-1", time.Now().UTC())
	require.NoError(t, c.Save(ctx, st))
	_, ok, err := c.LoadActiveByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, ok)

	st.Status = diagnosis.StatusComplete
	require.NoError(t, c.Save(ctx, st))
	_, ok, err = c.LoadActiveByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedStore_MissingSession(t *testing.T) {
	c, _ := newCached(t)
	_, err := c.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, diagnosis.ErrNotFound)
}

func TestCachedStore_SeesAbandonByAnotherInstance(t *testing.T) {
	ctx := context.Background()
	shared := sessionstore.New("")
	a := NewCachedStore(shared, CacheConfig{})
	b := NewCachedStore(shared, CacheConfig{})

	st := diagnosis.NewState("s1", "owner-1", time.Now().UTC())
	require.NoError(t, a.Save(ctx, st))
	_, ok, err := a.LoadActiveByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.MarkAbandoned(ctx, "s1"))

	_, ok, err = a.LoadActiveByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := a.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, diagnosis.StatusAbandoned, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestCachedStore_OwnerLookupReplacesStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	shared := sessionstore.New("")
	a := NewCachedStore(shared, CacheConfig{})
	b := NewCachedStore(shared, CacheConfig{})

	st := diagnosis.NewState("s1", "owner-1", time.Now().UTC())
	require.NoError(t, a.Save(ctx, st))

	moved, err := b.Load(ctx, "s1")
	require.NoError(t, err)
	moved.CurrentStageOrdinal = 1
	require.NoError(t, b.Save(ctx, moved))

	active, ok, err := a.LoadActiveByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), active.Version)
	got, err := a.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStageOrdinal)
}
