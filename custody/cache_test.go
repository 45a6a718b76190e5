package custody_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/toolroom/custody"
)

// steppingClock is a mutable test clock.
type steppingClock struct{ t time.Time }

func (c *steppingClock) Now() time.Time { return c.t }

// =============================================================================
// INVENTORY CACHE - watch-driven
// =============================================================================

func TestInventoryCache_WatchKeepsSnapshotCurrent(t *testing.T) {
	// GIVEN: A started cache over a store that pushes changes
	// WHEN: A checkout commits after the initial load
	// THEN: The cached item reflects the new custody state without a Refresh

	engine, reg, store := newTestEngine(t)
	ctx := context.Background()
	seedTool(t, reg, "drill-1", "T0001", "Cordless Drill")
	seedStaff(t, reg, "staff-1", "Mira Holt", true)

	cache := custody.NewInventoryCache(store, time.Minute)
	require.NoError(t, cache.Start(ctx))
	t.Cleanup(cache.Stop)

	require.NoError(t, engine.Checkout(ctx, "drill-1", "staff-1", "staff-1", custody.TxOptions{}))

	item, err := cache.GetItem(ctx, "drill-1")
	require.NoError(t, err)
	assert.Equal(t, custody.StatusCheckedOut, item.Status)
	assert.Equal(t, "staff-1", item.CurrentHolderUID)

	staff, err := cache.GetStaff(ctx, "staff-1")
	require.NoError(t, err)
	assert.True(t, staff.Holds("drill-1"))
}

func TestInventoryCache_HistoryWritesDoNotPolluteSnapshot(t *testing.T) {
	// GIVEN: A started cache watching the items collection
	// WHEN: The engine writes item history buckets (a sub-collection of items)
	// THEN: The bucket documents never appear as items

	engine, reg, store := newTestEngine(t)
	ctx := context.Background()
	seedTool(t, reg, "drill-1", "T0001", "Cordless Drill")
	seedStaff(t, reg, "staff-1", "Mira Holt", true)

	cache := custody.NewInventoryCache(store, time.Minute)
	require.NoError(t, cache.Start(ctx))
	t.Cleanup(cache.Stop)

	require.NoError(t, engine.Checkout(ctx, "drill-1", "staff-1", "staff-1", custody.TxOptions{}))
	require.NoError(t, engine.Checkin(ctx, "drill-1", "staff-1", custody.TxOptions{}))

	// Only the seeded item exists; month buckets stay out of the snapshot.
	_, err := cache.GetItem(ctx, custody.MonthKey(time.Now()))
	assert.ErrorIs(t, err, custody.ErrItemNotFound)

	item, err := cache.GetItem(ctx, "drill-1")
	require.NoError(t, err)
	assert.Equal(t, custody.StatusAvailable, item.Status)
}

func TestInventoryCache_GetItemByUniqueID(t *testing.T) {
	_, reg, store := newTestEngine(t)
	ctx := context.Background()
	seedTool(t, reg, "drill-1", "T0001", "Cordless Drill")

	cache := custody.NewInventoryCache(store, time.Minute)
	require.NoError(t, cache.Start(ctx))
	t.Cleanup(cache.Stop)

	item, err := cache.GetItemByUniqueID(ctx, "T0001")
	require.NoError(t, err)
	assert.Equal(t, "drill-1", item.ID)

	_, err = cache.GetItemByUniqueID(ctx, "T9999")
	assert.ErrorIs(t, err, custody.ErrItemNotFound)
}

func TestInventoryCache_ReturnsCopies(t *testing.T) {
	// GIVEN: A cached staff record
	// WHEN: The caller mutates the returned value
	// THEN: The snapshot is unaffected

	_, reg, store := newTestEngine(t)
	ctx := context.Background()
	seedStaff(t, reg, "staff-1", "Mira Holt", true)

	cache := custody.NewInventoryCache(store, time.Minute)
	require.NoError(t, cache.Start(ctx))
	t.Cleanup(cache.Stop)

	first, err := cache.GetStaff(ctx, "staff-1")
	require.NoError(t, err)
	first.Name = "Mangled"
	first.AssignedItemIDs = append(first.AssignedItemIDs, "bogus")

	second, err := cache.GetStaff(ctx, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, "Mira Holt", second.Name)
	assert.Empty(t, second.AssignedItemIDs)
}

// =============================================================================
// INVENTORY CACHE - staleness-bound fallback
// =============================================================================

func TestInventoryCache_NoWatch_RefreshesWhenStale(t *testing.T) {
	// GIVEN: A store without change watch, and a cache with a 10s bound
	// WHEN: The store changes and the clock passes the bound
	// THEN: The next read re-reads; before the bound it serves the old snapshot

	engine, reg, _ := newTestEngine(t)
	ctx := context.Background()
	seedTool(t, reg, "drill-1", "T0001", "Cordless Drill")
	seedStaff(t, reg, "staff-1", "Mira Holt", true)

	base := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	clock := &steppingClock{t: base}

	cache := custody.NewInventoryCache(plainStore{engine.Store}, 10*time.Second)
	cache.Clock = clock
	require.NoError(t, cache.Start(ctx))
	t.Cleanup(cache.Stop)

	require.NoError(t, engine.Checkout(ctx, "drill-1", "staff-1", "staff-1", custody.TxOptions{}))

	// Within the staleness bound: the stale snapshot is served.
	clock.t = base.Add(5 * time.Second)
	item, err := cache.GetItem(ctx, "drill-1")
	require.NoError(t, err)
	assert.Equal(t, custody.StatusAvailable, item.Status)

	// Past the bound: the read triggers a refresh.
	clock.t = base.Add(11 * time.Second)
	item, err = cache.GetItem(ctx, "drill-1")
	require.NoError(t, err)
	assert.Equal(t, custody.StatusCheckedOut, item.Status)
}

// =============================================================================
// HISTORY CACHE
// =============================================================================

func TestHistoryCache_AddGet(t *testing.T) {
	cache := custody.NewHistoryCache(8, time.Minute)
	key := custody.HistoryCacheKey("drill-1", time.Unix(100, 0), time.Unix(200, 0), 10)

	_, ok := cache.Get(key)
	assert.False(t, ok)

	entries := []custody.HistoryEntry{{ID: "e1", Action: custody.ActionCheckout}}
	cache.Add(key, entries)

	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, entries, got)
}

func TestHistoryCache_EntriesExpire(t *testing.T) {
	cache := custody.NewHistoryCache(8, 20*time.Millisecond)
	key := custody.HistoryCacheKey("drill-1", time.Unix(100, 0), time.Unix(200, 0), 10)
	cache.Add(key, []custody.HistoryEntry{{ID: "e1"}})

	time.Sleep(50 * time.Millisecond)
	_, ok := cache.Get(key)
	assert.False(t, ok, "entry must expire after its ttl")
}

func TestHistoryCacheKey_DistinguishesQueries(t *testing.T) {
	from, to := time.Unix(100, 0), time.Unix(200, 0)
	base := custody.HistoryCacheKey("drill-1", from, to, 10)

	assert.NotEqual(t, base, custody.HistoryCacheKey("saw-1", from, to, 10))
	assert.NotEqual(t, base, custody.HistoryCacheKey("drill-1", from, to, 20))
	assert.NotEqual(t, base, custody.HistoryCacheKey("", from, to, 10), "global queries get their own keys")
}
