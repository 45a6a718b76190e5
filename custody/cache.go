/*
cache.go - Inventory snapshot cache and history query cache

PURPOSE:
  InventoryCache keeps an in-memory snapshot of the item and staff
  collections for instant lookups (scanner code -> item resolution, list
  screens). It is an explicit component with a change subscription and a
  defined staleness bound, not ambient global state: stores that support
  change watch keep it current by push; otherwise it re-reads when the
  snapshot is older than StaleAfter.

  HistoryCache is a small expirable LRU over ledger query results. History
  is append-only, so brief TTL staleness is harmless.

SEE ALSO:
  - registry.go: The uncached read path
  - ledger.go:   The queries HistoryCache fronts
*/
package custody

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/warp/toolroom/docstore"
)

// =============================================================================
// INVENTORY CACHE
// =============================================================================

// InventoryCache mirrors the item and staff collections. Implements
// ItemGetter, so batch scanning can resolve items without store reads.
type InventoryCache struct {
	Store      docstore.Store
	Clock      Clock
	StaleAfter time.Duration

	mu        sync.RWMutex
	items     map[string]*Item
	byUnique  map[string]*Item
	staff     map[string]*Staff
	fetchedAt time.Time
	watching  bool
	cancels   []func()
}

func NewInventoryCache(store docstore.Store, staleAfter time.Duration) *InventoryCache {
	return &InventoryCache{
		Store:      store,
		Clock:      docstore.RealClock{},
		StaleAfter: staleAfter,
		items:      make(map[string]*Item),
		byUnique:   make(map[string]*Item),
		staff:      make(map[string]*Staff),
	}
}

// Start loads the initial snapshot and, when the store can push changes,
// subscribes to keep it current.
func (c *InventoryCache) Start(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	w, ok := c.Store.(docstore.Watcher)
	if !ok {
		return nil
	}

	c.mu.Lock()
	c.watching = true
	c.cancels = append(c.cancels,
		w.Watch(CollectionItems, c.onItemEvent),
		w.Watch(CollectionStaff, c.onStaffEvent),
	)
	c.mu.Unlock()
	return nil
}

// Stop cancels the change subscriptions, if any.
func (c *InventoryCache) Stop() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.watching = false
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Refresh re-reads both collections and swaps the snapshot.
func (c *InventoryCache) Refresh(ctx context.Context) error {
	itemDocs, err := c.Store.List(ctx, CollectionItems)
	if err != nil {
		return err
	}
	staffDocs, err := c.Store.List(ctx, CollectionStaff)
	if err != nil {
		return err
	}

	items := make(map[string]*Item, len(itemDocs))
	byUnique := make(map[string]*Item, len(itemDocs))
	for _, doc := range itemDocs {
		item := itemFromDoc(doc)
		items[item.ID] = item
		byUnique[item.UniqueID] = item
	}
	staff := make(map[string]*Staff, len(staffDocs))
	for _, doc := range staffDocs {
		s := staffFromDoc(doc)
		staff[s.UID] = s
	}

	c.mu.Lock()
	c.items = items
	c.byUnique = byUnique
	c.staff = staff
	c.fetchedAt = c.Clock.Now()
	c.mu.Unlock()
	return nil
}

func (c *InventoryCache) onItemEvent(ev docstore.Event) {
	// The item watch also sees history sub-collection writes; only top-level
	// item documents belong in the snapshot.
	if ev.Ref.Collection != CollectionItems {
		return
	}
	item := itemFromDoc(ev.Doc)
	c.mu.Lock()
	c.items[item.ID] = item
	c.byUnique[item.UniqueID] = item
	c.mu.Unlock()
}

func (c *InventoryCache) onStaffEvent(ev docstore.Event) {
	s := staffFromDoc(ev.Doc)
	c.mu.Lock()
	c.staff[s.UID] = s
	c.mu.Unlock()
}

// ensureFresh re-reads the snapshot when there is no push subscription and
// the staleness bound has passed.
func (c *InventoryCache) ensureFresh(ctx context.Context) error {
	c.mu.RLock()
	stale := !c.watching && c.Clock.Now().Sub(c.fetchedAt) > c.StaleAfter
	c.mu.RUnlock()

	if stale {
		return c.Refresh(ctx)
	}
	return nil
}

// GetItem returns the cached item. Implements ItemGetter.
func (c *InventoryCache) GetItem(ctx context.Context, itemID string) (*Item, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	return copyItem(item), nil
}

// GetItemByUniqueID resolves a scanned code against the snapshot.
func (c *InventoryCache) GetItemByUniqueID(ctx context.Context, uniqueID string) (*Item, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.byUnique[uniqueID]
	if !ok {
		return nil, ErrItemNotFound
	}
	return copyItem(item), nil
}

// GetStaff returns the cached staff record.
func (c *InventoryCache) GetStaff(ctx context.Context, uid string) (*Staff, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.staff[uid]
	if !ok {
		return nil, ErrStaffNotFound
	}
	return copyStaff(s), nil
}

func copyItem(item *Item) *Item {
	out := *item
	return &out
}

func copyStaff(s *Staff) *Staff {
	out := *s
	out.AssignedItemIDs = append([]string(nil), s.AssignedItemIDs...)
	return &out
}

// =============================================================================
// HISTORY QUERY CACHE
// =============================================================================

// HistoryCache is an expirable LRU over ledger query results.
type HistoryCache struct {
	lru *expirable.LRU[string, []HistoryEntry]
}

// NewHistoryCache creates a cache holding up to size query results, each
// expiring ttl after being added.
func NewHistoryCache(size int, ttl time.Duration) *HistoryCache {
	return &HistoryCache{lru: expirable.NewLRU[string, []HistoryEntry](size, nil, ttl)}
}

func (c *HistoryCache) Get(key string) ([]HistoryEntry, bool) {
	return c.lru.Get(key)
}

func (c *HistoryCache) Add(key string, entries []HistoryEntry) {
	c.lru.Add(key, entries)
}

// HistoryCacheKey builds a cache key for a query. itemID is empty for
// global queries.
func HistoryCacheKey(itemID string, from, to time.Time, limit int) string {
	return fmt.Sprintf("%s|%d|%d|%d", itemID, from.Unix(), to.Unix(), limit)
}
