/*
ledger.go - Month/day-partitioned history buckets

PURPOSE:
  Two denormalized append logs of the same history entries:
  - ItemLedger:   per-item month buckets ("MM-YYYY") for fast "history of
    this item" queries
  - GlobalLedger: global day buckets ("YYYY/MM/DD") for fleet-wide audit
    and reporting

  Partitioning bounds read cost to O(partitions-in-range) instead of
  O(total-transactions-ever).

BEST-EFFORT CONTRACT:
  Appends happen after the engine's atomic phase commits and are NOT part
  of that transaction. A failed append is logged by the engine and never
  rolls back or fails the custody change.

APPEND ATOMICITY:
  A bucket's transactions array only grows. When the store resolves
  ArrayUnion atomically the append has no read-modify-write race. Otherwise
  bucket writes are serialized per partition key via an in-process lock;
  concurrent appends from other processes can still race and lose an entry,
  a documented limitation of such stores.

SEE ALSO:
  - engine.go: The only writer
  - types.go:  Partition key formats (persisted layout)
*/
package custody

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/toolroom/docstore"
)

// =============================================================================
// ITEM LEDGER - per-item month buckets
// =============================================================================

type ItemLedger struct {
	Store docstore.Store
	Clock Clock

	locks keyedLocks
}

func NewItemLedger(store docstore.Store) *ItemLedger {
	return &ItemLedger{Store: store, Clock: docstore.RealClock{}}
}

// Append writes entry into the current month bucket of its item.
func (l *ItemLedger) Append(ctx context.Context, entry HistoryEntry) error {
	key := MonthKey(l.Clock.Now())
	ref := ItemBucketRef(entry.ItemID, key)
	if err := appendToBucket(ctx, l.Store, &l.locks, ref, entry); err != nil {
		return fmt.Errorf("item ledger %s: %w", ref, err)
	}
	return nil
}

// Query returns the item's history entries in [from, to], newest first,
// truncated to limit (limit <= 0 means no truncation). Missing buckets are
// skipped, not errors.
func (l *ItemLedger) Query(ctx context.Context, itemID string, from, to time.Time, limit int) ([]HistoryEntry, error) {
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	var entries []HistoryEntry
	for _, key := range monthKeysInRange(from, to) {
		bucket, err := readBucket(ctx, l.Store, ItemBucketRef(itemID, key))
		if err != nil {
			return nil, err
		}
		entries = append(entries, bucket...)
	}
	return finishQuery(entries, from, to, limit), nil
}

// =============================================================================
// GLOBAL LEDGER - fleet-wide day buckets
// =============================================================================

type GlobalLedger struct {
	Store docstore.Store
	Clock Clock

	locks keyedLocks
}

func NewGlobalLedger(store docstore.Store) *GlobalLedger {
	return &GlobalLedger{Store: store, Clock: docstore.RealClock{}}
}

// Append writes entry into the current day bucket.
func (l *GlobalLedger) Append(ctx context.Context, entry HistoryEntry) error {
	key := DayKey(l.Clock.Now())
	ref := GlobalBucketRef(key)
	if err := appendToBucket(ctx, l.Store, &l.locks, ref, entry); err != nil {
		return fmt.Errorf("global ledger %s: %w", ref, err)
	}
	return nil
}

// Query returns all items' history entries in [from, to], newest first,
// truncated to limit (limit <= 0 means no truncation).
func (l *GlobalLedger) Query(ctx context.Context, from, to time.Time, limit int) ([]HistoryEntry, error) {
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	var entries []HistoryEntry
	for _, key := range dayKeysInRange(from, to) {
		bucket, err := readBucket(ctx, l.Store, GlobalBucketRef(key))
		if err != nil {
			return nil, err
		}
		entries = append(entries, bucket...)
	}
	return finishQuery(entries, from, to, limit), nil
}

// =============================================================================
// BUCKET ACCESS
// =============================================================================

func appendToBucket(ctx context.Context, store docstore.Store, locks *keyedLocks, ref docstore.Ref, entry HistoryEntry) error {
	doc := entryToDoc(entry)

	if docstore.SupportsAtomicArrays(store) {
		return store.Set(ctx, ref, docstore.Document{
			"transactions": docstore.ArrayUnion(doc),
			"updatedAt":    docstore.ServerTimestamp,
		}, true)
	}

	// Read-modify-write fallback, serialized per partition key.
	unlock := locks.lock(ref.String())
	defer unlock()

	existing, err := store.Get(ctx, ref)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	arr, _ := existing["transactions"].([]any)
	arr = append(arr, doc)

	return store.Set(ctx, ref, docstore.Document{
		"transactions": arr,
		"updatedAt":    docstore.ServerTimestamp,
	}, true)
}

func readBucket(ctx context.Context, store docstore.Store, ref docstore.Ref) ([]HistoryEntry, error) {
	doc, err := store.Get(ctx, ref)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	arr, _ := doc["transactions"].([]any)
	entries := make([]HistoryEntry, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			entries = append(entries, entryFromDoc(m))
		}
	}
	return entries, nil
}

func finishQuery(entries []HistoryEntry, from, to time.Time, limit int) []HistoryEntry {
	filtered := entries[:0]
	for _, e := range entries {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// =============================================================================
// PARTITION ENUMERATION
// =============================================================================

func monthKeysInRange(from, to time.Time) []string {
	from, to = from.UTC(), to.UTC()
	cur := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)

	var keys []string
	for !cur.After(last) {
		keys = append(keys, MonthKey(cur))
		cur = cur.AddDate(0, 1, 0)
	}
	return keys
}

func dayKeysInRange(from, to time.Time) []string {
	from, to = from.UTC(), to.UTC()
	cur := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)

	var keys []string
	for !cur.After(last) {
		keys = append(keys, DayKey(cur))
		cur = cur.AddDate(0, 0, 1)
	}
	return keys
}

// =============================================================================
// PER-KEY LOCKS
// =============================================================================

// keyedLocks serializes bucket writes per partition key within this process.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
