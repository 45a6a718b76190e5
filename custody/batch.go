/*
batch.go - Batch coordinator for scanned multi-item operations

PURPOSE:
  Accumulates scanned items into a homogeneous batch, then drives the
  engine once per item on submit. A batch may be all-checkout or
  all-checkin (type inferred from the first scanned tool's status), or an
  explicitly chosen consumable usage/restock batch.

STATE MACHINE:
  Empty -> Checkout | Checkin      (first valid tool scan, by item status)
  Empty -> Usage | Restock         (explicit, consumables)
  A mismatched or duplicate scan is rejected and reported; it never changes
  the established type or the accumulated item list.

SUBMIT:
  Submit generates one shared batch id, then invokes the engine
  sequentially per item. Each item's custody mutation is independently
  atomic; the batch as a whole is NOT - partial success is expected and
  reported per item, never fail-fast. One bad item must not block the rest.

SEE ALSO:
  - engine.go: Per-item atomic operations
*/
package custody

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BatchType string

const (
	BatchCheckout BatchType = "checkout"
	BatchCheckin  BatchType = "checkin"
	BatchUsage    BatchType = "usage"
	BatchRestock  BatchType = "restock"
)

// ItemGetter is how the coordinator inspects an item's current state at
// scan time. Implemented by Registry and InventoryCache.
type ItemGetter interface {
	GetItem(ctx context.Context, itemID string) (*Item, error)
}

// Batch accumulates scanned items. Safe for concurrent use.
type Batch struct {
	mu      sync.Mutex
	engine  *Engine
	items   ItemGetter
	typ     BatchType // "" until established
	scanned []scannedItem
	seen    map[string]bool
}

type scannedItem struct {
	itemID   string
	uniqueID string
	qty      decimal.Decimal // usage/restock only
}

// NewBatch creates an empty tool batch; its type is inferred from the first
// scanned item's status.
func NewBatch(engine *Engine, items ItemGetter) *Batch {
	return &Batch{engine: engine, items: items, seen: make(map[string]bool)}
}

// NewConsumableBatch creates a batch with an explicitly selected consumable
// mode (BatchUsage or BatchRestock).
func NewConsumableBatch(engine *Engine, items ItemGetter, typ BatchType) (*Batch, error) {
	if typ != BatchUsage && typ != BatchRestock {
		return nil, ErrBatchTypeMismatch
	}
	b := NewBatch(engine, items)
	b.typ = typ
	return b, nil
}

// Type returns the established batch type, or "" while the batch is empty.
func (b *Batch) Type() BatchType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.typ
}

// Len returns the number of accumulated items.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.scanned)
}

// ItemIDs returns the accumulated item ids, in scan order.
func (b *Batch) ItemIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, len(b.scanned))
	for i, s := range b.scanned {
		ids[i] = s.itemID
	}
	return ids
}

// =============================================================================
// SCAN
// =============================================================================

// Scan adds a tool to the batch. The first valid scan establishes the batch
// type from the item's status; later scans must match it. Rejections leave
// the batch unchanged.
func (b *Batch) Scan(ctx context.Context, itemID string) error {
	item, err := b.items.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Kind != KindTool {
		return ErrKindMismatch
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.seen[itemID] {
		return ErrDuplicateScan
	}

	switch b.typ {
	case "":
		if item.Status == StatusAvailable {
			b.typ = BatchCheckout
		} else {
			b.typ = BatchCheckin
		}
	case BatchCheckout:
		if item.Status != StatusAvailable {
			return ErrBatchTypeMismatch
		}
	case BatchCheckin:
		if item.Status != StatusCheckedOut {
			return ErrBatchTypeMismatch
		}
	default:
		// Consumable batch: tools don't belong here.
		return ErrBatchTypeMismatch
	}

	b.scanned = append(b.scanned, scannedItem{itemID: item.ID, uniqueID: item.UniqueID})
	b.seen[itemID] = true
	return nil
}

// ScanQuantity adds a consumable with a quantity to a usage/restock batch.
func (b *Batch) ScanQuantity(ctx context.Context, itemID string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return ErrInvalidQuantity
	}
	item, err := b.items.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Kind != KindConsumable {
		return ErrKindMismatch
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.typ != BatchUsage && b.typ != BatchRestock {
		return ErrBatchTypeMismatch
	}
	if b.seen[itemID] {
		return ErrDuplicateScan
	}

	b.scanned = append(b.scanned, scannedItem{itemID: item.ID, uniqueID: item.UniqueID, qty: qty})
	b.seen[itemID] = true
	return nil
}

// Clear resets the batch to Empty, discarding the item list. A consumable
// batch keeps its explicitly selected mode.
func (b *Batch) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scanned = nil
	b.seen = make(map[string]bool)
	if b.typ == BatchCheckout || b.typ == BatchCheckin {
		b.typ = ""
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

// BatchReport aggregates per-item outcomes of a submitted batch.
type BatchReport struct {
	BatchID string
	Type    BatchType
	Results []BatchResult
}

// BatchResult is the outcome for one item. Err is nil on success.
type BatchResult struct {
	ItemID   string
	UniqueID string
	Err      error
}

func (r *BatchReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

func (r *BatchReport) Failed() int { return len(r.Results) - r.Succeeded() }

// Submit drives the engine once per accumulated item, sharing one generated
// batch id across all resulting history entries. staffUID is the assignee
// for checkout batches and ignored otherwise. The accumulated item list is
// consumed; per-item failures are reported, not propagated.
func (b *Batch) Submit(ctx context.Context, staffUID, actingStaffUID string, opts TxOptions) (*BatchReport, error) {
	b.mu.Lock()
	typ := b.typ
	items := b.scanned
	b.scanned = nil
	b.seen = make(map[string]bool)
	if typ == BatchCheckout || typ == BatchCheckin {
		b.typ = ""
	}
	b.mu.Unlock()

	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}

	opts.BatchID = newBatchID()
	report := &BatchReport{BatchID: opts.BatchID, Type: typ}

	for _, s := range items {
		var err error
		switch typ {
		case BatchCheckout:
			err = b.engine.Checkout(ctx, s.itemID, staffUID, actingStaffUID, opts)
		case BatchCheckin:
			err = b.engine.Checkin(ctx, s.itemID, actingStaffUID, opts)
		case BatchUsage:
			err = b.engine.Consume(ctx, s.itemID, s.qty, actingStaffUID, opts)
		case BatchRestock:
			err = b.engine.Restock(ctx, s.itemID, s.qty, actingStaffUID, opts)
		}
		report.Results = append(report.Results, BatchResult{
			ItemID:   s.itemID,
			UniqueID: s.uniqueID,
			Err:      err,
		})
	}
	return report, nil
}

// newBatchID is a seam for deterministic tests.
var newBatchID = func() string { return uuid.NewString() }
