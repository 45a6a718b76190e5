/*
engine.go - The transactional custody engine

PURPOSE:
  Performs the atomic custody-state mutation (item + staff record) inside one
  store transaction, then appends an audit entry to the two history ledgers
  best-effort. The atomic phase is the source of truth; the ledgers may lag
  or occasionally drop an entry without compromising current state.

OPERATIONS:
  Checkout - tool: available -> checked_out, holder set, staff gains item id
  Checkin  - tool: checked_out -> available, holder cleared, staff loses id
  Consume  - consumable: stock decreases (staff list untouched)
  Restock  - consumable: stock increases

PHASES:
  1. Atomic: one RunTransaction covering exactly the item document and the
     staff document. Preconditions are re-checked inside the transaction, so
     a concurrent checkout loses cleanly with a PreconditionError rather
     than double-assigning. Store conflict retries are transparent; when
     they exhaust the caller sees ErrTransactionConflict.
  2. Best-effort: after the commit, one entry is appended to the per-item
     month bucket, then the global day bucket. Each append is independently
     wrapped; a failure is logged and never escalates or rolls anything back.

CANCELLATION:
  Both phases run on a context detached from the caller's. A started commit
  must reach the store even if the caller navigates away; otherwise the
  instant-status fields could desynchronize from actual custody.

SEE ALSO:
  - ledger.go: Bucket append/query
  - batch.go:  Drives this engine once per scanned item
*/
package custody

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/toolroom/docstore"
)

// HistoryAppender is the slice of the ledgers the engine needs. Tests inject
// failing implementations to prove ledger faults never fail the operation.
type HistoryAppender interface {
	Append(ctx context.Context, entry HistoryEntry) error
}

// Engine performs custody transactions. Fields are exported so wiring and
// tests can substitute parts; NewEngine fills sensible defaults.
type Engine struct {
	Store         docstore.Store
	ItemHistory   HistoryAppender
	GlobalHistory HistoryAppender
	Clock         Clock
	Log           *zap.Logger
}

func NewEngine(store docstore.Store) *Engine {
	return &Engine{
		Store:         store,
		ItemHistory:   NewItemLedger(store),
		GlobalHistory: NewGlobalLedger(store),
		Clock:         docstore.RealClock{},
		Log:           zap.NewNop(),
	}
}

// TxOptions carries the optional parameters shared by all operations.
type TxOptions struct {
	Notes   string
	BatchID string
}

// =============================================================================
// CHECKOUT / CHECKIN (tools)
// =============================================================================

// Checkout assigns an available tool to staffUID, acting on behalf of
// actingStaffUID. Returns nil once the atomic phase commits, regardless of
// ledger outcomes.
func (e *Engine) Checkout(ctx context.Context, itemID, staffUID, actingStaffUID string, opts TxOptions) error {
	// The commit must not be truncated by caller abandonment.
	ctx = context.WithoutCancel(ctx)

	actorName := e.staffName(ctx, actingStaffUID)

	var item *Item
	var assignee *Staff
	err := e.Store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var err error
		item, err = getItem(tx, itemID)
		if err != nil {
			return err
		}
		if item.Kind != KindTool {
			return ErrKindMismatch
		}
		if item.Status != StatusAvailable {
			return &PreconditionError{ItemID: itemID, Status: item.Status, Err: ErrAlreadyCheckedOut}
		}

		assignee, err = getStaff(tx, staffUID)
		if err != nil {
			return err
		}
		if !assignee.Active {
			return ErrStaffInactive
		}

		tx.Set(ItemRef(itemID), docstore.Document{
			"status":                string(StatusCheckedOut),
			"currentHolderUid":      staffUID,
			"lastAssignedToName":    assignee.Name,
			"lastAssignedToJobCode": assignee.JobCode,
			"lastAssignedByName":    actorName,
			"lastAssignedAt":        docstore.ServerTimestamp,
		}, true)
		tx.Set(StaffRef(staffUID), docstore.Document{
			"assignedItemIds": docstore.ArrayUnion(itemID),
		}, true)
		return nil
	})
	if err != nil {
		return mapConflict(err)
	}

	e.appendHistory(ctx, HistoryEntry{
		ID:                 uuid.NewString(),
		Action:             ActionCheckout,
		ItemID:             itemID,
		ByStaffUID:         actingStaffUID,
		AssignedToStaffUID: staffUID,
		BatchID:            opts.BatchID,
		Notes:              opts.Notes,
		Meta: EntryMeta{
			StaffName:    assignee.Name,
			StaffJobCode: assignee.JobCode,
			ItemName:     item.Name,
			ItemUniqueID: item.UniqueID,
			AdminName:    actorName,
		},
	})
	return nil
}

// Checkin returns a checked-out tool, clearing its holder. The holder's
// assignment list is updated in the same transaction; a missing holder
// record does not block the return of the tool itself.
func (e *Engine) Checkin(ctx context.Context, itemID, actingStaffUID string, opts TxOptions) error {
	ctx = context.WithoutCancel(ctx)

	actorName := e.staffName(ctx, actingStaffUID)

	var item *Item
	var holder *Staff
	err := e.Store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var err error
		item, err = getItem(tx, itemID)
		if err != nil {
			return err
		}
		if item.Kind != KindTool {
			return ErrKindMismatch
		}
		if item.Status != StatusCheckedOut {
			return &PreconditionError{ItemID: itemID, Status: item.Status, Err: ErrNotCheckedOut}
		}

		holder = nil
		if item.CurrentHolderUID != "" {
			holder, err = getStaff(tx, item.CurrentHolderUID)
			if err != nil && !errors.Is(err, ErrStaffNotFound) {
				return err
			}
		}

		tx.Set(ItemRef(itemID), docstore.Document{
			"status":            string(StatusAvailable),
			"currentHolderUid":  "",
			"lastCheckinAt":     docstore.ServerTimestamp,
			"lastCheckinByName": actorName,
		}, true)
		if holder != nil {
			tx.Set(StaffRef(holder.UID), docstore.Document{
				"assignedItemIds": docstore.ArrayRemove(itemID),
			}, true)
		}
		return nil
	})
	if err != nil {
		return mapConflict(err)
	}

	entry := HistoryEntry{
		ID:         uuid.NewString(),
		Action:     ActionCheckin,
		ItemID:     itemID,
		ByStaffUID: actingStaffUID,
		BatchID:    opts.BatchID,
		Notes:      opts.Notes,
		Meta: EntryMeta{
			ItemName:     item.Name,
			ItemUniqueID: item.UniqueID,
			AdminName:    actorName,
		},
	}
	if holder != nil {
		entry.Meta.StaffName = holder.Name
		entry.Meta.StaffJobCode = holder.JobCode
	}
	e.appendHistory(ctx, entry)
	return nil
}

// =============================================================================
// CONSUME / RESTOCK (consumables)
// =============================================================================

// Consume takes qty units of a consumable out of stock.
func (e *Engine) Consume(ctx context.Context, itemID string, qty decimal.Decimal, actingStaffUID string, opts TxOptions) error {
	return e.adjustStock(ctx, itemID, qty, actingStaffUID, opts, ActionUsage)
}

// Restock returns qty units of a consumable to stock.
func (e *Engine) Restock(ctx context.Context, itemID string, qty decimal.Decimal, actingStaffUID string, opts TxOptions) error {
	return e.adjustStock(ctx, itemID, qty, actingStaffUID, opts, ActionRestock)
}

func (e *Engine) adjustStock(ctx context.Context, itemID string, qty decimal.Decimal, actingStaffUID string, opts TxOptions, action Action) error {
	if !qty.IsPositive() {
		return ErrInvalidQuantity
	}
	ctx = context.WithoutCancel(ctx)

	actorName := e.staffName(ctx, actingStaffUID)

	var item *Item
	err := e.Store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var err error
		item, err = getItem(tx, itemID)
		if err != nil {
			return err
		}
		if item.Kind != KindConsumable {
			return ErrKindMismatch
		}

		newQty := item.CurrentQuantity
		update := docstore.Document{}
		switch action {
		case ActionUsage:
			if item.CurrentQuantity.LessThan(qty) {
				return &InsufficientQuantityError{
					ItemID:    itemID,
					Available: item.CurrentQuantity,
					Requested: qty,
				}
			}
			newQty = newQty.Sub(qty)
			update["lastAssignedByName"] = actorName
			update["lastAssignedAt"] = docstore.ServerTimestamp
		case ActionRestock:
			newQty = newQty.Add(qty)
			update["lastCheckinByName"] = actorName
			update["lastCheckinAt"] = docstore.ServerTimestamp
		}
		update["currentQuantity"] = newQty.String()

		tx.Set(ItemRef(itemID), update, true)
		return nil
	})
	if err != nil {
		return mapConflict(err)
	}

	e.appendHistory(ctx, HistoryEntry{
		ID:         uuid.NewString(),
		Action:     action,
		ItemID:     itemID,
		ByStaffUID: actingStaffUID,
		BatchID:    opts.BatchID,
		Notes:      opts.Notes,
		Quantity:   &qty,
		Meta: EntryMeta{
			ItemName:     item.Name,
			ItemUniqueID: item.UniqueID,
			AdminName:    actorName,
		},
	})
	return nil
}

// =============================================================================
// BEST-EFFORT PHASE
// =============================================================================

// appendHistory writes entry to both ledgers. Each append is independently
// wrapped: a failure is logged and never surfaced to the caller.
func (e *Engine) appendHistory(ctx context.Context, entry HistoryEntry) {
	if err := e.ItemHistory.Append(ctx, entry); err != nil {
		e.Log.Warn("item history append failed",
			zap.String("itemId", entry.ItemID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
	}
	if err := e.GlobalHistory.Append(ctx, entry); err != nil {
		e.Log.Warn("global history append failed",
			zap.String("itemId", entry.ItemID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func getItem(tx docstore.Tx, itemID string) (*Item, error) {
	doc, err := tx.Get(ItemRef(itemID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return itemFromDoc(doc), nil
}

func getStaff(tx docstore.Tx, uid string) (*Staff, error) {
	doc, err := tx.Get(StaffRef(uid))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrStaffNotFound
	}
	if err != nil {
		return nil, err
	}
	return staffFromDoc(doc), nil
}

// staffName resolves a display name for the acting staff member. The name is
// metadata only, so a missing record falls back to the uid.
func (e *Engine) staffName(ctx context.Context, uid string) string {
	doc, err := e.Store.Get(ctx, StaffRef(uid))
	if err != nil {
		return uid
	}
	if name := docString(doc, "name"); name != "" {
		return name
	}
	return uid
}

func mapConflict(err error) error {
	if errors.Is(err, docstore.ErrConflict) {
		return ErrTransactionConflict
	}
	return err
}
