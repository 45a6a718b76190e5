/*
Package custody provides the tool/consumable custody core.

PURPOSE:
  This package contains the transactional check-out/check-in engine and its
  layered history logging. The atomic custody mutation (item + staff record)
  is the source of truth for "who holds this item"; the history ledgers are
  observability artifacts written best-effort after the fact.

KEY CONCEPTS IN THIS FILE (types.go):
  - Item: A tool (discrete, one holder at a time) or consumable (quantity)
  - Staff: A staff member and the set of item ids they currently hold
  - HistoryEntry: An immutable audit record of one custody event
  - InstantStatus: Denormalized latest-event fields embedded on the item

DESIGN PRINCIPLES:
  1. Custody first: the atomic item/staff mutation always wins; a missing
     history entry is acceptable degradation, a wrong custody state is not
  2. Immutability: history entries are never updated or deleted
  3. Precision: consumable quantities use decimal.Decimal
  4. Denormalized snapshots: entries carry human-readable names captured at
     write time so history stays readable after renames

SEE ALSO:
  - engine.go: The transaction engine (checkout/checkin/consume/restock)
  - ledger.go: Month/day-partitioned history buckets
  - batch.go:  Batch coordinator for scanned multi-item operations
*/
package custody

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/toolroom/docstore"
)

// =============================================================================
// ITEM - Tool or Consumable
// =============================================================================

type ItemKind string

const (
	KindTool       ItemKind = "tool"
	KindConsumable ItemKind = "consumable"
)

type ItemStatus string

const (
	StatusAvailable  ItemStatus = "available"
	StatusCheckedOut ItemStatus = "checked_out"
)

// Item is a trackable workshop asset. Tools carry Status/CurrentHolderUID;
// consumables carry CurrentQuantity. Mutated exclusively by the Engine.
type Item struct {
	ID       string // internal id
	UniqueID string // human-scannable code, e.g. "T1234", "C0001"
	Kind     ItemKind
	Name     string

	// Custody state (tools)
	Status           ItemStatus
	CurrentHolderUID string // empty = no holder

	// Stock state (consumables)
	CurrentQuantity decimal.Decimal

	InstantStatus
}

// InstantStatus caches the most recent assignment/return event directly on
// the item so status queries need zero secondary lookups. These fields are
// derived from the latest history event and must never drift from it after
// a successful transaction.
type InstantStatus struct {
	LastAssignedToName    string
	LastAssignedToJobCode string
	LastAssignedByName    string
	LastAssignedAt        *time.Time
	LastCheckinAt         *time.Time
	LastCheckinByName     string
}

// =============================================================================
// STAFF
// =============================================================================

// Staff is a staff member. AssignedItemIDs is mutated atomically alongside
// the item in the same store transaction.
type Staff struct {
	UID             string
	Name            string
	JobCode         string
	Active          bool
	AssignedItemIDs []string
}

// Holds reports whether the staff member currently holds itemID.
func (s *Staff) Holds(itemID string) bool {
	for _, id := range s.AssignedItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// =============================================================================
// HISTORY ENTRY - immutable audit record
// =============================================================================

type Action string

const (
	ActionCheckout Action = "checkout"
	ActionCheckin  Action = "checkin"
	ActionUsage    Action = "usage"   // consumable stock taken
	ActionRestock  Action = "restock" // consumable stock returned
)

// EntryMeta is the denormalized name snapshot attached to every entry.
// A fixed struct rather than an open map: same snapshot semantics, but with
// compile-time shape checking.
type EntryMeta struct {
	StaffName    string
	StaffJobCode string
	ItemName     string
	ItemUniqueID string
	AdminName    string // acting staff (who performed the operation)
}

// HistoryEntry records one custody event. Once written it is never updated
// or deleted by normal operation.
type HistoryEntry struct {
	ID                 string // UUID
	Action             Action
	ItemID             string
	ByStaffUID         string // who performed the action
	AssignedToStaffUID string // checkout only
	BatchID            string // set when part of a batch
	Timestamp          time.Time
	Quantity           *decimal.Decimal // usage/restock only (magnitude)
	Notes              string
	Meta               EntryMeta
}

// =============================================================================
// COLLECTION LAYOUT
// =============================================================================

const (
	CollectionItems         = "items"
	CollectionStaff         = "staff"
	CollectionGlobalHistory = "global_history"
)

func ItemRef(id string) docstore.Ref {
	return docstore.NewRef(CollectionItems, id)
}

func StaffRef(uid string) docstore.Ref {
	return docstore.NewRef(CollectionStaff, uid)
}

// ItemHistoryCollection is the per-item sub-collection of month buckets.
func ItemHistoryCollection(itemID string) string {
	return CollectionItems + "/" + itemID + "/history"
}

func ItemBucketRef(itemID, monthKey string) docstore.Ref {
	return docstore.NewRef(ItemHistoryCollection(itemID), monthKey)
}

func GlobalBucketRef(dayKey string) docstore.Ref {
	return docstore.NewRef(CollectionGlobalHistory, dayKey)
}

// =============================================================================
// PARTITION KEYS
// =============================================================================
// The key formats are persisted layout: any change breaks compatibility with
// existing data.

// MonthKey returns the per-item ledger partition key, "MM-YYYY".
func MonthKey(t time.Time) string { return t.UTC().Format("01-2006") }

// DayKey returns the global ledger partition key, "YYYY/MM/DD".
func DayKey(t time.Time) string { return t.UTC().Format("2006/01/02") }

// Clock abstracts time retrieval so partition keys are deterministic in
// tests. Aliased from docstore so wiring shares one clock.
type Clock = docstore.Clock
