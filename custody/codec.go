/*
codec.go - Domain type <-> document conversion

PURPOSE:
  Maps Item, Staff and HistoryEntry to the docstore's schemaless documents
  and back. Field names here are persisted layout - renaming breaks
  compatibility with existing data.

DECODING TOLERANCE:
  Documents may come straight from the in-memory store (native time.Time,
  []any) or from a JSON round-trip (RFC3339 strings, float64). The helpers
  at the bottom accept both shapes.

SEE ALSO:
  - engine.go: Writes partial documents (merge sets) built from these names
  - store/sqlite: The JSON round-trip case
*/
package custody

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/toolroom/docstore"
)

// =============================================================================
// ITEM
// =============================================================================

func itemToDoc(item *Item) docstore.Document {
	doc := docstore.Document{
		"id":               item.ID,
		"uniqueId":         item.UniqueID,
		"kind":             string(item.Kind),
		"name":             item.Name,
		"status":           string(item.Status),
		"currentHolderUid": item.CurrentHolderUID,
		"currentQuantity":  item.CurrentQuantity.String(),
	}
	doc["lastAssignedToName"] = item.LastAssignedToName
	doc["lastAssignedToJobCode"] = item.LastAssignedToJobCode
	doc["lastAssignedByName"] = item.LastAssignedByName
	doc["lastCheckinByName"] = item.LastCheckinByName
	if item.LastAssignedAt != nil {
		doc["lastAssignedAt"] = *item.LastAssignedAt
	}
	if item.LastCheckinAt != nil {
		doc["lastCheckinAt"] = *item.LastCheckinAt
	}
	return doc
}

func itemFromDoc(doc docstore.Document) *Item {
	return &Item{
		ID:               docString(doc, "id"),
		UniqueID:         docString(doc, "uniqueId"),
		Kind:             ItemKind(docString(doc, "kind")),
		Name:             docString(doc, "name"),
		Status:           ItemStatus(docString(doc, "status")),
		CurrentHolderUID: docString(doc, "currentHolderUid"),
		CurrentQuantity:  docDecimal(doc, "currentQuantity"),
		InstantStatus: InstantStatus{
			LastAssignedToName:    docString(doc, "lastAssignedToName"),
			LastAssignedToJobCode: docString(doc, "lastAssignedToJobCode"),
			LastAssignedByName:    docString(doc, "lastAssignedByName"),
			LastAssignedAt:        docTimePtr(doc, "lastAssignedAt"),
			LastCheckinAt:         docTimePtr(doc, "lastCheckinAt"),
			LastCheckinByName:     docString(doc, "lastCheckinByName"),
		},
	}
}

// =============================================================================
// STAFF
// =============================================================================

func staffToDoc(s *Staff) docstore.Document {
	ids := make([]any, len(s.AssignedItemIDs))
	for i, id := range s.AssignedItemIDs {
		ids[i] = id
	}
	return docstore.Document{
		"uid":             s.UID,
		"name":            s.Name,
		"jobCode":         s.JobCode,
		"active":          s.Active,
		"assignedItemIds": ids,
	}
}

func staffFromDoc(doc docstore.Document) *Staff {
	return &Staff{
		UID:             docString(doc, "uid"),
		Name:            docString(doc, "name"),
		JobCode:         docString(doc, "jobCode"),
		Active:          docBool(doc, "active"),
		AssignedItemIDs: docStringSlice(doc, "assignedItemIds"),
	}
}

// =============================================================================
// HISTORY ENTRY
// =============================================================================

func entryToDoc(e HistoryEntry) docstore.Document {
	doc := docstore.Document{
		"id":         e.ID,
		"action":     string(e.Action),
		"itemId":     e.ItemID,
		"byStaffUid": e.ByStaffUID,
		"metadata": map[string]any{
			"staffName":    e.Meta.StaffName,
			"staffJobCode": e.Meta.StaffJobCode,
			"itemName":     e.Meta.ItemName,
			"itemUniqueId": e.Meta.ItemUniqueID,
			"adminName":    e.Meta.AdminName,
		},
	}
	if e.AssignedToStaffUID != "" {
		doc["assignedToStaffUid"] = e.AssignedToStaffUID
	}
	if e.BatchID != "" {
		doc["batchId"] = e.BatchID
	}
	if e.Notes != "" {
		doc["notes"] = e.Notes
	}
	if e.Quantity != nil {
		doc["quantity"] = e.Quantity.String()
	}
	if e.Timestamp.IsZero() {
		doc["timestamp"] = docstore.ServerTimestamp
	} else {
		doc["timestamp"] = e.Timestamp
	}
	return doc
}

func entryFromDoc(doc docstore.Document) HistoryEntry {
	entry := HistoryEntry{
		ID:                 docString(doc, "id"),
		Action:             Action(docString(doc, "action")),
		ItemID:             docString(doc, "itemId"),
		ByStaffUID:         docString(doc, "byStaffUid"),
		AssignedToStaffUID: docString(doc, "assignedToStaffUid"),
		BatchID:            docString(doc, "batchId"),
		Notes:              docString(doc, "notes"),
	}
	if ts := docTimePtr(doc, "timestamp"); ts != nil {
		entry.Timestamp = *ts
	}
	if _, ok := doc["quantity"]; ok {
		q := docDecimal(doc, "quantity")
		entry.Quantity = &q
	}
	if meta, ok := doc["metadata"].(map[string]any); ok {
		entry.Meta = EntryMeta{
			StaffName:    docString(meta, "staffName"),
			StaffJobCode: docString(meta, "staffJobCode"),
			ItemName:     docString(meta, "itemName"),
			ItemUniqueID: docString(meta, "itemUniqueId"),
			AdminName:    docString(meta, "adminName"),
		}
	}
	return entry
}

// =============================================================================
// VALUE HELPERS
// =============================================================================

func docString(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func docBool(doc map[string]any, key string) bool {
	b, _ := doc[key].(bool)
	return b
}

func docStringSlice(doc map[string]any, key string) []string {
	arr, _ := doc[key].([]any)
	var out []string
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func docDecimal(doc map[string]any, key string) decimal.Decimal {
	switch v := doc[key].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	}
	return decimal.Zero
}

func docTimePtr(doc map[string]any, key string) *time.Time {
	switch v := doc[key].(type) {
	case time.Time:
		t := v.UTC()
		return &t
	case string:
		// JSON round-trip shape
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
