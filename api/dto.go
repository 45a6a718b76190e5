/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model from
  the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/toolroom/custody"
)

// =============================================================================
// ITEMS / STAFF
// =============================================================================

type ItemDTO struct {
	ID               string `json:"id"`
	UniqueID         string `json:"uniqueId"`
	Kind             string `json:"kind"`
	Name             string `json:"name"`
	Status           string `json:"status,omitempty"`
	CurrentHolderUID string `json:"currentHolderUid,omitempty"`
	CurrentQuantity  string `json:"currentQuantity,omitempty"`

	LastAssignedToName    string     `json:"lastAssignedToName,omitempty"`
	LastAssignedToJobCode string     `json:"lastAssignedToJobCode,omitempty"`
	LastAssignedByName    string     `json:"lastAssignedByName,omitempty"`
	LastAssignedAt        *time.Time `json:"lastAssignedAt,omitempty"`
	LastCheckinAt         *time.Time `json:"lastCheckinAt,omitempty"`
	LastCheckinByName     string     `json:"lastCheckinByName,omitempty"`
}

func itemDTO(item *custody.Item) ItemDTO {
	dto := ItemDTO{
		ID:                    item.ID,
		UniqueID:              item.UniqueID,
		Kind:                  string(item.Kind),
		Name:                  item.Name,
		CurrentHolderUID:      item.CurrentHolderUID,
		LastAssignedToName:    item.LastAssignedToName,
		LastAssignedToJobCode: item.LastAssignedToJobCode,
		LastAssignedByName:    item.LastAssignedByName,
		LastAssignedAt:        item.LastAssignedAt,
		LastCheckinAt:         item.LastCheckinAt,
		LastCheckinByName:     item.LastCheckinByName,
	}
	switch item.Kind {
	case custody.KindTool:
		dto.Status = string(item.Status)
	case custody.KindConsumable:
		dto.CurrentQuantity = item.CurrentQuantity.String()
	}
	return dto
}

type StaffDTO struct {
	UID             string   `json:"uid"`
	Name            string   `json:"name"`
	JobCode         string   `json:"jobCode,omitempty"`
	Active          bool     `json:"active"`
	AssignedItemIDs []string `json:"assignedItemIds"`
}

func staffDTO(s *custody.Staff) StaffDTO {
	ids := s.AssignedItemIDs
	if ids == nil {
		ids = []string{}
	}
	return StaffDTO{
		UID:             s.UID,
		Name:            s.Name,
		JobCode:         s.JobCode,
		Active:          s.Active,
		AssignedItemIDs: ids,
	}
}

type CreateItemRequest struct {
	ID              string `json:"id"`
	UniqueID        string `json:"uniqueId"`
	Kind            string `json:"kind"`
	Name            string `json:"name"`
	InitialQuantity string `json:"initialQuantity,omitempty"` // consumables
}

type CreateStaffRequest struct {
	UID     string `json:"uid"`
	Name    string `json:"name"`
	JobCode string `json:"jobCode,omitempty"`
	Active  *bool  `json:"active,omitempty"` // default true
}

// =============================================================================
// CUSTODY OPERATIONS
// =============================================================================

type CheckoutRequest struct {
	StaffUID       string `json:"staffUid"`
	ActingStaffUID string `json:"actingStaffUid"`
	Notes          string `json:"notes,omitempty"`
}

type CheckinRequest struct {
	ActingStaffUID string `json:"actingStaffUid"`
	Notes          string `json:"notes,omitempty"`
}

type QuantityRequest struct {
	Quantity       string `json:"quantity"`
	ActingStaffUID string `json:"actingStaffUid"`
	Notes          string `json:"notes,omitempty"`
}

// =============================================================================
// HISTORY
// =============================================================================

type HistoryEntryDTO struct {
	ID                 string           `json:"id"`
	Action             string           `json:"action"`
	ItemID             string           `json:"itemId"`
	ByStaffUID         string           `json:"byStaffUid"`
	AssignedToStaffUID string           `json:"assignedToStaffUid,omitempty"`
	BatchID            string           `json:"batchId,omitempty"`
	Timestamp          time.Time        `json:"timestamp"`
	Quantity           string           `json:"quantity,omitempty"`
	Notes              string           `json:"notes,omitempty"`
	Metadata           EntryMetadataDTO `json:"metadata"`
}

type EntryMetadataDTO struct {
	StaffName    string `json:"staffName,omitempty"`
	StaffJobCode string `json:"staffJobCode,omitempty"`
	ItemName     string `json:"itemName,omitempty"`
	ItemUniqueID string `json:"itemUniqueId,omitempty"`
	AdminName    string `json:"adminName,omitempty"`
}

func historyEntryDTO(e custody.HistoryEntry) HistoryEntryDTO {
	dto := HistoryEntryDTO{
		ID:                 e.ID,
		Action:             string(e.Action),
		ItemID:             e.ItemID,
		ByStaffUID:         e.ByStaffUID,
		AssignedToStaffUID: e.AssignedToStaffUID,
		BatchID:            e.BatchID,
		Timestamp:          e.Timestamp,
		Notes:              e.Notes,
		Metadata: EntryMetadataDTO{
			StaffName:    e.Meta.StaffName,
			StaffJobCode: e.Meta.StaffJobCode,
			ItemName:     e.Meta.ItemName,
			ItemUniqueID: e.Meta.ItemUniqueID,
			AdminName:    e.Meta.AdminName,
		},
	}
	if e.Quantity != nil {
		dto.Quantity = e.Quantity.String()
	}
	return dto
}

// =============================================================================
// BATCHES
// =============================================================================

type CreateBatchRequest struct {
	// Type is empty for a tool batch (checkout/checkin inferred from the
	// first scan), or "usage"/"restock" for consumable batches.
	Type string `json:"type,omitempty"`
}

type BatchSessionDTO struct {
	SessionID string   `json:"sessionId"`
	Type      string   `json:"type,omitempty"`
	ItemIDs   []string `json:"itemIds"`
}

type ScanRequest struct {
	ItemID   string `json:"itemId"`
	Quantity string `json:"quantity,omitempty"` // consumable batches
}

type SubmitBatchRequest struct {
	StaffUID       string `json:"staffUid,omitempty"` // checkout batches
	ActingStaffUID string `json:"actingStaffUid"`
	Notes          string `json:"notes,omitempty"`
}

type BatchReportDTO struct {
	BatchID   string           `json:"batchId"`
	Type      string           `json:"type"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []BatchResultDTO `json:"results"`
}

type BatchResultDTO struct {
	ItemID   string `json:"itemId"`
	UniqueID string `json:"uniqueId,omitempty"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

func batchReportDTO(report *custody.BatchReport) BatchReportDTO {
	dto := BatchReportDTO{
		BatchID:   report.BatchID,
		Type:      string(report.Type),
		Succeeded: report.Succeeded(),
		Failed:    report.Failed(),
	}
	for _, res := range report.Results {
		r := BatchResultDTO{ItemID: res.ItemID, UniqueID: res.UniqueID, OK: res.Err == nil}
		if res.Err != nil {
			r.Error = res.Err.Error()
		}
		dto.Results = append(dto.Results, r)
	}
	return dto
}
