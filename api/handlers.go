/*
handlers.go - HTTP API handlers for the custody engine

PURPOSE:
  Exposes the custody core via REST. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Items:
    GET    /api/items                  List items (cached snapshot)
    POST   /api/items                  Create item
    GET    /api/items/{id}             Get item (instant status included)
    GET    /api/items/{id}/history     Per-item history
    POST   /api/items/{id}/checkout    Check a tool out
    POST   /api/items/{id}/checkin     Check a tool back in
    POST   /api/items/{id}/consume     Take consumable stock
    POST   /api/items/{id}/restock     Return consumable stock

  Staff:
    GET    /api/staff                  List staff
    POST   /api/staff                  Create staff
    GET    /api/staff/{uid}            Get staff (assigned items included)

  History:
    GET    /api/history                Global history

  Batches (server-held scan sessions):
    POST   /api/batches                Start a session
    GET    /api/batches/{id}           Session state
    POST   /api/batches/{id}/scan      Scan an item in
    POST   /api/batches/{id}/submit    Submit; returns per-item report
    DELETE /api/batches/{id}           Clear/discard session

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input
  - 404: Item/staff/session not found
  - 409: Precondition failed, transaction conflict, batch validation
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/toolroom/custody"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Registry      *custody.Registry
	Engine        *custody.Engine
	ItemHistory   *custody.ItemLedger
	GlobalHistory *custody.GlobalLedger
	Inventory     *custody.InventoryCache
	History       *custody.HistoryCache
	Log           *zap.Logger

	sessions *batchSessions
}

// NewHandler wires a handler over a fully constructed custody stack.
func NewHandler(reg *custody.Registry, engine *custody.Engine, inv *custody.InventoryCache, log *zap.Logger) *Handler {
	return &Handler{
		Registry:      reg,
		Engine:        engine,
		ItemHistory:   custody.NewItemLedger(engine.Store),
		GlobalHistory: custody.NewGlobalLedger(engine.Store),
		Inventory:     inv,
		History:       custody.NewHistoryCache(256, 30*time.Second),
		Log:           log,
		sessions:      newBatchSessions(),
	}
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Registry.ListItems(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items", err)
		return
	}
	dtos := make([]ItemDTO, len(items))
	for i, item := range items {
		dtos[i] = itemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" || req.UniqueID == "" {
		writeError(w, http.StatusBadRequest, "id and uniqueId are required", nil)
		return
	}
	kind := custody.ItemKind(req.Kind)
	if kind != custody.KindTool && kind != custody.KindConsumable {
		writeError(w, http.StatusBadRequest, "kind must be tool or consumable", nil)
		return
	}

	item := &custody.Item{ID: req.ID, UniqueID: req.UniqueID, Kind: kind, Name: req.Name}
	if kind == custody.KindConsumable && req.InitialQuantity != "" {
		qty, err := decimal.NewFromString(req.InitialQuantity)
		if err != nil || qty.IsNegative() {
			writeError(w, http.StatusBadRequest, "invalid initialQuantity", err)
			return
		}
		item.CurrentQuantity = qty
	}
	if err := h.Registry.PutItem(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create item", err)
		return
	}
	writeJSON(w, http.StatusCreated, itemDTO(item))
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Registry.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemDTO(item))
}

// =============================================================================
// CUSTODY HANDLERS
// =============================================================================

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.StaffUID == "" || req.ActingStaffUID == "" {
		writeError(w, http.StatusBadRequest, "staffUid and actingStaffUid are required", nil)
		return
	}

	itemID := chi.URLParam(r, "id")
	err := h.Engine.Checkout(r.Context(), itemID, req.StaffUID, req.ActingStaffUID,
		custody.TxOptions{Notes: req.Notes})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.respondWithItem(w, r, itemID)
}

func (h *Handler) Checkin(w http.ResponseWriter, r *http.Request) {
	var req CheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ActingStaffUID == "" {
		writeError(w, http.StatusBadRequest, "actingStaffUid is required", nil)
		return
	}

	itemID := chi.URLParam(r, "id")
	err := h.Engine.Checkin(r.Context(), itemID, req.ActingStaffUID,
		custody.TxOptions{Notes: req.Notes})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.respondWithItem(w, r, itemID)
}

func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	h.adjustStock(w, r, false)
}

func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	h.adjustStock(w, r, true)
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request, restock bool) {
	var req QuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ActingStaffUID == "" {
		writeError(w, http.StatusBadRequest, "actingStaffUid is required", nil)
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quantity", err)
		return
	}

	itemID := chi.URLParam(r, "id")
	opts := custody.TxOptions{Notes: req.Notes}
	if restock {
		err = h.Engine.Restock(r.Context(), itemID, qty, req.ActingStaffUID, opts)
	} else {
		err = h.Engine.Consume(r.Context(), itemID, qty, req.ActingStaffUID, opts)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.respondWithItem(w, r, itemID)
}

// respondWithItem returns the item's fresh post-operation state, read
// directly from the store (zero ledger reads).
func (h *Handler) respondWithItem(w http.ResponseWriter, r *http.Request, itemID string) {
	item, err := h.Registry.GetItem(r.Context(), itemID)
	if err != nil {
		// The operation succeeded; report that even if the re-read failed.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, itemDTO(item))
}

// =============================================================================
// STAFF HANDLERS
// =============================================================================

func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.Registry.ListStaff(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list staff", err)
		return
	}
	dtos := make([]StaffDTO, len(staff))
	for i, s := range staff {
		dtos[i] = staffDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req CreateStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.UID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "uid and name are required", nil)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	s := &custody.Staff{UID: req.UID, Name: req.Name, JobCode: req.JobCode, Active: active}
	if err := h.Registry.PutStaff(r.Context(), s); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create staff", err)
		return
	}
	writeJSON(w, http.StatusCreated, staffDTO(s))
}

func (h *Handler) GetStaff(w http.ResponseWriter, r *http.Request) {
	s, err := h.Registry.GetStaff(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, staffDTO(s))
}

// =============================================================================
// HISTORY HANDLERS
// =============================================================================

func (h *Handler) GetItemHistory(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	from, to, limit, err := historyParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid history range", err)
		return
	}

	key := custody.HistoryCacheKey(itemID, from, to, limit)
	entries, ok := h.History.Get(key)
	if !ok {
		entries, err = h.ItemHistory.Query(r.Context(), itemID, from, to, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		h.History.Add(key, entries)
	}
	writeHistory(w, entries)
}

func (h *Handler) GetGlobalHistory(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := historyParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid history range", err)
		return
	}

	key := custody.HistoryCacheKey("", from, to, limit)
	entries, ok := h.History.Get(key)
	if !ok {
		entries, err = h.GlobalHistory.Query(r.Context(), from, to, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		h.History.Add(key, entries)
	}
	writeHistory(w, entries)
}

func writeHistory(w http.ResponseWriter, entries []custody.HistoryEntry) {
	dtos := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = historyEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// historyParams parses from/to/limit query parameters. Defaults: the last
// 30 days, limit 100.
func historyParams(r *http.Request) (from, to time.Time, limit int, err error) {
	now := time.Now().UTC()
	to = now
	from = now.AddDate(0, 0, -30)
	limit = 100

	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		from, err = parseDate(v)
		if err != nil {
			return
		}
	}
	if v := q.Get("to"); v != "" {
		to, err = parseDate(v)
		if err != nil {
			return
		}
		// A bare date means "through the end of that day".
		if len(v) == len("2006-01-02") {
			to = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
	}
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			return
		}
	}
	return
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	return t.UTC(), err
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := map[string]string{"error": msg}
	if err != nil {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case custody.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case custody.IsPrecondition(err) || custody.IsRetryable(err):
		writeError(w, http.StatusConflict, "operation rejected", err)
	case errors.Is(err, custody.ErrDuplicateScan),
		errors.Is(err, custody.ErrBatchTypeMismatch):
		writeError(w, http.StatusConflict, "scan rejected", err)
	case errors.Is(err, custody.ErrInvalidQuantity),
		errors.Is(err, custody.ErrInvalidRange),
		errors.Is(err, custody.ErrEmptyBatch):
		writeError(w, http.StatusBadRequest, "invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}
