/*
batches.go - Batch scan sessions over HTTP

PURPOSE:
  The batch coordinator is ephemeral client-side state in spirit; behind an
  HTTP surface it becomes a server-held session registry keyed by a session
  id. The session id is a handle only - the batch id shared by the history
  entries is generated at submit time by the coordinator itself.

SEE ALSO:
  - custody/batch.go: The state machine driven here
*/
package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/toolroom/custody"
)

// =============================================================================
// SESSION REGISTRY
// =============================================================================

type batchSessions struct {
	mu sync.Mutex
	m  map[string]*custody.Batch
}

func newBatchSessions() *batchSessions {
	return &batchSessions{m: make(map[string]*custody.Batch)}
}

func (s *batchSessions) add(b *custody.Batch) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.m[id] = b
	s.mu.Unlock()
	return id
}

func (s *batchSessions) get(id string) (*custody.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[id]
	return b, ok
}

func (s *batchSessions) remove(id string) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	var batch *custody.Batch
	switch req.Type {
	case "":
		batch = custody.NewBatch(h.Engine, h.Inventory)
	case string(custody.BatchUsage), string(custody.BatchRestock):
		var err error
		batch, err = custody.NewConsumableBatch(h.Engine, h.Inventory, custody.BatchType(req.Type))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid batch type", err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid batch type", nil)
		return
	}

	id := h.sessions.add(batch)
	writeJSON(w, http.StatusCreated, h.batchSessionDTO(id, batch))
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, ok := h.sessions.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "batch session not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.batchSessionDTO(id, batch))
}

func (h *Handler) ScanIntoBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, ok := h.sessions.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "batch session not found", nil)
		return
	}

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ItemID == "" {
		writeError(w, http.StatusBadRequest, "itemId is required", nil)
		return
	}

	var err error
	if req.Quantity != "" {
		var qty decimal.Decimal
		qty, err = decimal.NewFromString(req.Quantity)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid quantity", err)
			return
		}
		err = batch.ScanQuantity(r.Context(), req.ItemID, qty)
	} else {
		err = batch.Scan(r.Context(), req.ItemID)
	}
	if err != nil {
		// A rejected scan leaves the batch unchanged; report and move on.
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.batchSessionDTO(id, batch))
}

func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, ok := h.sessions.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "batch session not found", nil)
		return
	}

	var req SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ActingStaffUID == "" {
		writeError(w, http.StatusBadRequest, "actingStaffUid is required", nil)
		return
	}

	report, err := batch.Submit(r.Context(), req.StaffUID, req.ActingStaffUID,
		custody.TxOptions{Notes: req.Notes})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.sessions.remove(id)
	writeJSON(w, http.StatusOK, batchReportDTO(report))
}

func (h *Handler) ClearBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if batch, ok := h.sessions.get(id); ok {
		batch.Clear()
	}
	h.sessions.remove(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) batchSessionDTO(id string, batch *custody.Batch) BatchSessionDTO {
	ids := batch.ItemIDs()
	if ids == nil {
		ids = []string{}
	}
	return BatchSessionDTO{SessionID: id, Type: string(batch.Type()), ItemIDs: ids}
}
