/*
handlers_test.go - HTTP-level tests over the full stack

Drives the real router, handlers, engine, and memory store through
httptest, covering the custody endpoints, error mapping, and the batch
session flow.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/toolroom/custody"
	"github.com/warp/toolroom/docstore/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testAPI struct {
	srv *httptest.Server
	reg *custody.Registry
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memory.New()
	engine := custody.NewEngine(store)
	reg := custody.NewRegistry(store)

	inv := custody.NewInventoryCache(store, time.Minute)
	require.NoError(t, inv.Start(context.Background()))
	t.Cleanup(inv.Stop)

	h := NewHandler(reg, engine, inv, zap.NewNop())
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, reg: reg}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func (a *testAPI) seedTool(t *testing.T, id, uniqueID, name string) {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/items", CreateItemRequest{
		ID: id, UniqueID: uniqueID, Kind: "tool", Name: name,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (a *testAPI) seedConsumable(t *testing.T, id, uniqueID, name, qty string) {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/items", CreateItemRequest{
		ID: id, UniqueID: uniqueID, Kind: "consumable", Name: name, InitialQuantity: qty,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (a *testAPI) seedStaff(t *testing.T, uid, name string) {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/staff", CreateStaffRequest{UID: uid, Name: name})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// ITEMS / STAFF
// =============================================================================

func TestAPI_CreateAndGetItem(t *testing.T) {
	a := newTestAPI(t)
	a.seedTool(t, "drill-1", "T0001", "Cordless Drill")

	var item ItemDTO
	resp := a.do(t, http.MethodGet, "/api/items/drill-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &item)

	assert.Equal(t, "drill-1", item.ID)
	assert.Equal(t, "T0001", item.UniqueID)
	assert.Equal(t, "available", item.Status)
}

func TestAPI_CreateItem_Invalid(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/api/items", CreateItemRequest{ID: "x", UniqueID: "y", Kind: "widget"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/items", CreateItemRequest{Kind: "tool"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetItem_NotFound(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodGet, "/api/items/ghost", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ListStaff(t *testing.T) {
	a := newTestAPI(t)
	a.seedStaff(t, "staff-1", "Mira Holt")
	a.seedStaff(t, "staff-2", "Ben Ochoa")

	var staff []StaffDTO
	resp := a.do(t, http.MethodGet, "/api/staff", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &staff)
	assert.Len(t, staff, 2)
}

// =============================================================================
// CUSTODY
// =============================================================================

func TestAPI_CheckoutCheckinFlow(t *testing.T) {
	// GIVEN: A tool and a staff member
	// WHEN: The tool is checked out and back in over HTTP
	// THEN: Each response carries the fresh post-operation item state

	a := newTestAPI(t)
	a.seedTool(t, "drill-1", "T0001", "Cordless Drill")
	a.seedStaff(t, "staff-1", "Mira Holt")

	var item ItemDTO
	resp := a.do(t, http.MethodPost, "/api/items/drill-1/checkout", CheckoutRequest{
		StaffUID: "staff-1", ActingStaffUID: "staff-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &item)
	assert.Equal(t, "checked_out", item.Status)
	assert.Equal(t, "staff-1", item.CurrentHolderUID)
	assert.Equal(t, "Mira Holt", item.LastAssignedToName)

	resp = a.do(t, http.MethodPost, "/api/items/drill-1/checkin", CheckinRequest{
		ActingStaffUID: "staff-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &item)
	assert.Equal(t, "available", item.Status)
	assert.Empty(t, item.CurrentHolderUID)
}

func TestAPI_DoubleCheckout_Conflict(t *testing.T) {
	a := newTestAPI(t)
	a.seedTool(t, "drill-1", "T0001", "Cordless Drill")
	a.seedStaff(t, "staff-1", "Mira Holt")
	a.seedStaff(t, "staff-2", "Ben Ochoa")

	resp := a.do(t, http.MethodPost, "/api/items/drill-1/checkout", CheckoutRequest{
		StaffUID: "staff-1", ActingStaffUID: "staff-1",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/items/drill-1/checkout", CheckoutRequest{
		StaffUID: "staff-2", ActingStaffUID: "staff-2",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ConsumeAndRestock(t *testing.T) {
	a := newTestAPI(t)
	a.seedConsumable(t, "glue-1", "C0001", "Epoxy", "10")
	a.seedStaff(t, "staff-1", "Mira Holt")

	var item ItemDTO
	resp := a.do(t, http.MethodPost, "/api/items/glue-1/consume", QuantityRequest{
		Quantity: "2.5", ActingStaffUID: "staff-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &item)
	assert.Equal(t, "7.5", item.CurrentQuantity)

	resp = a.do(t, http.MethodPost, "/api/items/glue-1/restock", QuantityRequest{
		Quantity: "0.5", ActingStaffUID: "staff-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &item)
	assert.Equal(t, "8", item.CurrentQuantity)
}

func TestAPI_Consume_Insufficient_Conflict(t *testing.T) {
	a := newTestAPI(t)
	a.seedConsumable(t, "glue-1", "C0001", "Epoxy", "1")
	a.seedStaff(t, "staff-1", "Mira Holt")

	resp := a.do(t, http.MethodPost, "/api/items/glue-1/consume", QuantityRequest{
		Quantity: "5", ActingStaffUID: "staff-1",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Consume_InvalidQuantity_BadRequest(t *testing.T) {
	a := newTestAPI(t)
	a.seedConsumable(t, "glue-1", "C0001", "Epoxy", "1")
	a.seedStaff(t, "staff-1", "Mira Holt")

	resp := a.do(t, http.MethodPost, "/api/items/glue-1/consume", QuantityRequest{
		Quantity: "-2", ActingStaffUID: "staff-1",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestAPI_ItemAndGlobalHistory(t *testing.T) {
	a := newTestAPI(t)
	a.seedTool(t, "drill-1", "T0001", "Cordless Drill")
	a.seedStaff(t, "staff-1", "Mira Holt")

	resp := a.do(t, http.MethodPost, "/api/items/drill-1/checkout", CheckoutRequest{
		StaffUID: "staff-1", ActingStaffUID: "staff-1",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = a.do(t, http.MethodPost, "/api/items/drill-1/checkin", CheckinRequest{ActingStaffUID: "staff-1"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []HistoryEntryDTO
	resp = a.do(t, http.MethodGet, "/api/items/drill-1/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "checkin", entries[0].Action, "newest first")
	assert.Equal(t, "checkout", entries[1].Action)
	assert.Equal(t, "Cordless Drill", entries[1].Metadata.ItemName)

	resp = a.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &entries)
	assert.Len(t, entries, 2)
}

func TestAPI_History_BadRange(t *testing.T) {
	a := newTestAPI(t)
	a.seedTool(t, "drill-1", "T0001", "Cordless Drill")

	resp := a.do(t, http.MethodGet, "/api/items/drill-1/history?from=not-a-date", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// BATCH SESSIONS
// =============================================================================

func TestAPI_BatchSession_CheckoutFlow(t *testing.T) {
	// GIVEN: Two available tools
	// WHEN: A session is opened, both are scanned, and the batch submitted
	// THEN: Both check out under one batch id; the session is gone afterwards

	a := newTestAPI(t)
	a.seedTool(t, "drill-1", "T0001", "Cordless Drill")
	a.seedTool(t, "saw-1", "T0002", "Circular Saw")
	a.seedStaff(t, "staff-1", "Mira Holt")

	var session BatchSessionDTO
	resp := a.do(t, http.MethodPost, "/api/batches", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeInto(t, resp, &session)
	require.NotEmpty(t, session.SessionID)

	for _, id := range []string{"drill-1", "saw-1"} {
		resp = a.do(t, http.MethodPost, "/api/batches/"+session.SessionID+"/scan", ScanRequest{ItemID: id})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decodeInto(t, resp, &session)
	}
	assert.Equal(t, "checkout", session.Type)
	assert.Len(t, session.ItemIDs, 2)

	var report BatchReportDTO
	resp = a.do(t, http.MethodPost, "/api/batches/"+session.SessionID+"/submit", SubmitBatchRequest{
		StaffUID: "staff-1", ActingStaffUID: "staff-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &report)
	assert.NotEmpty(t, report.BatchID)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 0, report.Failed)

	// The session was consumed.
	resp = a.do(t, http.MethodGet, "/api/batches/"+session.SessionID, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	staff, err := a.reg.GetStaff(context.Background(), "staff-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"drill-1", "saw-1"}, staff.AssignedItemIDs)
}

func TestAPI_BatchSession_DuplicateScan_Conflict(t *testing.T) {
	a := newTestAPI(t)
	a.seedTool(t, "drill-1", "T0001", "Cordless Drill")

	var session BatchSessionDTO
	resp := a.do(t, http.MethodPost, "/api/batches", nil)
	decodeInto(t, resp, &session)

	resp = a.do(t, http.MethodPost, "/api/batches/"+session.SessionID+"/scan", ScanRequest{ItemID: "drill-1"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/batches/"+session.SessionID+"/scan", ScanRequest{ItemID: "drill-1"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_BatchSession_UsageWithQuantities(t *testing.T) {
	a := newTestAPI(t)
	a.seedConsumable(t, "glue-1", "C0001", "Epoxy", "10")
	a.seedStaff(t, "staff-1", "Mira Holt")

	var session BatchSessionDTO
	resp := a.do(t, http.MethodPost, "/api/batches", CreateBatchRequest{Type: "usage"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeInto(t, resp, &session)
	assert.Equal(t, "usage", session.Type)

	resp = a.do(t, http.MethodPost, "/api/batches/"+session.SessionID+"/scan",
		ScanRequest{ItemID: "glue-1", Quantity: "4"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report BatchReportDTO
	resp = a.do(t, http.MethodPost, "/api/batches/"+session.SessionID+"/submit",
		SubmitBatchRequest{ActingStaffUID: "staff-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &report)
	assert.Equal(t, 1, report.Succeeded)

	item, err := a.reg.GetItem(context.Background(), "glue-1")
	require.NoError(t, err)
	assert.True(t, item.CurrentQuantity.Equal(decimal.NewFromInt(6)))
}

func TestAPI_BatchSession_InvalidType(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodPost, "/api/batches", CreateBatchRequest{Type: "checkout"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_BatchSession_Delete(t *testing.T) {
	a := newTestAPI(t)

	var session BatchSessionDTO
	resp := a.do(t, http.MethodPost, "/api/batches", nil)
	decodeInto(t, resp, &session)

	resp = a.do(t, http.MethodDelete, "/api/batches/"+session.SessionID, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/batches/"+session.SessionID, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_BatchSession_UnknownSession_NotFound(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodPost, "/api/batches/nope/scan", ScanRequest{ItemID: "drill-1"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
