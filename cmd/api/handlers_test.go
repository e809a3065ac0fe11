package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiBuffet/pkg/inventory"
	"github.com/nemonet1337/zaiBuffet/pkg/inventory/storage"
)

type testServer struct {
	router *mux.Router
	store  *storage.MemoryStorage
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := storage.NewMemoryStorage(logger)
	manager := inventory.NewManager(store, nil, logger, nil)
	handlers := NewHandlers(manager, store, nil, logger)
	return &testServer{
		router: setupRouter(handlers, nil, false),
		store:  store,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func (s *testServer) createMaterial(t *testing.T, id, name string, stock int64, unit inventory.Unit) {
	t.Helper()
	rec, _ := s.do(t, http.MethodPost, "/api/v1/materials", inventory.Material{
		ID:    id,
		Name:  name,
		Stock: decimal.NewFromInt(stock),
		Unit:  unit,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func decodeData(t *testing.T, resp APIResponse, out interface{}) {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	rec, resp := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestMaterialEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.createMaterial(t, "flour", "小麦粉", 10, inventory.UnitKilogram)

	rec, resp := s.do(t, http.MethodGet, "/api/v1/materials/flour/stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stock struct {
		MaterialID string          `json:"material_id"`
		Stock      decimal.Decimal `json:"stock"`
	}
	decodeData(t, resp, &stock)
	assert.True(t, stock.Stock.Equal(decimal.NewFromInt(10)))

	rec, _ = s.do(t, http.MethodGet, "/api/v1/materials", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp = s.do(t, http.MethodGet, "/api/v1/materials/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(inventory.KindNotFound), resp.Kind)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/materials", inventory.Material{ID: "flour", Name: "重複", Unit: inventory.UnitKilogram})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSaleEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.createMaterial(t, "milk", "牛乳", 5, inventory.UnitLiter)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/materials/milk/sale", SaleRequest{
		Quantity:       decimal.RequireFromString("1.5"),
		RelatedOrderID: "table-7",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := s.do(t, http.MethodPost, "/api/v1/materials/milk/sale", SaleRequest{
		Quantity: decimal.NewFromInt(100),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(inventory.KindInsufficientStock), resp.Kind)

	rec, resp = s.do(t, http.MethodPost, "/api/v1/materials/milk/sale", SaleRequest{
		Quantity: decimal.Zero,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(inventory.KindValidation), resp.Kind)

	rec, resp = s.do(t, http.MethodGet, "/api/v1/materials/milk/audit-log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []inventory.AuditLogEntry
	decodeData(t, resp, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, inventory.AuditLogTypeSale, entries[0].Type)
	assert.True(t, entries[0].Change.Equal(decimal.RequireFromString("-1.5")))
}

func TestSaleEndpoint_InvalidBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/materials/milk/sale", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurchaseOrderEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.createMaterial(t, "flour", "小麦粉", 10, inventory.UnitKilogram)

	rec, resp := s.do(t, http.MethodPost, "/api/v1/purchase-orders", inventory.PurchaseOrder{
		ID: "po-1",
		Items: []inventory.PurchaseOrderItem{
			{MaterialID: "flour", Quantity: decimal.NewFromInt(5000), Unit: inventory.UnitGram, Price: decimal.RequireFromString("0.2")},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var order inventory.PurchaseOrder
	decodeData(t, resp, &order)
	assert.Equal(t, inventory.PurchaseOrderStatusPending, order.Status)

	rec, resp = s.do(t, http.MethodPost, "/api/v1/purchase-orders/po-1/transition", TransitionRequest{Status: inventory.PurchaseOrderStatusCompleted})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(inventory.KindInvalidTransition), resp.Kind)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/purchase-orders/po-1/transition", TransitionRequest{Status: inventory.PurchaseOrderStatusApproved})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do(t, http.MethodPost, "/api/v1/purchase-orders/po-1/transition", TransitionRequest{Status: inventory.PurchaseOrderStatusCompleted})
	require.Equal(t, http.StatusOK, rec.Code)

	material, err := s.store.GetMaterial(context.Background(), "flour")
	require.NoError(t, err)
	assert.True(t, material.Stock.Equal(decimal.NewFromInt(15)), "5000g = 5kg 入荷")

	rec, resp = s.do(t, http.MethodGet, "/api/v1/purchase-orders?status=Completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []inventory.PurchaseOrder
	decodeData(t, resp, &orders)
	require.Len(t, orders, 1)
	assert.NotNil(t, orders[0].ReceivedAt)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/purchase-orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInventoryCountEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.createMaterial(t, "rice", "米", 20, inventory.UnitKilogram)

	rec, resp := s.do(t, http.MethodPost, "/api/v1/inventory-counts/preview", InventoryCountPreviewRequest{
		Date:   "2099-01-01",
		Counts: map[string]decimal.Decimal{"rice": decimal.NewFromInt(18)},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var draft inventory.InventoryCount
	decodeData(t, resp, &draft)
	require.Len(t, draft.Items, 1)
	assert.True(t, draft.Items[0].SystemStock.Equal(decimal.NewFromInt(20)))
	assert.True(t, draft.Items[0].Wastage.Equal(decimal.NewFromInt(2)))
	assert.Empty(t, draft.ID)

	rec, resp = s.do(t, http.MethodPost, "/api/v1/inventory-counts", draft)
	require.Equal(t, http.StatusCreated, rec.Code)
	var saved inventory.InventoryCount
	decodeData(t, resp, &saved)
	assert.NotEmpty(t, saved.ID)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/inventory-counts/"+saved.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp = s.do(t, http.MethodGet, "/api/v1/materials/rice/stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stock struct {
		Stock decimal.Decimal `json:"stock"`
	}
	decodeData(t, resp, &stock)
	assert.True(t, stock.Stock.Equal(decimal.NewFromInt(18)))

	rec, resp = s.do(t, http.MethodGet, "/api/v1/reports/wastage?from=2098-12-31&to=2099-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report []inventory.WastageLine
	decodeData(t, resp, &report)
	require.Len(t, report, 1)
	assert.True(t, report[0].Wastage.Equal(decimal.NewFromInt(2)))

	rec, _ = s.do(t, http.MethodPost, "/api/v1/inventory-counts/preview", InventoryCountPreviewRequest{Date: "not-a-date"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWastageReport_RequiresRange(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodGet, "/api/v1/reports/wastage", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{inventory.NewValidationError("f", "m", "v"), http.StatusBadRequest},
		{inventory.NewNotFoundError(inventory.EntityMaterial, "x"), http.StatusNotFound},
		{inventory.NewInvalidTransitionError("po", inventory.PurchaseOrderStatusPending, inventory.PurchaseOrderStatusCompleted), http.StatusConflict},
		{inventory.NewInsufficientStockError("x", decimal.Zero, decimal.NewFromInt(-1)), http.StatusUnprocessableEntity},
		{inventory.NewConcurrencyError("sale", "x", "m", 6), http.StatusServiceUnavailable},
		{inventory.ErrDuplicate, http.StatusConflict},
		{inventory.NewStorageError("op", "m", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err), tt.err.Error())
	}
}
