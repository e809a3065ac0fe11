package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiBuffet/pkg/inventory"
)

// Pinger reports backend health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handlers for the buffet inventory API
// 在庫API用のHTTPハンドラーを保持
type Handlers struct {
	service  inventory.Service
	pinger   Pinger
	location *time.Location
	logger   *zap.Logger
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(service inventory.Service, pinger Pinger, location *time.Location, logger *zap.Logger) *Handlers {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		service:  service,
		pinger:   pinger,
		location: location,
		logger:   logger,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// SaleRequest represents a sale consumption request
// 販売消費リクエストを表現
type SaleRequest struct {
	Quantity       decimal.Decimal `json:"quantity"`
	RelatedOrderID string          `json:"related_order_id"`
}

// TransitionRequest represents a purchase order status change request
// 発注書ステータス変更リクエストを表現
type TransitionRequest struct {
	Status inventory.PurchaseOrderStatus `json:"status"`
}

// InventoryCountPreviewRequest represents a count preview request
// 棚卸プレビューリクエストを表現
type InventoryCountPreviewRequest struct {
	Date   string                     `json:"date"`
	Counts map[string]decimal.Decimal `json:"counts"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Error("ヘルスチェックに失敗しました", zap.Error(err))
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	h.sendJSON(w, code, APIResponse{
		Success: code == http.StatusOK,
		Data: map[string]interface{}{
			"status":    status,
			"timestamp": time.Now(),
			"service":   "zaiBuffet",
		},
	})
}

// CreateMaterial handles create material requests
// 資材登録リクエストを処理
func (h *Handlers) CreateMaterial(w http.ResponseWriter, r *http.Request) {
	var material inventory.Material
	if err := json.NewDecoder(r.Body).Decode(&material); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	if err := h.service.CreateMaterial(h.requestContext(r), &material); err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendJSON(w, http.StatusCreated, APIResponse{Success: true, Data: material})
}

// ListMaterials handles list material requests
// 資材一覧リクエストを処理
func (h *Handlers) ListMaterials(w http.ResponseWriter, r *http.Request) {
	materials, err := h.service.ListMaterials(r.Context())
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	if materials == nil {
		materials = []inventory.Material{}
	}
	h.sendSuccess(w, materials)
}

// GetMaterial handles get material requests
// 資材取得リクエストを処理
func (h *Handlers) GetMaterial(w http.ResponseWriter, r *http.Request) {
	material, err := h.service.GetMaterial(r.Context(), mux.Vars(r)["materialId"])
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendSuccess(w, material)
}

// GetStock handles current stock requests
// 現在庫リクエストを処理
func (h *Handlers) GetStock(w http.ResponseWriter, r *http.Request) {
	materialID := mux.Vars(r)["materialId"]
	stock, err := h.service.GetStock(r.Context(), materialID)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{
		"material_id": materialID,
		"stock":       stock,
	})
}

// AdjustStockForSale handles sale consumption requests
// 販売消費リクエストを処理
func (h *Handlers) AdjustStockForSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	materialID := mux.Vars(r)["materialId"]
	if err := h.service.AdjustStockForSale(h.requestContext(r), materialID, req.Quantity, req.RelatedOrderID); err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendSuccess(w, map[string]string{
		"message": "販売による在庫消費が完了しました",
	})
}

// CreatePurchaseOrder handles create purchase order requests
// 発注書登録リクエストを処理
func (h *Handlers) CreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var order inventory.PurchaseOrder
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	if err := h.service.CreatePurchaseOrder(h.requestContext(r), &order); err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendJSON(w, http.StatusCreated, APIResponse{Success: true, Data: order})
}

// ListPurchaseOrders handles list purchase order requests
// 発注書一覧リクエストを処理
func (h *Handlers) ListPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	status := inventory.PurchaseOrderStatus(r.URL.Query().Get("status"))
	orders, err := h.service.ListPurchaseOrders(r.Context(), status)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []inventory.PurchaseOrder{}
	}
	h.sendSuccess(w, orders)
}

// GetPurchaseOrder handles get purchase order requests
// 発注書取得リクエストを処理
func (h *Handlers) GetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetPurchaseOrder(r.Context(), mux.Vars(r)["orderId"])
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendSuccess(w, order)
}

// TransitionPurchaseOrder handles purchase order status change requests
// 発注書ステータス変更リクエストを処理
func (h *Handlers) TransitionPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	orderID := mux.Vars(r)["orderId"]
	status, err := h.service.TransitionPurchaseOrder(h.requestContext(r), orderID, req.Status)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendSuccess(w, map[string]interface{}{
		"order_id": orderID,
		"status":   status,
	})
}

// PreviewInventoryCount handles count preview requests; nothing is saved
// 棚卸プレビューリクエストを処理（保存しない）
func (h *Handlers) PreviewInventoryCount(w http.ResponseWriter, r *http.Request) {
	var req InventoryCountPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	date, err := h.parseDate(req.Date)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "無効な日付形式です: "+req.Date)
		return
	}

	draft, err := h.service.ComputeInventoryReport(r.Context(), date, req.Counts)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendSuccess(w, draft)
}

// CommitInventoryCount handles count commit requests
// 棚卸確定リクエストを処理
func (h *Handlers) CommitInventoryCount(w http.ResponseWriter, r *http.Request) {
	var draft inventory.InventoryCount
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	saved, err := h.service.CommitInventoryReport(h.requestContext(r), &draft)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, APIResponse{Success: true, Data: saved})
}

// ListInventoryCounts handles list count requests
// 棚卸一覧リクエストを処理
func (h *Handlers) ListInventoryCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.ListInventoryCounts(r.Context())
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	if counts == nil {
		counts = []inventory.InventoryCount{}
	}
	h.sendSuccess(w, counts)
}

// GetInventoryCount handles get count requests
// 棚卸取得リクエストを処理
func (h *Handlers) GetInventoryCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.GetInventoryCount(r.Context(), mux.Vars(r)["countId"])
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendSuccess(w, count)
}

// QueryAuditLog handles audit log requests; from/to are inclusive days
// 監査ログ照会リクエストを処理
func (h *Handlers) QueryAuditLog(w http.ResponseWriter, r *http.Request) {
	query := inventory.AuditLogQuery{MaterialID: r.URL.Query().Get("material_id")}
	if id, ok := mux.Vars(r)["materialId"]; ok {
		query.MaterialID = id
	}

	from, to, err := h.parseRange(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	query.From = from
	query.To = to

	entries, err := h.service.QueryAuditLog(r.Context(), query)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []inventory.AuditLogEntry{}
	}
	h.sendSuccess(w, entries)
}

// GetWastageReport handles wastage report requests
// ロス集計リクエストを処理
func (h *Handlers) GetWastageReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if from == nil || to == nil {
		h.sendError(w, http.StatusBadRequest, "fromとtoを指定してください")
		return
	}

	report, err := h.service.GetWastageReport(r.Context(), *from, *to)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendSuccess(w, report)
}

// ヘルパーメソッド

// requestContext attaches the acting user from the X-User-ID header
func (h *Handlers) requestContext(r *http.Request) context.Context {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = "api_user"
	}
	return inventory.WithUserID(r.Context(), userID)
}

// parseDate accepts YYYY-MM-DD (in the configured zone) or RFC3339
// 日付文字列を解析
func (h *Handlers) parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.ParseInLocation("2006-01-02", value, h.location); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// parseRange reads optional from/to query parameters. A plain date in "to"
// covers the whole day.
func (h *Handlers) parseRange(r *http.Request) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := h.parseDate(v)
		if err != nil {
			return nil, nil, errors.New("無効な日付形式です: " + v)
		}
		from = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := h.parseDate(v)
		if err != nil {
			return nil, nil, errors.New("無効な日付形式です: " + v)
		}
		if len(strings.TrimSpace(v)) == len("2006-01-02") {
			t = inventory.EndOfDay(t, h.location)
		}
		to = &t
	}
	return from, to, nil
}

// statusForError maps core error kinds to HTTP status codes
// エラー種別をHTTPステータスに変換
func statusForError(err error) int {
	switch inventory.KindOf(err) {
	case inventory.KindValidation:
		return http.StatusBadRequest
	case inventory.KindNotFound:
		return http.StatusNotFound
	case inventory.KindInvalidTransition:
		return http.StatusConflict
	case inventory.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	case inventory.KindConcurrencyConflict:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, inventory.ErrDuplicate) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handlers) sendServiceError(w http.ResponseWriter, err error) {
	code := statusForError(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error("内部エラー", zap.Error(err))
		message = "内部エラーが発生しました"
	}
	h.sendJSON(w, code, APIResponse{
		Success: false,
		Error:   message,
		Kind:    string(inventory.KindOf(err)),
	})
}

// sendSuccess sends a successful API response
// 成功APIレスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	h.sendJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// sendError sends an error API response
// エラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

func (h *Handlers) sendJSON(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}
