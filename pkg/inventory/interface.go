package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Service defines the operations the back-office UI calls into
// バックオフィスUIから呼び出されるコア操作を定義
type Service interface {
	// 資材照会 - Material inquiry
	GetMaterial(ctx context.Context, materialID string) (*Material, error)
	ListMaterials(ctx context.Context) ([]Material, error)
	GetStock(ctx context.Context, materialID string) (decimal.Decimal, error)
	CreateMaterial(ctx context.Context, material *Material) error

	// 販売消費 - Sale consumption
	AdjustStockForSale(ctx context.Context, materialID string, quantityConsumed decimal.Decimal, relatedOrderID string) error

	// 発注書 - Purchase orders
	CreatePurchaseOrder(ctx context.Context, order *PurchaseOrder) error
	GetPurchaseOrder(ctx context.Context, orderID string) (*PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, status PurchaseOrderStatus) ([]PurchaseOrder, error)
	TransitionPurchaseOrder(ctx context.Context, orderID string, newStatus PurchaseOrderStatus) (PurchaseOrderStatus, error)

	// 棚卸 - Inventory counts
	ComputeInventoryReport(ctx context.Context, date time.Time, counts map[string]decimal.Decimal) (*InventoryCount, error)
	CommitInventoryReport(ctx context.Context, draft *InventoryCount) (*InventoryCount, error)
	GetInventoryCount(ctx context.Context, countID string) (*InventoryCount, error)
	ListInventoryCounts(ctx context.Context) ([]InventoryCount, error)

	// 監査ログ - Audit log
	QueryAuditLog(ctx context.Context, query AuditLogQuery) ([]AuditLogEntry, error)
	GetWastageReport(ctx context.Context, from, to time.Time) ([]WastageLine, error)
}

// Storage defines the interface for data persistence layer
// データ永続化層のインターフェースを定義
type Storage interface {
	// Begin starts an optimistic unit of work
	// 楽観的な作業単位を開始
	Begin(ctx context.Context) (Tx, error)

	// 読み取り専用 - Reads outside a unit
	GetMaterial(ctx context.Context, materialID string) (*Material, error)
	ListMaterials(ctx context.Context) ([]Material, error)
	GetPurchaseOrder(ctx context.Context, orderID string) (*PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, status PurchaseOrderStatus) ([]PurchaseOrder, error)
	GetInventoryCount(ctx context.Context, countID string) (*InventoryCount, error)
	ListInventoryCounts(ctx context.Context) ([]InventoryCount, error)
	QueryAuditLog(ctx context.Context, query AuditLogQuery) ([]AuditLogEntry, error)

	// 作成 - Creation of records that carry no stock delta
	CreateMaterial(ctx context.Context, material *Material) error
	CreatePurchaseOrder(ctx context.Context, order *PurchaseOrder) error

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// Tx is one read/decide/write unit. Reads are recorded with their versions;
// writes are buffered and applied together by Commit, which fails with
// ErrVersionMismatch if any entity read has changed since.
// 読み取り・判断・書き込みの作業単位
type Tx interface {
	GetMaterial(ctx context.Context, materialID string) (*Material, error)
	GetPurchaseOrder(ctx context.Context, orderID string) (*PurchaseOrder, error)
	QueryAuditLog(ctx context.Context, query AuditLogQuery) ([]AuditLogEntry, error)

	// バッファされる書き込み - Buffered writes
	UpdateMaterial(material *Material)
	UpdatePurchaseOrder(order *PurchaseOrder)
	AppendAuditLog(entry *AuditLogEntry)
	CreateInventoryCount(count *InventoryCount)

	Commit() error
	Rollback() error
}

// EventPublisher defines interface for publishing inventory events
// 在庫イベント発行のインターフェースを定義
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, event StockChangedEvent) error
	PublishLowStockAlert(ctx context.Context, event LowStockAlertEvent) error
	PublishPurchaseOrderTransitioned(ctx context.Context, event PurchaseOrderTransitionedEvent) error
}

// Events for inventory operations
// 在庫操作のイベント定義

// StockChangedEvent represents a committed stock level change
// 確定した在庫レベル変更イベントを表現
type StockChangedEvent struct {
	MaterialID  string          `json:"material_id"`
	OldQuantity decimal.Decimal `json:"old_quantity"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
	ChangeType  AuditLogType    `json:"change_type"`
	RelatedID   string          `json:"related_id"`
	Timestamp   time.Time       `json:"timestamp"`
	UserID      string          `json:"user_id"`
}

// LowStockAlertEvent represents a low stock alert
// 低在庫アラートイベントを表現
type LowStockAlertEvent struct {
	MaterialID   string          `json:"material_id"`
	MaterialName string          `json:"material_name"`
	CurrentQty   decimal.Decimal `json:"current_qty"`
	Threshold    decimal.Decimal `json:"threshold"`
	Unit         Unit            `json:"unit"`
	Timestamp    time.Time       `json:"timestamp"`
}

// PurchaseOrderTransitionedEvent represents a committed status change
// 確定した発注書ステータス変更イベントを表現
type PurchaseOrderTransitionedEvent struct {
	OrderID   string              `json:"order_id"`
	From      PurchaseOrderStatus `json:"from"`
	To        PurchaseOrderStatus `json:"to"`
	Timestamp time.Time           `json:"timestamp"`
	UserID    string              `json:"user_id"`
}
