// Package inventory provides the inventory-consistency core of the buffet back office
package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Unit is a unit of measure for material stock
// 資材在庫の計量単位
type Unit string

const (
	UnitKilogram   Unit = "kg"    // キログラム
	UnitGram       Unit = "g"     // グラム
	UnitLiter      Unit = "l"     // リットル
	UnitMilliliter Unit = "ml"    // ミリリットル
	UnitPiece      Unit = "piece" // 個
)

// Material represents a raw inventory good tracked by stock quantity
// 在庫数量で管理される原材料を表現
type Material struct {
	ID                string          `json:"id" db:"id"`                                   // 資材ID
	Name              string          `json:"name" db:"name"`                               // 資材名
	Stock             decimal.Decimal `json:"stock" db:"stock"`                             // 現在庫
	Unit              Unit            `json:"unit" db:"unit"`                               // 基準単位
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold" db:"low_stock_threshold"` // 低在庫閾値
	Version           int64           `json:"version" db:"version"`                         // 楽観的ロック用バージョン
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`                   // 作成日時
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`                   // 更新日時
}

// IsLowStock reports whether the stock is at or below the threshold
// 在庫が閾値以下かチェック
func (m *Material) IsLowStock() bool {
	return m.Stock.LessThanOrEqual(m.LowStockThreshold)
}

// AuditLogType defines the cause of a stock change
// 在庫変動の原因タイプを定義
type AuditLogType string

const (
	AuditLogTypePurchase   AuditLogType = "purchase"   // 仕入
	AuditLogTypeSale       AuditLogType = "sale"       // 販売
	AuditLogTypeAdjustment AuditLogType = "adjustment" // 棚卸調整
)

// AuditLogEntry is an immutable signed stock delta
// 不変の在庫増減記録
type AuditLogEntry struct {
	ID           string          `json:"id" db:"id"`                       // エントリID
	MaterialID   string          `json:"material_id" db:"material_id"`     // 資材ID
	MaterialName string          `json:"material_name" db:"material_name"` // 記録時点の資材名
	Change       decimal.Decimal `json:"change" db:"change"`               // 増減量（正=増加）
	Type         AuditLogType    `json:"type" db:"type"`                   // 変動タイプ
	RelatedID    string          `json:"related_id" db:"related_id"`       // 発生元（発注書・棚卸）ID
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`       // 記録日時
}

// AuditLogQuery filters audit log reads; zero fields are unbounded
// 監査ログ照会条件（ゼロ値は無制限）
type AuditLogQuery struct {
	MaterialID string     `json:"material_id,omitempty"`
	From       *time.Time `json:"from,omitempty"`  // 含む
	To         *time.Time `json:"to,omitempty"`    // 含む
	After      *time.Time `json:"after,omitempty"` // 含まない
}

// Matches reports whether an entry satisfies the query
// エントリが照会条件に一致するかチェック
func (q AuditLogQuery) Matches(e *AuditLogEntry) bool {
	if q.MaterialID != "" && e.MaterialID != q.MaterialID {
		return false
	}
	if q.From != nil && e.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && e.CreatedAt.After(*q.To) {
		return false
	}
	if q.After != nil && !e.CreatedAt.After(*q.After) {
		return false
	}
	return true
}

// PurchaseOrderStatus defines purchase order states
// 発注書のステータスを定義
type PurchaseOrderStatus string

const (
	PurchaseOrderStatusPending   PurchaseOrderStatus = "Pending"   // 保留
	PurchaseOrderStatusApproved  PurchaseOrderStatus = "Approved"  // 承認済み
	PurchaseOrderStatusCompleted PurchaseOrderStatus = "Completed" // 入荷完了
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "Cancelled" // キャンセル
)

// PurchaseOrderItem is one line of a purchase order
// 発注書の明細行
type PurchaseOrderItem struct {
	MaterialID string          `json:"material_id" db:"material_id"` // 資材ID
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`       // 数量（明細単位）
	Unit       Unit            `json:"unit" db:"unit"`               // 明細単位
	Price      decimal.Decimal `json:"price" db:"price"`             // 明細単位あたりの単価
	Note       string          `json:"note,omitempty" db:"note"`     // 備考
}

// Category is a denormalized purchase order category
// 発注書カテゴリ（非正規化）
type Category struct {
	ID   string `json:"id" db:"category_id"`
	Name string `json:"name" db:"category_name"`
}

// PurchaseOrder represents a supplier order for materials
// 資材の仕入発注書を表現
type PurchaseOrder struct {
	ID         string              `json:"id" db:"id"`                   // 発注書ID
	Items      []PurchaseOrderItem `json:"items"`                        // 明細
	Status     PurchaseOrderStatus `json:"status" db:"status"`           // ステータス
	Category   Category            `json:"category"`                     // カテゴリ
	Location   string              `json:"location" db:"location"`       // 納品場所
	CreatedAt  time.Time           `json:"created_at" db:"created_at"`   // 作成日時
	ReceivedAt *time.Time          `json:"received_at" db:"received_at"` // 入荷日時
	Version    int64               `json:"version" db:"version"`         // 楽観的ロック用バージョン
}

// Total returns the sum of quantity * price over all items
// 明細の合計金額を計算
func (po *PurchaseOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range po.Items {
		total = total.Add(item.Quantity.Mul(item.Price))
	}
	return total
}

// InventoryCountItem is one material row of a physical count
// 棚卸の資材ごとの行
type InventoryCountItem struct {
	MaterialID   string          `json:"material_id" db:"material_id"`
	MaterialName string          `json:"material_name" db:"material_name"`
	Unit         Unit            `json:"unit" db:"unit"`
	SystemStock  decimal.Decimal `json:"system_stock" db:"system_stock"`   // 棚卸日時点の理論在庫
	CountedStock decimal.Decimal `json:"counted_stock" db:"counted_stock"` // 実棚数
	Wastage      decimal.Decimal `json:"wastage" db:"wastage"`             // ロス（正=減耗）
}

// Difference returns countedStock - systemStock, the stock correction to apply
// 在庫補正量（実棚数 - 理論在庫）を返す
func (i *InventoryCountItem) Difference() decimal.Decimal {
	return i.CountedStock.Sub(i.SystemStock)
}

// InventoryCount is a physical count as of a past date
// 指定日時点の棚卸記録
type InventoryCount struct {
	ID        string               `json:"id" db:"id"`                 // 棚卸ID（下書きは空）
	Date      time.Time            `json:"date" db:"date"`             // 棚卸基準日
	Items     []InventoryCountItem `json:"items"`                      // 明細
	CreatedAt time.Time            `json:"created_at" db:"created_at"` // 登録日時
}

// WastageLine aggregates adjustment entries for one material
// 資材ごとのロス集計
type WastageLine struct {
	MaterialID   string          `json:"material_id"`
	MaterialName string          `json:"material_name"`
	Wastage      decimal.Decimal `json:"wastage"` // 正=減耗
	Entries      int             `json:"entries"`
}

// NewID generates a new entity ID
// 新しいエンティティIDを生成
func NewID() string {
	return uuid.New().String()
}
