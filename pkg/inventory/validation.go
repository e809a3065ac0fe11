package inventory

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 英数字、ハイフン、アンダースコアのみ許可
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID エンティティIDの形式をバリデーション
func ValidateID(field, id string) error {
	if id == "" {
		return NewValidationError(field, "IDが空です", id)
	}
	if len(id) > 255 {
		return NewValidationError(field, "IDが長すぎます", id)
	}
	if !idPattern.MatchString(id) {
		return NewValidationError(field, "IDに無効な文字が含まれています", id)
	}
	return nil
}

// ValidateMaterialName 資材名をバリデーション
func ValidateMaterialName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("name", "資材名が空です", name)
	}
	if len(name) > 500 {
		return NewValidationError("name", "資材名が長すぎます", name)
	}
	return nil
}

// ValidateUnit 単位をバリデーション
func ValidateUnit(field string, unit Unit) error {
	if !unit.IsValid() {
		return NewValidationError(field, "未対応の単位です", string(unit))
	}
	return nil
}

// ValidatePositiveQuantity 数量が正であることをバリデーション
func ValidatePositiveQuantity(field string, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return NewValidationError(field, "数量は正の値である必要があります", quantity.String())
	}
	return nil
}

// ValidateNonNegative 値が0以上であることをバリデーション
func ValidateNonNegative(field string, value decimal.Decimal) error {
	if value.IsNegative() {
		return NewValidationError(field, "負の値は許可されていません", value.String())
	}
	return nil
}

// ValidateStatus 発注書ステータスをバリデーション
func ValidateStatus(status PurchaseOrderStatus) error {
	switch status {
	case PurchaseOrderStatusPending, PurchaseOrderStatusApproved,
		PurchaseOrderStatusCompleted, PurchaseOrderStatusCancelled:
		return nil
	}
	return NewValidationError("status", "無効なステータスです", string(status))
}

// ValidateMaterial 資材全体をバリデーション
func ValidateMaterial(material *Material) error {
	if material == nil {
		return NewValidationError("material", "資材が指定されていません", "nil")
	}

	if err := ValidateID("id", material.ID); err != nil {
		return err
	}
	if err := ValidateMaterialName(material.Name); err != nil {
		return err
	}
	if err := ValidateUnit("unit", material.Unit); err != nil {
		return err
	}
	if err := ValidateNonNegative("stock", material.Stock); err != nil {
		return err
	}
	if err := ValidateNonNegative("low_stock_threshold", material.LowStockThreshold); err != nil {
		return err
	}

	return nil
}

// ValidatePurchaseOrder 発注書全体をバリデーション
func ValidatePurchaseOrder(order *PurchaseOrder) error {
	if order == nil {
		return NewValidationError("purchase_order", "発注書が指定されていません", "nil")
	}

	if err := ValidateID("id", order.ID); err != nil {
		return err
	}
	if len(order.Items) == 0 {
		return NewValidationError("items", "明細がありません", "0")
	}
	for i := range order.Items {
		if err := ValidatePurchaseOrderItem(i, &order.Items[i]); err != nil {
			return err
		}
	}

	return nil
}

// ValidatePurchaseOrderItem 発注明細をバリデーション
func ValidatePurchaseOrderItem(index int, item *PurchaseOrderItem) error {
	prefix := fmt.Sprintf("items[%d]", index)
	if err := ValidateID(prefix+".material_id", item.MaterialID); err != nil {
		return err
	}
	if err := ValidatePositiveQuantity(prefix+".quantity", item.Quantity); err != nil {
		return err
	}
	if err := ValidateUnit(prefix+".unit", item.Unit); err != nil {
		return err
	}
	if err := ValidateNonNegative(prefix+".price", item.Price); err != nil {
		return err
	}
	return nil
}

// ValidateCounts 実棚数の入力をバリデーション
func ValidateCounts(date time.Time, counts map[string]decimal.Decimal) error {
	if date.IsZero() {
		return NewValidationError("date", "棚卸日が指定されていません", "")
	}
	for materialID, counted := range counts {
		if err := ValidateID("material_id", materialID); err != nil {
			return err
		}
		if err := ValidateNonNegative("counted_stock["+materialID+"]", counted); err != nil {
			return err
		}
	}
	return nil
}

// ValidateInventoryCountDraft 確定前の棚卸下書きをバリデーション
func ValidateInventoryCountDraft(draft *InventoryCount) error {
	if draft == nil {
		return NewValidationError("inventory_count", "棚卸が指定されていません", "nil")
	}
	if draft.ID != "" {
		return NewValidationError("id", "確定済みの棚卸は再登録できません", draft.ID)
	}
	if draft.Date.IsZero() {
		return NewValidationError("date", "棚卸日が指定されていません", "")
	}

	seen := make(map[string]bool, len(draft.Items))
	for i, item := range draft.Items {
		if err := ValidateID(fmt.Sprintf("items[%d].material_id", i), item.MaterialID); err != nil {
			return err
		}
		if seen[item.MaterialID] {
			return NewValidationError("items", "資材が重複しています", item.MaterialID)
		}
		seen[item.MaterialID] = true
		if err := ValidateNonNegative(fmt.Sprintf("items[%d].counted_stock", i), item.CountedStock); err != nil {
			return err
		}
	}
	return nil
}
