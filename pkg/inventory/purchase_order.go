package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// allowedTransitions is the purchase order state graph
// 発注書の状態遷移図
var allowedTransitions = map[PurchaseOrderStatus][]PurchaseOrderStatus{
	PurchaseOrderStatusPending:   {PurchaseOrderStatusApproved, PurchaseOrderStatusCancelled},
	PurchaseOrderStatusApproved:  {PurchaseOrderStatusCompleted, PurchaseOrderStatusCancelled},
	PurchaseOrderStatusCompleted: {PurchaseOrderStatusPending},
	PurchaseOrderStatusCancelled: {PurchaseOrderStatusPending},
}

// CanTransition reports whether from -> to is an edge of the state graph
// 状態遷移が許可されているかチェック
func CanTransition(from, to PurchaseOrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// receiptDirection returns +1 when entering Completed, -1 when leaving it,
// and 0 for transitions without stock effects
// 入荷（+1）・入荷取消（-1）・在庫影響なし（0）を判定
func receiptDirection(from, to PurchaseOrderStatus) int {
	switch {
	case from == to:
		return 0
	case to == PurchaseOrderStatusCompleted:
		return 1
	case from == PurchaseOrderStatusCompleted:
		return -1
	default:
		return 0
	}
}

// CreatePurchaseOrder registers a new Pending purchase order
// 新しい発注書を保留状態で登録
func (m *Manager) CreatePurchaseOrder(ctx context.Context, order *PurchaseOrder) error {
	if order != nil && order.ID == "" {
		order.ID = NewID()
	}
	if err := ValidatePurchaseOrder(order); err != nil {
		return err
	}

	// 明細の資材が存在し単位が換算可能か確認
	for i, item := range order.Items {
		material, err := m.storage.GetMaterial(ctx, item.MaterialID)
		if err != nil {
			return err
		}
		if m.config.StrictUnitConversion && !CanConvert(item.Unit, material.Unit) {
			return NewValidationError(fmt.Sprintf("items[%d].unit", i), "資材の単位に換算できません", string(item.Unit)+"->"+string(material.Unit))
		}
	}

	order.Status = PurchaseOrderStatusPending
	order.ReceivedAt = nil
	order.Version = 1
	order.CreatedAt = m.now()

	if err := m.storage.CreatePurchaseOrder(ctx, order); err != nil {
		return err
	}

	m.logger.Info("発注書登録完了",
		zap.String("order_id", order.ID),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.Total().String()),
	)
	return nil
}

// GetPurchaseOrder gets a purchase order by ID
// 発注書を取得
func (m *Manager) GetPurchaseOrder(ctx context.Context, orderID string) (*PurchaseOrder, error) {
	if err := ValidateID("order_id", orderID); err != nil {
		return nil, err
	}
	return m.storage.GetPurchaseOrder(ctx, orderID)
}

// ListPurchaseOrders lists purchase orders, optionally filtered by status
// 発注書一覧を取得（ステータス指定は任意）
func (m *Manager) ListPurchaseOrders(ctx context.Context, status PurchaseOrderStatus) ([]PurchaseOrder, error) {
	if status != "" {
		if err := ValidateStatus(status); err != nil {
			return nil, err
		}
	}
	return m.storage.ListPurchaseOrders(ctx, status)
}

// TransitionPurchaseOrder changes the status of a purchase order and applies
// the stock side effects of entering or leaving Completed
// 発注書のステータスを変更し、入荷・入荷取消の在庫反映を行う
func (m *Manager) TransitionPurchaseOrder(ctx context.Context, orderID string, newStatus PurchaseOrderStatus) (PurchaseOrderStatus, error) {
	if err := ValidateID("order_id", orderID); err != nil {
		return "", err
	}
	if err := ValidateStatus(newStatus); err != nil {
		return "", err
	}

	var (
		from    PurchaseOrderStatus
		changes []stockChange
	)
	err := m.coordinator.Run(ctx, "transition_purchase_order", orderID, func(ctx context.Context, tx Tx) error {
		changes = nil

		order, err := tx.GetPurchaseOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status
		if from == newStatus {
			return nil
		}
		if !CanTransition(from, newStatus) {
			return NewInvalidTransitionError(orderID, from, newStatus)
		}

		direction := receiptDirection(from, newStatus)
		if direction != 0 {
			changes, err = m.applyReceipt(ctx, tx, order, direction)
			if err != nil {
				return err
			}
		}

		now := m.now()
		switch direction {
		case 1:
			order.ReceivedAt = &now
		case -1:
			order.ReceivedAt = nil
		}
		order.Status = newStatus
		tx.UpdatePurchaseOrder(order)
		return nil
	})
	if err != nil {
		m.logger.Error("発注書ステータス変更に失敗しました",
			zap.String("order_id", orderID),
			zap.String("to", string(newStatus)),
			zap.Error(err),
		)
		return "", err
	}

	if from == newStatus {
		return newStatus, nil
	}

	m.afterCommit(ctx, changes)
	if m.publisher != nil {
		event := PurchaseOrderTransitionedEvent{
			OrderID:   orderID,
			From:      from,
			To:        newStatus,
			Timestamp: m.now(),
			UserID:    UserFromContext(ctx),
		}
		if err := m.publisher.PublishPurchaseOrderTransitioned(ctx, event); err != nil {
			m.logger.Error("発注書イベント発行に失敗しました", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	m.logger.Info("発注書ステータス変更完了",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(newStatus)),
		zap.Int("stock_changes", len(changes)),
	)
	return newStatus, nil
}

// applyReceipt reads every referenced material, then adds (direction 1) or
// removes (direction -1) the converted item quantities. Removal must not
// leave any material below zero.
// 参照資材をすべて読み取った後、換算数量を加算または減算
func (m *Manager) applyReceipt(ctx context.Context, tx Tx, order *PurchaseOrder, direction int) ([]stockChange, error) {
	// 読み取りフェーズ
	materials := make(map[string]*Material)
	for _, item := range order.Items {
		if _, ok := materials[item.MaterialID]; ok {
			continue
		}
		material, err := tx.GetMaterial(ctx, item.MaterialID)
		if err != nil {
			return nil, err
		}
		materials[item.MaterialID] = material
	}

	// 判断フェーズ
	sign := decimal.NewFromInt(int64(direction))
	deltas := make(map[string]decimal.Decimal, len(materials))
	entries := make([]*AuditLogEntry, 0, len(order.Items))
	for i, item := range order.Items {
		material := materials[item.MaterialID]
		if m.config.StrictUnitConversion && !CanConvert(item.Unit, material.Unit) {
			return nil, NewValidationError(fmt.Sprintf("items[%d].unit", i), "資材の単位に換算できません", string(item.Unit)+"->"+string(material.Unit))
		}
		change := QuantityInUnit(item.Quantity, item.Unit, material.Unit).Mul(sign)
		deltas[item.MaterialID] = deltas[item.MaterialID].Add(change)

		if m.config.AuditPurchaseReceipts {
			entries = append(entries, &AuditLogEntry{
				ID:           NewID(),
				MaterialID:   material.ID,
				MaterialName: material.Name,
				Change:       change,
				Type:         AuditLogTypePurchase,
				RelatedID:    order.ID,
			})
		}
	}

	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := m.now()
	changes := make([]stockChange, 0, len(ids))
	for _, id := range ids {
		material := materials[id]
		oldStock := material.Stock
		if _, err := adjustStock(material, deltas[id], direction < 0); err != nil {
			return nil, err
		}
		material.UpdatedAt = now
		changes = append(changes, stockChange{
			material:   *material,
			oldStock:   oldStock,
			changeType: AuditLogTypePurchase,
			relatedID:  order.ID,
		})
	}

	// 書き込みフェーズ（すべての判断が成功した後）
	for _, id := range ids {
		tx.UpdateMaterial(materials[id])
	}
	for _, entry := range entries {
		tx.AppendAuditLog(entry)
	}
	return changes, nil
}
