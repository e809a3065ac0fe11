package inventory

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// adjustStock applies delta to the in-memory material. With guard set, a
// result below zero is rejected and the material is left untouched.
// 在庫に増減を適用（guard指定時はマイナスを拒否）
func adjustStock(material *Material, delta decimal.Decimal, guard bool) (decimal.Decimal, error) {
	newStock := material.Stock.Add(delta)
	if guard && newStock.IsNegative() {
		return material.Stock, NewInsufficientStockError(material.ID, material.Stock, delta)
	}
	material.Stock = newStock
	return newStock, nil
}

// GetMaterial gets a material by ID
// 資材を取得
func (m *Manager) GetMaterial(ctx context.Context, materialID string) (*Material, error) {
	if err := ValidateID("material_id", materialID); err != nil {
		return nil, err
	}
	return m.storage.GetMaterial(ctx, materialID)
}

// ListMaterials lists all materials ordered by name
// 全資材を名前順で取得
func (m *Manager) ListMaterials(ctx context.Context) ([]Material, error) {
	return m.storage.ListMaterials(ctx)
}

// GetStock gets the current stock of a material
// 資材の現在庫を取得
func (m *Manager) GetStock(ctx context.Context, materialID string) (decimal.Decimal, error) {
	material, err := m.GetMaterial(ctx, materialID)
	if err != nil {
		return decimal.Zero, err
	}
	return material.Stock, nil
}

// CreateMaterial registers a material with its initial stock
// 初期在庫付きで資材を登録
func (m *Manager) CreateMaterial(ctx context.Context, material *Material) error {
	if material != nil && material.ID == "" {
		material.ID = NewID()
	}
	if err := ValidateMaterial(material); err != nil {
		return err
	}

	now := m.now()
	material.Version = 1
	material.CreatedAt = now
	material.UpdatedAt = now

	if err := m.storage.CreateMaterial(ctx, material); err != nil {
		return err
	}

	m.logger.Info("資材登録完了",
		zap.String("material_id", material.ID),
		zap.String("name", material.Name),
		zap.String("stock", material.Stock.String()),
		zap.String("unit", string(material.Unit)),
	)
	return nil
}

// AdjustStockForSale consumes stock for a sale and records a sale entry
// 販売による在庫消費を記録
func (m *Manager) AdjustStockForSale(ctx context.Context, materialID string, quantityConsumed decimal.Decimal, relatedOrderID string) error {
	if err := ValidateID("material_id", materialID); err != nil {
		return err
	}
	if err := ValidatePositiveQuantity("quantity", quantityConsumed); err != nil {
		return err
	}

	delta := quantityConsumed.Neg()
	var changes []stockChange
	err := m.coordinator.Run(ctx, "sale", materialID, func(ctx context.Context, tx Tx) error {
		changes = nil

		material, err := tx.GetMaterial(ctx, materialID)
		if err != nil {
			return err
		}

		oldStock := material.Stock
		if _, err := adjustStock(material, delta, !m.config.AllowNegativeStock); err != nil {
			return err
		}
		material.UpdatedAt = m.now()

		tx.UpdateMaterial(material)
		tx.AppendAuditLog(&AuditLogEntry{
			ID:           NewID(),
			MaterialID:   material.ID,
			MaterialName: material.Name,
			Change:       delta,
			Type:         AuditLogTypeSale,
			RelatedID:    relatedOrderID,
		})

		changes = append(changes, stockChange{
			material:   *material,
			oldStock:   oldStock,
			changeType: AuditLogTypeSale,
			relatedID:  relatedOrderID,
		})
		return nil
	})
	if err != nil {
		m.logger.Error("販売による在庫消費に失敗しました",
			zap.String("material_id", materialID),
			zap.String("quantity", quantityConsumed.String()),
			zap.String("related_order_id", relatedOrderID),
			zap.Error(err),
		)
		return err
	}

	m.afterCommit(ctx, changes)

	m.logger.Info("販売在庫消費完了",
		zap.String("material_id", materialID),
		zap.String("quantity", quantityConsumed.String()),
		zap.String("related_order_id", relatedOrderID),
	)
	return nil
}
