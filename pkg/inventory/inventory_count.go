package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EndOfDay returns the last instant of date's calendar day in loc
// 指定日の終端時刻を返す
func EndOfDay(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	d := date.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 999999999, loc)
}

// Rewind subtracts every later ledger delta from the current stock,
// recovering the stock as it stood before those entries
// 現在庫から後続の増減を差し引き、過去時点の在庫を復元
func Rewind(current decimal.Decimal, later []AuditLogEntry) decimal.Decimal {
	stock := current
	for _, entry := range later {
		stock = stock.Sub(entry.Change)
	}
	return stock
}

// ComputeInventoryReport builds an unsaved count by reconstructing each
// counted material's stock at the end of date. Nothing is written.
// 棚卸日終端時点の理論在庫を復元し、未保存の棚卸を作成
func (m *Manager) ComputeInventoryReport(ctx context.Context, date time.Time, counts map[string]decimal.Decimal) (*InventoryCount, error) {
	if err := ValidateCounts(date, counts); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cutoff := EndOfDay(date, m.config.Location)
	var report *InventoryCount
	err := m.coordinator.Run(ctx, "compute_inventory_report", cutoff.Format("2006-01-02"), func(ctx context.Context, tx Tx) error {
		items := make([]InventoryCountItem, 0, len(ids))
		for _, id := range ids {
			material, err := tx.GetMaterial(ctx, id)
			if err != nil {
				return err
			}
			later, err := tx.QueryAuditLog(ctx, AfterQuery(id, cutoff))
			if err != nil {
				return NewStorageError("query_audit_log", "監査ログ取得に失敗しました", err)
			}

			systemStock := Rewind(material.Stock, later)
			counted := counts[id]
			items = append(items, InventoryCountItem{
				MaterialID:   material.ID,
				MaterialName: material.Name,
				Unit:         material.Unit,
				SystemStock:  systemStock,
				CountedStock: counted,
				Wastage:      systemStock.Sub(counted),
			})
		}

		sort.SliceStable(items, func(i, j int) bool {
			if items[i].MaterialName != items[j].MaterialName {
				return items[i].MaterialName < items[j].MaterialName
			}
			return items[i].MaterialID < items[j].MaterialID
		})
		report = &InventoryCount{Date: date, Items: items}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("棚卸レポート作成完了",
		zap.Time("date", date),
		zap.Time("cutoff", cutoff),
		zap.Int("items", len(report.Items)),
	)
	return report, nil
}

// CommitInventoryReport saves a draft count and applies its corrections to
// current stock. Adjustment entries are dated at the count date so later
// reports rewind past them correctly.
// 棚卸下書きを確定し、在庫補正と調整記録（棚卸日付）を行う
func (m *Manager) CommitInventoryReport(ctx context.Context, draft *InventoryCount) (*InventoryCount, error) {
	if err := ValidateInventoryCountDraft(draft); err != nil {
		return nil, err
	}

	countID := NewID()
	var (
		saved   *InventoryCount
		changes []stockChange
	)
	err := m.coordinator.Run(ctx, "commit_inventory_report", countID, func(ctx context.Context, tx Tx) error {
		changes = nil

		count := &InventoryCount{
			ID:        countID,
			Date:      draft.Date,
			Items:     make([]InventoryCountItem, len(draft.Items)),
			CreatedAt: m.now(),
		}
		copy(count.Items, draft.Items)

		// 読み取りフェーズ（補正が必要な資材のみ、現在庫を再取得）
		materials := make(map[string]*Material)
		for i := range count.Items {
			item := &count.Items[i]
			item.Wastage = item.SystemStock.Sub(item.CountedStock)
			if item.Difference().IsZero() {
				continue
			}
			material, err := tx.GetMaterial(ctx, item.MaterialID)
			if err != nil {
				return err
			}
			materials[item.MaterialID] = material
		}

		// 書き込みフェーズ
		for _, item := range count.Items {
			diff := item.Difference()
			if diff.IsZero() {
				continue
			}
			material := materials[item.MaterialID]
			oldStock := material.Stock
			if _, err := adjustStock(material, diff, false); err != nil {
				return err
			}
			material.UpdatedAt = count.CreatedAt

			tx.UpdateMaterial(material)
			tx.AppendAuditLog(&AuditLogEntry{
				ID:           NewID(),
				MaterialID:   material.ID,
				MaterialName: material.Name,
				Change:       diff,
				Type:         AuditLogTypeAdjustment,
				RelatedID:    countID,
				CreatedAt:    draft.Date,
			})
			changes = append(changes, stockChange{
				material:   *material,
				oldStock:   oldStock,
				changeType: AuditLogTypeAdjustment,
				relatedID:  countID,
			})
		}

		tx.CreateInventoryCount(count)
		saved = count
		return nil
	})
	if err != nil {
		m.logger.Error("棚卸確定に失敗しました", zap.Time("date", draft.Date), zap.Error(err))
		return nil, err
	}

	m.afterCommit(ctx, changes)

	m.logger.Info("棚卸確定完了",
		zap.String("count_id", saved.ID),
		zap.Time("date", saved.Date),
		zap.Int("items", len(saved.Items)),
		zap.Int("adjustments", len(changes)),
	)
	return saved, nil
}

// GetInventoryCount gets a saved count by ID
// 確定済み棚卸を取得
func (m *Manager) GetInventoryCount(ctx context.Context, countID string) (*InventoryCount, error) {
	if err := ValidateID("count_id", countID); err != nil {
		return nil, err
	}
	return m.storage.GetInventoryCount(ctx, countID)
}

// ListInventoryCounts lists saved counts, newest date first
// 確定済み棚卸を新しい順で取得
func (m *Manager) ListInventoryCounts(ctx context.Context) ([]InventoryCount, error) {
	return m.storage.ListInventoryCounts(ctx)
}
