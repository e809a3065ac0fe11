package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AfterQuery selects a material's entries strictly after cutoff
// 基準時刻より後のエントリを選択
func AfterQuery(materialID string, cutoff time.Time) AuditLogQuery {
	return AuditLogQuery{MaterialID: materialID, After: &cutoff}
}

// RangeQuery selects entries with from <= createdAt <= to; an empty
// materialID selects every material
// 期間内（両端含む）のエントリを選択
func RangeQuery(materialID string, from, to time.Time) AuditLogQuery {
	return AuditLogQuery{MaterialID: materialID, From: &from, To: &to}
}

// QueryAuditLog returns matching entries in ascending createdAt order
// 条件に一致する監査ログを記録日時の昇順で取得
func (m *Manager) QueryAuditLog(ctx context.Context, query AuditLogQuery) ([]AuditLogEntry, error) {
	if query.MaterialID != "" {
		if err := ValidateID("material_id", query.MaterialID); err != nil {
			return nil, err
		}
	}
	if query.From != nil && query.To != nil && query.From.After(*query.To) {
		return nil, NewValidationError("date_range", "開始日が終了日より後になっています",
			query.From.Format("2006-01-02")+" > "+query.To.Format("2006-01-02"))
	}

	entries, err := m.storage.QueryAuditLog(ctx, query)
	if err != nil {
		m.logger.Error("監査ログ取得に失敗しました", zap.String("material_id", query.MaterialID), zap.Error(err))
		return nil, NewStorageError("query_audit_log", "監査ログ取得に失敗しました", err)
	}
	return entries, nil
}

// GetWastageReport sums adjustment entries per material within [from, to].
// Wastage is reported as a loss, so a negative adjustment counts positive.
// 期間内の棚卸調整を資材ごとに集計（減耗を正で表示）
func (m *Manager) GetWastageReport(ctx context.Context, from, to time.Time) ([]WastageLine, error) {
	entries, err := m.QueryAuditLog(ctx, RangeQuery("", from, to))
	if err != nil {
		return nil, err
	}

	lines := make(map[string]*WastageLine)
	for _, entry := range entries {
		if entry.Type != AuditLogTypeAdjustment {
			continue
		}
		line, ok := lines[entry.MaterialID]
		if !ok {
			line = &WastageLine{MaterialID: entry.MaterialID, MaterialName: entry.MaterialName, Wastage: decimal.Zero}
			lines[entry.MaterialID] = line
		}
		line.Wastage = line.Wastage.Sub(entry.Change)
		line.Entries++
	}

	report := make([]WastageLine, 0, len(lines))
	for _, line := range lines {
		report = append(report, *line)
	}
	sort.Slice(report, func(i, j int) bool {
		if report[i].MaterialName != report[j].MaterialName {
			return report[i].MaterialName < report[j].MaterialName
		}
		return report[i].MaterialID < report[j].MaterialID
	})
	return report, nil
}
