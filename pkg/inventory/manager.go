package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Manager implements the Service interface
// Serviceインターフェースの実装
type Manager struct {
	storage     Storage        // ストレージ層
	publisher   EventPublisher // イベント発行者
	logger      *zap.Logger    // ログ
	config      *Config        // 設定
	metrics     *Metrics       // メトリクス
	coordinator *Coordinator   // 作業単位の調整役
	now         func() time.Time
}

// すべてのインターフェースを実装することを明示
var _ Service = (*Manager)(nil)

// Config holds configuration for the inventory manager
// 在庫マネージャーの設定を保持
type Config struct {
	AllowNegativeStock    bool           `yaml:"allow_negative_stock"`    // 販売による負の在庫を許可
	AuditPurchaseReceipts bool           `yaml:"audit_purchase_receipts"` // 入荷・入荷取消を監査ログに記録
	StrictUnitConversion  bool           `yaml:"strict_unit_conversion"`  // 変換不能な単位ペアを拒否
	MaxRetries            int            `yaml:"max_retries"`             // 競合時の最大再試行回数
	RetryBackoff          time.Duration  `yaml:"retry_backoff"`           // 再試行の待機時間
	Location              *time.Location `yaml:"-"`                       // 棚卸日の日付境界に使うタイムゾーン
}

// DefaultConfig returns the configuration used when none is given
// デフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		AllowNegativeStock:    false,
		AuditPurchaseReceipts: false,
		StrictUnitConversion:  false,
		MaxRetries:            5,
		RetryBackoff:          10 * time.Millisecond,
		Location:              time.UTC,
	}
}

// Option customizes a Manager
// マネージャーのオプション
type Option func(*Manager)

// WithMetrics records coordinator and stock metrics
// メトリクスを記録する
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock overrides the clock used for receivedAt and record timestamps
// 時計を差し替える
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a new inventory manager
// 新しい在庫マネージャーを作成
func NewManager(storage Storage, publisher EventPublisher, logger *zap.Logger, config *Config, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		storage:   storage,
		publisher: publisher,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.coordinator = NewCoordinator(storage, logger, m.metrics, config.MaxRetries, config.RetryBackoff)

	return m
}

// stockChange is a committed mutation collected for post-commit notification
type stockChange struct {
	material   Material
	oldStock   decimal.Decimal
	changeType AuditLogType
	relatedID  string
}

// afterCommit publishes events and records metrics for committed changes.
// Failures are logged only; the commit has already happened.
// コミット後のイベント発行とメトリクス記録
func (m *Manager) afterCommit(ctx context.Context, changes []stockChange) {
	for _, c := range changes {
		m.metrics.stockChanged(c.changeType)

		if m.publisher != nil {
			event := StockChangedEvent{
				MaterialID:  c.material.ID,
				OldQuantity: c.oldStock,
				NewQuantity: c.material.Stock,
				ChangeType:  c.changeType,
				RelatedID:   c.relatedID,
				Timestamp:   m.now(),
				UserID:      UserFromContext(ctx),
			}
			if err := m.publisher.PublishStockChanged(ctx, event); err != nil {
				m.logger.Error("イベント発行に失敗しました", zap.String("material_id", c.material.ID), zap.Error(err))
			}
		}

		if c.material.IsLowStock() {
			m.triggerLowStockAlert(ctx, c.material)
		}
	}
}

// triggerLowStockAlert publishes a low stock alert
// 低在庫アラートを発行
func (m *Manager) triggerLowStockAlert(ctx context.Context, material Material) {
	m.metrics.lowStockAlert()
	m.logger.Warn("在庫が低下しています",
		zap.String("material_id", material.ID),
		zap.String("material_name", material.Name),
		zap.String("stock", material.Stock.String()),
		zap.String("threshold", material.LowStockThreshold.String()),
	)

	if m.publisher == nil {
		return
	}
	event := LowStockAlertEvent{
		MaterialID:   material.ID,
		MaterialName: material.Name,
		CurrentQty:   material.Stock,
		Threshold:    material.LowStockThreshold,
		Unit:         material.Unit,
		Timestamp:    m.now(),
	}
	if err := m.publisher.PublishLowStockAlert(ctx, event); err != nil {
		m.logger.Error("低在庫アラートイベント発行に失敗しました", zap.Error(err))
	}
}

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID attaches the acting user to ctx
// コンテキストにユーザーIDを設定
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserFromContext extracts user ID from context
// コンテキストからユーザーIDを取得
func UserFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok && userID != "" {
		return userID
	}
	return "system"
}
