// Package events delivers committed inventory events to subscribers
// 確定した在庫イベントを購読者へ配信
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiBuffet/pkg/inventory"
)

// Channel suffixes, appended to the configured prefix
// チャネル名の接尾辞
const (
	ChannelStockChanged              = "stock_changed"
	ChannelLowStockAlert             = "low_stock_alert"
	ChannelPurchaseOrderTransitioned = "purchase_order_transitioned"
)

// Publisher is the subset of the go-redis client used for delivery
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes inventory events as JSON on Redis pub/sub
// channels named "<prefix>:<event>"
// Redis Pub/Subへ在庫イベントをJSONで発行
type RedisPublisher struct {
	client Publisher
	prefix string
	logger *zap.Logger
}

var _ inventory.EventPublisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher on an existing client
// 既存のクライアントからパブリッシャーを作成
func NewRedisPublisher(client Publisher, prefix string, logger *zap.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = "buffet"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, prefix: prefix, logger: logger}
}

// Channel returns the full channel name for an event suffix
func (p *RedisPublisher) Channel(event string) string {
	return p.prefix + ":" + event
}

// PublishStockChanged publishes a committed stock change
// 在庫変更イベントを発行
func (p *RedisPublisher) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	return p.publish(ctx, ChannelStockChanged, event)
}

// PublishLowStockAlert publishes a low stock alert
// 低在庫アラートを発行
func (p *RedisPublisher) PublishLowStockAlert(ctx context.Context, event inventory.LowStockAlertEvent) error {
	return p.publish(ctx, ChannelLowStockAlert, event)
}

// PublishPurchaseOrderTransitioned publishes a committed status change
// 発注書ステータス変更イベントを発行
func (p *RedisPublisher) PublishPurchaseOrderTransitioned(ctx context.Context, event inventory.PurchaseOrderTransitionedEvent) error {
	return p.publish(ctx, ChannelPurchaseOrderTransitioned, event)
}

func (p *RedisPublisher) publish(ctx context.Context, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗しました: %w", err)
	}

	channel := p.Channel(event)
	receivers, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("イベント発行に失敗しました (%s): %w", channel, err)
	}

	p.logger.Debug("イベント発行完了",
		zap.String("channel", channel),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// LogPublisher writes events to the log only; used when Redis is disabled
// Redis無効時にイベントをログへ出力
type LogPublisher struct {
	logger *zap.Logger
}

var _ inventory.EventPublisher = (*LogPublisher)(nil)

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	p.logger.Info("在庫変更",
		zap.String("material_id", event.MaterialID),
		zap.String("old_quantity", event.OldQuantity.String()),
		zap.String("new_quantity", event.NewQuantity.String()),
		zap.String("change_type", string(event.ChangeType)),
		zap.String("related_id", event.RelatedID),
		zap.String("user_id", event.UserID),
	)
	return nil
}

func (p *LogPublisher) PublishLowStockAlert(ctx context.Context, event inventory.LowStockAlertEvent) error {
	p.logger.Warn("低在庫アラート",
		zap.String("material_id", event.MaterialID),
		zap.String("material_name", event.MaterialName),
		zap.String("current_qty", event.CurrentQty.String()),
		zap.String("threshold", event.Threshold.String()),
	)
	return nil
}

func (p *LogPublisher) PublishPurchaseOrderTransitioned(ctx context.Context, event inventory.PurchaseOrderTransitionedEvent) error {
	p.logger.Info("発注書ステータス変更",
		zap.String("order_id", event.OrderID),
		zap.String("from", string(event.From)),
		zap.String("to", string(event.To)),
		zap.String("user_id", event.UserID),
	)
	return nil
}
