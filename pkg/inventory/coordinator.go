package inventory

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// UnitFunc is the read/decide phase of an atomic unit. It reads through tx
// and buffers writes on it; it must not perform any other side effects
// because it may run more than once.
// 作業単位の読み取り・判断フェーズ
type UnitFunc func(ctx context.Context, tx Tx) error

// Coordinator runs atomic units with optimistic retry
// 楽観的再試行付きで作業単位を実行
type Coordinator struct {
	storage    Storage
	logger     *zap.Logger
	metrics    *Metrics
	maxRetries int
	backoff    time.Duration
}

// NewCoordinator creates a new transaction coordinator
// 新しいトランザクションコーディネーターを作成
func NewCoordinator(storage Storage, logger *zap.Logger, metrics *Metrics, maxRetries int, backoff time.Duration) *Coordinator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Coordinator{
		storage:    storage,
		logger:     logger,
		metrics:    metrics,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Run executes fn inside a unit and commits its writes. Version conflicts
// restart the unit from fresh reads; any other error aborts it with no
// writes applied.
// 作業単位を実行してコミット（競合時は再読み込みから再試行）
func (c *Coordinator) Run(ctx context.Context, operation, resource string, fn UnitFunc) error {
	attempts := c.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.metrics.attempt(operation)

		err := c.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			c.metrics.failure(operation, KindOf(err))
			return err
		}

		c.metrics.conflict(operation)
		c.logger.Warn("同時更新の競合を検出しました。再試行します",
			zap.String("operation", operation),
			zap.String("resource", resource),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < attempts && c.backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
	}

	c.metrics.failure(operation, KindConcurrencyConflict)
	return NewConcurrencyError(operation, resource, "再試行の上限に達しました", attempts)
}

func (c *Coordinator) runOnce(ctx context.Context, fn UnitFunc) error {
	tx, err := c.storage.Begin(ctx)
	if err != nil {
		return NewStorageError("begin", "作業単位の開始に失敗しました", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Error("ロールバックに失敗しました", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if isConflict(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return NewStorageError("commit", "コミットに失敗しました", err)
	}
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, ErrVersionMismatch)
}
