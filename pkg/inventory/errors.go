package inventory

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Common inventory errors
// 共通の在庫エラー定義

var (
	// ErrNotFound is matched by every NotFoundError
	// 対象が存在しない場合のエラー
	ErrNotFound = errors.New("対象が見つかりません")

	// ErrInvalidTransition is matched by every InvalidTransitionError
	// 許可されていないステータス遷移のエラー
	ErrInvalidTransition = errors.New("無効なステータス遷移です")

	// ErrInsufficientStock is matched by every InsufficientStockError
	// 在庫不足の場合のエラー
	ErrInsufficientStock = errors.New("在庫が不足しています")

	// ErrConcurrencyConflict is returned when retries on contention are exhausted
	// 競合による再試行が上限に達した場合のエラー
	ErrConcurrencyConflict = errors.New("同時更新の競合が解消できませんでした")

	// ErrValidation is matched by every ValidationError
	// 入力不正の場合のエラー
	ErrValidation = errors.New("入力が不正です")

	// ErrVersionMismatch is returned by storage when optimistic locking fails
	// 楽観的ロック失敗時のエラー
	ErrVersionMismatch = errors.New("バージョンが一致しません。他のユーザーによって更新されています")

	// ErrDuplicate is returned when creating an entity whose ID already exists
	// 既に存在するIDで作成しようとした場合のエラー
	ErrDuplicate = errors.New("既に存在します")
)

// ErrorKind classifies core errors for callers
// 呼び出し側向けのエラー分類
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindNotFound            ErrorKind = "not_found"
	KindInvalidTransition   ErrorKind = "invalid_transition"
	KindInsufficientStock   ErrorKind = "insufficient_stock"
	KindConcurrencyConflict ErrorKind = "concurrency_conflict"
	KindValidation          ErrorKind = "validation"
	KindStorage             ErrorKind = "storage"
)

// KindOf returns the kind of a core error
// エラーの分類を返す
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrConcurrencyConflict), errors.Is(err, ErrVersionMismatch):
		return KindConcurrencyConflict
	default:
		return KindStorage
	}
}

// ValidationError represents a validation error with details
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError identifies the missing entity
// 見つからなかったエンティティを表現
type NotFoundError struct {
	Entity string `json:"entity"` // material, purchase_order, inventory_count
	ID     string `json:"id"`
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s が見つかりません: %s", e.Entity, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidTransitionError represents a status change outside the state graph
// 状態遷移図にないステータス変更を表現
type InvalidTransitionError struct {
	OrderID string              `json:"order_id"`
	From    PurchaseOrderStatus `json:"from"`
	To      PurchaseOrderStatus `json:"to"`
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("発注書 %s のステータスを %s から %s に変更できません", e.OrderID, e.From, e.To)
}

func (e InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// InsufficientStockError represents a change that would make stock negative
// 在庫がマイナスになる変更を表現
type InsufficientStockError struct {
	MaterialID string          `json:"material_id"`
	Stock      decimal.Decimal `json:"stock"`  // 現在庫
	Change     decimal.Decimal `json:"change"` // 適用しようとした増減量
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("資材 %s の在庫が不足しています (現在: %s, 変動: %s)", e.MaterialID, e.Stock, e.Change)
}

func (e InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ConcurrencyError represents a concurrency-related error
// 同時実行関連のエラーを表現
type ConcurrencyError struct {
	Operation string `json:"operation"` // 操作名
	Resource  string `json:"resource"`  // リソース
	Message   string `json:"message"`   // エラーメッセージ
	Attempts  int    `json:"attempts"`  // 試行回数
}

func (e ConcurrencyError) Error() string {
	return fmt.Sprintf("同時実行エラー [%s:%s]: %s (試行回数: %d)", e.Operation, e.Resource, e.Message, e.Attempts)
}

func (e ConcurrencyError) Is(target error) bool { return target == ErrConcurrencyConflict }

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e StorageError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewNotFoundError creates a new not-found error
// 新しい未検出エラーを作成
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// NewInvalidTransitionError creates a new invalid transition error
// 新しいステータス遷移エラーを作成
func NewInvalidTransitionError(orderID string, from, to PurchaseOrderStatus) *InvalidTransitionError {
	return &InvalidTransitionError{OrderID: orderID, From: from, To: to}
}

// NewInsufficientStockError creates a new insufficient stock error
// 新しい在庫不足エラーを作成
func NewInsufficientStockError(materialID string, stock, change decimal.Decimal) *InsufficientStockError {
	return &InsufficientStockError{MaterialID: materialID, Stock: stock, Change: change}
}

// NewConcurrencyError creates a new concurrency error
// 新しい同時実行エラーを作成
func NewConcurrencyError(operation, resource, message string, attempts int) *ConcurrencyError {
	return &ConcurrencyError{
		Operation: operation,
		Resource:  resource,
		Message:   message,
		Attempts:  attempts,
	}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// Entity names used in NotFoundError
const (
	EntityMaterial       = "material"
	EntityPurchaseOrder  = "purchase_order"
	EntityInventoryCount = "inventory_count"
)
