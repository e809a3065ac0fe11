package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockStorage はテスト用のStorageモック
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Begin(ctx context.Context) (Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Tx), args.Error(1)
}

func (m *MockStorage) GetMaterial(ctx context.Context, materialID string) (*Material, error) {
	args := m.Called(ctx, materialID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Material), args.Error(1)
}

func (m *MockStorage) ListMaterials(ctx context.Context) ([]Material, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Material), args.Error(1)
}

func (m *MockStorage) GetPurchaseOrder(ctx context.Context, orderID string) (*PurchaseOrder, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PurchaseOrder), args.Error(1)
}

func (m *MockStorage) ListPurchaseOrders(ctx context.Context, status PurchaseOrderStatus) ([]PurchaseOrder, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]PurchaseOrder), args.Error(1)
}

func (m *MockStorage) GetInventoryCount(ctx context.Context, countID string) (*InventoryCount, error) {
	args := m.Called(ctx, countID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*InventoryCount), args.Error(1)
}

func (m *MockStorage) ListInventoryCounts(ctx context.Context) ([]InventoryCount, error) {
	args := m.Called(ctx)
	return args.Get(0).([]InventoryCount), args.Error(1)
}

func (m *MockStorage) QueryAuditLog(ctx context.Context, query AuditLogQuery) ([]AuditLogEntry, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]AuditLogEntry), args.Error(1)
}

func (m *MockStorage) CreateMaterial(ctx context.Context, material *Material) error {
	args := m.Called(ctx, material)
	return args.Error(0)
}

func (m *MockStorage) CreatePurchaseOrder(ctx context.Context, order *PurchaseOrder) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockStorage) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockTx はテスト用のTxモック
type MockTx struct {
	mock.Mock
}

func (m *MockTx) GetMaterial(ctx context.Context, materialID string) (*Material, error) {
	args := m.Called(ctx, materialID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	// 呼び出し側の変更がモックの戻り値に残らないようコピーを返す
	material := *args.Get(0).(*Material)
	return &material, args.Error(1)
}

func (m *MockTx) GetPurchaseOrder(ctx context.Context, orderID string) (*PurchaseOrder, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	order := *args.Get(0).(*PurchaseOrder)
	return &order, args.Error(1)
}

func (m *MockTx) QueryAuditLog(ctx context.Context, query AuditLogQuery) ([]AuditLogEntry, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]AuditLogEntry), args.Error(1)
}

func (m *MockTx) UpdateMaterial(material *Material)        { m.Called(material) }
func (m *MockTx) UpdatePurchaseOrder(order *PurchaseOrder) { m.Called(order) }
func (m *MockTx) AppendAuditLog(entry *AuditLogEntry)      { m.Called(entry) }
func (m *MockTx) CreateInventoryCount(count *InventoryCount) {
	m.Called(count)
}

func (m *MockTx) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTx) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// MockEventPublisher はテスト用のEventPublisherモック
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishStockChanged(ctx context.Context, event StockChangedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishLowStockAlert(ctx context.Context, event LowStockAlertEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishPurchaseOrderTransitioned(ctx context.Context, event PurchaseOrderTransitionedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func testConfig() *Config {
	config := DefaultConfig()
	config.RetryBackoff = 0
	return config
}

func newTestMaterial(id string, stock, threshold int64) *Material {
	return &Material{
		ID:                id,
		Name:              "資材" + id,
		Stock:             decimal.NewFromInt(stock),
		Unit:              UnitKilogram,
		LowStockThreshold: decimal.NewFromInt(threshold),
		Version:           1,
	}
}

func TestCoordinator_RetriesOnConflict(t *testing.T) {
	storage := new(MockStorage)
	tx1 := new(MockTx)
	tx2 := new(MockTx)

	storage.On("Begin", mock.Anything).Return(tx1, nil).Once()
	storage.On("Begin", mock.Anything).Return(tx2, nil).Once()
	tx1.On("Commit").Return(ErrVersionMismatch)
	tx2.On("Commit").Return(nil)

	coordinator := NewCoordinator(storage, zap.NewNop(), nil, 3, 0)

	calls := 0
	err := coordinator.Run(context.Background(), "test", "res-1", func(ctx context.Context, tx Tx) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls, "競合後は作業単位を最初からやり直す")
	storage.AssertExpectations(t)
	tx1.AssertExpectations(t)
	tx2.AssertExpectations(t)
}

func TestCoordinator_ExhaustsRetries(t *testing.T) {
	storage := new(MockStorage)
	tx := new(MockTx)
	storage.On("Begin", mock.Anything).Return(tx, nil)
	tx.On("Commit").Return(ErrVersionMismatch)

	coordinator := NewCoordinator(storage, zap.NewNop(), nil, 2, 0)
	err := coordinator.Run(context.Background(), "sale", "mat-1", func(ctx context.Context, tx Tx) error {
		return nil
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConcurrencyConflict))
	assert.Equal(t, KindConcurrencyConflict, KindOf(err))

	var concurrencyErr *ConcurrencyError
	require.True(t, errors.As(err, &concurrencyErr))
	assert.Equal(t, 3, concurrencyErr.Attempts)
	assert.Equal(t, "mat-1", concurrencyErr.Resource)
	storage.AssertNumberOfCalls(t, "Begin", 3)
}

func TestCoordinator_DomainErrorAbortsWithoutCommit(t *testing.T) {
	storage := new(MockStorage)
	tx := new(MockTx)
	storage.On("Begin", mock.Anything).Return(tx, nil)
	tx.On("Rollback").Return(nil)

	coordinator := NewCoordinator(storage, zap.NewNop(), nil, 5, 0)
	domainErr := NewInsufficientStockError("mat-1", decimal.NewFromInt(1), decimal.NewFromInt(-2))
	err := coordinator.Run(context.Background(), "sale", "mat-1", func(ctx context.Context, tx Tx) error {
		return domainErr
	})

	assert.ErrorIs(t, err, ErrInsufficientStock)
	storage.AssertNumberOfCalls(t, "Begin", 1)
	tx.AssertNotCalled(t, "Commit")
	tx.AssertCalled(t, "Rollback")
}

func TestCoordinator_CommitFailureIsStorageError(t *testing.T) {
	storage := new(MockStorage)
	tx := new(MockTx)
	storage.On("Begin", mock.Anything).Return(tx, nil)
	tx.On("Commit").Return(errors.New("disk full"))

	coordinator := NewCoordinator(storage, zap.NewNop(), nil, 5, 0)
	err := coordinator.Run(context.Background(), "sale", "mat-1", func(ctx context.Context, tx Tx) error {
		return nil
	})

	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "commit", storageErr.Operation)
	assert.Equal(t, KindStorage, KindOf(err))
}

func TestCoordinator_BeginFailure(t *testing.T) {
	storage := new(MockStorage)
	storage.On("Begin", mock.Anything).Return(nil, errors.New("connection refused"))

	coordinator := NewCoordinator(storage, zap.NewNop(), nil, 5, 0)
	err := coordinator.Run(context.Background(), "sale", "mat-1", func(ctx context.Context, tx Tx) error {
		t.Fatal("作業単位は実行されない")
		return nil
	})

	assert.Equal(t, KindStorage, KindOf(err))
}

func TestCoordinator_CancelledContext(t *testing.T) {
	storage := new(MockStorage)
	coordinator := NewCoordinator(storage, zap.NewNop(), nil, 5, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := coordinator.Run(ctx, "sale", "mat-1", func(ctx context.Context, tx Tx) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	storage.AssertNotCalled(t, "Begin", mock.Anything)
}

func TestManager_AdjustStockForSale(t *testing.T) {
	storage := new(MockStorage)
	tx := new(MockTx)
	publisher := new(MockEventPublisher)

	storage.On("Begin", mock.Anything).Return(tx, nil)
	tx.On("GetMaterial", mock.Anything, "mat-1").Return(newTestMaterial("mat-1", 10, 2), nil)
	tx.On("UpdateMaterial", mock.MatchedBy(func(m *Material) bool {
		return m.ID == "mat-1" && m.Stock.Equal(decimal.RequireFromString("7.5"))
	})).Return()
	tx.On("AppendAuditLog", mock.MatchedBy(func(e *AuditLogEntry) bool {
		return e.Type == AuditLogTypeSale &&
			e.Change.Equal(decimal.RequireFromString("-2.5")) &&
			e.RelatedID == "order-9" &&
			e.MaterialName == "資材mat-1" &&
			e.CreatedAt.IsZero()
	})).Return()
	tx.On("Commit").Return(nil)
	publisher.On("PublishStockChanged", mock.Anything, mock.MatchedBy(func(e StockChangedEvent) bool {
		return e.MaterialID == "mat-1" &&
			e.OldQuantity.Equal(decimal.NewFromInt(10)) &&
			e.NewQuantity.Equal(decimal.RequireFromString("7.5")) &&
			e.ChangeType == AuditLogTypeSale &&
			e.UserID == "alice"
	})).Return(nil)

	manager := NewManager(storage, publisher, zap.NewNop(), testConfig())
	ctx := WithUserID(context.Background(), "alice")

	err := manager.AdjustStockForSale(ctx, "mat-1", decimal.RequireFromString("2.5"), "order-9")

	require.NoError(t, err)
	tx.AssertExpectations(t)
	publisher.AssertExpectations(t)
	publisher.AssertNotCalled(t, "PublishLowStockAlert", mock.Anything, mock.Anything)
}

func TestManager_AdjustStockForSale_LowStockAlert(t *testing.T) {
	storage := new(MockStorage)
	tx := new(MockTx)
	publisher := new(MockEventPublisher)

	storage.On("Begin", mock.Anything).Return(tx, nil)
	tx.On("GetMaterial", mock.Anything, "mat-1").Return(newTestMaterial("mat-1", 5, 3), nil)
	tx.On("UpdateMaterial", mock.Anything).Return()
	tx.On("AppendAuditLog", mock.Anything).Return()
	tx.On("Commit").Return(nil)
	publisher.On("PublishStockChanged", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	publisher.On("PublishLowStockAlert", mock.Anything, mock.MatchedBy(func(e LowStockAlertEvent) bool {
		return e.MaterialID == "mat-1" && e.CurrentQty.Equal(decimal.NewFromInt(3)) && e.Threshold.Equal(decimal.NewFromInt(3))
	})).Return(nil)

	manager := NewManager(storage, publisher, zap.NewNop(), testConfig())

	err := manager.AdjustStockForSale(context.Background(), "mat-1", decimal.NewFromInt(2), "")

	require.NoError(t, err, "イベント発行の失敗は操作を失敗させない")
	publisher.AssertExpectations(t)
}

func TestManager_AdjustStockForSale_InsufficientStock(t *testing.T) {
	storage := new(MockStorage)
	tx := new(MockTx)
	publisher := new(MockEventPublisher)

	storage.On("Begin", mock.Anything).Return(tx, nil)
	tx.On("GetMaterial", mock.Anything, "mat-1").Return(newTestMaterial("mat-1", 1, 0), nil)
	tx.On("Rollback").Return(nil)

	manager := NewManager(storage, publisher, zap.NewNop(), testConfig())
	err := manager.AdjustStockForSale(context.Background(), "mat-1", decimal.NewFromInt(2), "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "mat-1", stockErr.MaterialID)

	tx.AssertNotCalled(t, "UpdateMaterial", mock.Anything)
	tx.AssertNotCalled(t, "AppendAuditLog", mock.Anything)
	tx.AssertNotCalled(t, "Commit")
	publisher.AssertNotCalled(t, "PublishStockChanged", mock.Anything, mock.Anything)
}

func TestManager_AdjustStockForSale_AllowNegative(t *testing.T) {
	storage := new(MockStorage)
	tx := new(MockTx)

	storage.On("Begin", mock.Anything).Return(tx, nil)
	tx.On("GetMaterial", mock.Anything, "mat-1").Return(newTestMaterial("mat-1", 1, 0), nil)
	tx.On("UpdateMaterial", mock.MatchedBy(func(m *Material) bool {
		return m.Stock.Equal(decimal.NewFromInt(-1))
	})).Return()
	tx.On("AppendAuditLog", mock.Anything).Return()
	tx.On("Commit").Return(nil)

	config := testConfig()
	config.AllowNegativeStock = true
	manager := NewManager(storage, nil, zap.NewNop(), config)

	require.NoError(t, manager.AdjustStockForSale(context.Background(), "mat-1", decimal.NewFromInt(2), ""))
	tx.AssertExpectations(t)
}

func TestManager_AdjustStockForSale_Validation(t *testing.T) {
	storage := new(MockStorage)
	manager := NewManager(storage, nil, zap.NewNop(), testConfig())
	ctx := context.Background()

	tests := []struct {
		name       string
		materialID string
		quantity   decimal.Decimal
	}{
		{"空のID", "", decimal.NewFromInt(1)},
		{"無効なID", "mat 1", decimal.NewFromInt(1)},
		{"ゼロ数量", "mat-1", decimal.Zero},
		{"負の数量", "mat-1", decimal.NewFromInt(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := manager.AdjustStockForSale(ctx, tt.materialID, tt.quantity, "")
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
	storage.AssertNotCalled(t, "Begin", mock.Anything)
}

func TestManager_TransitionPurchaseOrder_NoOp(t *testing.T) {
	storage := new(MockStorage)
	tx := new(MockTx)
	publisher := new(MockEventPublisher)

	order := &PurchaseOrder{ID: "po-1", Status: PurchaseOrderStatusApproved, Version: 3}
	storage.On("Begin", mock.Anything).Return(tx, nil)
	tx.On("GetPurchaseOrder", mock.Anything, "po-1").Return(order, nil)
	tx.On("Commit").Return(nil)

	manager := NewManager(storage, publisher, zap.NewNop(), testConfig())
	status, err := manager.TransitionPurchaseOrder(context.Background(), "po-1", PurchaseOrderStatusApproved)

	require.NoError(t, err)
	assert.Equal(t, PurchaseOrderStatusApproved, status)
	tx.AssertNotCalled(t, "UpdatePurchaseOrder", mock.Anything)
	publisher.AssertNotCalled(t, "PublishPurchaseOrderTransitioned", mock.Anything, mock.Anything)
}

func TestManager_TransitionPurchaseOrder_PublishesEvent(t *testing.T) {
	storage := new(MockStorage)
	tx := new(MockTx)
	publisher := new(MockEventPublisher)

	order := &PurchaseOrder{ID: "po-1", Status: PurchaseOrderStatusPending, Version: 1}
	storage.On("Begin", mock.Anything).Return(tx, nil)
	tx.On("GetPurchaseOrder", mock.Anything, "po-1").Return(order, nil)
	tx.On("UpdatePurchaseOrder", mock.MatchedBy(func(o *PurchaseOrder) bool {
		return o.Status == PurchaseOrderStatusCancelled && o.ReceivedAt == nil
	})).Return()
	tx.On("Commit").Return(nil)
	publisher.On("PublishPurchaseOrderTransitioned", mock.Anything, mock.MatchedBy(func(e PurchaseOrderTransitionedEvent) bool {
		return e.OrderID == "po-1" && e.From == PurchaseOrderStatusPending && e.To == PurchaseOrderStatusCancelled
	})).Return(nil)

	manager := NewManager(storage, publisher, zap.NewNop(), testConfig())
	status, err := manager.TransitionPurchaseOrder(context.Background(), "po-1", PurchaseOrderStatusCancelled)

	require.NoError(t, err)
	assert.Equal(t, PurchaseOrderStatusCancelled, status)
	tx.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestManager_TransitionPurchaseOrder_InvalidStatus(t *testing.T) {
	storage := new(MockStorage)
	manager := NewManager(storage, nil, zap.NewNop(), testConfig())

	_, err := manager.TransitionPurchaseOrder(context.Background(), "po-1", "Shipped")
	assert.ErrorIs(t, err, ErrValidation)
	storage.AssertNotCalled(t, "Begin", mock.Anything)
}

func TestManager_CreatePurchaseOrder_StrictUnits(t *testing.T) {
	storage := new(MockStorage)
	storage.On("GetMaterial", mock.Anything, "eggs").Return(&Material{ID: "eggs", Name: "卵", Unit: UnitPiece}, nil)

	config := testConfig()
	config.StrictUnitConversion = true
	manager := NewManager(storage, nil, zap.NewNop(), config)

	order := &PurchaseOrder{
		ID:    "po-1",
		Items: []PurchaseOrderItem{{MaterialID: "eggs", Quantity: decimal.NewFromInt(2), Unit: UnitKilogram}},
	}
	err := manager.CreatePurchaseOrder(context.Background(), order)

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "items[0].unit", validationErr.Field)
	storage.AssertNotCalled(t, "CreatePurchaseOrder", mock.Anything, mock.Anything)
}

func TestManager_CreatePurchaseOrder(t *testing.T) {
	storage := new(MockStorage)
	storage.On("GetMaterial", mock.Anything, "flour").Return(&Material{ID: "flour", Name: "小麦粉", Unit: UnitKilogram}, nil)
	storage.On("CreatePurchaseOrder", mock.Anything, mock.MatchedBy(func(o *PurchaseOrder) bool {
		return o.Status == PurchaseOrderStatusPending && o.Version == 1 && o.ID != ""
	})).Return(nil)

	now := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	manager := NewManager(storage, nil, zap.NewNop(), testConfig(), WithClock(func() time.Time { return now }))

	order := &PurchaseOrder{
		Status: PurchaseOrderStatusCompleted,
		Items:  []PurchaseOrderItem{{MaterialID: "flour", Quantity: decimal.NewFromInt(2), Unit: UnitKilogram, Price: decimal.NewFromInt(3)}},
	}
	require.NoError(t, manager.CreatePurchaseOrder(context.Background(), order))

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, PurchaseOrderStatusPending, order.Status, "登録時は常に保留")
	assert.Equal(t, now, order.CreatedAt)
	assert.True(t, order.Total().Equal(decimal.NewFromInt(6)))
	storage.AssertExpectations(t)
}

func TestManager_CreateMaterial_Validation(t *testing.T) {
	storage := new(MockStorage)
	manager := NewManager(storage, nil, zap.NewNop(), testConfig())
	ctx := context.Background()

	assert.ErrorIs(t, manager.CreateMaterial(ctx, nil), ErrValidation)
	assert.ErrorIs(t, manager.CreateMaterial(ctx, &Material{Name: "水", Unit: "gallon"}), ErrValidation)
	assert.ErrorIs(t, manager.CreateMaterial(ctx, &Material{Name: " ", Unit: UnitLiter}), ErrValidation)
	assert.ErrorIs(t, manager.CreateMaterial(ctx, &Material{Name: "水", Unit: UnitLiter, Stock: decimal.NewFromInt(-1)}), ErrValidation)
	storage.AssertNotCalled(t, "CreateMaterial", mock.Anything, mock.Anything)
}

func TestManager_QueryAuditLog_InvalidRange(t *testing.T) {
	storage := new(MockStorage)
	manager := NewManager(storage, nil, zap.NewNop(), testConfig())

	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := manager.QueryAuditLog(context.Background(), AuditLogQuery{From: &from, To: &to})

	assert.ErrorIs(t, err, ErrValidation)
}

func TestManager_GetWastageReport(t *testing.T) {
	storage := new(MockStorage)
	entries := []AuditLogEntry{
		{MaterialID: "b", MaterialName: "Bacon", Change: decimal.NewFromInt(-2), Type: AuditLogTypeAdjustment},
		{MaterialID: "a", MaterialName: "Apple", Change: decimal.NewFromInt(-5), Type: AuditLogTypeSale},
		{MaterialID: "a", MaterialName: "Apple", Change: decimal.NewFromInt(-1), Type: AuditLogTypeAdjustment},
		{MaterialID: "b", MaterialName: "Bacon", Change: decimal.NewFromInt(1), Type: AuditLogTypeAdjustment},
	}
	storage.On("QueryAuditLog", mock.Anything, mock.Anything).Return(entries, nil)

	manager := NewManager(storage, nil, zap.NewNop(), testConfig())
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	report, err := manager.GetWastageReport(context.Background(), from, from.AddDate(0, 1, 0))

	require.NoError(t, err)
	require.Len(t, report, 2)
	assert.Equal(t, "Apple", report[0].MaterialName)
	assert.True(t, report[0].Wastage.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 1, report[0].Entries)
	assert.Equal(t, "Bacon", report[1].MaterialName)
	assert.True(t, report[1].Wastage.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 2, report[1].Entries)
}

func TestCanTransition(t *testing.T) {
	statuses := []PurchaseOrderStatus{
		PurchaseOrderStatusPending,
		PurchaseOrderStatusApproved,
		PurchaseOrderStatusCompleted,
		PurchaseOrderStatusCancelled,
	}
	allowed := map[[2]PurchaseOrderStatus]bool{
		{PurchaseOrderStatusPending, PurchaseOrderStatusApproved}:   true,
		{PurchaseOrderStatusPending, PurchaseOrderStatusCancelled}:  true,
		{PurchaseOrderStatusApproved, PurchaseOrderStatusCompleted}: true,
		{PurchaseOrderStatusApproved, PurchaseOrderStatusCancelled}: true,
		{PurchaseOrderStatusCompleted, PurchaseOrderStatusPending}:  true,
		{PurchaseOrderStatusCancelled, PurchaseOrderStatusPending}:  true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			assert.Equal(t, allowed[[2]PurchaseOrderStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestReceiptDirection(t *testing.T) {
	assert.Equal(t, 1, receiptDirection(PurchaseOrderStatusApproved, PurchaseOrderStatusCompleted))
	assert.Equal(t, -1, receiptDirection(PurchaseOrderStatusCompleted, PurchaseOrderStatusPending))
	assert.Equal(t, 0, receiptDirection(PurchaseOrderStatusPending, PurchaseOrderStatusApproved))
	assert.Equal(t, 0, receiptDirection(PurchaseOrderStatusCancelled, PurchaseOrderStatusPending))
	assert.Equal(t, 0, receiptDirection(PurchaseOrderStatusCompleted, PurchaseOrderStatusCompleted))
}

func TestConvert(t *testing.T) {
	tests := []struct {
		from, to Unit
		want     string
	}{
		{UnitGram, UnitKilogram, "0.001"},
		{UnitKilogram, UnitGram, "1000"},
		{UnitMilliliter, UnitLiter, "0.001"},
		{UnitLiter, UnitMilliliter, "1000"},
		{UnitKilogram, UnitKilogram, "1"},
		{UnitPiece, UnitPiece, "1"},
		{UnitKilogram, UnitPiece, "1"}, // 換算不能は1にフォールバック
		{UnitGram, UnitLiter, "1"},
	}

	for _, tt := range tests {
		got := Convert(tt.from, tt.to)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "%s -> %s = %s", tt.from, tt.to, got)
	}

	assert.True(t, CanConvert(UnitGram, UnitKilogram))
	assert.True(t, CanConvert(UnitPiece, UnitPiece))
	assert.False(t, CanConvert(UnitKilogram, UnitPiece))
	assert.True(t, QuantityInUnit(decimal.NewFromInt(500), UnitGram, UnitKilogram).Equal(decimal.RequireFromString("0.5")))
}

func TestEndOfDay(t *testing.T) {
	date := time.Date(2024, 1, 12, 8, 30, 0, 0, time.UTC)
	end := EndOfDay(date, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 12, 23, 59, 59, 999999999, time.UTC), end)

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	// UTC 20:00 は東京では翌日
	endTokyo := EndOfDay(time.Date(2024, 1, 12, 20, 0, 0, 0, time.UTC), tokyo)
	assert.Equal(t, 13, endTokyo.Day())
}

func TestRewind(t *testing.T) {
	later := []AuditLogEntry{
		{Change: decimal.NewFromInt(-3)},
		{Change: decimal.RequireFromString("1.5")},
	}
	got := Rewind(decimal.NewFromInt(7), later)
	assert.True(t, got.Equal(decimal.RequireFromString("8.5")))
	assert.True(t, Rewind(decimal.NewFromInt(7), nil).Equal(decimal.NewFromInt(7)))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{NewValidationError("f", "m", "v"), KindValidation},
		{NewNotFoundError(EntityMaterial, "x"), KindNotFound},
		{NewInvalidTransitionError("po", PurchaseOrderStatusPending, PurchaseOrderStatusCompleted), KindInvalidTransition},
		{NewInsufficientStockError("x", decimal.Zero, decimal.NewFromInt(-1)), KindInsufficientStock},
		{NewConcurrencyError("op", "x", "m", 1), KindConcurrencyConflict},
		{NewStorageError("op", "m", errors.New("boom")), KindStorage},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err))
	}
}

func TestValidateInventoryCountDraft(t *testing.T) {
	date := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	item := InventoryCountItem{MaterialID: "a", CountedStock: decimal.NewFromInt(1)}

	assert.NoError(t, ValidateInventoryCountDraft(&InventoryCount{Date: date, Items: []InventoryCountItem{item}}))
	assert.Error(t, ValidateInventoryCountDraft(nil))
	assert.Error(t, ValidateInventoryCountDraft(&InventoryCount{ID: "saved", Date: date}))
	assert.Error(t, ValidateInventoryCountDraft(&InventoryCount{Items: []InventoryCountItem{item}}))
	assert.Error(t, ValidateInventoryCountDraft(&InventoryCount{Date: date, Items: []InventoryCountItem{item, item}}))
	assert.Error(t, ValidateInventoryCountDraft(&InventoryCount{Date: date, Items: []InventoryCountItem{
		{MaterialID: "a", CountedStock: decimal.NewFromInt(-1)},
	}}))
}
