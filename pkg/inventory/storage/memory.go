package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiBuffet/pkg/inventory"
)

// MemoryStorage implements the Storage interface in process memory.
// Units validate every entity they read against its current version at
// commit, under the store mutex, so overlapping units serialize.
// プロセス内メモリを使用したStorageインターフェースの実装
type MemoryStorage struct {
	mu        sync.RWMutex
	materials map[string]*inventory.Material
	orders    map[string]*inventory.PurchaseOrder
	counts    map[string]*inventory.InventoryCount
	auditLog  []inventory.AuditLogEntry
	now       func() time.Time
	logger    *zap.Logger
}

var _ inventory.Storage = (*MemoryStorage)(nil)

// MemoryOption customizes a MemoryStorage
type MemoryOption func(*MemoryStorage)

// WithClock sets the clock used to stamp audit entries at commit
// コミット時の記録日時に使う時計を設定
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) {
		s.now = now
	}
}

// NewMemoryStorage creates a new in-memory storage instance
// 新しいメモリストレージインスタンスを作成
func NewMemoryStorage(logger *zap.Logger, opts ...MemoryOption) *MemoryStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStorage{
		materials: make(map[string]*inventory.Material),
		orders:    make(map[string]*inventory.PurchaseOrder),
		counts:    make(map[string]*inventory.InventoryCount),
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin starts a new unit of work
// 新しい作業単位を開始
func (s *MemoryStorage) Begin(ctx context.Context) (inventory.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTx{
		store:         s,
		ctx:           ctx,
		readMaterials: make(map[string]int64),
		readOrders:    make(map[string]int64),
	}, nil
}

// GetMaterial retrieves a copy of a material
// 資材のコピーを取得
func (s *MemoryStorage) GetMaterial(ctx context.Context, materialID string) (*inventory.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMaterialLocked(materialID)
}

func (s *MemoryStorage) getMaterialLocked(materialID string) (*inventory.Material, error) {
	material, ok := s.materials[materialID]
	if !ok {
		return nil, inventory.NewNotFoundError(inventory.EntityMaterial, materialID)
	}
	cp := *material
	return &cp, nil
}

// ListMaterials retrieves all materials ordered by name
// すべての資材を名前順で取得
func (s *MemoryStorage) ListMaterials(ctx context.Context) ([]inventory.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	materials := make([]inventory.Material, 0, len(s.materials))
	for _, material := range s.materials {
		materials = append(materials, *material)
	}
	sort.Slice(materials, func(i, j int) bool {
		if materials[i].Name != materials[j].Name {
			return materials[i].Name < materials[j].Name
		}
		return materials[i].ID < materials[j].ID
	})
	return materials, nil
}

// CreateMaterial stores a new material
// 新しい資材を保存
func (s *MemoryStorage) CreateMaterial(ctx context.Context, material *inventory.Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.materials[material.ID]; ok {
		return inventory.ErrDuplicate
	}
	cp := *material
	s.materials[material.ID] = &cp
	return nil
}

// GetPurchaseOrder retrieves a copy of a purchase order
// 発注書のコピーを取得
func (s *MemoryStorage) GetPurchaseOrder(ctx context.Context, orderID string) (*inventory.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPurchaseOrderLocked(orderID)
}

func (s *MemoryStorage) getPurchaseOrderLocked(orderID string) (*inventory.PurchaseOrder, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, inventory.NewNotFoundError(inventory.EntityPurchaseOrder, orderID)
	}
	return copyOrder(order), nil
}

// ListPurchaseOrders retrieves purchase orders, newest first
// 発注書を新しい順で取得
func (s *MemoryStorage) ListPurchaseOrders(ctx context.Context, status inventory.PurchaseOrderStatus) ([]inventory.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]inventory.PurchaseOrder, 0, len(s.orders))
	for _, order := range s.orders {
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, *copyOrder(order))
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

// CreatePurchaseOrder stores a new purchase order
// 新しい発注書を保存
func (s *MemoryStorage) CreatePurchaseOrder(ctx context.Context, order *inventory.PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return inventory.ErrDuplicate
	}
	s.orders[order.ID] = copyOrder(order)
	return nil
}

// GetInventoryCount retrieves a saved inventory count
// 確定済み棚卸を取得
func (s *MemoryStorage) GetInventoryCount(ctx context.Context, countID string) (*inventory.InventoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count, ok := s.counts[countID]
	if !ok {
		return nil, inventory.NewNotFoundError(inventory.EntityInventoryCount, countID)
	}
	return copyCount(count), nil
}

// ListInventoryCounts retrieves saved counts, newest date first
// 確定済み棚卸を新しい順で取得
func (s *MemoryStorage) ListInventoryCounts(ctx context.Context) ([]inventory.InventoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make([]inventory.InventoryCount, 0, len(s.counts))
	for _, count := range s.counts {
		counts = append(counts, *copyCount(count))
	}
	sort.Slice(counts, func(i, j int) bool {
		if !counts[i].Date.Equal(counts[j].Date) {
			return counts[i].Date.After(counts[j].Date)
		}
		return counts[i].CreatedAt.After(counts[j].CreatedAt)
	})
	return counts, nil
}

// QueryAuditLog retrieves matching entries in ascending createdAt order
// 条件に一致する監査ログを昇順で取得
func (s *MemoryStorage) QueryAuditLog(ctx context.Context, query inventory.AuditLogQuery) ([]inventory.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAuditLogLocked(query), nil
}

func (s *MemoryStorage) queryAuditLogLocked(query inventory.AuditLogQuery) []inventory.AuditLogEntry {
	entries := make([]inventory.AuditLogEntry, 0)
	for i := range s.auditLog {
		if query.Matches(&s.auditLog[i]) {
			entries = append(entries, s.auditLog[i])
		}
	}
	// 同時刻は追記順
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries
}

// Ping checks storage availability
func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close releases nothing; the data lives as long as the process
func (s *MemoryStorage) Close() error {
	return nil
}

// memoryTx buffers writes and validates the read set at commit
// 書き込みをバッファし、コミット時に読み取りバージョンを検証
type memoryTx struct {
	store         *MemoryStorage
	ctx           context.Context
	readMaterials map[string]int64
	readOrders    map[string]int64
	materials     []*inventory.Material
	orders        []*inventory.PurchaseOrder
	entries       []*inventory.AuditLogEntry
	counts        []*inventory.InventoryCount
	done          bool
}

func (tx *memoryTx) GetMaterial(ctx context.Context, materialID string) (*inventory.Material, error) {
	material, err := tx.store.GetMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	if _, seen := tx.readMaterials[materialID]; !seen {
		tx.readMaterials[materialID] = material.Version
	}
	return material, nil
}

func (tx *memoryTx) GetPurchaseOrder(ctx context.Context, orderID string) (*inventory.PurchaseOrder, error) {
	order, err := tx.store.GetPurchaseOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, seen := tx.readOrders[orderID]; !seen {
		tx.readOrders[orderID] = order.Version
	}
	return order, nil
}

func (tx *memoryTx) QueryAuditLog(ctx context.Context, query inventory.AuditLogQuery) ([]inventory.AuditLogEntry, error) {
	return tx.store.QueryAuditLog(ctx, query)
}

func (tx *memoryTx) UpdateMaterial(material *inventory.Material) {
	cp := *material
	tx.materials = append(tx.materials, &cp)
}

func (tx *memoryTx) UpdatePurchaseOrder(order *inventory.PurchaseOrder) {
	tx.orders = append(tx.orders, copyOrder(order))
}

func (tx *memoryTx) AppendAuditLog(entry *inventory.AuditLogEntry) {
	cp := *entry
	tx.entries = append(tx.entries, &cp)
}

func (tx *memoryTx) CreateInventoryCount(count *inventory.InventoryCount) {
	tx.counts = append(tx.counts, copyCount(count))
}

// Commit applies every buffered write or none of them
// バッファした書き込みをすべて適用（失敗時は何も適用しない）
func (tx *memoryTx) Commit() error {
	if tx.done {
		return inventory.NewStorageError("commit", "作業単位は既に終了しています", nil)
	}
	tx.done = true
	if err := tx.ctx.Err(); err != nil {
		return err
	}

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// 読み取りセットの検証
	for id, version := range tx.readMaterials {
		current, ok := s.materials[id]
		if !ok || current.Version != version {
			return inventory.ErrVersionMismatch
		}
	}
	for id, version := range tx.readOrders {
		current, ok := s.orders[id]
		if !ok || current.Version != version {
			return inventory.ErrVersionMismatch
		}
	}
	for _, material := range tx.materials {
		if _, read := tx.readMaterials[material.ID]; !read {
			return inventory.NewStorageError("commit", "読み取っていない資材は更新できません", nil)
		}
	}
	for _, order := range tx.orders {
		if _, read := tx.readOrders[order.ID]; !read {
			return inventory.NewStorageError("commit", "読み取っていない発注書は更新できません", nil)
		}
	}
	for _, count := range tx.counts {
		if _, ok := s.counts[count.ID]; ok {
			return inventory.ErrDuplicate
		}
	}

	// 適用
	now := s.now()
	for _, material := range tx.materials {
		material.Version = tx.readMaterials[material.ID] + 1
		s.materials[material.ID] = material
	}
	for _, order := range tx.orders {
		order.Version = tx.readOrders[order.ID] + 1
		s.orders[order.ID] = order
	}
	for _, entry := range tx.entries {
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		s.auditLog = append(s.auditLog, *entry)
	}
	for _, count := range tx.counts {
		s.counts[count.ID] = count
	}

	s.logger.Debug("作業単位をコミットしました",
		zap.Int("materials", len(tx.materials)),
		zap.Int("orders", len(tx.orders)),
		zap.Int("audit_entries", len(tx.entries)),
		zap.Int("counts", len(tx.counts)),
	)
	return nil
}

// Rollback discards buffered writes
// バッファした書き込みを破棄
func (tx *memoryTx) Rollback() error {
	tx.done = true
	tx.materials = nil
	tx.orders = nil
	tx.entries = nil
	tx.counts = nil
	return nil
}

func copyOrder(order *inventory.PurchaseOrder) *inventory.PurchaseOrder {
	cp := *order
	cp.Items = append([]inventory.PurchaseOrderItem(nil), order.Items...)
	if order.ReceivedAt != nil {
		receivedAt := *order.ReceivedAt
		cp.ReceivedAt = &receivedAt
	}
	return &cp
}

func copyCount(count *inventory.InventoryCount) *inventory.InventoryCount {
	cp := *count
	cp.Items = append([]inventory.InventoryCountItem(nil), count.Items...)
	return &cp
}
