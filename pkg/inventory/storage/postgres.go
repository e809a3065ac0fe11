package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiBuffet/pkg/inventory"
)

// PostgreSQLStorage implements the Storage interface using PostgreSQL
// PostgreSQLを使用したStorageインターフェースの実装
type PostgreSQLStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ inventory.Storage = (*PostgreSQLStorage)(nil)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
// 新しいPostgreSQLストレージインスタンスを作成
func NewPostgreSQLStorage(dsn string, logger *zap.Logger) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	// 接続プール設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewPostgreSQLStorageFromDB(db, logger), nil
}

// NewPostgreSQLStorageFromDB wraps an existing connection pool
// 既存の接続プールからストレージを作成
func NewPostgreSQLStorageFromDB(db *sql.DB, logger *zap.Logger) *PostgreSQLStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgreSQLStorage{
		db:     db,
		logger: logger,
	}
}

// Begin starts a new database transaction
// 新しいデータベーストランザクションを開始
func (s *PostgreSQLStorage) Begin(ctx context.Context) (inventory.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}
	return &postgresTx{
		tx:            tx,
		ctx:           ctx,
		logger:        s.logger,
		readMaterials: make(map[string]int64),
		readOrders:    make(map[string]int64),
	}, nil
}

const materialColumns = `id, name, stock, unit, low_stock_threshold, version, created_at, updated_at`

func scanMaterial(row interface{ Scan(...interface{}) error }) (*inventory.Material, error) {
	material := &inventory.Material{}
	err := row.Scan(
		&material.ID,
		&material.Name,
		&material.Stock,
		&material.Unit,
		&material.LowStockThreshold,
		&material.Version,
		&material.CreatedAt,
		&material.UpdatedAt,
	)
	return material, err
}

func getMaterial(ctx context.Context, q queryer, materialID string) (*inventory.Material, error) {
	query := `SELECT ` + materialColumns + ` FROM materials WHERE id = $1`

	material, err := scanMaterial(q.QueryRowContext(ctx, query, materialID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.NewNotFoundError(inventory.EntityMaterial, materialID)
		}
		return nil, fmt.Errorf("資材取得に失敗しました: %w", err)
	}
	return material, nil
}

// GetMaterial retrieves a material
// 資材を取得
func (s *PostgreSQLStorage) GetMaterial(ctx context.Context, materialID string) (*inventory.Material, error) {
	return getMaterial(ctx, s.db, materialID)
}

// ListMaterials retrieves all materials ordered by name
// すべての資材を名前順で取得
func (s *PostgreSQLStorage) ListMaterials(ctx context.Context) ([]inventory.Material, error) {
	query := `SELECT ` + materialColumns + ` FROM materials ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("資材一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var materials []inventory.Material
	for rows.Next() {
		material, err := scanMaterial(rows)
		if err != nil {
			return nil, fmt.Errorf("資材スキャンに失敗しました: %w", err)
		}
		materials = append(materials, *material)
	}
	return materials, rows.Err()
}

// CreateMaterial creates a new material
// 新しい資材を作成
func (s *PostgreSQLStorage) CreateMaterial(ctx context.Context, material *inventory.Material) error {
	query := `
		INSERT INTO materials (` + materialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		material.ID,
		material.Name,
		material.Stock,
		material.Unit,
		material.LowStockThreshold,
		material.Version,
		material.CreatedAt,
		material.UpdatedAt,
	)
	if err != nil {
		return mapError("資材作成に失敗しました", err)
	}
	return nil
}

const orderColumns = `id, status, category_id, category_name, location, created_at, received_at, version`

func getPurchaseOrder(ctx context.Context, q queryer, orderID string) (*inventory.PurchaseOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE id = $1`

	order := &inventory.PurchaseOrder{}
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&order.ID,
		&order.Status,
		&order.Category.ID,
		&order.Category.Name,
		&order.Location,
		&order.CreatedAt,
		&order.ReceivedAt,
		&order.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.NewNotFoundError(inventory.EntityPurchaseOrder, orderID)
		}
		return nil, fmt.Errorf("発注書取得に失敗しました: %w", err)
	}

	items, err := getPurchaseOrderItems(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func getPurchaseOrderItems(ctx context.Context, q queryer, orderID string) ([]inventory.PurchaseOrderItem, error) {
	query := `
		SELECT material_id, quantity, unit, price, note
		FROM purchase_order_items
		WHERE order_id = $1
		ORDER BY line_no`

	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("発注明細取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []inventory.PurchaseOrderItem
	for rows.Next() {
		var item inventory.PurchaseOrderItem
		if err := rows.Scan(&item.MaterialID, &item.Quantity, &item.Unit, &item.Price, &item.Note); err != nil {
			return nil, fmt.Errorf("発注明細スキャンに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetPurchaseOrder retrieves a purchase order with its items
// 明細付きで発注書を取得
func (s *PostgreSQLStorage) GetPurchaseOrder(ctx context.Context, orderID string) (*inventory.PurchaseOrder, error) {
	return getPurchaseOrder(ctx, s.db, orderID)
}

// ListPurchaseOrders retrieves purchase orders, newest first
// 発注書を新しい順で取得
func (s *PostgreSQLStorage) ListPurchaseOrders(ctx context.Context, status inventory.PurchaseOrderStatus) ([]inventory.PurchaseOrder, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM purchase_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("発注書一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var orders []inventory.PurchaseOrder
	for rows.Next() {
		var order inventory.PurchaseOrder
		err := rows.Scan(
			&order.ID,
			&order.Status,
			&order.Category.ID,
			&order.Category.Name,
			&order.Location,
			&order.CreatedAt,
			&order.ReceivedAt,
			&order.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("発注書スキャンに失敗しました: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := getPurchaseOrderItems(ctx, s.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// CreatePurchaseOrder creates a purchase order and its items in one transaction
// 発注書と明細を1トランザクションで作成
func (s *PostgreSQLStorage) CreatePurchaseOrder(ctx context.Context, order *inventory.PurchaseOrder) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO purchase_orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = tx.ExecContext(ctx, query,
		order.ID,
		order.Status,
		order.Category.ID,
		order.Category.Name,
		order.Location,
		order.CreatedAt,
		order.ReceivedAt,
		order.Version,
	)
	if err != nil {
		return mapError("発注書作成に失敗しました", err)
	}

	for i, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (order_id, line_no, material_id, quantity, unit, price, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			order.ID, i, item.MaterialID, item.Quantity, item.Unit, item.Price, item.Note,
		)
		if err != nil {
			return mapError("発注明細作成に失敗しました", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return mapError("発注書作成のコミットに失敗しました", err)
	}
	return nil
}

func getInventoryCountItems(ctx context.Context, q queryer, countID string) ([]inventory.InventoryCountItem, error) {
	query := `
		SELECT material_id, material_name, unit, system_stock, counted_stock, wastage
		FROM inventory_count_items
		WHERE count_id = $1
		ORDER BY line_no`

	rows, err := q.QueryContext(ctx, query, countID)
	if err != nil {
		return nil, fmt.Errorf("棚卸明細取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []inventory.InventoryCountItem
	for rows.Next() {
		var item inventory.InventoryCountItem
		err := rows.Scan(
			&item.MaterialID,
			&item.MaterialName,
			&item.Unit,
			&item.SystemStock,
			&item.CountedStock,
			&item.Wastage,
		)
		if err != nil {
			return nil, fmt.Errorf("棚卸明細スキャンに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetInventoryCount retrieves a saved count with its items
// 明細付きで確定済み棚卸を取得
func (s *PostgreSQLStorage) GetInventoryCount(ctx context.Context, countID string) (*inventory.InventoryCount, error) {
	count := &inventory.InventoryCount{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, date, created_at FROM inventory_counts WHERE id = $1`, countID,
	).Scan(&count.ID, &count.Date, &count.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.NewNotFoundError(inventory.EntityInventoryCount, countID)
		}
		return nil, fmt.Errorf("棚卸取得に失敗しました: %w", err)
	}

	items, err := getInventoryCountItems(ctx, s.db, countID)
	if err != nil {
		return nil, err
	}
	count.Items = items
	return count, nil
}

// ListInventoryCounts retrieves saved counts, newest date first
// 確定済み棚卸を新しい順で取得
func (s *PostgreSQLStorage) ListInventoryCounts(ctx context.Context) ([]inventory.InventoryCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, created_at FROM inventory_counts ORDER BY date DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("棚卸一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var counts []inventory.InventoryCount
	for rows.Next() {
		var count inventory.InventoryCount
		if err := rows.Scan(&count.ID, &count.Date, &count.CreatedAt); err != nil {
			return nil, fmt.Errorf("棚卸スキャンに失敗しました: %w", err)
		}
		counts = append(counts, count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range counts {
		items, err := getInventoryCountItems(ctx, s.db, counts[i].ID)
		if err != nil {
			return nil, err
		}
		counts[i].Items = items
	}
	return counts, nil
}

func queryAuditLog(ctx context.Context, q queryer, filter inventory.AuditLogQuery) ([]inventory.AuditLogEntry, error) {
	query := `
		SELECT id, material_id, material_name, change, type, related_id, created_at
		FROM audit_log
		WHERE ($1 = '' OR material_id = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		  AND ($4::timestamptz IS NULL OR created_at > $4)
		ORDER BY created_at, seq`

	from, to, after := microsecondBounds(filter)
	rows, err := q.QueryContext(ctx, query, filter.MaterialID, from, to, after)
	if err != nil {
		return nil, fmt.Errorf("監査ログ取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []inventory.AuditLogEntry
	for rows.Next() {
		var entry inventory.AuditLogEntry
		err := rows.Scan(
			&entry.ID,
			&entry.MaterialID,
			&entry.MaterialName,
			&entry.Change,
			&entry.Type,
			&entry.RelatedID,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("監査ログスキャンに失敗しました: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// microsecondBounds aligns query bounds to timestamptz precision. Postgres
// rounds fractional seconds to microseconds, so an inclusive upper bound such
// as 23:59:59.999999999 would otherwise become the next midnight.
// 照会範囲をtimestamptzの精度（マイクロ秒）に揃える
func microsecondBounds(filter inventory.AuditLogQuery) (from, to, after *time.Time) {
	if filter.From != nil {
		v := ceilMicrosecond(*filter.From)
		from = &v
	}
	if filter.To != nil {
		v := filter.To.Truncate(time.Microsecond)
		to = &v
	}
	if filter.After != nil {
		v := filter.After.Truncate(time.Microsecond)
		after = &v
	}
	return from, to, after
}

func ceilMicrosecond(t time.Time) time.Time {
	floor := t.Truncate(time.Microsecond)
	if floor.Equal(t) {
		return floor
	}
	return floor.Add(time.Microsecond)
}

// QueryAuditLog retrieves matching entries in ascending createdAt order
// 条件に一致する監査ログを昇順で取得
func (s *PostgreSQLStorage) QueryAuditLog(ctx context.Context, query inventory.AuditLogQuery) ([]inventory.AuditLogEntry, error) {
	return queryAuditLog(ctx, s.db, query)
}

// Ping checks database connectivity
// データベース接続をチェック
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
// データベース接続を閉じる
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

// postgresTx reads inside a database transaction and issues all buffered
// writes at Commit. Updates are guarded by the version read; entities read
// but not written are re-checked FOR SHARE.
// 読み取りはDBトランザクション内で行い、書き込みはコミット時にまとめて発行
type postgresTx struct {
	tx            *sql.Tx
	ctx           context.Context
	logger        *zap.Logger
	readMaterials map[string]int64
	readOrders    map[string]int64
	materials     map[string]*inventory.Material
	orders        map[string]*inventory.PurchaseOrder
	entries       []*inventory.AuditLogEntry
	counts        []*inventory.InventoryCount
}

func (t *postgresTx) GetMaterial(ctx context.Context, materialID string) (*inventory.Material, error) {
	material, err := getMaterial(ctx, t.tx, materialID)
	if err != nil {
		return nil, err
	}
	if _, seen := t.readMaterials[materialID]; !seen {
		t.readMaterials[materialID] = material.Version
	}
	return material, nil
}

func (t *postgresTx) GetPurchaseOrder(ctx context.Context, orderID string) (*inventory.PurchaseOrder, error) {
	order, err := getPurchaseOrder(ctx, t.tx, orderID)
	if err != nil {
		return nil, err
	}
	if _, seen := t.readOrders[orderID]; !seen {
		t.readOrders[orderID] = order.Version
	}
	return order, nil
}

func (t *postgresTx) QueryAuditLog(ctx context.Context, query inventory.AuditLogQuery) ([]inventory.AuditLogEntry, error) {
	return queryAuditLog(ctx, t.tx, query)
}

func (t *postgresTx) UpdateMaterial(material *inventory.Material) {
	if t.materials == nil {
		t.materials = make(map[string]*inventory.Material)
	}
	cp := *material
	t.materials[material.ID] = &cp
}

func (t *postgresTx) UpdatePurchaseOrder(order *inventory.PurchaseOrder) {
	if t.orders == nil {
		t.orders = make(map[string]*inventory.PurchaseOrder)
	}
	cp := *order
	t.orders[order.ID] = &cp
}

func (t *postgresTx) AppendAuditLog(entry *inventory.AuditLogEntry) {
	cp := *entry
	t.entries = append(t.entries, &cp)
}

func (t *postgresTx) CreateInventoryCount(count *inventory.InventoryCount) {
	cp := *count
	cp.Items = append([]inventory.InventoryCountItem(nil), count.Items...)
	t.counts = append(t.counts, &cp)
}

// Commit issues every buffered write and commits the transaction
// バッファした書き込みを発行してコミット
func (t *postgresTx) Commit() error {
	if err := t.flush(); err != nil {
		if rbErr := t.Rollback(); rbErr != nil {
			t.logger.Error("ロールバックに失敗しました", zap.Error(rbErr))
		}
		return err
	}
	if err := t.tx.Commit(); err != nil {
		return mapError("コミットに失敗しました", err)
	}
	return nil
}

func (t *postgresTx) flush() error {
	ctx := t.ctx

	// 行ロックの取得順を固定してデッドロックを避ける
	materialIDs := make([]string, 0, len(t.materials))
	for id := range t.materials {
		materialIDs = append(materialIDs, id)
	}
	sort.Strings(materialIDs)

	for _, id := range materialIDs {
		material := t.materials[id]
		version, read := t.readMaterials[id]
		if !read {
			return inventory.NewStorageError("commit", "読み取っていない資材は更新できません", nil)
		}
		result, err := t.tx.ExecContext(ctx, `
			UPDATE materials
			SET stock = $2, updated_at = $3, version = version + 1
			WHERE id = $1 AND version = $4`,
			material.ID, material.Stock, material.UpdatedAt, version,
		)
		if err := checkGuardedUpdate(result, err, "在庫更新に失敗しました"); err != nil {
			return err
		}
	}

	for id, order := range t.orders {
		version, read := t.readOrders[id]
		if !read {
			return inventory.NewStorageError("commit", "読み取っていない発注書は更新できません", nil)
		}
		result, err := t.tx.ExecContext(ctx, `
			UPDATE purchase_orders
			SET status = $2, received_at = $3, version = version + 1
			WHERE id = $1 AND version = $4`,
			order.ID, order.Status, order.ReceivedAt, version,
		)
		if err := checkGuardedUpdate(result, err, "発注書更新に失敗しました"); err != nil {
			return err
		}
	}

	// 読み取りのみの資材・発注書のバージョン検証
	for id, version := range t.readMaterials {
		if _, written := t.materials[id]; written {
			continue
		}
		if err := t.checkVersion(ctx, `SELECT version FROM materials WHERE id = $1 FOR SHARE`, id, version); err != nil {
			return err
		}
	}
	for id, version := range t.readOrders {
		if _, written := t.orders[id]; written {
			continue
		}
		if err := t.checkVersion(ctx, `SELECT version FROM purchase_orders WHERE id = $1 FOR SHARE`, id, version); err != nil {
			return err
		}
	}

	// 行ロック取得後に時刻を付与し、記録順と適用順を一致させる
	for _, entry := range t.entries {
		var createdAt interface{}
		if !entry.CreatedAt.IsZero() {
			createdAt = entry.CreatedAt.Truncate(time.Microsecond)
		}
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO audit_log (id, material_id, material_name, change, type, related_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, clock_timestamp()))`,
			entry.ID, entry.MaterialID, entry.MaterialName, entry.Change, entry.Type, entry.RelatedID, createdAt,
		)
		if err != nil {
			return mapError("監査ログ記録に失敗しました", err)
		}
	}

	for _, count := range t.counts {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO inventory_counts (id, date, created_at) VALUES ($1, $2, $3)`,
			count.ID, count.Date, count.CreatedAt,
		)
		if err != nil {
			return mapError("棚卸記録に失敗しました", err)
		}
		for i, item := range count.Items {
			_, err := t.tx.ExecContext(ctx, `
				INSERT INTO inventory_count_items (count_id, line_no, material_id, material_name, unit, system_stock, counted_stock, wastage)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				count.ID, i, item.MaterialID, item.MaterialName, item.Unit, item.SystemStock, item.CountedStock, item.Wastage,
			)
			if err != nil {
				return mapError("棚卸明細記録に失敗しました", err)
			}
		}
	}

	t.logger.Debug("作業単位をコミットします",
		zap.Int("materials", len(t.materials)),
		zap.Int("orders", len(t.orders)),
		zap.Int("audit_entries", len(t.entries)),
		zap.Int("counts", len(t.counts)),
	)
	return nil
}

func (t *postgresTx) checkVersion(ctx context.Context, query, id string, version int64) error {
	var current int64
	if err := t.tx.QueryRowContext(ctx, query, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.ErrVersionMismatch
		}
		return mapError("バージョン検証に失敗しました", err)
	}
	if current != version {
		return inventory.ErrVersionMismatch
	}
	return nil
}

// Rollback aborts the transaction
// トランザクションを中止
func (t *postgresTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func checkGuardedUpdate(result sql.Result, err error, message string) error {
	if err != nil {
		return mapError(message, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return inventory.ErrVersionMismatch
	}
	return nil
}

// mapError converts PostgreSQL conflict codes to inventory errors
// PostgreSQLのエラーコードを在庫エラーに変換
func mapError(message string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%s: %w", message, inventory.ErrVersionMismatch)
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", message, inventory.ErrDuplicate)
		}
	}
	return fmt.Errorf("%s: %w", message, err)
}
