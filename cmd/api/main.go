package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiBuffet/internal/config"
	"github.com/nemonet1337/zaiBuffet/pkg/inventory"
	"github.com/nemonet1337/zaiBuffet/pkg/inventory/events"
	"github.com/nemonet1337/zaiBuffet/pkg/inventory/storage"
)

func main() {
	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	// ログ設定
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	// ストレージ初期化
	store, err := newStorage(cfg, logger)
	if err != nil {
		logger.Fatal("ストレージ初期化に失敗しました", zap.Error(err))
	}
	defer store.Close()

	// イベント発行者初期化
	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("イベント発行者の初期化に失敗しました", zap.Error(err))
	}
	defer closePublisher()

	// メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := inventory.NewMetrics(registry)
	if err != nil {
		logger.Fatal("メトリクス登録に失敗しました", zap.Error(err))
	}

	// 在庫マネージャー初期化
	inventoryConfig, err := cfg.ToInventoryConfig()
	if err != nil {
		logger.Fatal("在庫設定の変換に失敗しました", zap.Error(err))
	}
	manager := inventory.NewManager(store, publisher, logger, inventoryConfig, inventory.WithMetrics(metrics))

	// HTTPハンドラー設定
	handlers := NewHandlers(manager, store, inventoryConfig.Location, logger)
	var metricsHandler http.Handler
	if cfg.API.EnableMetrics {
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	router := setupRouter(handlers, metricsHandler, cfg.API.EnableCORS)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		logger.Info("ビュッフェ在庫APIサーバーを開始します",
			zap.Int("port", cfg.API.Port),
			zap.String("storage", cfg.Storage.Driver),
			zap.Bool("redis", cfg.Redis.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	// グレースフルシャットダウン
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}

	logger.Info("サーバーが正常に停止しました")
}

// newStorage creates the configured storage backend
// 設定されたストレージを作成
func newStorage(cfg *config.Config, logger *zap.Logger) (inventory.Storage, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		logger.Warn("メモリストレージを使用します。再起動でデータは失われます")
		return storage.NewMemoryStorage(logger), nil
	default:
		return storage.NewPostgreSQLStorage(cfg.DSN(), logger)
	}
}

// newPublisher creates the Redis publisher when enabled, otherwise a log-only one
// Redis有効時はRedisパブリッシャー、無効時はログ出力のみ
func newPublisher(cfg *config.Config, logger *zap.Logger) (inventory.EventPublisher, func(), error) {
	if !cfg.Redis.Enabled {
		return events.NewLogPublisher(logger), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("Redis接続に失敗しました: %w", err)
	}

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error("Redis切断に失敗しました", zap.Error(err))
		}
	}
	return events.NewRedisPublisher(client, cfg.Redis.ChannelPrefix, logger), closeFn, nil
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, metricsHandler http.Handler, enableCORS bool) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()

	// 資材
	api.HandleFunc("/materials", handlers.CreateMaterial).Methods("POST")
	api.HandleFunc("/materials", handlers.ListMaterials).Methods("GET")
	api.HandleFunc("/materials/{materialId}", handlers.GetMaterial).Methods("GET")
	api.HandleFunc("/materials/{materialId}/stock", handlers.GetStock).Methods("GET")
	api.HandleFunc("/materials/{materialId}/sale", handlers.AdjustStockForSale).Methods("POST")
	api.HandleFunc("/materials/{materialId}/audit-log", handlers.QueryAuditLog).Methods("GET")

	// 発注書
	api.HandleFunc("/purchase-orders", handlers.CreatePurchaseOrder).Methods("POST")
	api.HandleFunc("/purchase-orders", handlers.ListPurchaseOrders).Methods("GET")
	api.HandleFunc("/purchase-orders/{orderId}", handlers.GetPurchaseOrder).Methods("GET")
	api.HandleFunc("/purchase-orders/{orderId}/transition", handlers.TransitionPurchaseOrder).Methods("POST")

	// 棚卸
	api.HandleFunc("/inventory-counts/preview", handlers.PreviewInventoryCount).Methods("POST")
	api.HandleFunc("/inventory-counts", handlers.CommitInventoryCount).Methods("POST")
	api.HandleFunc("/inventory-counts", handlers.ListInventoryCounts).Methods("GET")
	api.HandleFunc("/inventory-counts/{countId}", handlers.GetInventoryCount).Methods("GET")

	// 監査ログ・レポート
	api.HandleFunc("/audit-log", handlers.QueryAuditLog).Methods("GET")
	api.HandleFunc("/reports/wastage", handlers.GetWastageReport).Methods("GET")

	// CORS設定
	if enableCORS {
		router.Use(corsMiddleware)
	}

	// ログ機能
	router.Use(loggingMiddleware(handlers.logger))

	return router
}

// corsMiddleware allows browser access from the back-office UI
// バックオフィスUIからのブラウザアクセスを許可
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			// リクエスト処理
			next.ServeHTTP(rec, r)

			// ログ出力
			logger.Info("HTTPリクエスト",
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.Int("status", rec.status),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
