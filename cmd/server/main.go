package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/koopa0/system-design/14-match-coordinator/internal"
	"github.com/koopa0/system-design/14-match-coordinator/internal/events"
	"github.com/koopa0/system-design/14-match-coordinator/internal/store"
	"github.com/koopa0/system-design/14-match-coordinator/internal/store/migrations"
	"github.com/koopa0/system-design/14-match-coordinator/pkg/auth"
)

func main() {
	// .env 只是開發便利，不存在時忽略
	_ = godotenv.Load()

	// 解析命令行參數
	var (
		configPath = flag.String("config", "config.yaml", "配置檔路徑")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置檔）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	// 設置日誌
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.Error("服務器異常退出", "error", err)
		os.Exit(1)
	}
}

func run(cfg *internal.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// 指標
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := internal.NewMetrics(reg)

	// 持久化服務（未設定 DSN 時不刪除任何記錄）
	var roomStore internal.RoomStore = internal.NopRoomStore{}
	if cfg.Postgres.DSN != "" {
		pg, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		roomStore = pg
	}

	// 生命週期事件
	publisher, err := events.New(ctx, events.Options{
		Driver:        cfg.Events.Driver,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		NATSURL:       cfg.NATS.URL,
	})
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("關閉事件發布者失敗", "error", err)
		}
	}()

	// 創建房間管理器
	manager := internal.NewManager(cfg, logger,
		internal.WithRoomStore(roomStore),
		internal.WithPublisher(publisher),
		internal.WithMetrics(metrics),
	)

	// 創建 WebSocket Hub
	hubOpts := []internal.HubOption{internal.WithHubMetrics(metrics)}
	if cfg.Auth.JWTSecret != "" {
		hubOpts = append(hubOpts, internal.WithVerifier(auth.New(cfg.Auth.JWTSecret)))
	}
	wsHub := internal.NewWebSocketHub(manager, cfg.Heartbeat.Interval, logger, hubOpts...)

	// 創建 HTTP 處理器
	handler := internal.NewHandler(manager, wsHub, logger)

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("GET /ws/rooms/{room_key}", wsHub.ServeWS)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSAllow,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      c.Handler(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("對局協調服務已啟動",
			"port", cfg.Server.Port,
			"maps", cfg.Match.Maps,
			"match_duration", cfg.Match.Duration,
			"events_driver", cfg.Events.Driver)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("收到關閉信號")
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	// 優雅關閉
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP 服務器關閉失敗", "error", err)
	}

	// 關閉所有連線（觸發 Leave 與記錄刪除）
	wsHub.Stop()

	// 停止計時器，等待背景刪除與事件發布
	manager.Stop()

	logger.Info("服務器已停止")
	return nil
}

// openStore 連接 PostgreSQL 並執行遷移
func openStore(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*store.Postgres, error) {
	migrator, err := migrations.New(cfg.Postgres.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("關閉遷移管理器失敗", "error", err)
	}

	pool, err := store.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, err
	}
	return store.NewPostgres(pool), nil
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
