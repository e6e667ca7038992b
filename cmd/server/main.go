package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"remindmail/backend/internal/config"
	"remindmail/backend/internal/health"
	"remindmail/backend/internal/logger"
	"remindmail/backend/internal/monitoring"
	"remindmail/backend/internal/notify"
	"remindmail/backend/internal/scheduler"
	"remindmail/backend/internal/service"
	"remindmail/backend/internal/smtp"
	"remindmail/backend/internal/storage"
	"remindmail/backend/internal/storage/filesystem"
	"remindmail/backend/internal/storage/memory"
	httptransport "remindmail/backend/internal/transport/http"
	"remindmail/backend/internal/websocket"
)

const version = "1.0.0"

// main 启动 HTTP API 与提醒调度器。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting remindmail server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	store, err := openStore(cfg.Storage, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 通知事件：调度器与设置服务发布，WebSocket 与 Redis 订阅
	broker := notify.NewBroker(log)
	defer broker.Close()

	var bridge *notify.RedisBridge
	if cfg.Redis.Enabled {
		bridge, err = notify.NewRedisBridge(cfg.Redis, log)
		if err != nil {
			// Redis 只用于转发事件，不可用时继续运行
			log.Warn("redis bridge disabled", zap.Error(err))
			bridge = nil
		} else {
			defer bridge.Close()
		}
	}

	mailer := smtp.NewClient(smtp.OptionsFromConfig(cfg.Mailer), log)
	throttle := smtp.NewThrottle(cfg.Scheduler.SendRate, cfg.Scheduler.SendBurst)

	engine := scheduler.NewEngine(store, store, mailer,
		scheduler.OptionsFromConfig(cfg.Scheduler),
		scheduler.WithThrottle(throttle),
		scheduler.WithPublisher(broker),
		scheduler.WithMetrics(metrics),
		scheduler.WithLogger(log),
	)

	// 初始化服务层
	historyService := service.NewHistoryService(store)
	reminderService := service.NewReminderService(engine, historyService, log)
	settingsService := service.NewSettingsService(store, mailer, broker, log)

	// 初始化健康检查
	var redisPinger health.Pinger
	if bridge != nil {
		redisPinger = bridge
	}
	healthChecker := health.NewHealthChecker(store, engine, redisPinger, health.Options{
		StartupGrace: cfg.Scheduler.WarmupDelay + cfg.Scheduler.Interval + time.Minute,
	}, log)

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, cfg.Server.APIKey, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		ReminderService: reminderService,
		SettingsService: settingsService,
		HistoryService:  historyService,
		WebSocketHub:    wsHub,
		Health:          healthChecker,
		Metrics:         metrics,
		Logger:          log,
	})

	httpAddr := cfg.Server.Addr()
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// 手动触发的调度可能等待较慢的 SMTP 服务器
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	var sink *smtp.Sink
	if cfg.Mailer.SinkAddr != "" {
		sink = smtp.NewSink(smtp.SinkOptions{}, log)
		log.Warn("local SMTP sink enabled, point settings at it to capture reminders without sending",
			zap.String("address", cfg.Mailer.SinkAddr))
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 提醒调度 goroutine
	group.Go(func() error {
		log.Info("starting reminder scheduler",
			zap.Duration("interval", cfg.Scheduler.Interval),
			zap.Duration("warmup", cfg.Scheduler.WarmupDelay),
			zap.Duration("grace_period", cfg.Scheduler.GracePeriod),
		)
		return engine.Run(groupCtx)
	})

	// WebSocket Hub goroutine
	wsEvents := broker.Subscribe(notify.DefaultBuffer)
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx, wsEvents)
		return nil
	})

	if bridge != nil {
		redisEvents := broker.Subscribe(notify.DefaultBuffer)
		group.Go(func() error {
			return bridge.Run(groupCtx, redisEvents)
		})
	}

	if sink != nil {
		group.Go(func() error {
			if err := sink.ListenAndServe(cfg.Mailer.SinkAddr); err != nil && groupCtx.Err() == nil {
				log.Error("SMTP sink error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// 运行时指标 goroutine
	group.Go(func() error {
		startedAt := time.Now()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			metrics.UpdateSystemUptime(time.Since(startedAt))
			metrics.UpdateWebSocketClients(wsHub.ClientCount())
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// 关闭 HTTP 服务器
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		if sink != nil {
			if err := sink.Close(); err != nil {
				log.Warn("SMTP sink close warning", zap.Error(err))
			}
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// openStore 根据配置选择存储后端
func openStore(cfg config.StorageConfig, log *zap.Logger) (storage.Store, error) {
	switch cfg.Type {
	case "memory":
		log.Warn("using memory storage, reminders are lost on restart")
		return memory.NewStore(), nil
	default:
		store, err := filesystem.NewStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open data directory %q: %w", cfg.DataDir, err)
		}
		log.Info("filesystem storage initialized", zap.String("path", store.BasePath()))
		return store, nil
	}
}
