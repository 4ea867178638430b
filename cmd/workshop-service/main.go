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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/internal/di"
	"github.com/1zbbxzak1/EventHubBot/internal/handler"
	"github.com/1zbbxzak1/EventHubBot/internal/lock"
	"github.com/1zbbxzak1/EventHubBot/internal/metrics"
	"github.com/1zbbxzak1/EventHubBot/internal/notifier"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
	"github.com/1zbbxzak1/EventHubBot/internal/service"
	"github.com/1zbbxzak1/EventHubBot/internal/worker"
	"github.com/1zbbxzak1/EventHubBot/pkg/config"
	"github.com/1zbbxzak1/EventHubBot/pkg/database"
	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
	"github.com/1zbbxzak1/EventHubBot/pkg/middleware"
	pkgredis "github.com/1zbbxzak1/EventHubBot/pkg/redis"
	"github.com/1zbbxzak1/EventHubBot/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Workshop Service...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	if err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Tracing disabled", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize store
	var store repository.Store
	switch cfg.Backends.Store {
	case "memory":
		store = repository.NewMemoryStore()
		appLog.Warn("Using in-memory store, data is lost on restart")
	default:
		db, err := database.NewPostgres(ctx, database.PostgresConfigFrom(cfg.Database, cfg.OTel.Enabled))
		if err != nil {
			appLog.Fatal("Database connection failed", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(ctx, repository.Schema); err != nil {
			appLog.Fatal("Database migration failed", zap.Error(err))
		}
		store = repository.NewPostgresStore(db.Pool())
		appLog.Info("Database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("max_conns", cfg.Database.MaxOpenConns),
		)
	}

	// Redis backs the distributed lock, the reminder ledger and idempotency.
	// Only the redis lock backend makes it mandatory.
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(ctx, pkgredis.ConfigFrom(cfg.Redis))
	if err != nil {
		if cfg.Backends.Lock == "redis" {
			appLog.Fatal("Redis connection failed", zap.Error(err))
		}
		appLog.Warn("Redis unavailable, continuing without it", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		appLog.Info("Redis connected", zap.String("addr", pkgredis.ConfigFrom(cfg.Redis).Addr()))
	}

	// Initialize locker
	var locker lock.Locker
	if cfg.Backends.Lock == "redis" {
		locker = pkgredis.NewLocker(redisClient, cfg.App.Name+":", cfg.Backends.LockTTL)
	} else {
		locker = lock.NewKeyedMutex()
	}

	// Initialize notifier
	var n notifier.Notifier
	if cfg.Backends.Notifier == "kafka" {
		n, err = notifier.NewKafkaNotifier(ctx, &notifier.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.NotificationTopic,
			ClientID: cfg.Kafka.ClientID,
			Source:   cfg.App.Name,
		})
		if err != nil {
			appLog.Warn("Kafka connection failed, logging notifications instead", zap.Error(err))
			n = notifier.NewLogNotifier(appLog)
		} else {
			appLog.Info("Kafka notifier connected", zap.String("topic", cfg.Kafka.NotificationTopic))
		}
	} else {
		n = notifier.NewLogNotifier(appLog)
	}
	defer n.Close()

	var ledger worker.ReminderLedger
	pingers := map[string]handler.Pinger{}
	var idempotency *middleware.IdempotencyConfig
	if redisClient != nil {
		ledger = worker.NewRedisReminderLedger(redisClient.Client(), cfg.App.Name+":", 0)
		pingers["redis"] = redisClient
		idempotency = &middleware.IdempotencyConfig{Redis: redisClient}
	} else {
		ledger = worker.NewMemoryReminderLedger()
	}
	if !cfg.Reminder.Enabled {
		ledger = nil
	}

	// Build dependency injection container
	container := di.NewContainer(&di.ContainerConfig{
		ServiceName:    cfg.App.Name,
		Store:          store,
		Locker:         locker,
		Notifier:       n,
		Metrics:        m,
		Logger:         appLog,
		ReminderLedger: ledger,
		Pingers:        pingers,
		EngineConfig: &service.EngineConfig{
			ConfirmationWindow: cfg.Waitlist.ConfirmationWindow,
			BroadcastMode:      cfg.Waitlist.BroadcastMode,
			InvariantMode:      cfg.Waitlist.InvariantMode,
			NotifyTimeout:      cfg.Waitlist.NotifyTimeout,
		},
		SweeperConfig:  &worker.ExpirySweeperConfig{Interval: cfg.Waitlist.SweepInterval},
		ReminderConfig: &worker.ReminderWorkerConfig{Interval: cfg.Reminder.Interval, SendTimeout: cfg.Waitlist.NotifyTimeout},
	})

	// Start background workers
	if err := container.ExpirySweeper.Start(ctx); err != nil {
		appLog.Fatal("Failed to start expiry sweeper", zap.Error(err))
	}
	if container.ReminderWorker != nil {
		if err := container.ReminderWorker.Start(ctx); err != nil {
			appLog.Fatal("Failed to start reminder worker", zap.Error(err))
		}
	}

	// Setup Gin
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.IsProduction() && cfg.Auth.JWTSecret == "" {
		appLog.Warn("AUTH_JWT_SECRET is empty, trusting the X-User-ID header")
	}
	router := handler.NewRouter(&handler.RouterConfig{
		Workshops:   container.WorkshopHandler,
		Admin:       container.AdminHandler,
		Health:      container.HealthHandler,
		Metrics:     m.Handler(),
		Idempotency: idempotency,
		AdminIDs:    cfg.Admin.UserIDs,
		JWTSecret:   []byte(cfg.Auth.JWTSecret),
		Logger:      appLog,
		Tracing:     cfg.OTel.Enabled,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Start server in goroutine
	go func() {
		appLog.Info("Workshop Service listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}

	container.ExpirySweeper.Stop()
	if container.ReminderWorker != nil {
		container.ReminderWorker.Stop()
	}
	cancel()

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("Failed to flush traces", zap.Error(err))
	}

	appLog.Info("Server exited gracefully")
}
