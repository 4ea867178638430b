package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/internal/notifier"
	"github.com/1zbbxzak1/EventHubBot/internal/worker"
	"github.com/1zbbxzak1/EventHubBot/pkg/config"
	"github.com/1zbbxzak1/EventHubBot/pkg/kafka"
	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
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
		ServiceName: "notification-worker",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Notification Worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "notification-worker",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Tracing disabled", zap.Error(err))
	}

	// Initialize Kafka consumer
	consumerCfg := &kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.ConsumerGroup,
		Topics:         []string{cfg.Kafka.NotificationTopic},
		ClientID:       "notification-worker",
		MaxRetries:     3,
		RetryInterval:  2 * time.Second,
		SessionTimeout: 30 * time.Second,
	}
	consumer, err := kafka.NewConsumer(ctx, consumerCfg)
	if err != nil {
		appLog.Fatal("Failed to create Kafka consumer", zap.Error(err))
	}
	appLog.Info("Kafka consumer connected",
		zap.String("topic", cfg.Kafka.NotificationTopic),
		zap.String("group", cfg.Kafka.ConsumerGroup),
	)

	// Create worker
	notificationConsumer := worker.NewNotificationConsumer(
		consumer,
		notifier.NewLogSender(appLog),
		&worker.NotificationConsumerConfig{
			Location:      cfg.Location(),
			SendRetries:   3,
			RetryInterval: time.Second,
			PollBackoff:   2 * time.Second,
		},
	)

	if err := notificationConsumer.Start(ctx); err != nil {
		appLog.Fatal("Failed to start notification consumer", zap.Error(err))
	}

	appLog.Info("Notification Worker started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker...")
	notificationConsumer.Stop()

	stats := notificationConsumer.GetStats()
	appLog.Info("Worker exited gracefully", zap.Any("stats", stats))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = telemetry.Shutdown(shutdownCtx)
}
