package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/internal/notifier"
	"github.com/1zbbxzak1/EventHubBot/pkg/kafka"
	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
	"github.com/1zbbxzak1/EventHubBot/pkg/retry"
	"github.com/1zbbxzak1/EventHubBot/pkg/telemetry"
)

// RecordSource is the consumer side of the notification topic
type RecordSource interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
	Close()
}

// NotificationConsumerConfig contains configuration for the notification consumer
type NotificationConsumerConfig struct {
	// Location is the time zone used when rendering times
	Location *time.Location
	// SendRetries is how many times a failed send is retried
	SendRetries int
	// RetryInterval is the first backoff between send attempts
	RetryInterval time.Duration
	// PollBackoff is the pause after a failed poll
	PollBackoff time.Duration
}

// DefaultNotificationConsumerConfig returns default configuration
func DefaultNotificationConsumerConfig() *NotificationConsumerConfig {
	return &NotificationConsumerConfig{
		Location:      time.UTC,
		SendRetries:   3,
		RetryInterval: 500 * time.Millisecond,
		PollBackoff:   time.Second,
	}
}

// NotificationConsumer renders notifications from the topic and hands the
// text to a Sender. Offsets are committed after each handled batch; a
// message that still fails after retries is logged and skipped.
type NotificationConsumer struct {
	source  RecordSource
	sender  notifier.Sender
	config  *NotificationConsumerConfig
	log     *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// Stats
	delivered int64
	failed    int64
	invalid   int64
}

// NewNotificationConsumer creates a new notification consumer
func NewNotificationConsumer(source RecordSource, sender notifier.Sender, config *NotificationConsumerConfig) *NotificationConsumer {
	if config == nil {
		config = DefaultNotificationConsumerConfig()
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.PollBackoff <= 0 {
		config.PollBackoff = time.Second
	}

	return &NotificationConsumer{
		source: source,
		sender: sender,
		config: config,
		log:    logger.Get().Named("notification-consumer"),
		stopCh: make(chan struct{}),
	}
}

// Start starts consuming
func (c *NotificationConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("notification consumer already running")
	}
	c.running = true
	c.mu.Unlock()

	c.log.Info("Starting notification consumer")

	ctx, cancel := context.WithCancel(ctx)
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	go c.run(ctx)

	return nil
}

// Stop stops consuming and closes the source
func (c *NotificationConsumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.log.Info("Stopping notification consumer")
	close(c.stopCh)
	c.wg.Wait()
	c.source.Close()
	c.log.Info("Notification consumer stopped")
}

func (c *NotificationConsumer) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		records, err := c.source.Poll(ctx)
		if ctx.Err() != nil || errors.Is(err, kafka.ErrClientClosed) {
			return
		}
		if err != nil {
			c.log.Warn("Failed to poll notifications", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.config.PollBackoff):
			}
			continue
		}

		if err := c.HandleBatch(ctx, records); err != nil {
			c.log.Error("Failed to commit notification offsets", zap.Error(err))
		}
	}
}

// HandleBatch delivers every record and commits the batch
func (c *NotificationConsumer) HandleBatch(ctx context.Context, records []*kafka.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		c.handle(ctx, r)
	}
	return c.source.CommitRecords(ctx, records)
}

func (c *NotificationConsumer) handle(ctx context.Context, r *kafka.Record) {
	ctx = telemetry.ExtractHeaders(ctx, r.Headers)
	ctx, span := telemetry.StartSpan(ctx, "worker.notification.deliver")

	n, err := notifier.Decode(r.Value)
	if err != nil {
		telemetry.EndSpan(span, err)
		c.mu.Lock()
		c.invalid++
		c.mu.Unlock()
		c.log.Warn("Skipping malformed notification",
			zap.Int32("partition", r.Partition),
			zap.Int64("offset", r.Offset),
			zap.Error(err),
		)
		return
	}

	text := notifier.Render(notifier.In(n, c.config.Location))
	res := retry.Do(ctx, &retry.Config{
		MaxRetries:      c.config.SendRetries,
		InitialInterval: c.config.RetryInterval,
		MaxInterval:     c.config.RetryInterval * 8,
		Multiplier:      2,
	}, func(ctx context.Context) error {
		return c.sender.Send(ctx, n.UserID, text)
	})
	telemetry.EndSpan(span, res.Err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if res.Err != nil {
		c.failed++
		c.log.Error("Failed to deliver notification",
			zap.String("notification_id", n.ID),
			zap.String("kind", n.Kind.String()),
			zap.String("user_id", n.UserID),
			zap.Int("attempts", res.Attempts),
			zap.Error(res.LastError),
		)
		return
	}
	c.delivered++
}

// GetStats returns consumer statistics
func (c *NotificationConsumer) GetStats() *NotificationConsumerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &NotificationConsumerStats{
		IsRunning: c.running,
		Delivered: c.delivered,
		Failed:    c.failed,
		Invalid:   c.invalid,
	}
}

// NotificationConsumerStats contains consumer statistics
type NotificationConsumerStats struct {
	IsRunning bool  `json:"is_running"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Invalid   int64 `json:"invalid"`
}
