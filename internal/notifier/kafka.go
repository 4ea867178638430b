package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/pkg/kafka"
	"github.com/1zbbxzak1/EventHubBot/pkg/telemetry"
)

// Header names set on every notification record
const (
	HeaderKind        = "notification_kind"
	HeaderID          = "notification_id"
	HeaderSource      = "source"
	HeaderContentType = "content_type"
)

// MessageProducer is the part of kafka.Producer the notifier needs
type MessageProducer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
	Close()
}

// KafkaConfig configures NewKafkaNotifier
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	Source   string
}

// KafkaNotifier publishes notifications as JSON records keyed by user id, so
// one user's messages stay ordered within a partition.
type KafkaNotifier struct {
	producer MessageProducer
	topic    string
	source   string
}

// NewKafkaNotifier connects a producer for the notification topic
func NewKafkaNotifier(ctx context.Context, cfg *KafkaConfig) (*KafkaNotifier, error) {
	if cfg == nil {
		return nil, errors.New("kafka notifier config is required")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "workshop-service-notifier"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		LingerMs:      5,
		RecordRetries: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewKafkaNotifierWithProducer(producer, cfg.Topic, cfg.Source), nil
}

// NewKafkaNotifierWithProducer wraps an existing producer
func NewKafkaNotifierWithProducer(producer MessageProducer, topic, source string) *KafkaNotifier {
	if topic == "" {
		topic = "workshop.notifications"
	}
	if source == "" {
		source = "workshop-service"
	}
	return &KafkaNotifier{producer: producer, topic: topic, source: source}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n *domain.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	headers := telemetry.InjectHeaders(ctx, map[string]string{
		HeaderKind:        n.Kind.String(),
		HeaderID:          n.ID,
		HeaderSource:      k.source,
		HeaderContentType: "application/json",
	})

	msg := &kafka.Message{
		Topic:     k.topic,
		Key:       []byte(n.UserID),
		Value:     value,
		Headers:   headers,
		Timestamp: n.CreatedAt,
	}
	if err := k.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", n.Kind, err)
	}
	return nil
}

func (k *KafkaNotifier) Close() error {
	if k.producer != nil {
		k.producer.Close()
	}
	return nil
}

// Decode parses a notification record value
func Decode(value []byte) (*domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal(value, &n); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	if !n.Kind.IsValid() {
		return nil, fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	if n.UserID == "" {
		return nil, errors.New("notification has no recipient")
	}
	return &n, nil
}
