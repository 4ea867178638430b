package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
)

// ReminderLedger remembers which reminders went out
type ReminderLedger interface {
	// MarkSent records the reminder and reports whether it was not sent before
	MarkSent(ctx context.Context, workshopID, userID string, kind domain.NotificationKind) (bool, error)
}

// SetNXClient is the Redis command the ledger needs
type SetNXClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
}

// RedisReminderLedger keeps one key per reminder so several service
// instances never send the same reminder twice.
type RedisReminderLedger struct {
	client SetNXClient
	prefix string
	ttl    time.Duration
}

// NewRedisReminderLedger creates a ledger whose keys expire after ttl
func NewRedisReminderLedger(client SetNXClient, prefix string, ttl time.Duration) *RedisReminderLedger {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &RedisReminderLedger{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisReminderLedger) MarkSent(ctx context.Context, workshopID, userID string, kind domain.NotificationKind) (bool, error) {
	key := fmt.Sprintf("%sreminder:%s:%s:%s", l.prefix, workshopID, userID, kind)
	ok, err := l.client.SetNX(ctx, key, time.Now().Unix(), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record reminder: %w", err)
	}
	return ok, nil
}

// MemoryReminderLedger is an in-process ledger for single-instance setups
type MemoryReminderLedger struct {
	mu   sync.Mutex
	sent map[string]struct{}
}

// NewMemoryReminderLedger creates an empty ledger
func NewMemoryReminderLedger() *MemoryReminderLedger {
	return &MemoryReminderLedger{sent: make(map[string]struct{})}
}

func (l *MemoryReminderLedger) MarkSent(_ context.Context, workshopID, userID string, kind domain.NotificationKind) (bool, error) {
	key := workshopID + "|" + userID + "|" + string(kind)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sent[key]; ok {
		return false, nil
	}
	l.sent[key] = struct{}{}
	return true, nil
}
