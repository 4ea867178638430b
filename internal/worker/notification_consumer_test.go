package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/pkg/kafka"
)

// fakeSource hands out queued batches, then blocks until ctx is done
type fakeSource struct {
	mu        sync.Mutex
	batches   [][]*kafka.Record
	committed []*kafka.Record
	closed    bool
}

func (s *fakeSource) Poll(ctx context.Context) ([]*kafka.Record, error) {
	s.mu.Lock()
	if len(s.batches) > 0 {
		b := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSource) CommitRecords(_ context.Context, records []*kafka.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, records...)
	return nil
}

func (s *fakeSource) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSource) committedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed)
}

type sentMessage struct {
	userID string
	text   string
}

// fakeSender fails while failures is above zero
type fakeSender struct {
	mu       sync.Mutex
	sent     []sentMessage
	failures int
	calls    int
}

func (s *fakeSender) Send(_ context.Context, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("chat api unavailable")
	}
	s.sent = append(s.sent, sentMessage{userID: userID, text: text})
	return nil
}

func notificationRecord(t *testing.T, offset int64, n *domain.Notification) *kafka.Record {
	t.Helper()
	value, err := json.Marshal(n)
	require.NoError(t, err)
	return &kafka.Record{Topic: "workshop.notifications", Offset: offset, Key: []byte(n.UserID), Value: value}
}

func testNotification(kind domain.NotificationKind, userID string) *domain.Notification {
	start := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	w := &domain.Workshop{ID: "ws", Title: "Profiling Go", StartTime: start, EndTime: start.Add(time.Hour), Capacity: 3}
	return domain.NewNotification(kind, w, userID, time.Now())
}

func testConsumerConfig() *NotificationConsumerConfig {
	return &NotificationConsumerConfig{
		Location:      time.UTC,
		SendRetries:   2,
		RetryInterval: time.Millisecond,
		PollBackoff:   time.Millisecond,
	}
}

func TestNotificationConsumer_HandleBatch(t *testing.T) {
	source := &fakeSource{}
	sender := &fakeSender{}
	c := NewNotificationConsumer(source, sender, testConsumerConfig())

	records := []*kafka.Record{
		notificationRecord(t, 1, testNotification(domain.NotifyConfirmed, "alice")),
		{Offset: 2, Value: []byte("not json")},
		notificationRecord(t, 3, testNotification(domain.NotifyWaitlisted, "bob").WithPosition(4)),
	}
	require.NoError(t, c.HandleBatch(context.Background(), records))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "alice", sender.sent[0].userID)
	assert.Contains(t, sender.sent[0].text, "Profiling Go")
	assert.Equal(t, "bob", sender.sent[1].userID)
	assert.Contains(t, sender.sent[1].text, "number 4")

	assert.Equal(t, 3, source.committedCount())

	stats := c.GetStats()
	assert.Equal(t, int64(2), stats.Delivered)
	assert.Equal(t, int64(1), stats.Invalid)
	assert.Zero(t, stats.Failed)
}

func TestNotificationConsumer_RetriesSend(t *testing.T) {
	source := &fakeSource{}
	sender := &fakeSender{failures: 2}
	c := NewNotificationConsumer(source, sender, testConsumerConfig())

	require.NoError(t, c.HandleBatch(context.Background(), []*kafka.Record{
		notificationRecord(t, 1, testNotification(domain.NotifyConfirmed, "alice")),
	}))
	assert.Equal(t, 3, sender.calls)
	assert.Len(t, sender.sent, 1)

	sender.failures = 10
	require.NoError(t, c.HandleBatch(context.Background(), []*kafka.Record{
		notificationRecord(t, 2, testNotification(domain.NotifySpotTaken, "bob")),
	}))
	assert.Equal(t, int64(1), c.GetStats().Failed)
	// a message that keeps failing is still committed
	assert.Equal(t, 2, source.committedCount())
}

func TestNotificationConsumer_StartStop(t *testing.T) {
	source := &fakeSource{batches: [][]*kafka.Record{
		{notificationRecord(t, 1, testNotification(domain.NotifyConfirmationExpired, "carol"))},
	}}
	sender := &fakeSender{}
	c := NewNotificationConsumer(source, sender, testConsumerConfig())

	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return source.committedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Stop()
	assert.True(t, source.closed)
	assert.False(t, c.GetStats().IsRunning)
	assert.Equal(t, int64(1), c.GetStats().Delivered)
}
