package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/internal/lock"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
	"github.com/1zbbxzak1/EventHubBot/internal/service"
	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
)

// MockExpirer is a mock implementation of PendingExpirer
type MockExpirer struct {
	mock.Mock
}

func (m *MockExpirer) ExpirePending(ctx context.Context, workshopID string) (*service.ExpiryResult, error) {
	args := m.Called(ctx, workshopID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ExpiryResult), args.Error(1)
}

func seedWorkshop(t *testing.T, store *repository.MemoryStore, id string, active bool, start time.Time) *domain.Workshop {
	t.Helper()
	w := &domain.Workshop{
		ID:        id,
		Title:     "Workshop " + id,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Capacity:  1,
		Active:    active,
	}
	require.NoError(t, store.CreateWorkshop(context.Background(), w))
	return w
}

func TestExpirySweeper_Sweep(t *testing.T) {
	store := repository.NewMemoryStore()
	start := time.Now().Add(24 * time.Hour)
	seedWorkshop(t, store, "ws-1", true, start)
	seedWorkshop(t, store, "ws-2", true, start.Add(time.Hour))
	seedWorkshop(t, store, "ws-3", true, start.Add(2*time.Hour))
	seedWorkshop(t, store, "ws-off", false, start)

	expirer := new(MockExpirer)
	expirer.On("ExpirePending", mock.Anything, "ws-1").Return(&service.ExpiryResult{Expired: 2, Opened: 1}, nil)
	expirer.On("ExpirePending", mock.Anything, "ws-2").Return(nil, errors.New("db timeout"))
	expirer.On("ExpirePending", mock.Anything, "ws-3").Return(nil, domain.ErrWorkshopNotFound)

	sweeper := NewExpirySweeper(store, expirer, nil, nil)
	res := sweeper.Sweep(context.Background())

	assert.Equal(t, 3, res.Workshops)
	assert.Equal(t, 2, res.Expired)
	assert.Equal(t, 1, res.Opened)
	assert.Equal(t, 1, res.Failed)
	expirer.AssertExpectations(t)
	expirer.AssertNotCalled(t, "ExpirePending", mock.Anything, "ws-off")

	stats := sweeper.GetStats()
	assert.Equal(t, int64(1), stats.Sweeps)
	assert.Equal(t, int64(2), stats.TotalExpired)
	assert.Equal(t, int64(1), stats.TotalOpened)
}

// clock is a settable time source shared by the engine and the test
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestExpirySweeper_EvictsThroughEngine(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	clk := &clock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	seedWorkshop(t, store, "ws", true, clk.Now().Add(48*time.Hour))

	engine := service.NewWaitlistEngine(service.Dependencies{
		Store:  store,
		Locker: lock.NewKeyedMutex(),
		Logger: logger.NewNop(),
	}, &service.EngineConfig{Clock: clk.Now, BroadcastMode: service.BroadcastSeats})

	for _, u := range []string{"A", "B", "C"} {
		_, err := engine.Register(ctx, "ws", u)
		require.NoError(t, err)
	}
	_, err := engine.Cancel(ctx, "ws", "A")
	require.NoError(t, err)

	sweeper := NewExpirySweeper(store, engine, nil, nil)

	res := sweeper.Sweep(ctx)
	assert.Zero(t, res.Expired)

	clk.Advance(16 * time.Minute)
	res = sweeper.Sweep(ctx)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.Opened)

	regs, err := store.ListRegistrations(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "C", regs[0].UserID)
	assert.Equal(t, domain.StatusPendingConfirmation, regs[0].Status)
	assert.Equal(t, 1, regs[0].WaitlistPosition)
}

func TestExpirySweeper_StartStop(t *testing.T) {
	store := repository.NewMemoryStore()
	seedWorkshop(t, store, "ws", true, time.Now().Add(time.Hour))

	swept := make(chan struct{}, 1)
	expirer := new(MockExpirer)
	expirer.On("ExpirePending", mock.Anything, "ws").
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		}).
		Return(&service.ExpiryResult{}, nil)

	sweeper := NewExpirySweeper(store, expirer, nil, &ExpirySweeperConfig{Interval: time.Hour})
	require.NoError(t, sweeper.Start(context.Background()))
	assert.Error(t, sweeper.Start(context.Background()))

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run on start")
	}

	assert.True(t, sweeper.GetStats().IsRunning)
	sweeper.Stop()
	assert.False(t, sweeper.GetStats().IsRunning)
	sweeper.Stop()
}
