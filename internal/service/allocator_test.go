package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/internal/lock"
	"github.com/1zbbxzak1/EventHubBot/internal/metrics"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
)

func TestRegister_ConfirmsUntilFullThenWaitlists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ws := env.createWorkshop(t, 2)

	a, err := env.engine.Register(ctx, ws, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, a.Status)
	assert.Zero(t, a.WaitlistPosition)

	b, err := env.engine.Register(ctx, ws, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, b.Status)

	c, err := env.engine.Register(ctx, ws, "carol")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitlisted, c.Status)
	assert.Equal(t, 1, c.WaitlistPosition)

	d, err := env.engine.Register(ctx, ws, "dave")
	require.NoError(t, err)
	assert.Equal(t, 2, d.WaitlistPosition)

	assert.Equal(t, []domain.NotificationKind{domain.NotifyRegistered}, env.notes.kinds("alice"))
	assert.Equal(t, []domain.NotificationKind{domain.NotifyWaitlisted}, env.notes.kinds("carol"))
	assert.Equal(t, 2, env.notes.last("dave").Position)
	env.requireHealthy(t, ws)
}

func TestRegister_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkshop(t, 1)
	env.register(t, ws, "alice")

	_, err := env.engine.Register(context.Background(), ws, "alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
	assert.True(t, domain.IsConflictError(err))
	assert.Len(t, env.notes.kinds("alice"), 1)

	regs, err := env.store.ListRegistrations(context.Background(), ws)
	require.NoError(t, err)
	assert.Len(t, regs, 1)
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Register(ctx, "", "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidWorkshopID)

	_, err = env.engine.Register(ctx, "ws", "")
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)

	_, err = env.engine.Register(ctx, "missing", "alice")
	assert.ErrorIs(t, err, domain.ErrWorkshopNotFound)
}

func TestRegister_TakingLastSeatClosesOpenRound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ws := env.createWorkshop(t, 2)
	env.register(t, ws, "alice", "bob", "carol")

	_, err := env.engine.Cancel(ctx, ws, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingConfirmation, env.registration(t, ws, "carol").Status)

	dave, err := env.engine.Register(ctx, ws, "dave")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, dave.Status)

	carol := env.registration(t, ws, "carol")
	assert.Equal(t, domain.StatusWaitlisted, carol.Status)
	assert.Nil(t, carol.ConfirmationDeadline)
	assert.Equal(t, 1, carol.WaitlistPosition)
	assert.Equal(t, domain.NotifySpotTaken, env.notes.last("carol").Kind)
	env.requireHealthy(t, ws)
}

func TestConcurrentRegister_NoOverbooking(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkshop(t, 5)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.engine.Register(context.Background(), ws, fmt.Sprintf("user-%02d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	summary, err := env.workshops.GetWorkshop(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Confirmed)
	assert.Equal(t, 45, summary.Waitlisted)
	env.requireHealthy(t, ws)
}

func TestCancel(t *testing.T) {
	t.Run("missing registration", func(t *testing.T) {
		env := newTestEnv(t)
		ws := env.createWorkshop(t, 1)
		env.register(t, ws, "alice")
		env.notes.reset()

		removed, err := env.engine.Cancel(context.Background(), ws, "nobody")
		require.NoError(t, err)
		assert.False(t, removed)
		assert.Empty(t, env.notes.notes)
		assert.Equal(t, domain.StatusConfirmed, env.registration(t, ws, "alice").Status)
	})

	t.Run("waitlisted closes the gap", func(t *testing.T) {
		env := newTestEnv(t)
		ws := env.createWorkshop(t, 1)
		env.register(t, ws, "alice", "bob", "carol", "dave")

		removed, err := env.engine.Cancel(context.Background(), ws, "carol")
		require.NoError(t, err)
		assert.True(t, removed)

		assert.Nil(t, env.registration(t, ws, "carol"))
		assert.Equal(t, 1, env.registration(t, ws, "bob").WaitlistPosition)
		assert.Equal(t, 2, env.registration(t, ws, "dave").WaitlistPosition)
		assert.Equal(t, domain.StatusWaitlisted, env.registration(t, ws, "bob").Status)
		env.requireHealthy(t, ws)

		removed, err = env.engine.Cancel(context.Background(), ws, "carol")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("confirmed opens a round", func(t *testing.T) {
		env := newTestEnv(t)
		ws := env.createWorkshop(t, 1)
		env.register(t, ws, "alice", "bob", "carol")

		removed, err := env.engine.Cancel(context.Background(), ws, "alice")
		require.NoError(t, err)
		assert.True(t, removed)

		deadline := env.clock.Now().Add(15 * time.Minute)
		for i, u := range []string{"bob", "carol"} {
			r := env.registration(t, ws, u)
			assert.Equal(t, domain.StatusPendingConfirmation, r.Status)
			require.NotNil(t, r.ConfirmationDeadline)
			assert.True(t, deadline.Equal(*r.ConfirmationDeadline))

			n := env.notes.last(u)
			assert.Equal(t, domain.NotifyConfirmationWindowOpened, n.Kind)
			assert.Equal(t, i+1, n.Position)
			assert.Equal(t, 2, n.QueueSize)
		}
		env.requireHealthy(t, ws)
	})
}

func TestRegisterCancelRegister_StartsFresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ws := env.createWorkshop(t, 1)
	env.register(t, ws, "alice", "bob", "carol")

	first := env.registration(t, ws, "bob")
	require.Equal(t, 1, first.WaitlistPosition)

	_, err := env.engine.Cancel(ctx, ws, "bob")
	require.NoError(t, err)
	again, err := env.engine.Register(ctx, ws, "bob")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, again.ID)
	assert.Equal(t, 2, again.WaitlistPosition)
	assert.Equal(t, 1, env.registration(t, ws, "carol").WaitlistPosition)
	env.requireHealthy(t, ws)
}

func TestManuallyAdd(t *testing.T) {
	t.Run("full workshop rejects a confirmed placement", func(t *testing.T) {
		env := newTestEnv(t)
		ws := env.createWorkshop(t, 1)
		env.register(t, ws, "alice")

		_, err := env.engine.ManuallyAdd(context.Background(), ws, "xavier", false)
		assert.ErrorIs(t, err, domain.ErrWorkshopFull)
		assert.Nil(t, env.registration(t, ws, "xavier"))

		reg, err := env.engine.ManuallyAdd(context.Background(), ws, "xavier", true)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusWaitlisted, reg.Status)
		assert.Equal(t, 1, reg.WaitlistPosition)
		assert.Equal(t, domain.NotifyWaitlisted, env.notes.last("xavier").Kind)
	})

	t.Run("moves between lists and renumbers", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		ws := env.createWorkshop(t, 2)
		env.register(t, ws, "alice", "bob", "w1", "w2")

		alice, err := env.engine.ManuallyAdd(ctx, ws, "alice", true)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusWaitlisted, alice.Status)
		assert.Equal(t, 3, alice.WaitlistPosition)
		// no window is opened by an administrative move
		assert.Equal(t, domain.StatusWaitlisted, env.registration(t, ws, "w1").Status)

		w2, err := env.engine.ManuallyAdd(ctx, ws, "w2", false)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusConfirmed, w2.Status)
		assert.Equal(t, domain.NotifyConfirmed, env.notes.last("w2").Kind)
		assert.Equal(t, 1, env.registration(t, ws, "w1").WaitlistPosition)
		assert.Equal(t, 2, env.registration(t, ws, "alice").WaitlistPosition)
		env.requireHealthy(t, ws)

		env.notes.reset()
		again, err := env.engine.ManuallyAdd(ctx, ws, "bob", false)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusConfirmed, again.Status)
		assert.Empty(t, env.notes.notes)
	})

	t.Run("pending keeps its place without a window", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		ws := env.createWorkshop(t, 1)
		env.register(t, ws, "alice", "bob", "carol")
		_, err := env.engine.Cancel(ctx, ws, "alice")
		require.NoError(t, err)

		carol, err := env.engine.ManuallyAdd(ctx, ws, "carol", true)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusWaitlisted, carol.Status)
		assert.Equal(t, 2, carol.WaitlistPosition)
		assert.Nil(t, carol.ConfirmationDeadline)
		assert.Equal(t, domain.StatusPendingConfirmation, env.registration(t, ws, "bob").Status)
	})

	t.Run("filling the last seat closes the round", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		ws := env.createWorkshop(t, 2)
		env.register(t, ws, "alice", "bob", "w1", "w2")
		_, err := env.engine.Cancel(ctx, ws, "alice")
		require.NoError(t, err)

		_, err = env.engine.ManuallyAdd(ctx, ws, "xavier", false)
		require.NoError(t, err)

		for _, u := range []string{"w1", "w2"} {
			r := env.registration(t, ws, u)
			assert.Equal(t, domain.StatusWaitlisted, r.Status)
			assert.Nil(t, r.ConfirmationDeadline)
			assert.Equal(t, domain.NotifySpotTaken, env.notes.last(u).Kind)
		}
		env.requireHealthy(t, ws)
	})
}

func TestNotificationFailure_DoesNotFailOperation(t *testing.T) {
	env := newTestEnv(t)
	env.notes.err = errors.New("transport down")
	ws := env.createWorkshop(t, 1)

	reg, err := env.engine.Register(context.Background(), ws, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, reg.Status)

	assert.Equal(t, 1, env.series(t, "workshop_notification_failures_total"))
}

// blockingNotifier never delivers and returns only when ctx is done
type blockingNotifier struct{}

func (blockingNotifier) Notify(ctx context.Context, _ *domain.Notification) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingNotifier) Close() error { return nil }

func TestStalledNotifier_DoesNotBlockOperation(t *testing.T) {
	registry := prometheus.NewRegistry()
	store := repository.NewMemoryStore()
	engine := NewWaitlistEngine(Dependencies{
		Store:    store,
		Locker:   lock.NewKeyedMutex(),
		Notifier: blockingNotifier{},
		Metrics:  metrics.New(registry),
		Logger:   logger.NewNop(),
	}, &EngineConfig{NotifyTimeout: 20 * time.Millisecond})

	env := &testEnv{store: store, clock: newFakeClock(), registry: registry}
	ws := env.createWorkshop(t, 1)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Register(context.Background(), ws, "alice")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("register did not return while the notifier was stalled")
	}
	assert.Equal(t, 1, env.series(t, "workshop_notification_failures_total"))
}

// failingStore fails every workshop transaction
type failingStore struct {
	*repository.MemoryStore
	InWorkshopTxFunc func(ctx context.Context, workshopID string, fn func(tx repository.WorkshopTx) error) error
}

func (s *failingStore) InWorkshopTx(ctx context.Context, workshopID string, fn func(tx repository.WorkshopTx) error) error {
	if s.InWorkshopTxFunc != nil {
		return s.InWorkshopTxFunc(ctx, workshopID, fn)
	}
	return s.MemoryStore.InWorkshopTx(ctx, workshopID, fn)
}

func TestStoreErrorsPropagateUnchanged(t *testing.T) {
	errStore := errors.New("connection reset")
	notes := &recordingNotifier{}
	engine := NewWaitlistEngine(Dependencies{
		Store: &failingStore{
			MemoryStore: repository.NewMemoryStore(),
			InWorkshopTxFunc: func(context.Context, string, func(repository.WorkshopTx) error) error {
				return errStore
			},
		},
		Locker:   lock.NewKeyedMutex(),
		Notifier: notes,
		Logger:   logger.NewNop(),
	}, nil)

	ctx := context.Background()
	_, err := engine.Register(ctx, "ws", "alice")
	assert.Equal(t, errStore, err)

	_, err = engine.Cancel(ctx, "ws", "alice")
	assert.Equal(t, errStore, err)

	_, err = engine.Confirm(ctx, "ws", "alice")
	assert.Equal(t, errStore, err)

	_, err = engine.ExpirePending(ctx, "ws")
	assert.Equal(t, errStore, err)

	assert.Empty(t, notes.notes)
}
