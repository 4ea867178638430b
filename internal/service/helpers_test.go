package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/internal/lock"
	"github.com/1zbbxzak1/EventHubBot/internal/metrics"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
)

// fakeClock is a settable time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingNotifier keeps every notification it is given
type recordingNotifier struct {
	mu    sync.Mutex
	notes []*domain.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return r.err
}

func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) kinds(userID string) []domain.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.NotificationKind
	for _, n := range r.notes {
		if n.UserID == userID {
			out = append(out, n.Kind)
		}
	}
	return out
}

func (r *recordingNotifier) count(kind domain.NotificationKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recordingNotifier) last(userID string) *domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.notes) - 1; i >= 0; i-- {
		if r.notes[i].UserID == userID {
			return r.notes[i]
		}
	}
	return nil
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	r.notes = nil
	r.mu.Unlock()
}

// testEnv wires an engine and a workshop service over one memory store
type testEnv struct {
	store     *repository.MemoryStore
	notes     *recordingNotifier
	clock     *fakeClock
	registry  *prometheus.Registry
	engine    WaitlistEngine
	workshops WorkshopService
}

type envOption func(*EngineConfig)

func withBroadcastMode(mode string) envOption {
	return func(c *EngineConfig) { c.BroadcastMode = mode }
}

func withInvariantMode(mode string) envOption {
	return func(c *EngineConfig) { c.InvariantMode = mode }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    repository.NewMemoryStore(),
		notes:    &recordingNotifier{},
		clock:    newFakeClock(),
		registry: prometheus.NewRegistry(),
	}
	cfg := &EngineConfig{
		ConfirmationWindow: 15 * time.Minute,
		BroadcastMode:      BroadcastAll,
		InvariantMode:      InvariantStrict,
		Clock:              env.clock.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	deps := Dependencies{
		Store:    env.store,
		Locker:   lock.NewKeyedMutex(),
		Notifier: env.notes,
		Metrics:  metrics.New(env.registry),
		Logger:   logger.NewNop(),
	}
	env.engine = NewWaitlistEngine(deps, cfg)
	env.workshops = NewWorkshopService(deps, cfg)
	return env
}

func (env *testEnv) createWorkshop(t *testing.T, capacity int) string {
	t.Helper()
	start := env.clock.Now().Add(48 * time.Hour)
	w := &domain.Workshop{
		ID:        uuid.NewString(),
		Title:     "Concurrency in Go",
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
		Capacity:  capacity,
		Active:    true,
		CreatedAt: env.clock.Now(),
		UpdatedAt: env.clock.Now(),
	}
	require.NoError(t, env.store.CreateWorkshop(context.Background(), w))
	return w.ID
}

func (env *testEnv) register(t *testing.T, workshopID string, users ...string) {
	t.Helper()
	for _, u := range users {
		_, err := env.engine.Register(context.Background(), workshopID, u)
		require.NoError(t, err)
	}
}

func (env *testEnv) registration(t *testing.T, workshopID, userID string) *domain.Registration {
	t.Helper()
	regs, err := env.store.ListRegistrations(context.Background(), workshopID)
	require.NoError(t, err)
	for _, r := range regs {
		if r.UserID == userID {
			return r
		}
	}
	return nil
}

// requireHealthy fails the test when the workshop breaks a waitlist invariant
func (env *testEnv) requireHealthy(t *testing.T, workshopID string) {
	t.Helper()
	ctx := context.Background()
	w, err := env.store.GetWorkshop(ctx, workshopID)
	require.NoError(t, err)
	regs, err := env.store.ListRegistrations(ctx, workshopID)
	require.NoError(t, err)
	require.Empty(t, findViolations(w, regs))
}

// forceRegistration writes r without going through the engine
func (env *testEnv) forceRegistration(t *testing.T, r *domain.Registration) {
	t.Helper()
	err := env.store.InWorkshopTx(context.Background(), r.WorkshopID, func(tx repository.WorkshopTx) error {
		if err := tx.Insert(context.Background(), r); errors.Is(err, domain.ErrAlreadyRegistered) {
			return tx.Save(context.Background(), r)
		} else if err != nil {
			return err
		}
		return nil
	})
	require.NoError(t, err)
}

// series counts the label combinations recorded for a metric family
func (env *testEnv) series(t *testing.T, name string) int {
	t.Helper()
	families, err := env.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return len(mf.GetMetric())
		}
	}
	return 0
}
