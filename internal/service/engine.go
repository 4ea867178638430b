package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/internal/lock"
	"github.com/1zbbxzak1/EventHubBot/internal/metrics"
	"github.com/1zbbxzak1/EventHubBot/internal/notifier"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
)

// Broadcast modes
const (
	// BroadcastAll opens one shared round for every plain waitlisted registration
	BroadcastAll = "all"
	// BroadcastSeats opens only as many windows as there are unclaimed free seats
	BroadcastSeats = "seats"
)

// Invariant modes
const (
	InvariantStrict = "strict"
	InvariantHeal   = "heal"
)

// ConfirmOutcome is the result of a confirmation attempt
type ConfirmOutcome string

const (
	OutcomeConfirmed  ConfirmOutcome = "confirmed"
	OutcomeRaceLost   ConfirmOutcome = "race_lost"
	OutcomeNotPending ConfirmOutcome = "not_pending"
	OutcomeExpired    ConfirmOutcome = "expired"
)

// ConfirmResult describes a confirmation attempt. Losing the race is a normal
// result, not an error.
type ConfirmResult struct {
	Outcome      ConfirmOutcome       `json:"outcome"`
	Registration *domain.Registration `json:"registration"`
}

// ExpiryResult is what one expiry pass did to a workshop
type ExpiryResult struct {
	Expired int
	Opened  int
}

// SeatAllocator decides who holds a seat and keeps the waitlist dense
type SeatAllocator interface {
	// Register confirms the user while seats remain, otherwise appends them to the waitlist
	Register(ctx context.Context, workshopID, userID string) (*domain.Registration, error)

	// Cancel removes the user's registration. It reports false when there was none.
	Cancel(ctx context.Context, workshopID, userID string) (bool, error)

	// ManuallyAdd places the user directly, bypassing the confirmation round
	ManuallyAdd(ctx context.Context, workshopID, userID string, asWaitlist bool) (*domain.Registration, error)
}

// ConfirmationCoordinator runs confirmation rounds for freed seats
type ConfirmationCoordinator interface {
	// BroadcastOpening opens confirmation windows and returns how many were opened
	BroadcastOpening(ctx context.Context, workshopID string) (int, error)

	// Confirm claims a free seat for a pending registration
	Confirm(ctx context.Context, workshopID, userID string) (*ConfirmResult, error)

	// ExpirePending evicts registrations whose window closed and reopens the round if seats remain
	ExpirePending(ctx context.Context, workshopID string) (*ExpiryResult, error)
}

// AttendanceTracker records who showed up
type AttendanceTracker interface {
	// MarkAttendance reports false when the user has no registration
	MarkAttendance(ctx context.Context, workshopID, userID string, present bool, markedBy string) (bool, error)

	ListAttendance(ctx context.Context, workshopID string) (*domain.AttendanceReport, error)
}

// WaitlistEngine is the full allocation engine
type WaitlistEngine interface {
	SeatAllocator
	ConfirmationCoordinator
	AttendanceTracker
}

// Dependencies are the collaborators shared by the engine and the workshop service
type Dependencies struct {
	Store    repository.Store
	Locker   lock.Locker
	Notifier notifier.Notifier
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

// EngineConfig contains configuration for the waitlist engine
type EngineConfig struct {
	ConfirmationWindow time.Duration
	BroadcastMode      string
	InvariantMode      string
	// NotifyTimeout bounds each notification send after commit
	NotifyTimeout time.Duration
	// Clock defaults to time.Now
	Clock func() time.Time
}

// core holds what every workshop-scoped operation needs: the lock, the store
// transaction, the post-commit notification dispatch, and the invariant check.
type core struct {
	store    repository.Store
	locker   lock.Locker
	notifier notifier.Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger

	window        time.Duration
	broadcastMode string
	invariantMode string
	notifyTimeout time.Duration
	now           func() time.Time
}

func newCore(deps Dependencies, cfg *EngineConfig) *core {
	c := &core{
		store:         deps.Store,
		locker:        deps.Locker,
		notifier:      deps.Notifier,
		metrics:       deps.Metrics,
		log:           deps.Logger,
		window:        15 * time.Minute,
		broadcastMode: BroadcastAll,
		invariantMode: InvariantStrict,
		notifyTimeout: 5 * time.Second,
		now:           time.Now,
	}
	if cfg != nil {
		if cfg.ConfirmationWindow > 0 {
			c.window = cfg.ConfirmationWindow
		}
		if cfg.BroadcastMode == BroadcastSeats {
			c.broadcastMode = BroadcastSeats
		}
		if cfg.InvariantMode == InvariantHeal {
			c.invariantMode = InvariantHeal
		}
		if cfg.NotifyTimeout > 0 {
			c.notifyTimeout = cfg.NotifyTimeout
		}
		if cfg.Clock != nil {
			c.now = cfg.Clock
		}
	}
	if c.locker == nil {
		c.locker = lock.NewKeyedMutex()
	}
	if c.notifier == nil {
		c.notifier = notifier.NewNoOpNotifier()
	}
	if c.log == nil {
		c.log = logger.Get()
	}
	return c
}

// outbox collects notifications produced inside a transaction. They are only
// sent once the transaction has committed and the workshop lock is released.
type outbox struct {
	notes []*domain.Notification
}

func (o *outbox) add(n *domain.Notification) {
	o.notes = append(o.notes, n)
}

// withWorkshop runs fn under the workshop lock inside one store transaction,
// then dispatches the collected notifications.
func (c *core) withWorkshop(ctx context.Context, workshopID string, fn func(tx repository.WorkshopTx, out *outbox) error) error {
	out, err := c.commit(ctx, workshopID, fn)
	if err != nil {
		return err
	}
	c.dispatch(ctx, out)
	return nil
}

func (c *core) commit(ctx context.Context, workshopID string, fn func(tx repository.WorkshopTx, out *outbox) error) (*outbox, error) {
	unlock, err := c.locker.Lock(ctx, workshopID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock workshop %s: %w", workshopID, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn("Failed to release workshop lock",
				zap.String("workshop_id", workshopID),
				zap.Error(err),
			)
		}
	}()

	var out *outbox
	err = c.store.InWorkshopTx(ctx, workshopID, func(tx repository.WorkshopTx) error {
		// the store may retry fn, so every attempt starts with an empty outbox
		out = &outbox{}
		if err := fn(tx, out); err != nil {
			return err
		}
		return c.checkInvariants(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *core) dispatch(ctx context.Context, out *outbox) {
	ctx = context.WithoutCancel(ctx)
	for _, n := range out.notes {
		if err := c.notify(ctx, n); err != nil {
			c.metrics.NotificationFailed(n.Kind.String())
			c.log.Warn("Failed to deliver notification",
				zap.String("kind", n.Kind.String()),
				zap.String("user_id", n.UserID),
				zap.String("workshop_id", n.WorkshopID),
				zap.Error(err),
			)
		}
	}
}

func (c *core) notify(ctx context.Context, n *domain.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, c.notifyTimeout)
	defer cancel()
	return c.notifier.Notify(ctx, n)
}

// broadcast opens confirmation windows for free seats. It never touches
// registrations that are already pending, so an open round keeps its deadline.
func (c *core) broadcast(ctx context.Context, tx repository.WorkshopTx, out *outbox) (int, error) {
	w := tx.Workshop()
	confirmed, err := tx.CountConfirmed(ctx)
	if err != nil {
		return 0, err
	}
	free := w.Capacity - confirmed
	if free <= 0 {
		return 0, nil
	}

	queue, err := tx.Waitlist(ctx)
	if err != nil {
		return 0, err
	}

	var candidates []*domain.Registration
	pending := 0
	for _, r := range queue {
		if r.IsPending() {
			pending++
			continue
		}
		candidates = append(candidates, r)
	}

	if c.broadcastMode == BroadcastSeats {
		slots := free - pending
		if slots <= 0 {
			return 0, nil
		}
		if len(candidates) > slots {
			candidates = candidates[:slots]
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	now := c.now()
	deadline := now.Add(c.window)
	queueSize := pending + len(candidates)

	for _, r := range candidates {
		r.OpenWindow(deadline, now)
		if err := tx.Save(ctx, r); err != nil {
			return 0, err
		}
		out.add(domain.NewNotification(domain.NotifyConfirmationWindowOpened, w, r.UserID, now).
			WithPosition(r.WaitlistPosition).
			WithWindow(deadline, queueSize))
	}

	c.log.Info("Confirmation round opened",
		zap.String("workshop_id", w.ID),
		zap.Int("free_seats", free),
		zap.Int("windows", len(candidates)),
		zap.Time("deadline", deadline),
	)
	return len(candidates), nil
}

// closeRound reverts every pending registration except keepID to the plain
// waitlist once no free seat is left.
func (c *core) closeRound(ctx context.Context, tx repository.WorkshopTx, out *outbox, keepID string) error {
	w := tx.Workshop()
	confirmed, err := tx.CountConfirmed(ctx)
	if err != nil {
		return err
	}
	if confirmed < w.Capacity {
		return nil
	}

	queue, err := tx.Waitlist(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	closed := 0
	for _, r := range queue {
		if !r.IsPending() || r.ID == keepID {
			continue
		}
		r.CloseWindow(now)
		if err := tx.Save(ctx, r); err != nil {
			return err
		}
		out.add(domain.NewNotification(domain.NotifySpotTaken, w, r.UserID, now).WithPosition(r.WaitlistPosition))
		closed++
	}

	if closed > 0 {
		c.log.Info("Confirmation round closed",
			zap.String("workshop_id", w.ID),
			zap.Int("reverted", closed),
		)
	}
	return nil
}

// removeFromQueue deletes r and closes the gap it leaves in the waitlist
func removeFromQueue(ctx context.Context, tx repository.WorkshopTx, r *domain.Registration) error {
	if err := tx.Delete(ctx, r.ID); err != nil {
		return err
	}
	if r.InWaitlist() {
		return tx.ShiftWaitlistAfter(ctx, r.WaitlistPosition)
	}
	return nil
}

func validateIDs(workshopID, userID string) error {
	if workshopID == "" {
		return domain.ErrInvalidWorkshopID
	}
	if userID == "" {
		return domain.ErrInvalidUserID
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrRegistrationNotFound)
}
