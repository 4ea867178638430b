package service

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
	"github.com/1zbbxzak1/EventHubBot/pkg/telemetry"
)

// BroadcastOpening opens confirmation windows on the workshop's free seats
func (e *waitlistEngine) BroadcastOpening(ctx context.Context, workshopID string) (opened int, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.waitlist.broadcast_opening")
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("workshop_id", workshopID))

	if workshopID == "" {
		return 0, domain.ErrInvalidWorkshopID
	}

	err = e.withWorkshop(ctx, workshopID, func(tx repository.WorkshopTx, out *outbox) error {
		n, err := e.broadcast(ctx, tx, out)
		opened = n
		return err
	})
	if err != nil {
		return 0, err
	}

	e.metrics.WindowsOpened(opened)
	span.SetAttributes(attribute.Int("opened", opened))
	return opened, nil
}

// Confirm claims a free seat for a pending registration. The seat count is
// checked again under the workshop lock, so only as many confirmations as
// there are free seats can succeed.
func (e *waitlistEngine) Confirm(ctx context.Context, workshopID, userID string) (res *ConfirmResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.waitlist.confirm")
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("workshop_id", workshopID), attribute.String("user_id", userID))

	if err := validateIDs(workshopID, userID); err != nil {
		return nil, err
	}

	err = e.withWorkshop(ctx, workshopID, func(tx repository.WorkshopTx, out *outbox) error {
		reg, err := tx.Get(ctx, userID)
		if err != nil {
			return err
		}

		now := e.now()
		switch {
		case !reg.IsPending():
			res = &ConfirmResult{Outcome: OutcomeNotPending, Registration: reg}
			return nil
		case reg.WindowExpired(now):
			// the sweeper evicts it
			res = &ConfirmResult{Outcome: OutcomeExpired, Registration: reg}
			return nil
		}

		w := tx.Workshop()
		confirmed, err := tx.CountConfirmed(ctx)
		if err != nil {
			return err
		}

		if confirmed >= w.Capacity {
			reg.CloseWindow(now)
			if err := tx.Save(ctx, reg); err != nil {
				return err
			}
			out.add(domain.NewNotification(domain.NotifySpotTaken, w, userID, now).WithPosition(reg.WaitlistPosition))
			res = &ConfirmResult{Outcome: OutcomeRaceLost, Registration: reg}
			return nil
		}

		oldPosition := reg.WaitlistPosition
		reg.Confirm(now)
		if err := tx.Save(ctx, reg); err != nil {
			return err
		}
		if err := tx.ShiftWaitlistAfter(ctx, oldPosition); err != nil {
			return err
		}
		out.add(domain.NewNotification(domain.NotifyConfirmed, w, userID, now))
		res = &ConfirmResult{Outcome: OutcomeConfirmed, Registration: reg}

		return e.closeRound(ctx, tx, out, reg.ID)
	})
	if err != nil {
		return nil, err
	}

	e.metrics.Confirmation(string(res.Outcome))
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	e.log.Info("Confirmation attempt",
		zap.String("workshop_id", workshopID),
		zap.String("user_id", userID),
		zap.String("outcome", string(res.Outcome)),
	)
	return res, nil
}

// ExpirePending evicts every pending registration whose deadline has passed.
// Evicted users lose their place. If seats are still free afterwards a new
// round is opened for the rest of the waitlist.
func (e *waitlistEngine) ExpirePending(ctx context.Context, workshopID string) (res *ExpiryResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.waitlist.expire_pending")
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("workshop_id", workshopID))

	if workshopID == "" {
		return nil, domain.ErrInvalidWorkshopID
	}

	err = e.withWorkshop(ctx, workshopID, func(tx repository.WorkshopTx, out *outbox) error {
		res = &ExpiryResult{}
		now := e.now()

		expired, err := tx.ExpiredPending(ctx, now)
		if err != nil {
			return err
		}
		if err := e.evict(ctx, tx, out, expired, now); err != nil {
			return err
		}
		res.Expired = len(expired)

		if !tx.Workshop().Active {
			return nil
		}
		res.Opened, err = e.broadcast(ctx, tx, out)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.metrics.Expired(res.Expired)
	e.metrics.WindowsOpened(res.Opened)
	if res.Expired > 0 || res.Opened > 0 {
		e.log.Info("Expired confirmation windows",
			zap.String("workshop_id", workshopID),
			zap.Int("expired", res.Expired),
			zap.Int("opened", res.Opened),
		)
	}
	return res, nil
}

func (e *waitlistEngine) evict(ctx context.Context, tx repository.WorkshopTx, out *outbox, expired []*domain.Registration, now time.Time) error {
	// highest position first so earlier shifts never move a row still to be evicted
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].WaitlistPosition > expired[j].WaitlistPosition
	})

	w := tx.Workshop()
	for _, r := range expired {
		if err := removeFromQueue(ctx, tx, r); err != nil {
			return err
		}
		out.add(domain.NewNotification(domain.NotifyConfirmationExpired, w, r.UserID, now))
	}
	return nil
}
