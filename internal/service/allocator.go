package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
	"github.com/1zbbxzak1/EventHubBot/pkg/telemetry"
)

// waitlistEngine implements WaitlistEngine
type waitlistEngine struct {
	*core
}

// NewWaitlistEngine creates the allocation engine
func NewWaitlistEngine(deps Dependencies, cfg *EngineConfig) WaitlistEngine {
	return &waitlistEngine{core: newCore(deps, cfg)}
}

// Register confirms the user while seats remain, otherwise appends them to the waitlist
func (e *waitlistEngine) Register(ctx context.Context, workshopID, userID string) (reg *domain.Registration, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.waitlist.register")
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("workshop_id", workshopID), attribute.String("user_id", userID))

	if err := validateIDs(workshopID, userID); err != nil {
		return nil, err
	}

	err = e.withWorkshop(ctx, workshopID, func(tx repository.WorkshopTx, out *outbox) error {
		if _, err := tx.Get(ctx, userID); err == nil {
			return domain.ErrAlreadyRegistered
		} else if !isNotFound(err) {
			return err
		}

		w := tx.Workshop()
		confirmed, err := tx.CountConfirmed(ctx)
		if err != nil {
			return err
		}

		now := e.now()
		reg = &domain.Registration{
			ID:               uuid.NewString(),
			WorkshopID:       workshopID,
			UserID:           userID,
			RegistrationTime: now,
		}

		if confirmed < w.Capacity {
			reg.Confirm(now)
			if err := tx.Insert(ctx, reg); err != nil {
				return err
			}
			out.add(domain.NewNotification(domain.NotifyRegistered, w, userID, now))
			// taking the last seat ends any round still open
			return e.closeRound(ctx, tx, out, reg.ID)
		}

		highest, err := tx.MaxWaitlistPosition(ctx)
		if err != nil {
			return err
		}
		reg.Waitlist(highest+1, now)
		if err := tx.Insert(ctx, reg); err != nil {
			return err
		}
		out.add(domain.NewNotification(domain.NotifyWaitlisted, w, userID, now).WithPosition(reg.WaitlistPosition))
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.Registration(strings.ToLower(reg.Status.String()))
	e.log.Info("Registration created",
		zap.String("workshop_id", workshopID),
		zap.String("user_id", userID),
		zap.String("status", reg.Status.String()),
		zap.Int("position", reg.WaitlistPosition),
	)
	return reg, nil
}

// Cancel removes the user's registration and opens a round when it held a seat
func (e *waitlistEngine) Cancel(ctx context.Context, workshopID, userID string) (removed bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.waitlist.cancel")
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("workshop_id", workshopID), attribute.String("user_id", userID))

	if err := validateIDs(workshopID, userID); err != nil {
		return false, err
	}

	var prev *domain.Registration
	err = e.withWorkshop(ctx, workshopID, func(tx repository.WorkshopTx, out *outbox) error {
		prev = nil
		reg, err := tx.Get(ctx, userID)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		prev = reg

		if err := removeFromQueue(ctx, tx, reg); err != nil {
			return err
		}
		if reg.IsConfirmed() {
			_, err := e.broadcast(ctx, tx, out)
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if prev == nil {
		return false, nil
	}

	e.metrics.Cancellation(strings.ToLower(prev.Status.String()))
	e.log.Info("Registration cancelled",
		zap.String("workshop_id", workshopID),
		zap.String("user_id", userID),
		zap.String("status", prev.Status.String()),
		zap.Int("position", prev.WaitlistPosition),
	)
	return true, nil
}

// ManuallyAdd places the user directly into the confirmed list or the waitlist.
// Moving an existing registration out of the waitlist closes its gap; no
// confirmation window is opened by this path.
func (e *waitlistEngine) ManuallyAdd(ctx context.Context, workshopID, userID string, asWaitlist bool) (reg *domain.Registration, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.waitlist.manually_add")
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(
		attribute.String("workshop_id", workshopID),
		attribute.String("user_id", userID),
		attribute.Bool("as_waitlist", asWaitlist),
	)

	if err := validateIDs(workshopID, userID); err != nil {
		return nil, err
	}

	err = e.withWorkshop(ctx, workshopID, func(tx repository.WorkshopTx, out *outbox) error {
		w := tx.Workshop()
		now := e.now()

		existing, err := tx.Get(ctx, userID)
		if err != nil && !isNotFound(err) {
			return err
		}
		if existing == nil {
			reg = &domain.Registration{
				ID:               uuid.NewString(),
				WorkshopID:       workshopID,
				UserID:           userID,
				RegistrationTime: now,
			}
		} else {
			reg = existing
		}

		if asWaitlist {
			return e.placeInWaitlist(ctx, tx, out, w, reg, existing == nil, now)
		}
		return e.placeConfirmed(ctx, tx, out, w, reg, existing == nil, now)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Registration placed manually",
		zap.String("workshop_id", workshopID),
		zap.String("user_id", userID),
		zap.String("status", reg.Status.String()),
		zap.Int("position", reg.WaitlistPosition),
	)
	return reg, nil
}

func (e *waitlistEngine) placeInWaitlist(ctx context.Context, tx repository.WorkshopTx, out *outbox, w *domain.Workshop, reg *domain.Registration, isNew bool, now time.Time) error {
	switch {
	case isNew:
		highest, err := tx.MaxWaitlistPosition(ctx)
		if err != nil {
			return err
		}
		reg.Waitlist(highest+1, now)
		if err := tx.Insert(ctx, reg); err != nil {
			return err
		}

	case reg.IsConfirmed():
		highest, err := tx.MaxWaitlistPosition(ctx)
		if err != nil {
			return err
		}
		reg.Waitlist(highest+1, now)
		if err := tx.Save(ctx, reg); err != nil {
			return err
		}

	case reg.IsPending():
		// keeps its place, loses the window
		reg.CloseWindow(now)
		if err := tx.Save(ctx, reg); err != nil {
			return err
		}

	default:
		return nil
	}

	out.add(domain.NewNotification(domain.NotifyWaitlisted, w, reg.UserID, now).WithPosition(reg.WaitlistPosition))
	return nil
}

func (e *waitlistEngine) placeConfirmed(ctx context.Context, tx repository.WorkshopTx, out *outbox, w *domain.Workshop, reg *domain.Registration, isNew bool, now time.Time) error {
	if reg.IsConfirmed() && !isNew {
		return nil
	}

	confirmed, err := tx.CountConfirmed(ctx)
	if err != nil {
		return err
	}
	if confirmed >= w.Capacity {
		return domain.ErrWorkshopFull
	}

	if isNew {
		reg.Confirm(now)
		if err := tx.Insert(ctx, reg); err != nil {
			return err
		}
		out.add(domain.NewNotification(domain.NotifyRegistered, w, reg.UserID, now))
	} else {
		oldPosition := reg.WaitlistPosition
		reg.Confirm(now)
		if err := tx.Save(ctx, reg); err != nil {
			return err
		}
		if err := tx.ShiftWaitlistAfter(ctx, oldPosition); err != nil {
			return err
		}
		out.add(domain.NewNotification(domain.NotifyConfirmed, w, reg.UserID, now))
	}

	return e.closeRound(ctx, tx, out, reg.ID)
}
