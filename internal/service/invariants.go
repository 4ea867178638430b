package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
)

// Violation kinds, used as the metric label
const (
	violationOverCapacity      = "over_capacity"
	violationPositions         = "positions"
	violationPendingNoDeadline = "pending_without_deadline"
	violationStaleDeadline     = "waitlisted_with_deadline"
)

// violation is one broken invariant found in a workshop
type violation struct {
	kind   string
	detail string
}

// findViolations checks seat usage and waitlist shape of one workshop
func findViolations(w *domain.Workshop, regs []*domain.Registration) []violation {
	var found []violation

	confirmed := 0
	var queue []*domain.Registration
	for _, r := range regs {
		switch {
		case r.IsConfirmed():
			confirmed++
		case r.InWaitlist():
			queue = append(queue, r)
			if r.IsPending() && r.ConfirmationDeadline == nil {
				found = append(found, violation{violationPendingNoDeadline, "registration " + r.ID})
			}
			if !r.IsPending() && r.ConfirmationDeadline != nil {
				found = append(found, violation{violationStaleDeadline, "registration " + r.ID})
			}
		}
	}

	if confirmed > w.Capacity {
		found = append(found, violation{violationOverCapacity, fmt.Sprintf("%d confirmed for %d seats", confirmed, w.Capacity)})
	}

	sort.Slice(queue, func(i, j int) bool {
		return queue[i].WaitlistPosition < queue[j].WaitlistPosition
	})
	for i, r := range queue {
		if r.WaitlistPosition != i+1 {
			found = append(found, violation{violationPositions, fmt.Sprintf("position %d at rank %d", r.WaitlistPosition, i+1)})
			break
		}
	}
	return found
}

// checkInvariants runs after every mutation, inside the same transaction.
// In strict mode a violation panics. In heal mode it is logged, counted, and
// the waitlist is rebuilt; over-capacity is only logged since fixing it
// would mean evicting someone.
func (c *core) checkInvariants(ctx context.Context, tx repository.WorkshopTx) error {
	regs, err := tx.List(ctx)
	if err != nil {
		return err
	}
	w := tx.Workshop()

	found := findViolations(w, regs)
	if len(found) == 0 {
		return nil
	}

	for _, v := range found {
		c.metrics.InvariantViolation(v.kind)
		c.log.Error("Waitlist invariant violated",
			zap.String("workshop_id", w.ID),
			zap.String("kind", v.kind),
			zap.String("detail", v.detail),
		)
	}

	if c.invariantMode == InvariantStrict {
		panic(fmt.Errorf("%w: workshop %s: %s: %s", domain.ErrInvariantViolation, w.ID, found[0].kind, found[0].detail))
	}
	return c.heal(ctx, tx, regs)
}

// heal renumbers the waitlist from scratch, keeping the old relative order
// with registration time as the tie-break, and normalizes deadlines.
func (c *core) heal(ctx context.Context, tx repository.WorkshopTx, regs []*domain.Registration) error {
	var queue []*domain.Registration
	for _, r := range regs {
		if r.InWaitlist() {
			queue = append(queue, r)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if a.WaitlistPosition != b.WaitlistPosition {
			return a.WaitlistPosition < b.WaitlistPosition
		}
		return a.RegistrationTime.Before(b.RegistrationTime)
	})

	now := c.now()
	repaired := 0
	for i, r := range queue {
		changed := false
		if r.WaitlistPosition != i+1 {
			r.WaitlistPosition = i + 1
			changed = true
		}
		if r.IsPending() && r.ConfirmationDeadline == nil {
			r.CloseWindow(now)
			changed = true
		}
		if !r.IsPending() && r.ConfirmationDeadline != nil {
			r.ConfirmationDeadline = nil
			changed = true
		}
		if !changed {
			continue
		}
		r.UpdatedAt = now
		if err := tx.Save(ctx, r); err != nil {
			return fmt.Errorf("failed to heal registration %s: %w", r.ID, err)
		}
		repaired++
	}

	if repaired > 0 {
		c.log.Warn("Waitlist rebuilt",
			zap.String("workshop_id", tx.Workshop().ID),
			zap.Int("repaired", repaired),
		)
	}
	return nil
}
