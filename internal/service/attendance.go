package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
	"github.com/1zbbxzak1/EventHubBot/pkg/telemetry"
)

// MarkAttendance records presence for a registration. Re-marking overwrites
// the previous facts.
func (e *waitlistEngine) MarkAttendance(ctx context.Context, workshopID, userID string, present bool, markedBy string) (found bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.waitlist.mark_attendance")
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(
		attribute.String("workshop_id", workshopID),
		attribute.String("user_id", userID),
		attribute.Bool("present", present),
	)

	if err := validateIDs(workshopID, userID); err != nil {
		return false, err
	}
	if markedBy == "" {
		return false, domain.ErrInvalidUserID
	}

	var status domain.RegistrationStatus
	err = e.withWorkshop(ctx, workshopID, func(tx repository.WorkshopTx, _ *outbox) error {
		found = false
		reg, err := tx.Get(ctx, userID)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}

		reg.MarkAttendance(present, markedBy, e.now())
		if err := tx.Save(ctx, reg); err != nil {
			return err
		}
		found = true
		status = reg.Status
		return nil
	})
	if err != nil || !found {
		return false, err
	}

	if status != domain.StatusConfirmed {
		e.log.Warn("Attendance marked for a registration without a seat",
			zap.String("workshop_id", workshopID),
			zap.String("user_id", userID),
			zap.String("status", status.String()),
		)
	}
	e.metrics.Attendance(present)
	e.log.Info("Attendance marked",
		zap.String("workshop_id", workshopID),
		zap.String("user_id", userID),
		zap.Bool("present", present),
		zap.String("marked_by", markedBy),
	)
	return true, nil
}

// ListAttendance returns confirmed participants with their attendance facts
func (e *waitlistEngine) ListAttendance(ctx context.Context, workshopID string) (report *domain.AttendanceReport, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.waitlist.list_attendance")
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("workshop_id", workshopID))

	if workshopID == "" {
		return nil, domain.ErrInvalidWorkshopID
	}

	regs, err := e.store.ListRegistrations(ctx, workshopID)
	if err != nil {
		return nil, err
	}

	report = &domain.AttendanceReport{
		WorkshopID:   workshopID,
		Participants: []*domain.Registration{},
	}
	for _, r := range regs {
		if !r.IsConfirmed() {
			continue
		}
		report.Participants = append(report.Participants, r)
		if r.Attended {
			report.Attended++
		}
	}
	return report, nil
}
