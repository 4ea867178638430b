package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/internal/dto"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
	"github.com/1zbbxzak1/EventHubBot/pkg/telemetry"
)

// UserRegistration is one of a user's registrations with its workshop
type UserRegistration struct {
	Registration *domain.Registration
	Workshop     *domain.WorkshopSummary
}

// WorkshopService defines workshop administration and read views
type WorkshopService interface {
	// CreateWorkshop creates an active workshop
	CreateWorkshop(ctx context.Context, req *dto.CreateWorkshopRequest) (*domain.WorkshopSummary, error)

	// UpdateWorkshop overwrites workshop fields and tells every participant
	UpdateWorkshop(ctx context.Context, id string, req *dto.UpdateWorkshopRequest) (*domain.WorkshopSummary, error)

	// DeleteWorkshop tells every participant and removes the workshop with its registrations
	DeleteWorkshop(ctx context.Context, id string) error

	GetWorkshop(ctx context.Context, id string) (*domain.WorkshopSummary, error)
	ListActiveWorkshops(ctx context.Context) ([]*domain.WorkshopSummary, error)
	ListUpcomingWorkshops(ctx context.Context) ([]*domain.WorkshopSummary, error)

	// EnsureOpen returns ErrWorkshopInactive when the workshop takes no new registrations
	EnsureOpen(ctx context.Context, id string) error

	// Participants returns confirmed registrations by registration time
	Participants(ctx context.Context, id string) ([]*domain.Registration, error)

	// Waitlist returns waitlisted and pending registrations by position
	Waitlist(ctx context.Context, id string) ([]*domain.Registration, error)

	// UserRegistrations returns the user's registrations, newest first
	UserRegistrations(ctx context.Context, userID string) ([]*UserRegistration, error)
}

// workshopService implements WorkshopService
type workshopService struct {
	*core
}

// NewWorkshopService creates a new workshop service. It must share the
// locker of the engine so administrative writes serialize with allocations.
func NewWorkshopService(deps Dependencies, cfg *EngineConfig) WorkshopService {
	return &workshopService{core: newCore(deps, cfg)}
}

// CreateWorkshop creates an active workshop
func (s *workshopService) CreateWorkshop(ctx context.Context, req *dto.CreateWorkshopRequest) (_ *domain.WorkshopSummary, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.workshop.create")
	defer func() { telemetry.EndSpan(span, err) }()

	if req == nil {
		return nil, domain.ErrInvalidTitle
	}

	now := s.now()
	w := &domain.Workshop{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Capacity:    req.Capacity,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.CreateWorkshop(ctx, w); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("workshop_id", w.ID))
	s.log.Info("Workshop created",
		zap.String("workshop_id", w.ID),
		zap.String("title", w.Title),
		zap.Int("capacity", w.Capacity),
		zap.Time("start_time", w.StartTime),
	)
	return domain.Summarize(w, nil), nil
}

// UpdateWorkshop overwrites workshop fields. Capacity cannot drop below the
// confirmed count. Free seats on an active workshop open a round; a workshop
// that became full closes any open one.
func (s *workshopService) UpdateWorkshop(ctx context.Context, id string, req *dto.UpdateWorkshopRequest) (summary *domain.WorkshopSummary, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.workshop.update")
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("workshop_id", id))

	if id == "" {
		return nil, domain.ErrInvalidWorkshopID
	}
	if req == nil {
		req = &dto.UpdateWorkshopRequest{}
	}

	opened := 0
	err = s.withWorkshop(ctx, id, func(tx repository.WorkshopTx, out *outbox) error {
		now := s.now()
		w := tx.Workshop().Clone()
		req.Apply(w)
		w.Title = strings.TrimSpace(w.Title)
		if err := w.Validate(); err != nil {
			return err
		}

		confirmed, err := tx.CountConfirmed(ctx)
		if err != nil {
			return err
		}
		if w.Capacity < confirmed {
			return domain.ErrCapacityBelowConfirmed
		}

		w.UpdatedAt = now
		if err := tx.UpdateWorkshop(ctx, w); err != nil {
			return err
		}

		regs, err := tx.List(ctx)
		if err != nil {
			return err
		}
		for _, r := range regs {
			out.add(domain.NewNotification(domain.NotifyWorkshopUpdated, w, r.UserID, now))
		}

		if err := s.closeRound(ctx, tx, out, ""); err != nil {
			return err
		}
		if w.Active {
			if opened, err = s.broadcast(ctx, tx, out); err != nil {
				return err
			}
		}

		regs, err = tx.List(ctx)
		if err != nil {
			return err
		}
		summary = domain.Summarize(w, regs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.WindowsOpened(opened)
	s.log.Info("Workshop updated",
		zap.String("workshop_id", id),
		zap.Int("capacity", summary.Capacity),
		zap.Bool("active", summary.Active),
		zap.Int("windows_opened", opened),
	)
	return summary, nil
}

// DeleteWorkshop removes the workshop and its registrations, then tells
// everyone who was registered.
func (s *workshopService) DeleteWorkshop(ctx context.Context, id string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.workshop.delete")
	defer func() { telemetry.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("workshop_id", id))

	if id == "" {
		return domain.ErrInvalidWorkshopID
	}

	out, err := s.deleteLocked(ctx, id)
	if err != nil {
		return err
	}
	s.dispatch(ctx, out)

	s.log.Info("Workshop deleted",
		zap.String("workshop_id", id),
		zap.Int("notified", len(out.notes)),
	)
	return nil
}

// deleteLocked reads the participants and deletes the workshop in one
// transaction, so nobody can register between the two.
func (s *workshopService) deleteLocked(ctx context.Context, id string) (*outbox, error) {
	return s.commit(ctx, id, func(tx repository.WorkshopTx, out *outbox) error {
		regs, err := tx.List(ctx)
		if err != nil {
			return err
		}
		if err := tx.DeleteWorkshop(ctx); err != nil {
			return err
		}

		w, now := tx.Workshop(), s.now()
		for _, r := range regs {
			out.add(domain.NewNotification(domain.NotifyWorkshopCancelled, w, r.UserID, now))
		}
		return nil
	})
}

// GetWorkshop returns a workshop with its seat usage
func (s *workshopService) GetWorkshop(ctx context.Context, id string) (*domain.WorkshopSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.workshop.get")
	defer span.End()

	if id == "" {
		return nil, domain.ErrInvalidWorkshopID
	}
	w, err := s.store.GetWorkshop(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, w)
}

// ListActiveWorkshops returns active workshops by start time
func (s *workshopService) ListActiveWorkshops(ctx context.Context) ([]*domain.WorkshopSummary, error) {
	return s.list(ctx, repository.WorkshopFilter{ActiveOnly: true})
}

// ListUpcomingWorkshops returns active workshops that have not started yet
func (s *workshopService) ListUpcomingWorkshops(ctx context.Context) ([]*domain.WorkshopSummary, error) {
	now := s.now()
	return s.list(ctx, repository.WorkshopFilter{ActiveOnly: true, StartsAfter: &now})
}

func (s *workshopService) list(ctx context.Context, filter repository.WorkshopFilter) ([]*domain.WorkshopSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.workshop.list")
	defer span.End()

	workshops, err := s.store.ListWorkshops(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.WorkshopSummary, 0, len(workshops))
	for _, w := range workshops {
		summary, err := s.summarize(ctx, w)
		if errors.Is(err, domain.ErrWorkshopNotFound) {
			// deleted since the listing
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *workshopService) summarize(ctx context.Context, w *domain.Workshop) (*domain.WorkshopSummary, error) {
	regs, err := s.store.ListRegistrations(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	return domain.Summarize(w, regs), nil
}

// EnsureOpen returns ErrWorkshopInactive when the workshop takes no new registrations
func (s *workshopService) EnsureOpen(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrInvalidWorkshopID
	}
	w, err := s.store.GetWorkshop(ctx, id)
	if err != nil {
		return err
	}
	if !w.Active {
		return domain.ErrWorkshopInactive
	}
	return nil
}

// Participants returns confirmed registrations by registration time
func (s *workshopService) Participants(ctx context.Context, id string) ([]*domain.Registration, error) {
	regs, err := s.registrations(ctx, id)
	if err != nil {
		return nil, err
	}
	out := []*domain.Registration{}
	for _, r := range regs {
		if r.IsConfirmed() {
			out = append(out, r)
		}
	}
	return out, nil
}

// Waitlist returns waitlisted and pending registrations by position
func (s *workshopService) Waitlist(ctx context.Context, id string) ([]*domain.Registration, error) {
	regs, err := s.registrations(ctx, id)
	if err != nil {
		return nil, err
	}
	out := []*domain.Registration{}
	for _, r := range regs {
		if r.InWaitlist() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].WaitlistPosition < out[j].WaitlistPosition
	})
	return out, nil
}

func (s *workshopService) registrations(ctx context.Context, id string) ([]*domain.Registration, error) {
	if id == "" {
		return nil, domain.ErrInvalidWorkshopID
	}
	return s.store.ListRegistrations(ctx, id)
}

// UserRegistrations returns the user's registrations, newest first
func (s *workshopService) UserRegistrations(ctx context.Context, userID string) ([]*UserRegistration, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.workshop.user_registrations")
	defer span.End()

	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}

	regs, err := s.store.ListUserRegistrations(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]*UserRegistration, 0, len(regs))
	for _, r := range regs {
		w, err := s.store.GetWorkshop(ctx, r.WorkshopID)
		if errors.Is(err, domain.ErrWorkshopNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		summary, err := s.summarize(ctx, w)
		if err != nil {
			return nil, err
		}
		out = append(out, &UserRegistration{Registration: r, Workshop: summary})
	}
	return out, nil
}
