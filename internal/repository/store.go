package repository

import (
	"context"
	"time"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
)

// WorkshopFilter narrows ListWorkshops
type WorkshopFilter struct {
	ActiveOnly   bool
	StartsAfter  *time.Time
	StartsBefore *time.Time
}

// WorkshopRepository stores workshops outside of any registration transaction
type WorkshopRepository interface {
	CreateWorkshop(ctx context.Context, w *domain.Workshop) error
	GetWorkshop(ctx context.Context, id string) (*domain.Workshop, error)
	// ListWorkshops returns workshops ordered by start time
	ListWorkshops(ctx context.Context, filter WorkshopFilter) ([]*domain.Workshop, error)
}

// RegistrationReader serves read-only views that need no lock
type RegistrationReader interface {
	// ListRegistrations returns every registration of a workshop
	ListRegistrations(ctx context.Context, workshopID string) ([]*domain.Registration, error)
	// ListUserRegistrations returns a user's registrations, newest first
	ListUserRegistrations(ctx context.Context, userID string) ([]*domain.Registration, error)
}

// Store is the persistence contract of the allocation engine
type Store interface {
	WorkshopRepository
	RegistrationReader

	// InWorkshopTx runs fn atomically against one workshop. Concurrent
	// transactions on the same workshop are serialized; a returned error
	// discards every write made through tx.
	InWorkshopTx(ctx context.Context, workshopID string, fn func(tx WorkshopTx) error) error

	Ping(ctx context.Context) error
}

// WorkshopTx is the registration view of one locked workshop
type WorkshopTx interface {
	// Workshop returns the workshop row read when the transaction began
	Workshop() *domain.Workshop
	UpdateWorkshop(ctx context.Context, w *domain.Workshop) error
	// DeleteWorkshop removes the workshop and its registrations on commit
	DeleteWorkshop(ctx context.Context) error

	// Get returns ErrRegistrationNotFound when the user has no registration
	Get(ctx context.Context, userID string) (*domain.Registration, error)
	// List returns all registrations of the workshop
	List(ctx context.Context) ([]*domain.Registration, error)
	// Confirmed returns confirmed registrations by registration time
	Confirmed(ctx context.Context) ([]*domain.Registration, error)
	// Waitlist returns waitlisted and pending registrations by position
	Waitlist(ctx context.Context) ([]*domain.Registration, error)
	CountConfirmed(ctx context.Context) (int, error)
	// MaxWaitlistPosition returns 0 for an empty waitlist
	MaxWaitlistPosition(ctx context.Context) (int, error)
	// ExpiredPending returns pending registrations whose deadline is at or before now
	ExpiredPending(ctx context.Context, now time.Time) ([]*domain.Registration, error)

	Insert(ctx context.Context, r *domain.Registration) error
	Save(ctx context.Context, r *domain.Registration) error
	Delete(ctx context.Context, registrationID string) error
	// ShiftWaitlistAfter decrements every waitlist position greater than position
	ShiftWaitlistAfter(ctx context.Context, position int) error
}
