package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
)

type memWorkshop struct {
	mu       sync.Mutex
	workshop *domain.Workshop
	regs     map[string]*domain.Registration // by user id
	deleted  bool
}

// MemoryStore keeps everything in process. Each workshop has its own mutex,
// so transactions on different workshops never wait on each other.
type MemoryStore struct {
	mu        sync.RWMutex
	workshops map[string]*memWorkshop
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workshops: make(map[string]*memWorkshop)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) entry(id string) (*memWorkshop, error) {
	s.mu.RLock()
	e, ok := s.workshops[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrWorkshopNotFound
	}
	return e, nil
}

// CreateWorkshop stores a copy of w
func (s *MemoryStore) CreateWorkshop(_ context.Context, w *domain.Workshop) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workshops[w.ID] = &memWorkshop{
		workshop: w.Clone(),
		regs:     make(map[string]*domain.Registration),
	}
	return nil
}

// GetWorkshop returns a copy of the workshop
func (s *MemoryStore) GetWorkshop(_ context.Context, id string) (*domain.Workshop, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, domain.ErrWorkshopNotFound
	}
	return e.workshop.Clone(), nil
}

// ListWorkshops returns matching workshops ordered by start time
func (s *MemoryStore) ListWorkshops(_ context.Context, filter WorkshopFilter) ([]*domain.Workshop, error) {
	s.mu.RLock()
	entries := make([]*memWorkshop, 0, len(s.workshops))
	for _, e := range s.workshops {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*domain.Workshop
	for _, e := range entries {
		e.mu.Lock()
		w := e.workshop.Clone()
		deleted := e.deleted
		e.mu.Unlock()

		if deleted || !matches(w, filter) {
			continue
		}
		out = append(out, w)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func matches(w *domain.Workshop, f WorkshopFilter) bool {
	if f.ActiveOnly && !w.Active {
		return false
	}
	if f.StartsAfter != nil && !w.StartTime.After(*f.StartsAfter) {
		return false
	}
	if f.StartsBefore != nil && !w.StartTime.Before(*f.StartsBefore) {
		return false
	}
	return true
}

// ListRegistrations returns copies of a workshop's registrations
func (s *MemoryStore) ListRegistrations(_ context.Context, workshopID string) ([]*domain.Registration, error) {
	e, err := s.entry(workshopID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, domain.ErrWorkshopNotFound
	}
	return (&memTx{e: e}).all(), nil
}

// ListUserRegistrations returns the user's registrations, newest first
func (s *MemoryStore) ListUserRegistrations(_ context.Context, userID string) ([]*domain.Registration, error) {
	s.mu.RLock()
	entries := make([]*memWorkshop, 0, len(s.workshops))
	for _, e := range s.workshops {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*domain.Registration
	for _, e := range entries {
		e.mu.Lock()
		if r, ok := e.regs[userID]; ok && !e.deleted {
			out = append(out, r.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].RegistrationTime.After(out[j].RegistrationTime)
	})
	return out, nil
}

// InWorkshopTx runs fn under the workshop mutex and restores the previous
// state if fn fails or panics.
func (s *MemoryStore) InWorkshopTx(ctx context.Context, workshopID string, fn func(tx WorkshopTx) error) error {
	e, err := s.entry(workshopID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.ErrWorkshopNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshotWorkshop := e.workshop.Clone()
	snapshotRegs := make(map[string]*domain.Registration, len(e.regs))
	for k, r := range e.regs {
		snapshotRegs[k] = r.Clone()
	}

	committed := false
	defer func() {
		// also runs when fn panics
		if !committed {
			e.workshop = snapshotWorkshop
			e.regs = snapshotRegs
		}
	}()

	tx := &memTx{e: e, workshop: e.workshop.Clone()}
	if err := fn(tx); err != nil {
		return err
	}
	committed = true

	if tx.removed {
		e.deleted = true
		e.regs = nil
		s.mu.Lock()
		if s.workshops[workshopID] == e {
			delete(s.workshops, workshopID)
		}
		s.mu.Unlock()
	}
	return nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error { return nil }

// memTx operates on a workshop whose mutex is held by the caller
type memTx struct {
	e        *memWorkshop
	workshop *domain.Workshop
	removed  bool
}

func (t *memTx) Workshop() *domain.Workshop { return t.workshop }

func (t *memTx) UpdateWorkshop(_ context.Context, w *domain.Workshop) error {
	t.e.workshop = w.Clone()
	t.workshop = w.Clone()
	return nil
}

func (t *memTx) DeleteWorkshop(context.Context) error {
	t.e.regs = make(map[string]*domain.Registration)
	t.removed = true
	return nil
}

func (t *memTx) all() []*domain.Registration {
	out := make([]*domain.Registration, 0, len(t.e.regs))
	for _, r := range t.e.regs {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegistrationTime.Equal(out[j].RegistrationTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegistrationTime.Before(out[j].RegistrationTime)
	})
	return out
}

func (t *memTx) Get(_ context.Context, userID string) (*domain.Registration, error) {
	r, ok := t.e.regs[userID]
	if !ok {
		return nil, domain.ErrRegistrationNotFound
	}
	return r.Clone(), nil
}

func (t *memTx) List(context.Context) ([]*domain.Registration, error) {
	return t.all(), nil
}

func (t *memTx) Confirmed(context.Context) ([]*domain.Registration, error) {
	var out []*domain.Registration
	for _, r := range t.all() {
		if r.IsConfirmed() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) Waitlist(context.Context) ([]*domain.Registration, error) {
	var out []*domain.Registration
	for _, r := range t.all() {
		if r.InWaitlist() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].WaitlistPosition < out[j].WaitlistPosition
	})
	return out, nil
}

func (t *memTx) CountConfirmed(context.Context) (int, error) {
	n := 0
	for _, r := range t.e.regs {
		if r.IsConfirmed() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) MaxWaitlistPosition(context.Context) (int, error) {
	highest := 0
	for _, r := range t.e.regs {
		if r.InWaitlist() && r.WaitlistPosition > highest {
			highest = r.WaitlistPosition
		}
	}
	return highest, nil
}

func (t *memTx) ExpiredPending(_ context.Context, now time.Time) ([]*domain.Registration, error) {
	var out []*domain.Registration
	for _, r := range t.all() {
		if r.WindowExpired(now) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].WaitlistPosition < out[j].WaitlistPosition
	})
	return out, nil
}

func (t *memTx) Insert(_ context.Context, r *domain.Registration) error {
	if _, ok := t.e.regs[r.UserID]; ok {
		return domain.ErrAlreadyRegistered
	}
	t.e.regs[r.UserID] = r.Clone()
	return nil
}

func (t *memTx) Save(_ context.Context, r *domain.Registration) error {
	cur, ok := t.e.regs[r.UserID]
	if !ok || cur.ID != r.ID {
		return domain.ErrRegistrationNotFound
	}
	t.e.regs[r.UserID] = r.Clone()
	return nil
}

func (t *memTx) Delete(_ context.Context, registrationID string) error {
	for userID, r := range t.e.regs {
		if r.ID == registrationID {
			delete(t.e.regs, userID)
			return nil
		}
	}
	return domain.ErrRegistrationNotFound
}

func (t *memTx) ShiftWaitlistAfter(_ context.Context, position int) error {
	for _, r := range t.e.regs {
		if r.InWaitlist() && r.WaitlistPosition > position {
			r.WaitlistPosition--
		}
	}
	return nil
}
