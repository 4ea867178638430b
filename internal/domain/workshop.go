package domain

import (
	"strings"
	"time"
)

// Workshop is a scheduled session with a fixed number of seats
type Workshop struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Capacity    int       `json:"capacity"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate validates all workshop fields
func (w *Workshop) Validate() error {
	if strings.TrimSpace(w.Title) == "" {
		return ErrInvalidTitle
	}
	if w.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if w.EndTime.Before(w.StartTime) {
		return ErrInvalidSchedule
	}
	return nil
}

// Clone returns a copy safe to mutate
func (w *Workshop) Clone() *Workshop {
	c := *w
	return &c
}

// WorkshopSummary is a workshop with its current seat usage
type WorkshopSummary struct {
	Workshop
	Confirmed  int `json:"confirmed"`
	Waitlisted int `json:"waitlisted"`
	Pending    int `json:"pending_confirmation"`
}

// Available returns the number of free seats
func (s *WorkshopSummary) Available() int {
	if n := s.Capacity - s.Confirmed; n > 0 {
		return n
	}
	return 0
}

// Summarize counts registrations by status
func Summarize(w *Workshop, regs []*Registration) *WorkshopSummary {
	s := &WorkshopSummary{Workshop: *w}
	for _, r := range regs {
		switch r.Status {
		case StatusConfirmed:
			s.Confirmed++
		case StatusWaitlisted:
			s.Waitlisted++
		case StatusPendingConfirmation:
			s.Waitlisted++
			s.Pending++
		}
	}
	return s
}
