package dto

import (
	"time"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
)

// CreateWorkshopRequest represents request to create a workshop
type CreateWorkshopRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
	Capacity    int       `json:"capacity" binding:"required,min=1"`
}

// UpdateWorkshopRequest represents an administrative overwrite. Nil fields
// are left unchanged.
type UpdateWorkshopRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Capacity    *int       `json:"capacity,omitempty" binding:"omitempty,min=1"`
	Active      *bool      `json:"active,omitempty"`
}

// Apply copies the set fields onto w
func (r *UpdateWorkshopRequest) Apply(w *domain.Workshop) {
	if r.Title != nil {
		w.Title = *r.Title
	}
	if r.Description != nil {
		w.Description = *r.Description
	}
	if r.StartTime != nil {
		w.StartTime = *r.StartTime
	}
	if r.EndTime != nil {
		w.EndTime = *r.EndTime
	}
	if r.Capacity != nil {
		w.Capacity = *r.Capacity
	}
	if r.Active != nil {
		w.Active = *r.Active
	}
}

// WorkshopResponse represents a workshop with its seat usage
type WorkshopResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Capacity    int       `json:"capacity"`
	Active      bool      `json:"active"`
	Confirmed   int       `json:"confirmed"`
	Waitlisted  int       `json:"waitlisted"`
	Pending     int       `json:"pending_confirmation"`
	Available   int       `json:"available"`
}

// FromSummary converts a workshop summary to WorkshopResponse
func FromSummary(s *domain.WorkshopSummary) *WorkshopResponse {
	return &WorkshopResponse{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Capacity:    s.Capacity,
		Active:      s.Active,
		Confirmed:   s.Confirmed,
		Waitlisted:  s.Waitlisted,
		Pending:     s.Pending,
		Available:   s.Available(),
	}
}

// FromSummaries converts a list of summaries
func FromSummaries(list []*domain.WorkshopSummary) []*WorkshopResponse {
	out := make([]*WorkshopResponse, 0, len(list))
	for _, s := range list {
		out = append(out, FromSummary(s))
	}
	return out
}
