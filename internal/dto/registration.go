package dto

import (
	"time"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
)

// RegistrationResponse represents a registration in API response
type RegistrationResponse struct {
	ID                   string     `json:"id"`
	WorkshopID           string     `json:"workshop_id"`
	UserID               string     `json:"user_id"`
	Status               string     `json:"status"`
	WaitlistPosition     *int       `json:"waitlist_position,omitempty"`
	ConfirmationDeadline *time.Time `json:"confirmation_deadline,omitempty"`
	RegistrationTime     time.Time  `json:"registration_time"`
	Attended             bool       `json:"attended"`
	AttendanceTime       *time.Time `json:"attendance_time,omitempty"`
	MarkedByUserID       string     `json:"marked_by_user_id,omitempty"`
}

// FromRegistration converts domain Registration to RegistrationResponse
func FromRegistration(r *domain.Registration) *RegistrationResponse {
	resp := &RegistrationResponse{
		ID:                   r.ID,
		WorkshopID:           r.WorkshopID,
		UserID:               r.UserID,
		Status:               r.Status.String(),
		ConfirmationDeadline: r.ConfirmationDeadline,
		RegistrationTime:     r.RegistrationTime,
		Attended:             r.Attended,
		AttendanceTime:       r.AttendanceTime,
		MarkedByUserID:       r.MarkedByUserID,
	}
	if r.InWaitlist() {
		pos := r.WaitlistPosition
		resp.WaitlistPosition = &pos
	}
	return resp
}

// FromRegistrations converts a list of registrations
func FromRegistrations(list []*domain.Registration) []*RegistrationResponse {
	out := make([]*RegistrationResponse, 0, len(list))
	for _, r := range list {
		out = append(out, FromRegistration(r))
	}
	return out
}

// UserRegistrationResponse is one of the caller's registrations with its workshop
type UserRegistrationResponse struct {
	Registration *RegistrationResponse `json:"registration"`
	Workshop     *WorkshopResponse     `json:"workshop"`
}

// CancelResponse represents response after cancelling
type CancelResponse struct {
	WorkshopID string `json:"workshop_id"`
	Cancelled  bool   `json:"cancelled"`
}

// ConfirmResponse represents the outcome of a confirmation attempt
type ConfirmResponse struct {
	Outcome      string                `json:"outcome"`
	Message      string                `json:"message"`
	Registration *RegistrationResponse `json:"registration,omitempty"`
}

// ManualAddRequest represents an administrative placement
type ManualAddRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	AsWaitlist bool   `json:"as_waitlist"`
}

// MarkAttendanceRequest represents request to mark attendance
type MarkAttendanceRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Present *bool  `json:"present" binding:"required"`
}

// AttendanceResponse represents the attendance list of a workshop
type AttendanceResponse struct {
	WorkshopID   string                  `json:"workshop_id"`
	Total        int                     `json:"total"`
	Attended     int                     `json:"attended"`
	Participants []*RegistrationResponse `json:"participants"`
}

// FromAttendance converts an attendance report
func FromAttendance(r *domain.AttendanceReport) *AttendanceResponse {
	return &AttendanceResponse{
		WorkshopID:   r.WorkshopID,
		Total:        len(r.Participants),
		Attended:     r.Attended,
		Participants: FromRegistrations(r.Participants),
	}
}
