package domain

import "time"

// RegistrationStatus represents where a participant stands for a workshop
type RegistrationStatus string

const (
	StatusConfirmed           RegistrationStatus = "CONFIRMED"
	StatusWaitlisted          RegistrationStatus = "WAITLISTED"
	StatusPendingConfirmation RegistrationStatus = "PENDING_CONFIRMATION"
)

// IsValid checks if the status is a valid RegistrationStatus
func (s RegistrationStatus) IsValid() bool {
	switch s {
	case StatusConfirmed, StatusWaitlisted, StatusPendingConfirmation:
		return true
	}
	return false
}

// String returns the string representation of RegistrationStatus
func (s RegistrationStatus) String() string {
	return string(s)
}

// Registration links one user to one workshop.
//
// WaitlistPosition is zero unless the registration is waitlisted (plain or
// pending). ConfirmationDeadline is set only while pending.
type Registration struct {
	ID                   string             `json:"id"`
	WorkshopID           string             `json:"workshop_id"`
	UserID               string             `json:"user_id"`
	Status               RegistrationStatus `json:"status"`
	WaitlistPosition     int                `json:"waitlist_position,omitempty"`
	ConfirmationDeadline *time.Time         `json:"confirmation_deadline,omitempty"`
	RegistrationTime     time.Time          `json:"registration_time"`
	Attended             bool               `json:"attended"`
	AttendanceTime       *time.Time         `json:"attendance_time,omitempty"`
	MarkedByUserID       string             `json:"marked_by_user_id,omitempty"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Clone returns a deep copy
func (r *Registration) Clone() *Registration {
	c := *r
	if r.ConfirmationDeadline != nil {
		d := *r.ConfirmationDeadline
		c.ConfirmationDeadline = &d
	}
	if r.AttendanceTime != nil {
		a := *r.AttendanceTime
		c.AttendanceTime = &a
	}
	return &c
}

// IsConfirmed reports whether the registration holds a seat
func (r *Registration) IsConfirmed() bool {
	return r.Status == StatusConfirmed
}

// InWaitlist reports whether the registration is queued, pending or not
func (r *Registration) InWaitlist() bool {
	return r.Status == StatusWaitlisted || r.Status == StatusPendingConfirmation
}

// IsPending reports whether a confirmation window is open for the registration
func (r *Registration) IsPending() bool {
	return r.Status == StatusPendingConfirmation
}

// WindowExpired reports whether a pending window has closed at now
func (r *Registration) WindowExpired(now time.Time) bool {
	return r.IsPending() && r.ConfirmationDeadline != nil && !now.Before(*r.ConfirmationDeadline)
}

// Confirm moves the registration onto a seat
func (r *Registration) Confirm(now time.Time) {
	r.Status = StatusConfirmed
	r.WaitlistPosition = 0
	r.ConfirmationDeadline = nil
	r.UpdatedAt = now
}

// Waitlist queues the registration at position with no open window
func (r *Registration) Waitlist(position int, now time.Time) {
	r.Status = StatusWaitlisted
	r.WaitlistPosition = position
	r.ConfirmationDeadline = nil
	r.UpdatedAt = now
}

// OpenWindow marks the registration pending until deadline
func (r *Registration) OpenWindow(deadline, now time.Time) {
	d := deadline
	r.Status = StatusPendingConfirmation
	r.ConfirmationDeadline = &d
	r.UpdatedAt = now
}

// CloseWindow returns a pending registration to the plain waitlist
func (r *Registration) CloseWindow(now time.Time) {
	r.Status = StatusWaitlisted
	r.ConfirmationDeadline = nil
	r.UpdatedAt = now
}

// MarkAttendance records whether the participant showed up
func (r *Registration) MarkAttendance(present bool, markedBy string, now time.Time) {
	r.Attended = present
	r.MarkedByUserID = markedBy
	if present {
		t := now
		r.AttendanceTime = &t
	} else {
		r.AttendanceTime = nil
	}
	r.UpdatedAt = now
}

// AttendanceReport lists confirmed participants with their attendance
type AttendanceReport struct {
	WorkshopID   string          `json:"workshop_id"`
	Participants []*Registration `json:"participants"`
	Attended     int             `json:"attended"`
}
