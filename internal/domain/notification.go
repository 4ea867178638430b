package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind identifies a user-facing message
type NotificationKind string

const (
	NotifyRegistered               NotificationKind = "registered"
	NotifyWaitlisted               NotificationKind = "waitlisted"
	NotifyConfirmationWindowOpened NotificationKind = "confirmation_window_opened"
	NotifySpotTaken                NotificationKind = "spot_taken"
	NotifyConfirmed                NotificationKind = "confirmed"
	NotifyConfirmationExpired      NotificationKind = "confirmation_expired"
	NotifyWorkshopUpdated          NotificationKind = "workshop_updated"
	NotifyWorkshopCancelled        NotificationKind = "workshop_cancelled"
	NotifyReminderDayBefore        NotificationKind = "reminder_day_before"
	NotifyReminderHourBefore       NotificationKind = "reminder_hour_before"
)

// IsValid checks if the kind is known
func (k NotificationKind) IsValid() bool {
	switch k {
	case NotifyRegistered, NotifyWaitlisted, NotifyConfirmationWindowOpened,
		NotifySpotTaken, NotifyConfirmed, NotifyConfirmationExpired,
		NotifyWorkshopUpdated, NotifyWorkshopCancelled,
		NotifyReminderDayBefore, NotifyReminderHourBefore:
		return true
	}
	return false
}

// String returns the string representation of NotificationKind
func (k NotificationKind) String() string {
	return string(k)
}

// Notification is one message for one user about one workshop
type Notification struct {
	ID            string           `json:"id"`
	Kind          NotificationKind `json:"kind"`
	UserID        string           `json:"user_id"`
	WorkshopID    string           `json:"workshop_id"`
	WorkshopTitle string           `json:"workshop_title"`
	WorkshopStart time.Time        `json:"workshop_start"`
	Position      int              `json:"position,omitempty"`
	Deadline      *time.Time       `json:"deadline,omitempty"`
	QueueSize     int              `json:"queue_size,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NewNotification builds a notification of kind for userID about w
func NewNotification(kind NotificationKind, w *Workshop, userID string, now time.Time) *Notification {
	return &Notification{
		ID:            uuid.NewString(),
		Kind:          kind,
		UserID:        userID,
		WorkshopID:    w.ID,
		WorkshopTitle: w.Title,
		WorkshopStart: w.StartTime,
		CreatedAt:     now,
	}
}

// WithPosition sets the waitlist position
func (n *Notification) WithPosition(position int) *Notification {
	n.Position = position
	return n
}

// WithWindow sets the confirmation deadline and how many people share it
func (n *Notification) WithWindow(deadline time.Time, queueSize int) *Notification {
	d := deadline
	n.Deadline = &d
	n.QueueSize = queueSize
	return n
}
