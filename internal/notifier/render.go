package notifier

import (
	"fmt"
	"time"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
)

const timeLayout = "Mon, 02 Jan 2006 15:04 MST"

// Render turns a notification into the plain-language text sent to the user
func Render(n *domain.Notification) string {
	title := n.WorkshopTitle
	start := n.WorkshopStart.Format(timeLayout)

	switch n.Kind {
	case domain.NotifyRegistered:
		return fmt.Sprintf("You are registered for %q on %s.", title, start)

	case domain.NotifyWaitlisted:
		return fmt.Sprintf("%q is full. You are number %d on the waitlist. We will message you when a seat opens.", title, n.Position)

	case domain.NotifyConfirmationWindowOpened:
		deadline := "soon"
		if n.Deadline != nil {
			deadline = n.Deadline.Format(timeLayout)
		}
		others := n.QueueSize - 1
		switch {
		case others <= 0:
			return fmt.Sprintf("A seat opened for %q. Confirm before %s to take it.", title, deadline)
		case others == 1:
			return fmt.Sprintf("A seat opened for %q. You and 1 other person on the waitlist were notified. The first to confirm before %s gets it.", title, deadline)
		default:
			return fmt.Sprintf("A seat opened for %q. You and %d others on the waitlist were notified. The first to confirm before %s gets it.", title, others, deadline)
		}

	case domain.NotifySpotTaken:
		if n.Position > 0 {
			return fmt.Sprintf("The open seat for %q was taken by someone else. You keep place %d on the waitlist.", title, n.Position)
		}
		return fmt.Sprintf("The open seat for %q was taken by someone else. You stay on the waitlist.", title)

	case domain.NotifyConfirmed:
		return fmt.Sprintf("Your seat for %q is confirmed. See you on %s.", title, start)

	case domain.NotifyConfirmationExpired:
		return fmt.Sprintf("Your time to confirm a seat for %q ran out, so you were removed from the waitlist.", title)

	case domain.NotifyWorkshopUpdated:
		return fmt.Sprintf("%q was updated. It now starts on %s.", title, start)

	case domain.NotifyWorkshopCancelled:
		return fmt.Sprintf("%q scheduled for %s has been cancelled.", title, start)

	case domain.NotifyReminderDayBefore:
		return fmt.Sprintf("Reminder: %q starts tomorrow, %s.", title, start)

	case domain.NotifyReminderHourBefore:
		return fmt.Sprintf("Reminder: %q starts in about an hour, %s.", title, start)
	}

	return fmt.Sprintf("Update about %q.", title)
}

// In converts every timestamp of n to loc before rendering
func In(n *domain.Notification, loc *time.Location) *domain.Notification {
	c := *n
	c.WorkshopStart = n.WorkshopStart.In(loc)
	if n.Deadline != nil {
		d := n.Deadline.In(loc)
		c.Deadline = &d
	}
	return &c
}
