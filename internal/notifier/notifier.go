// Package notifier delivers participant notifications.
package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
)

// Notifier hands a notification to its delivery channel. Delivery is fire and
// forget from the engine's point of view: a returned error is logged, never
// propagated to the participant action that caused it.
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification) error
	Close() error
}

// NoOpNotifier drops every notification
type NoOpNotifier struct{}

// NewNoOpNotifier creates a NoOpNotifier
func NewNoOpNotifier() *NoOpNotifier { return &NoOpNotifier{} }

func (NoOpNotifier) Notify(context.Context, *domain.Notification) error { return nil }

func (NoOpNotifier) Close() error { return nil }

// LogNotifier writes the rendered message to the log
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Get()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, note *domain.Notification) error {
	n.log.Info("Notification",
		zap.String("kind", note.Kind.String()),
		zap.String("user_id", note.UserID),
		zap.String("workshop_id", note.WorkshopID),
		zap.String("text", Render(note)),
	)
	return nil
}

func (n *LogNotifier) Close() error { return nil }
