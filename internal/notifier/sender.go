package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
)

// Sender pushes rendered text to a user over the chat transport
type Sender interface {
	Send(ctx context.Context, userID, text string) error
}

// LogSender logs messages instead of sending them
type LogSender struct {
	log *logger.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.Get()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, userID, text string) error {
	s.log.Info("Message delivered", zap.String("user_id", userID), zap.String("text", text))
	return nil
}
