package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/internal/metrics"
	"github.com/1zbbxzak1/EventHubBot/internal/notifier"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
)

// Reminder windows, measured as time left until the workshop starts
const (
	dayBeforeFrom  = 23 * time.Hour
	dayBeforeTo    = 24 * time.Hour
	hourBeforeFrom = 55 * time.Minute
	hourBeforeTo   = 2 * time.Hour
)

// ReminderSource reads upcoming workshops and their registrations
type ReminderSource interface {
	ListWorkshops(ctx context.Context, filter repository.WorkshopFilter) ([]*domain.Workshop, error)
	ListRegistrations(ctx context.Context, workshopID string) ([]*domain.Registration, error)
}

// ReminderWorkerConfig contains configuration for the reminder worker
type ReminderWorkerConfig struct {
	// Interval is the time between checks
	Interval time.Duration
	// SendTimeout bounds each reminder send
	SendTimeout time.Duration
	// Clock defaults to time.Now
	Clock func() time.Time
}

// DefaultReminderWorkerConfig returns default configuration
func DefaultReminderWorkerConfig() *ReminderWorkerConfig {
	return &ReminderWorkerConfig{
		Interval:    time.Hour,
		SendTimeout: 5 * time.Second,
		Clock:       time.Now,
	}
}

// ReminderWorker tells confirmed participants that their workshop is near
type ReminderWorker struct {
	source   ReminderSource
	notifier notifier.Notifier
	ledger   ReminderLedger
	metrics  *metrics.Metrics
	config   *ReminderWorkerConfig
	log      *logger.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool

	// Stats
	totalSent   int64
	lastRunTime time.Time
}

// NewReminderWorker creates a new reminder worker
func NewReminderWorker(source ReminderSource, n notifier.Notifier, ledger ReminderLedger, m *metrics.Metrics, config *ReminderWorkerConfig) *ReminderWorker {
	if config == nil {
		config = DefaultReminderWorkerConfig()
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 5 * time.Second
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if ledger == nil {
		ledger = NewMemoryReminderLedger()
	}

	return &ReminderWorker{
		source:   source,
		notifier: n,
		ledger:   ledger,
		metrics:  m,
		config:   config,
		log:      logger.Get().Named("reminder-worker"),
		stopCh:   make(chan struct{}),
	}
}

// Start starts the reminder worker
func (w *ReminderWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("reminder worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting reminder worker", zap.Duration("interval", w.config.Interval))

	w.wg.Add(1)
	go w.run(ctx)

	return nil
}

// Stop stops the reminder worker
func (w *ReminderWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping reminder worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Reminder worker stopped")
}

func (w *ReminderWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	w.SendDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.SendDue(ctx)
		}
	}
}

// reminderKind picks the reminder due for a workshop starting after until
func reminderKind(until time.Duration) (domain.NotificationKind, bool) {
	switch {
	case until >= dayBeforeFrom && until <= dayBeforeTo:
		return domain.NotifyReminderDayBefore, true
	case until >= hourBeforeFrom && until < hourBeforeTo:
		return domain.NotifyReminderHourBefore, true
	}
	return "", false
}

// SendDue sends every reminder that is due now and returns how many went out
func (w *ReminderWorker) SendDue(ctx context.Context) int {
	now := w.config.Clock()
	until := now.Add(dayBeforeTo)

	w.mu.Lock()
	w.lastRunTime = now
	w.mu.Unlock()

	workshops, err := w.source.ListWorkshops(ctx, repository.WorkshopFilter{
		ActiveOnly:   true,
		StartsAfter:  &now,
		StartsBefore: &until,
	})
	if err != nil {
		w.log.Error("Failed to list upcoming workshops", zap.Error(err))
		return 0
	}

	sent := 0
	for _, ws := range workshops {
		kind, due := reminderKind(ws.StartTime.Sub(now))
		if !due {
			continue
		}

		regs, err := w.source.ListRegistrations(ctx, ws.ID)
		if err != nil {
			w.log.Error("Failed to list participants", zap.String("workshop_id", ws.ID), zap.Error(err))
			continue
		}

		for _, r := range regs {
			if !r.IsConfirmed() {
				continue
			}
			if w.remind(ctx, ws, r.UserID, kind, now) {
				sent++
			}
		}
	}

	if sent > 0 {
		w.mu.Lock()
		w.totalSent += int64(sent)
		w.mu.Unlock()
		w.log.Info("Reminders sent", zap.Int("count", sent))
	}
	return sent
}

func (w *ReminderWorker) remind(ctx context.Context, ws *domain.Workshop, userID string, kind domain.NotificationKind, now time.Time) bool {
	first, err := w.ledger.MarkSent(ctx, ws.ID, userID, kind)
	if err != nil {
		w.log.Warn("Failed to check reminder ledger",
			zap.String("workshop_id", ws.ID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false
	}
	if !first {
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.config.SendTimeout)
	defer cancel()
	if err := w.notifier.Notify(sendCtx, domain.NewNotification(kind, ws, userID, now)); err != nil {
		w.metrics.NotificationFailed(kind.String())
		w.log.Warn("Failed to send reminder",
			zap.String("workshop_id", ws.ID),
			zap.String("user_id", userID),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
		return false
	}
	w.metrics.ReminderSent(kind.String())
	return true
}

// GetStats returns worker statistics
func (w *ReminderWorker) GetStats() *ReminderWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ReminderWorkerStats{
		IsRunning:   w.running,
		TotalSent:   w.totalSent,
		LastRunTime: w.lastRunTime,
	}
}

// ReminderWorkerStats contains worker statistics
type ReminderWorkerStats struct {
	IsRunning   bool      `json:"is_running"`
	TotalSent   int64     `json:"total_sent"`
	LastRunTime time.Time `json:"last_run_time"`
}
