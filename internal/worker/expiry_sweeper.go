package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/internal/metrics"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
	"github.com/1zbbxzak1/EventHubBot/internal/service"
	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
)

// WorkshopLister lists workshops to visit
type WorkshopLister interface {
	ListWorkshops(ctx context.Context, filter repository.WorkshopFilter) ([]*domain.Workshop, error)
}

// PendingExpirer resolves stale confirmation windows of one workshop
type PendingExpirer interface {
	ExpirePending(ctx context.Context, workshopID string) (*service.ExpiryResult, error)
}

// ExpirySweeperConfig contains configuration for the expiry sweeper
type ExpirySweeperConfig struct {
	// Interval is the time between sweeps
	Interval time.Duration
}

// DefaultExpirySweeperConfig returns default configuration
func DefaultExpirySweeperConfig() *ExpirySweeperConfig {
	return &ExpirySweeperConfig{
		Interval: 60 * time.Second,
	}
}

// ExpirySweeper periodically evicts registrations whose confirmation window
// closed and reopens rounds on workshops that still have free seats.
type ExpirySweeper struct {
	workshops WorkshopLister
	expirer   PendingExpirer
	metrics   *metrics.Metrics
	config    *ExpirySweeperConfig
	log       *logger.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool

	// Stats
	sweeps            int64
	totalExpired      int64
	totalOpened       int64
	lastSweepTime     time.Time
	lastSweepDuration time.Duration
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Workshops int
	Expired   int
	Opened    int
	Failed    int
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(workshops WorkshopLister, expirer PendingExpirer, m *metrics.Metrics, config *ExpirySweeperConfig) *ExpirySweeper {
	if config == nil {
		config = DefaultExpirySweeperConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultExpirySweeperConfig().Interval
	}

	return &ExpirySweeper{
		workshops: workshops,
		expirer:   expirer,
		metrics:   m,
		config:    config,
		log:       logger.Get().Named("expiry-sweeper"),
		stopCh:    make(chan struct{}),
	}
}

// Start starts the sweeper
func (w *ExpirySweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry sweeper already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting expiry sweeper", zap.Duration("interval", w.config.Interval))

	w.wg.Add(1)
	go w.run(ctx)

	return nil
}

// Stop stops the sweeper and waits for an in-flight sweep
func (w *ExpirySweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping expiry sweeper")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Expiry sweeper stopped")
}

func (w *ExpirySweeper) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep visits every active workshop once. A failing workshop is logged and
// skipped so it cannot stall the others.
func (w *ExpirySweeper) Sweep(ctx context.Context) *SweepResult {
	started := time.Now()
	result := &SweepResult{}
	defer func() {
		elapsed := time.Since(started)
		w.metrics.ObserveSweep(elapsed)

		w.mu.Lock()
		w.sweeps++
		w.totalExpired += int64(result.Expired)
		w.totalOpened += int64(result.Opened)
		w.lastSweepTime = started
		w.lastSweepDuration = elapsed
		w.mu.Unlock()
	}()

	workshops, err := w.workshops.ListWorkshops(ctx, repository.WorkshopFilter{ActiveOnly: true})
	if err != nil {
		w.log.Error("Failed to list active workshops", zap.Error(err))
		result.Failed++
		return result
	}

	for _, ws := range workshops {
		if ctx.Err() != nil {
			return result
		}
		result.Workshops++

		res, err := w.expirer.ExpirePending(ctx, ws.ID)
		if errors.Is(err, domain.ErrWorkshopNotFound) {
			// deleted after listing
			continue
		}
		if err != nil {
			result.Failed++
			w.log.Error("Failed to expire confirmation windows",
				zap.String("workshop_id", ws.ID),
				zap.Error(err),
			)
			continue
		}
		result.Expired += res.Expired
		result.Opened += res.Opened
	}

	if result.Expired > 0 || result.Opened > 0 {
		w.log.Info("Sweep finished",
			zap.Int("workshops", result.Workshops),
			zap.Int("expired", result.Expired),
			zap.Int("opened", result.Opened),
		)
	}
	return result
}

// GetStats returns worker statistics
func (w *ExpirySweeper) GetStats() *ExpirySweeperStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ExpirySweeperStats{
		IsRunning:         w.running,
		Sweeps:            w.sweeps,
		TotalExpired:      w.totalExpired,
		TotalOpened:       w.totalOpened,
		LastSweepTime:     w.lastSweepTime,
		LastSweepDuration: w.lastSweepDuration,
	}
}

// ExpirySweeperStats contains worker statistics
type ExpirySweeperStats struct {
	IsRunning         bool          `json:"is_running"`
	Sweeps            int64         `json:"sweeps"`
	TotalExpired      int64         `json:"total_expired"`
	TotalOpened       int64         `json:"total_opened"`
	LastSweepTime     time.Time     `json:"last_sweep_time"`
	LastSweepDuration time.Duration `json:"last_sweep_duration"`
}
