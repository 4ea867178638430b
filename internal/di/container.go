package di

import (
	"github.com/1zbbxzak1/EventHubBot/internal/handler"
	"github.com/1zbbxzak1/EventHubBot/internal/lock"
	"github.com/1zbbxzak1/EventHubBot/internal/metrics"
	"github.com/1zbbxzak1/EventHubBot/internal/notifier"
	"github.com/1zbbxzak1/EventHubBot/internal/repository"
	"github.com/1zbbxzak1/EventHubBot/internal/service"
	"github.com/1zbbxzak1/EventHubBot/internal/worker"
	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
)

// Container holds all dependencies for the workshop service
type Container struct {
	// Infrastructure
	Store    repository.Store
	Locker   lock.Locker
	Notifier notifier.Notifier
	Metrics  *metrics.Metrics

	// Services
	Engine          service.WaitlistEngine
	WorkshopService service.WorkshopService

	// Workers
	ExpirySweeper  *worker.ExpirySweeper
	ReminderWorker *worker.ReminderWorker

	// Handlers
	HealthHandler   *handler.HealthHandler
	WorkshopHandler *handler.WorkshopHandler
	AdminHandler    *handler.AdminHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	ServiceName string
	Store       repository.Store
	Locker      lock.Locker
	Notifier    notifier.Notifier
	Metrics     *metrics.Metrics
	Logger      *logger.Logger

	// ReminderLedger enables the reminder worker when set
	ReminderLedger worker.ReminderLedger

	// Pingers are checked by /ready in addition to the store
	Pingers map[string]handler.Pinger

	EngineConfig   *service.EngineConfig
	SweeperConfig  *worker.ExpirySweeperConfig
	ReminderConfig *worker.ReminderWorkerConfig
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		Store:    cfg.Store,
		Locker:   cfg.Locker,
		Notifier: cfg.Notifier,
		Metrics:  cfg.Metrics,
	}

	deps := service.Dependencies{
		Store:    c.Store,
		Locker:   c.Locker,
		Notifier: c.Notifier,
		Metrics:  c.Metrics,
		Logger:   cfg.Logger,
	}

	// Initialize services
	c.Engine = service.NewWaitlistEngine(deps, cfg.EngineConfig)
	c.WorkshopService = service.NewWorkshopService(deps, cfg.EngineConfig)

	// Initialize workers
	c.ExpirySweeper = worker.NewExpirySweeper(c.Store, c.Engine, c.Metrics, cfg.SweeperConfig)
	if cfg.ReminderLedger != nil {
		c.ReminderWorker = worker.NewReminderWorker(c.Store, c.Notifier, cfg.ReminderLedger, c.Metrics, cfg.ReminderConfig)
	}

	// Initialize handlers
	pingers := map[string]handler.Pinger{"store": c.Store}
	for name, p := range cfg.Pingers {
		pingers[name] = p
	}
	c.HealthHandler = handler.NewHealthHandler(cfg.ServiceName, pingers)
	c.WorkshopHandler = handler.NewWorkshopHandler(c.WorkshopService, c.Engine)
	c.AdminHandler = handler.NewAdminHandler(c.WorkshopService, c.Engine)

	return c
}
