package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/secbot-io/secbot/common/broker"
	"github.com/secbot-io/secbot/common/config"
	"github.com/secbot-io/secbot/common/db"
	"github.com/secbot-io/secbot/common/logger"
	"github.com/secbot-io/secbot/common/metrics"
	"github.com/secbot-io/secbot/common/registry"
	"github.com/secbot-io/secbot/common/repository"
	"github.com/secbot-io/secbot/common/workflow"
)

// Runtime holds every process-wide component, constructed once at start
// and threaded as an explicit dependency.
type Runtime struct {
	Config   *config.Config
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
	DB       *db.DB
	Redis    *redis.Client
	Broker   *broker.Broker
	Workflow *workflow.Config

	Checks        *repository.CheckRepository
	Scans         *repository.ScanRepository
	Notifications *repository.NotificationRepository

	cleanupFuncs []func() error
}

// Setup initializes all service components. This is the entry point for
// every binary.
func Setup(ctx context.Context, serviceName string) (*Runtime, error) {
	rt := &Runtime{}

	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rt.Config = cfg

	rt.Logger = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	rt.Logger.Info("initializing service",
		"service", serviceName,
		"environment", cfg.Service.Environment)

	rt.Metrics = metrics.New(serviceName)

	rt.Workflow, err = workflow.LoadFile(cfg.Workflow.Path)
	if err != nil {
		return nil, fmt.Errorf("load workflow config: %w", err)
	}

	rt.DB, err = db.New(ctx, cfg, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	rt.addCleanup(func() error {
		rt.DB.Close()
		return nil
	})

	if err := rt.DB.EnsureSchema(ctx); err != nil {
		rt.Shutdown()
		return nil, err
	}

	rt.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Broker.Addr,
		Password: cfg.Broker.Password,
		DB:       cfg.Broker.DB,
	})
	if err := rt.Redis.Ping(ctx).Err(); err != nil {
		rt.Shutdown()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	rt.addCleanup(func() error {
		return rt.Redis.Close()
	})

	rt.Broker = broker.New(rt.Redis, cfg, rt.Logger)

	rt.Checks = repository.NewCheckRepository(rt.DB)
	rt.Scans = repository.NewScanRepository(rt.DB)
	rt.Notifications = repository.NewNotificationRepository(rt.DB)

	rt.Logger.Info("service initialization complete", "service", serviceName)
	return rt, nil
}

// HandlerDeps assembles the dependency set injected into handler factories
func (rt *Runtime) HandlerDeps() registry.Deps {
	return registry.Deps{
		Log:           rt.Logger,
		Cfg:           rt.Config,
		Metrics:       rt.Metrics,
		Checks:        rt.Checks,
		Scans:         rt.Scans,
		Notifications: rt.Notifications,
	}
}

// Shutdown releases all components in reverse initialization order
func (rt *Runtime) Shutdown() {
	for i := len(rt.cleanupFuncs) - 1; i >= 0; i-- {
		if err := rt.cleanupFuncs[i](); err != nil && rt.Logger != nil {
			rt.Logger.Error("cleanup failed", "error", err)
		}
	}
	rt.cleanupFuncs = nil
}

func (rt *Runtime) addCleanup(fn func() error) {
	rt.cleanupFuncs = append(rt.cleanupFuncs, fn)
}
