package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/wabaflow"
	"github.com/aretw0/wabaflow/internal/config"
	"github.com/aretw0/wabaflow/internal/logging"
	"github.com/aretw0/wabaflow/internal/runtime"
	"github.com/aretw0/wabaflow/pkg/adapters/memory"
	"github.com/aretw0/wabaflow/pkg/adapters/postgres"
	"github.com/aretw0/wabaflow/pkg/adapters/redis"
	"github.com/aretw0/wabaflow/pkg/adapters/sqlite"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/observability"
	"github.com/aretw0/wabaflow/pkg/ports"
	"github.com/aretw0/wabaflow/pkg/runner"
	goredis "github.com/redis/go-redis/v9"
)

// memoryQueueCapacity bounds the in-process queue used when Redis is not configured.
const memoryQueueCapacity = 1024

// App holds everything a command needs, built once from the configuration.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   ports.Store
	Queue   ports.Queue
	Engine  *wabaflow.Engine
	Metrics *observability.Metrics

	redis goredis.UniversalClient
}

// NewLogger builds the application logger from the log section.
func NewLogger(cfg *config.Config) *slog.Logger {
	return logging.NewWithFormat(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
}

// OpenStore opens the backend selected by database.driver.
func OpenStore(ctx context.Context, cfg *config.Config) (ports.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		return memory.NewStore(), nil
	case config.DriverSQLite:
		return sqlite.Open(cfg.Database.DSN)
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidDriver, cfg.Database.Driver)
	}
}

// NewApp wires store, queue, locker, metrics and engine.
// With Redis configured, locks and the inbound queue are shared between replicas.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Store = store

	dangling, err := runtime.ParseDanglingPolicy(cfg.Engine.DanglingPolicy)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	question, err := runtime.ParseQuestionPolicy(cfg.Engine.QuestionPolicy)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	opts := []wabaflow.Option{
		wabaflow.WithName(cfg.Service.Name),
		wabaflow.WithLogger(logger),
		wabaflow.WithMaxSteps(cfg.Engine.MaxSteps),
		wabaflow.WithDanglingPolicy(dangling),
		wabaflow.WithQuestionPolicy(question),
		wabaflow.WithLifecycleHooks(domain.ComposeHooks(
			app.Metrics.Hooks(),
			observability.LoggingHooks(logger),
		)),
	}

	if cfg.RedisEnabled() {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = app.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		app.redis = client
		opts = append(opts, wabaflow.WithLocker(redis.NewLocker(client, cfg.Redis.Prefix), cfg.Engine.LockTTL))
		app.Queue = redis.NewQueue(client, cfg.Redis.Prefix, redis.WithPollInterval(cfg.Worker.PollInterval))
	} else {
		app.Queue = memory.NewQueue(memoryQueueCapacity)
	}

	engine, err := wabaflow.New(store, opts...)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Engine = engine

	logger.Debug("App initialized",
		"driver", cfg.Database.Driver,
		"redis", cfg.RedisEnabled(),
		"max_steps", cfg.Engine.MaxSteps,
	)
	return app, nil
}

// NewWorker builds a queue consumer for the app's engine.
// Deliveries left pending by a crashed worker are put back first.
func (a *App) NewWorker(ctx context.Context) (*runner.Worker, error) {
	if rq, ok := a.Queue.(*redis.Queue); ok {
		n, err := rq.Recover(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to recover pending deliveries: %w", err)
		}
		if n > 0 {
			a.Logger.Info("Recovered pending deliveries", "count", n)
		}
	}

	return runner.NewWorker(a.Queue, a.Engine,
		runner.WithConcurrency(a.Config.Worker.Concurrency),
		runner.WithMaxAttempts(a.Config.Worker.MaxAttempts),
		runner.WithRetryBackoff(a.Config.Worker.RetryBackoff),
		runner.WithMaxInputSize(a.Config.Input.MaxSize),
		runner.WithObserver(a.Metrics),
		runner.WithLogger(a.Logger),
	), nil
}

// Close releases the store and the Redis client.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
