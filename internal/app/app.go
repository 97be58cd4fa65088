package app

import (
	"context"

	"github.com/robfig/cron/v3"

	"admin-starter/internal/auth"
	"admin-starter/internal/common/logging"
	"admin-starter/internal/config"
	"admin-starter/internal/locks"
	"admin-starter/internal/metrics"
	"admin-starter/internal/ratelimit"
	"admin-starter/internal/redis"
	"admin-starter/internal/settings"
	"admin-starter/internal/storage"
	"admin-starter/internal/users"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Storage     storage.Storage
	Settings    *settings.Service
	Users       *users.Service
	RateLimiter *ratelimit.Service
	Auth        *auth.Auth
	Metrics     *metrics.Metrics
	RedisClient *redis.Client
	Locker      locks.Locker
	Scheduler   *cron.Cron
	Logger      logging.Logger

	// set when windows live in process memory and need sweeping
	memoryWindows *ratelimit.MemoryFactory
}

// New creates a new application instance with all dependencies. Settings are
// loaded before the rate limiter, which reads its budgets from them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config:  cfg,
		Logger:  logging.Component("app"),
		Metrics: metrics.New(),
	}

	if err := app.initializeStorage(ctx); err != nil {
		return nil, err
	}

	if err := app.initializeSettings(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeRedis(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeRateLimiter(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.Users = users.NewService(app.Storage)
	app.Auth.UseAccounts(app.Users)

	if err := app.initializeScheduler(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.Logger.Info("All services initialized successfully")
	return app, nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Scheduler != nil {
		<-app.Scheduler.Stop().Done()
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Err(err))
		}
	}
	if app.Storage != nil {
		if err := app.Storage.Close(); err != nil {
			app.Logger.Warn("Error closing storage", logging.Err(err))
		}
	}
}
