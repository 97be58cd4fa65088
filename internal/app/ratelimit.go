package app

import (
	"context"
	"fmt"
	"time"

	"admin-starter/internal/circuitbreaker"
	"admin-starter/internal/common/logging"
	"admin-starter/internal/ratelimit"
)

func (app *App) windowFactory() ratelimit.WindowFactory {
	if app.RedisClient != nil {
		breaker := circuitbreaker.New("redis-ratelimit", circuitbreaker.DefaultConfig(),
			logging.Component("circuitbreaker"))
		return ratelimit.NewRedisFactory(app.RedisClient, breaker)
	}
	app.memoryWindows = ratelimit.NewMemoryFactory(time.Now)
	return app.memoryWindows.New
}

func (app *App) initializeRateLimiter(ctx context.Context) error {
	app.Logger.Info("Step 2: Initializing rate limiting service...")

	app.RateLimiter = ratelimit.NewService(app.Settings, app.windowFactory(),
		ratelimit.WithRecorder(app.Metrics))

	if err := app.RateLimiter.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	app.Logger.Info("Rate limiting service initialized",
		logging.String("backend", app.Config.RateLimitBackend))
	return nil
}
