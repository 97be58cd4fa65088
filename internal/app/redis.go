package app

import (
	"context"
	"fmt"

	"admin-starter/internal/common/logging"
	"admin-starter/internal/common/utils"
	"admin-starter/internal/config"
	"admin-starter/internal/locks"
	"admin-starter/internal/redis"
)

// initializeRedis dials Redis only when it backs the rate limit windows. The
// same connection then carries the setup lock so that instances sharing the
// budget also share first-time setup.
func (app *App) initializeRedis(ctx context.Context) error {
	if app.Config.RateLimitBackend != config.BackendRedis {
		app.Locker = locks.NewLocalLocker()
		app.Logger.Info("Redis: Not used (rate limit windows kept in memory)")
		return nil
	}

	var redisClient *redis.Client
	err := utils.RetryWithBackoff(ctx, utils.StartupRetryConfig(app.Config.StartupAttempts), func() (err error) {
		redisClient, err = redis.NewClient(&redis.Config{
			Address:   app.Config.RedisAddress,
			Password:  app.Config.RedisPassword,
			DB:        app.Config.RedisDB,
			PoolSize:  app.Config.RedisPoolSize,
			KeyPrefix: "admin-starter",
		})
		if err != nil {
			app.Logger.Warn("Redis not ready", logging.Err(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))

	locker, err := locks.NewRedsyncLocker(redisClient, locks.DefaultExpiry)
	if err != nil {
		return fmt.Errorf("failed to create distributed locker: %w", err)
	}
	app.Locker = locker
	return nil
}
