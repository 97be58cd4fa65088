package utils

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"admin-starter/internal/common/errors"
)

// RetryConfig holds configuration for retry operations with exponential backoff.
type RetryConfig struct {
	// MaxAttempts counts the initial attempt
	MaxAttempts int

	InitialDelay time.Duration

	// MaxDelay caps the exponential growth
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay after each failure
	BackoffFactor float64

	// JitterFactor adds up to this fraction of the delay at random (0.1 = 10%)
	JitterFactor float64

	// RetryableErrors decides whether an error is worth another attempt.
	// If nil, all errors are retried.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig retries everything three times, starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
		RetryableErrors: func(err error) bool {
			return true
		},
	}
}

// StartupRetryConfig is used while dialing dependencies at boot. Configuration
// errors fail immediately since waiting cannot fix them.
func StartupRetryConfig(attempts int) RetryConfig {
	config := DefaultRetryConfig()
	config.MaxAttempts = attempts
	config.RetryableErrors = func(err error) bool {
		return !errors.IsType(err, errors.ErrTypeConfig)
	}
	return config
}

// RetryWithBackoff calls fn until it succeeds, returns a non-retryable error,
// runs out of attempts, or ctx is done.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		wait := delay
		if config.JitterFactor > 0 && delay > 0 {
			wait += time.Duration(rand.Int64N(int64(float64(delay)*config.JitterFactor) + 1))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	if config.MaxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
