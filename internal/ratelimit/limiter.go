// Package ratelimit enforces the per-user, per-fingerprint and global request
// budgets configured through the persisted settings.
//
// Budgets are fixed windows of one minute. A Service owns up to three Windows
// built by a WindowFactory; any Window left nil means that budget is disabled.
// Exceeding a budget is reported as a denied Decision, never as an error.
package ratelimit

import (
	"context"
	"time"
)

// DefaultDuration is the window length of every budget
const DefaultDuration = 60 * time.Second

// fallbackMsBeforeNext is reported when a denial carries no timing
const fallbackMsBeforeNext int64 = 60000

// Result is the state of one key within a Window
type Result struct {
	Allowed         bool  `json:"allowed"`
	ConsumedPoints  int   `json:"consumedPoints"`
	RemainingPoints int   `json:"remainingPoints"`
	MsBeforeNext    int64 `json:"msBeforeNext"`
}

// Window is a fixed-window point budget keyed by an arbitrary string.
type Window interface {
	// Consume takes n points from key. Running out of points yields a
	// Result with Allowed false; errors are reserved for backend failures.
	Consume(ctx context.Context, key string, n int) (Result, error)
	// Reward gives n points back to key. The consumed count never drops below zero.
	Reward(ctx context.Context, key string, n int) error
	// Get returns the key's state without consuming, or nil if it has no live window.
	Get(ctx context.Context, key string) (*Result, error)
	// Delete clears the key's counter.
	Delete(ctx context.Context, key string) error
}

// WindowFactory builds a Window allowing points per duration. The name
// identifies the budget and namespaces its keys.
type WindowFactory func(name string, points int, duration time.Duration) (Window, error)

func newResult(points, consumed int, left time.Duration) Result {
	remaining := points - consumed
	if remaining < 0 {
		remaining = 0
	}
	if left < 0 {
		left = 0
	}
	return Result{
		Allowed:         consumed <= points,
		ConsumedPoints:  consumed,
		RemainingPoints: remaining,
		MsBeforeNext:    left.Milliseconds(),
	}
}
