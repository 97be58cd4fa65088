package ratelimit

import (
	"context"
	"fmt"
	"time"

	"admin-starter/internal/circuitbreaker"
	"admin-starter/internal/redis"
)

// RedisWindow keeps counters in Redis so every process shares one budget.
type RedisWindow struct {
	client   *redis.Client
	name     string
	points   int
	duration time.Duration
	breaker  *circuitbreaker.Breaker
}

func NewRedisWindow(client *redis.Client, name string, points int, duration time.Duration) (*RedisWindow, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if points < 1 {
		return nil, fmt.Errorf("points must be at least 1, got %d", points)
	}
	if duration < time.Millisecond {
		return nil, fmt.Errorf("duration must be at least 1ms, got %s", duration)
	}
	return &RedisWindow{client: client, name: name, points: points, duration: duration}, nil
}

// NewRedisFactory returns a WindowFactory producing RedisWindows on client.
// Windows built by one factory share breaker, which may be nil.
func NewRedisFactory(client *redis.Client, breaker *circuitbreaker.Breaker) WindowFactory {
	return func(name string, points int, duration time.Duration) (Window, error) {
		w, err := NewRedisWindow(client, name, points, duration)
		if err != nil {
			return nil, err
		}
		w.breaker = breaker
		return w, nil
	}
}

func (w *RedisWindow) call(fn func() error) error {
	if w.breaker == nil {
		return fn()
	}
	return w.breaker.Execute(fn)
}

func (w *RedisWindow) key(key string) string {
	return w.client.Key("ratelimit", w.name, key)
}

func (w *RedisWindow) Consume(ctx context.Context, key string, n int) (Result, error) {
	var state *redis.WindowState
	err := w.call(func() (err error) {
		state, err = w.client.IncrWindow(ctx, w.key(key), n, w.duration)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return newResult(w.points, int(state.Count), state.TTL), nil
}

func (w *RedisWindow) Reward(ctx context.Context, key string, n int) error {
	return w.call(func() error {
		_, err := w.client.DecrWindow(ctx, w.key(key), n)
		return err
	})
}

func (w *RedisWindow) Get(ctx context.Context, key string) (*Result, error) {
	var state *redis.WindowState
	err := w.call(func() (err error) {
		state, err = w.client.GetWindow(ctx, w.key(key))
		return err
	})
	if err != nil || state == nil {
		return nil, err
	}
	res := newResult(w.points, int(state.Count), state.TTL)
	return &res, nil
}

func (w *RedisWindow) Delete(ctx context.Context, key string) error {
	return w.call(func() error {
		return w.client.Delete(ctx, w.key(key))
	})
}
