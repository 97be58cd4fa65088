package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrWindowScript adds points to a fixed window counter. The expiry is only
// set when the counter is created, so the window does not slide under load.
var incrWindowScript = redis.NewScript(`
local count = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {count, ttl}
`)

// decrWindowScript returns points to a live counter without touching its
// expiry and without going below zero. Missing keys are left alone.
var decrWindowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local count = redis.call('DECRBY', KEYS[1], ARGV[1])
if count < 0 then
  redis.call('INCRBY', KEYS[1], -count)
  count = 0
end
return count
`)

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	PoolSize  int    `json:"pool_size"`
	KeyPrefix string `json:"key_prefix"`
}

// WindowState is a snapshot of a window counter
type WindowState struct {
	Count int64
	TTL   time.Duration
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Key applies the configured prefix
func (c *Client) Key(parts ...string) string {
	key := c.config.KeyPrefix
	for i, p := range parts {
		if i > 0 || key != "" {
			key += ":"
		}
		key += p
	}
	return key
}

// IncrWindow adds n points to the counter at key, opening a window of the
// given length if none is live. It returns the new count and the time left
// in the window.
func (c *Client) IncrWindow(ctx context.Context, key string, n int, window time.Duration) (*WindowState, error) {
	res, err := incrWindowScript.Run(ctx, c.rdb, []string{key}, n, window.Milliseconds()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to increment window %s: %w", key, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return nil, fmt.Errorf("unexpected window reply for %s: %v", key, res)
	}
	count, _ := vals[0].(int64)
	ttl, _ := vals[1].(int64)

	return &WindowState{Count: count, TTL: time.Duration(ttl) * time.Millisecond}, nil
}

// DecrWindow returns n points to a live counter, never going below zero
func (c *Client) DecrWindow(ctx context.Context, key string, n int) (int64, error) {
	count, err := decrWindowScript.Run(ctx, c.rdb, []string{key}, n).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement window %s: %w", key, err)
	}
	return count, nil
}

// GetWindow reads a counter without changing it. It returns nil when the key
// has no live window.
func (c *Client) GetWindow(ctx context.Context, key string) (*WindowState, error) {
	pipe := c.rdb.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read window %s: %w", key, err)
	}

	count, err := getCmd.Int64()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse window %s: %w", key, err)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return &WindowState{Count: count, TTL: ttl}, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// GoRedis exposes the underlying go-redis client for libraries that build
// on it directly.
func (c *Client) GoRedis() *redis.Client {
	return c.rdb
}
