package locks

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"admin-starter/internal/common/errors"
	"admin-starter/internal/redis"
)

// RedsyncLocker implements Locker with the Redlock algorithm over a single
// Redis, so instances behind a load balancer exclude each other.
type RedsyncLocker struct {
	rs     *redsync.Redsync
	client *redis.Client
	expiry time.Duration
}

func NewRedsyncLocker(client *redis.Client, expiry time.Duration) (*RedsyncLocker, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	pool := goredis.NewPool(client.GoRedis())
	return &RedsyncLocker{
		rs:     redsync.New(pool),
		client: client,
		expiry: expiry,
	}, nil
}

func (l *RedsyncLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	mutex := l.rs.NewMutex(
		l.client.Key("lock", key),
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(64),
		redsync.WithRetryDelay(100*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.ConnectionError("failed to acquire lock "+key, err)
	}
	return &redsyncLock{mutex: mutex}, nil
}

type redsyncLock struct {
	mutex *redsync.Mutex
}

func (l *redsyncLock) Release(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return errors.ConnectionError("failed to release lock "+l.mutex.Name(), err)
	}
	if !ok {
		return errors.InternalError("lock "+l.mutex.Name()+" expired before release", nil)
	}
	return nil
}
