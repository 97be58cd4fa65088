// Package locks serializes critical sections such as first-time setup.
// LocalLocker covers a single process; RedsyncLocker extends the guarantee to
// every instance sharing one Redis.
package locks

import (
	"context"
	"sync"
	"time"

	"admin-starter/internal/common/errors"
)

// DefaultExpiry bounds how long a distributed lock outlives a crashed holder
const DefaultExpiry = 30 * time.Second

// Lock is a held lock. Release must be called exactly once.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive locks by key. Acquire blocks until the lock is
// held or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lock, error)
}

// LocalLocker is an in-process Locker
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return &localLock{ch: ch}, nil
	case <-ctx.Done():
		return nil, errors.InternalError("failed to acquire lock "+key, ctx.Err())
	}
}

type localLock struct {
	once sync.Once
	ch   chan struct{}
}

func (l *localLock) Release(context.Context) error {
	l.once.Do(func() { <-l.ch })
	return nil
}
