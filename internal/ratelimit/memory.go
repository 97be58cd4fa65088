package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type windowEntry struct {
	consumed  int
	expiresAt time.Time
}

// MemoryWindow keeps counters in process memory. Counters are not shared
// between processes.
type MemoryWindow struct {
	points   int
	duration time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*windowEntry
}

// NewMemoryWindow creates an in-memory window. A nil clock uses time.Now.
func NewMemoryWindow(points int, duration time.Duration, clock func() time.Time) (*MemoryWindow, error) {
	if points < 1 {
		return nil, fmt.Errorf("points must be at least 1, got %d", points)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", duration)
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryWindow{
		points:   points,
		duration: duration,
		now:      clock,
		entries:  make(map[string]*windowEntry),
	}, nil
}

// live returns the key's entry if its window has not closed. Caller holds mu.
func (m *MemoryWindow) live(key string, now time.Time) *windowEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !now.Before(e.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *MemoryWindow) Consume(_ context.Context, key string, n int) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.live(key, now)
	if e == nil {
		e = &windowEntry{expiresAt: now.Add(m.duration)}
		m.entries[key] = e
	}
	e.consumed += n

	return newResult(m.points, e.consumed, e.expiresAt.Sub(now)), nil
}

func (m *MemoryWindow) Reward(_ context.Context, key string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key, m.now())
	if e == nil {
		return nil
	}
	e.consumed -= n
	if e.consumed < 0 {
		e.consumed = 0
	}
	return nil
}

func (m *MemoryWindow) Get(_ context.Context, key string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.live(key, now)
	if e == nil {
		return nil, nil
	}
	res := newResult(m.points, e.consumed, e.expiresAt.Sub(now))
	return &res, nil
}

func (m *MemoryWindow) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Sweep drops every entry whose window closed before now and returns how many were removed.
func (m *MemoryWindow) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys, including ones not yet swept.
func (m *MemoryWindow) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// MemoryFactory builds MemoryWindows and remembers the latest one per name so
// they can be swept together.
type MemoryFactory struct {
	clock func() time.Time

	mu      sync.Mutex
	windows map[string]*MemoryWindow
}

func NewMemoryFactory(clock func() time.Time) *MemoryFactory {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryFactory{
		clock:   clock,
		windows: make(map[string]*MemoryWindow),
	}
}

// New satisfies WindowFactory. A window built under an existing name replaces
// the previous one.
func (f *MemoryFactory) New(name string, points int, duration time.Duration) (Window, error) {
	w, err := NewMemoryWindow(points, duration, f.clock)
	if err != nil {
		return nil, fmt.Errorf("window %s: %w", name, err)
	}

	f.mu.Lock()
	f.windows[name] = w
	f.mu.Unlock()
	return w, nil
}

// Sweep purges expired entries from every current window.
func (f *MemoryFactory) Sweep(now time.Time) int {
	f.mu.Lock()
	windows := make([]*MemoryWindow, 0, len(f.windows))
	for _, w := range f.windows {
		windows = append(windows, w)
	}
	f.mu.Unlock()

	removed := 0
	for _, w := range windows {
		removed += w.Sweep(now)
	}
	return removed
}
