package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/xxxsen/mailshare/internal/pkg/sweeper"
	"github.com/xxxsen/mailshare/internal/pkg/timeutil"
)

type windowState struct {
	count       int
	resetAt     time.Time
	triggeredAt time.Time
}

// MemoryBackend keeps window state in process memory. Concurrent requests
// for the same key may race between read and increment; that is acceptable
// for a defense-in-depth limiter.
type MemoryBackend struct {
	mu      sync.Mutex
	states  map[string]*windowState
	now     timeutil.Clock
	sweeper *sweeper.Sweeper
}

type memoryOptions struct {
	sweepInterval time.Duration
	now           timeutil.Clock
}

type MemoryOption func(*memoryOptions)

func WithSweepInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) { o.sweepInterval = d }
}

func WithClock(now timeutil.Clock) MemoryOption {
	return func(o *memoryOptions) { o.now = now }
}

func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	o := &memoryOptions{sweepInterval: time.Minute}
	for _, opt := range opts {
		opt(o)
	}
	m := &MemoryBackend{
		states: make(map[string]*windowState),
		now:    timeutil.OrDefault(o.now),
	}
	m.sweeper = sweeper.New(o.sweepInterval, func() { m.sweepAt(m.now()) })
	return m
}

func (m *MemoryBackend) Name() string {
	return "memory"
}

func (m *MemoryBackend) Take(_ context.Context, key string, rule Rule, now time.Time) (Result, error) {
	m.sweeper.Start()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[key]
	if !ok || !now.Before(st.resetAt) {
		m.states[key] = &windowState{count: 1, resetAt: now.Add(rule.Window)}
		return Result{Allowed: true}, nil
	}
	if st.count < rule.Capacity {
		st.count++
		return Result{Allowed: true}, nil
	}
	if rule.AutoRecovery > 0 {
		if st.triggeredAt.IsZero() {
			st.triggeredAt = now
		}
		elapsed := now.Sub(st.triggeredAt)
		if elapsed >= rule.AutoRecovery {
			m.states[key] = &windowState{count: 1, resetAt: now.Add(rule.Window)}
			return Result{Allowed: true}, nil
		}
		return Result{Allowed: false, RetryAfter: ceilSeconds(rule.AutoRecovery - elapsed)}, nil
	}
	return Result{Allowed: false}, nil
}

// sweepAt drops states whose window has lapsed. The next Take on such a key
// would reset it anyway, so eviction never changes a decision.
func (m *MemoryBackend) sweepAt(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, st := range m.states {
		if !now.Before(st.resetAt) {
			delete(m.states, key)
			removed++
		}
	}
	return removed
}

func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

func (m *MemoryBackend) Close() {
	m.sweeper.Stop()
}
