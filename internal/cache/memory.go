package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xxxsen/mailshare/internal/pkg/sweeper"
	"github.com/xxxsen/mailshare/internal/pkg/timeutil"
)

const (
	defaultMemorySize  = 10000
	defaultSweepPeriod = 60 * time.Second
)

type memoryEntry struct {
	value    []byte
	expireAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// MemoryBackend keeps entries in a bounded LRU. Its state is best-effort: it
// is lost on restart and is never shared between processes.
type MemoryBackend struct {
	entries *lru.Cache[string, memoryEntry]
	now     timeutil.Clock
	sweeper *sweeper.Sweeper
}

type memoryOptions struct {
	size          int
	sweepInterval time.Duration
	now           timeutil.Clock
}

type MemoryOption func(*memoryOptions)

func WithMemorySize(size int) MemoryOption {
	return func(o *memoryOptions) { o.size = size }
}

// WithSweepInterval sets the background eviction period; zero disables it.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) { o.sweepInterval = d }
}

func WithClock(now timeutil.Clock) MemoryOption {
	return func(o *memoryOptions) { o.now = now }
}

func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	o := &memoryOptions{size: defaultMemorySize, sweepInterval: defaultSweepPeriod}
	for _, opt := range opts {
		opt(o)
	}
	if o.size <= 0 {
		o.size = defaultMemorySize
	}
	entries, _ := lru.New[string, memoryEntry](o.size)
	m := &MemoryBackend{
		entries: entries,
		now:     timeutil.OrDefault(o.now),
	}
	m.sweeper = sweeper.New(o.sweepInterval, m.Sweep)
	return m
}

func (m *MemoryBackend) Name() string {
	return "memory"
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.sweeper.Start()
	entry, ok := m.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	// the sweep is periodic, so expiry is checked again on read
	if entry.expired(m.now()) {
		m.entries.Remove(key)
		return nil, false, nil
	}
	return cloneBytes(entry.value), true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.sweeper.Start()
	entry := memoryEntry{value: cloneBytes(value)}
	if ttl > 0 {
		entry.expireAt = m.now().Add(ttl)
	}
	m.entries.Add(key, entry)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.entries.Remove(key)
	return nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.entries.Purge()
	return nil
}

// Sweep evicts every expired entry.
func (m *MemoryBackend) Sweep() {
	m.sweepAt(m.now())
}

func (m *MemoryBackend) sweepAt(now time.Time) int {
	removed := 0
	for _, key := range m.entries.Keys() {
		entry, ok := m.entries.Peek(key)
		if ok && entry.expired(now) {
			m.entries.Remove(key)
			removed++
		}
	}
	return removed
}

func (m *MemoryBackend) Len() int {
	return m.entries.Len()
}

func (m *MemoryBackend) SweeperStarted() bool {
	return m.sweeper.Started()
}

func (m *MemoryBackend) Close() {
	m.sweeper.Stop()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
