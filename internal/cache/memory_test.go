package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestMemory(clock *fakeClock, opts ...MemoryOption) *MemoryBackend {
	opts = append([]MemoryOption{WithClock(clock.Now), WithSweepInterval(0)}, opts...)
	return NewMemoryBackend(opts...)
}

func TestMemoryBackendExpiresOnRead(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := newTestMemory(clock)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Second))
	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)

	clock.Advance(10 * time.Second)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, m.Len())
}

func TestMemoryBackendZeroTTLDoesNotExpire(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := newTestMemory(clock)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	clock.Advance(365 * 24 * time.Hour)
	_, ok, _ := m.Get(ctx, "k")
	require.True(t, ok)
}

func TestMemoryBackendSweepRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := newTestMemory(clock)

	require.NoError(t, m.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, m.Set(ctx, "long", []byte("2"), time.Hour))
	clock.Advance(2 * time.Second)

	require.Equal(t, 1, m.sweepAt(clock.Now()))
	require.Equal(t, 1, m.Len())
	_, ok, _ := m.Get(ctx, "long")
	require.True(t, ok)
}

func TestMemoryBackendReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(&fakeClock{now: time.Unix(1, 0)})

	src := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", src, time.Minute))
	src[0] = 'x'
	v, _, _ := m.Get(ctx, "k")
	require.Equal(t, "abc", string(v))
	v[1] = 'y'
	again, _, _ := m.Get(ctx, "k")
	require.Equal(t, "abc", string(again))
}

func TestMemoryBackendDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(&fakeClock{now: time.Unix(1, 0)})
	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Minute))

	require.NoError(t, m.Delete(ctx, "a"))
	_, ok, _ := m.Get(ctx, "a")
	require.False(t, ok)

	require.NoError(t, m.Clear(ctx))
	require.Equal(t, 0, m.Len())
}

func TestMemoryBackendBoundedSize(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(&fakeClock{now: time.Unix(1, 0)}, WithMemorySize(2))
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, m.Set(ctx, k, []byte(k), time.Minute))
	}
	require.Equal(t, 2, m.Len())
	_, ok, _ := m.Get(ctx, "a")
	require.False(t, ok)
}

func TestMemoryBackendSweeperStartsLazilyOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(WithSweepInterval(time.Hour))
	defer m.Close()

	require.False(t, m.SweeperStarted())
	for i := 0; i < 5; i++ {
		_, _, _ = m.Get(ctx, "missing")
	}
	require.True(t, m.SweeperStarted())
}
