package sweeper

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSweeperStartIsIdempotent(t *testing.T) {
	var calls atomic.Int64
	s := New(5*time.Millisecond, func() { calls.Add(1) })
	defer s.Stop()

	for i := 0; i < 10; i++ {
		s.Start()
	}
	require.True(t, s.Started())
	require.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)
}

func TestSweeperDisabledInterval(t *testing.T) {
	s := New(0, func() {})
	s.Start()
	require.False(t, s.Started())
	s.Stop()
	s.Stop()
}

func TestSweeperStopHaltsLoop(t *testing.T) {
	var calls atomic.Int64
	s := New(2*time.Millisecond, func() { calls.Add(1) })
	s.Start()
	require.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)
	s.Stop()
	time.Sleep(10 * time.Millisecond)
	seen := calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, seen, calls.Load())
}
