// Package sweeper runs a periodic eviction function in the background.
// A Sweeper starts at most once, however many times Start is called.
package sweeper

import (
	"sync"
	"sync/atomic"
	"time"
)

type Sweeper struct {
	interval time.Duration
	fn       func()

	once     sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	started  atomic.Bool
}

// New returns a sweeper calling fn every interval. A non-positive interval
// yields a sweeper whose Start is a no-op.
func New(interval time.Duration, fn func()) *Sweeper {
	return &Sweeper{
		interval: interval,
		fn:       fn,
		stop:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	if s == nil || s.interval <= 0 || s.fn == nil {
		return
	}
	s.once.Do(func() {
		s.started.Store(true)
		go s.loop()
	})
}

func (s *Sweeper) Started() bool {
	if s == nil {
		return false
	}
	return s.started.Load()
}

func (s *Sweeper) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *Sweeper) loop() {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.fn()
		}
	}
}
