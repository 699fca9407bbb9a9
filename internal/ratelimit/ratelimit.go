// Package ratelimit implements the gateway's fixed-window limiter with
// optional auto-recovery. The Limiter facade fails open: a broken backend is
// logged and the request is allowed.
package ratelimit

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mailshare/internal/metrics"
	"github.com/xxxsen/mailshare/internal/pkg/timeutil"
)

const (
	ScopeStrict = "strict"
	ScopeLink   = "link"
)

// Rule configures one limiter tier. A nil rule, or one with no capacity, is
// disabled.
type Rule struct {
	Scope        string
	Capacity     int
	Window       time.Duration
	AutoRecovery time.Duration
}

func (r *Rule) Enabled() bool {
	return r != nil && r.Capacity > 0 && r.Window > 0
}

type Result struct {
	Allowed bool
	// RetryAfter is the auto-recovery countdown in seconds, zero when the
	// caller has to wait for the natural window reset.
	RetryAfter int
}

type Backend interface {
	Name() string
	Take(ctx context.Context, key string, rule Rule, now time.Time) (Result, error)
}

func Key(scope, linkScope, identity string) string {
	return strings.Join([]string{scope, linkScope, identity}, ":")
}

type Limiter struct {
	backend Backend
	now     timeutil.Clock
}

type LimiterOption func(*Limiter)

func WithLimiterClock(now timeutil.Clock) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

func NewLimiter(backend Backend, opts ...LimiterOption) *Limiter {
	l := &Limiter{backend: backend}
	for _, opt := range opts {
		opt(l)
	}
	l.now = timeutil.OrDefault(l.now)
	return l
}

// New probes rdb once and picks the Redis backend when it answers, the
// in-process backend otherwise.
func New(ctx context.Context, rdb redis.UniversalClient, prefix string, memOpts ...MemoryOption) *Limiter {
	if rdb != nil {
		err := rdb.Ping(ctx).Err()
		if err == nil {
			return NewLimiter(NewRedisBackend(rdb, prefix))
		}
		logutil.GetLogger(ctx).Warn("redis unavailable, rate limiter falls back to memory", zap.Error(err))
	}
	mem := NewMemoryBackend(memOpts...)
	return NewLimiter(mem, WithLimiterClock(mem.now))
}

func (l *Limiter) BackendName() string {
	if l == nil || l.backend == nil {
		return "none"
	}
	return l.backend.Name()
}

// Limit counts one request of identity against rule within linkScope.
func (l *Limiter) Limit(ctx context.Context, identity, linkScope string, rule *Rule) Result {
	if !rule.Enabled() || l == nil || l.backend == nil {
		return Result{Allowed: true}
	}
	res, err := l.backend.Take(ctx, Key(rule.Scope, linkScope, identity), *rule, l.now())
	if err != nil {
		metrics.RateLimitErrors.WithLabelValues(l.backend.Name()).Inc()
		logutil.GetLogger(ctx).Error("rate limiter backend failed, allowing request",
			zap.String("backend", l.backend.Name()),
			zap.String("scope", rule.Scope),
			zap.Error(err),
		)
		return Result{Allowed: true}
	}
	if res.Allowed {
		metrics.RateLimit.WithLabelValues(rule.Scope, "allowed").Inc()
		return Result{Allowed: true}
	}
	metrics.RateLimit.WithLabelValues(rule.Scope, "denied").Inc()
	if rule.AutoRecovery <= 0 {
		res.RetryAfter = 0
	}
	return res
}

func (l *Limiter) Close() {
	if l == nil || l.backend == nil {
		return
	}
	if c, ok := l.backend.(interface{ Close() }); ok {
		c.Close()
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
