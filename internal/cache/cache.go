// Package cache is the gateway's key/value cache. Two backends share one
// contract: Redis when it is reachable at startup, an in-process LRU otherwise.
// Every backend failure degrades to "not cached"; callers always have a full
// load path behind a miss.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mailshare/internal/metrics"
)

type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

type Store struct {
	backend Backend
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// New probes rdb and returns a Redis-backed store when it answers, falling
// back to an in-process store otherwise.
func New(ctx context.Context, rdb redis.UniversalClient, prefix string, memOpts ...MemoryOption) *Store {
	if rdb != nil {
		err := rdb.Ping(ctx).Err()
		if err == nil {
			return NewStore(NewRedisBackend(rdb, prefix))
		}
		logutil.GetLogger(ctx).Warn("redis unavailable, cache falls back to memory", zap.Error(err))
	}
	return NewStore(NewMemoryBackend(memOpts...))
}

func (s *Store) BackendName() string {
	if s == nil || s.backend == nil {
		return "none"
	}
	return s.backend.Name()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if s == nil || s.backend == nil {
		return nil, false
	}
	value, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		metrics.CacheOps.WithLabelValues(s.backend.Name(), "get", "error").Inc()
		logutil.GetLogger(ctx).Warn("cache get failed", zap.String("key", key), zap.String("backend", s.backend.Name()), zap.Error(err))
		return nil, false
	}
	if !ok {
		metrics.CacheOps.WithLabelValues(s.backend.Name(), "get", "miss").Inc()
		return nil, false
	}
	metrics.CacheOps.WithLabelValues(s.backend.Name(), "get", "hit").Inc()
	return value, true
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if s == nil || s.backend == nil {
		return
	}
	if err := s.backend.Set(ctx, key, value, ttl); err != nil {
		metrics.CacheOps.WithLabelValues(s.backend.Name(), "set", "error").Inc()
		logutil.GetLogger(ctx).Warn("cache set failed", zap.String("key", key), zap.String("backend", s.backend.Name()), zap.Error(err))
	}
}

func (s *Store) Delete(ctx context.Context, key string) {
	if s == nil || s.backend == nil {
		return
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		metrics.CacheOps.WithLabelValues(s.backend.Name(), "delete", "error").Inc()
		logutil.GetLogger(ctx).Warn("cache delete failed", zap.String("key", key), zap.String("backend", s.backend.Name()), zap.Error(err))
	}
}

// Clear is best-effort: a backend that cannot enumerate its keys only logs.
func (s *Store) Clear(ctx context.Context) {
	if s == nil || s.backend == nil {
		return
	}
	if err := s.backend.Clear(ctx); err != nil {
		logutil.GetLogger(ctx).Warn("cache clear failed", zap.String("backend", s.backend.Name()), zap.Error(err))
	}
}

func (s *Store) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	if s == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		logutil.GetLogger(ctx).Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	s.Set(ctx, key, raw, ttl)
}

// GetJSON decodes a cached snapshot. Undecodable entries are evicted and
// reported as a miss.
func GetJSON[T any](ctx context.Context, s *Store, key string) (*T, bool) {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		logutil.GetLogger(ctx).Warn("cache decode failed, evicting", zap.String("key", key), zap.Error(err))
		s.Delete(ctx, key)
		return nil, false
	}
	return &out, true
}

func (s *Store) Close() {
	if s == nil || s.backend == nil {
		return
	}
	if c, ok := s.backend.(interface{ Close() }); ok {
		c.Close()
	}
}
