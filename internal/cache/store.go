package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/cloudspi/cloudspi/pkg/errors"
	"github.com/cloudspi/cloudspi/pkg/utils"
)

// store is the partitioned, time-boxed storage shared by the singleton and collection caches.
type store[V any] struct {
	name  string
	level Level

	clock    clock.PassiveClock
	recorder Recorder
	logger   *utils.StructuredLogger
	loads    singleflight.Group

	mu         sync.Mutex
	root       *partition[V]
	timeout    time.Duration
	cacheStart time.Time
}

func newStore[V any](name string, level Level, o options) *store[V] {
	return &store[V]{
		name:       name,
		level:      level,
		clock:      o.clock,
		recorder:   o.recorder,
		logger:     o.logger.WithField("cache", name),
		root:       newPartition[V](),
		timeout:    o.timeout,
		cacheStart: o.clock.Now(),
	}
}

// Name returns the qualified cache name.
func (s *store[V]) Name() string {
	return s.name
}

// Level returns the partitioning level.
func (s *store[V]) Level() Level {
	return s.level
}

// Timeout returns the entry timeout.
func (s *store[V]) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// SetTimeout changes the entry timeout. It applies to existing entries too.
func (s *store[V]) SetTimeout(timeout time.Duration) {
	if timeout < 0 {
		timeout = 0
	}
	s.mu.Lock()
	previous := s.timeout
	s.timeout = timeout
	s.mu.Unlock()

	s.logger.Info("Cache timeout changed", map[string]interface{}{
		"previous": previous.String(),
		"timeout":  timeout.String(),
	})
}

// NextTimeout returns the earliest time at which an entry expires, or the time of the next
// full clear when that comes first or the cache is empty.
func (s *store[V]) NextTimeout() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cacheStart.Add(HardCeiling)
	s.root.walk(func(leaf *partition[V]) {
		if expiry := leaf.lastCacheClear.Add(s.timeout); expiry.Before(next) {
			next = expiry
		}
	})
	return next
}

// Len returns the number of stored entries, expired ones included until they are read.
func (s *store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root.count()
}

// Clear drops every entry.
func (s *store[V]) Clear() {
	s.clearFor(reasonManual)
}

func (s *store[V]) clearFor(reason string) {
	s.mu.Lock()
	entries := s.root.count()
	s.root = newPartition[V]()
	s.cacheStart = s.clock.Now()
	s.mu.Unlock()

	s.recorder.CacheCleared(s.name, reason)
	s.logger.Debug("Cache cleared", map[string]interface{}{
		"reason":  reason,
		"entries": entries,
	})
}

// Invalidate drops the entry for scope. It reports whether one was stored.
func (s *store[V]) Invalidate(scope Scope) bool {
	s.mu.Lock()
	removed := s.root.remove(s.level.path(scope))
	s.mu.Unlock()

	if removed {
		s.recorder.CacheCleared(s.name, reasonInvalidate)
	}
	return removed
}

func (s *store[V]) get(scope Scope, record bool) (V, bool) {
	path := s.level.path(scope)
	now := s.clock.Now()

	var (
		value   V
		hit     bool
		ceiling bool
		expired bool
	)

	s.mu.Lock()
	if now.Sub(s.cacheStart) > HardCeiling {
		s.root = newPartition[V]()
		s.cacheStart = now
		ceiling = true
	}
	if leaf := s.root.find(path); leaf != nil && leaf.set {
		if leaf.lastCacheClear.Add(s.timeout).Before(now) {
			s.root.remove(path)
			expired = true
		} else {
			value, hit = leaf.value, true
		}
	}
	s.mu.Unlock()

	if ceiling {
		s.recorder.CacheCleared(s.name, reasonCeiling)
		s.logger.Debug("Cache reached its maximum age and was cleared", nil)
	}
	if expired {
		s.recorder.CacheCleared(s.name, reasonEntryExpired)
	}
	if record {
		s.recorder.CacheRequest(s.name, hit)
	}
	return value, hit
}

func (s *store[V]) put(scope Scope, value V) {
	path := s.level.path(scope)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	leaf := s.root.ensure(path)
	leaf.value = value
	leaf.set = true
	leaf.lastCacheClear = now
}

func (s *store[V]) getOrLoad(ctx context.Context, scope Scope, load func(context.Context) (V, error)) (V, error) {
	if value, ok := s.get(scope, true); ok {
		return value, nil
	}

	// The shared load runs detached from the caller that started it, so cancelling one
	// waiter fails only that waiter.
	loadCtx := context.WithoutCancel(ctx)
	key := strings.Join(s.level.path(scope), "\x1f")
	ch := s.loads.DoChan(key, func() (interface{}, error) {
		if value, ok := s.get(scope, false); ok {
			return value, nil
		}
		value, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		s.put(scope, value)
		return value, nil
	})

	var result interface{}
	var err error
	select {
	case res := <-ch:
		result, err = res.Val, res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		var zero V
		return zero, errors.NewError(errors.ErrCodeCacheLoad, "failed to load cache entry").
			WithComponent("cache").
			WithOperation("GetOrLoad").
			WithDetail("cache", s.name).
			WithCause(err)
	}

	value, _ := result.(V)
	return value, nil
}
