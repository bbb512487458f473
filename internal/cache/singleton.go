package cache

import (
	"context"
	"reflect"
)

// SingletonCache keeps at most one item per partition of its level, for example one
// authenticated client per region and account.
type SingletonCache[T any] struct {
	*store[T]
}

// GetSingleton returns the singleton cache named name for owner's type, creating it in reg on
// first use. Later calls return the same cache and ignore opts. Asking for an existing cache
// with a different level or item type is an error.
func GetSingleton[T any](reg *Registry, owner any, name string, level Level, opts ...Option) (*SingletonCache[T], error) {
	if reg == nil {
		reg = DefaultRegistry()
	}

	c, err := registered(reg, owner, name, level, func(q string) Managed {
		return &SingletonCache[T]{store: newStore[T](q, level, buildOptions(opts))}
	})
	if err != nil {
		return nil, err
	}

	sc, ok := c.(*SingletonCache[T])
	if !ok {
		return nil, typeMismatch(c.Name(), c, reflect.TypeOf((*SingletonCache[T])(nil)).String())
	}
	return sc, nil
}

// Get returns the item stored for scope. A whole cache older than HardCeiling is emptied
// first, and an entry not refreshed within the timeout is dropped.
func (c *SingletonCache[T]) Get(scope Scope) (T, bool) {
	return c.get(scope, true)
}

// Put stores item for scope, replacing any previous item and restarting its timeout.
func (c *SingletonCache[T]) Put(scope Scope, item T) {
	c.put(scope, item)
}

// GetOrLoad returns the cached item for scope, calling load on a miss. Concurrent misses for
// the same partition share one load.
func (c *SingletonCache[T]) GetOrLoad(ctx context.Context, scope Scope, load func(context.Context) (T, error)) (T, error) {
	return c.getOrLoad(ctx, scope, load)
}
