package cache

import (
	"context"
	"reflect"
	"slices"
)

// CollectionCache keeps a snapshot list of items per partition, for example the regions or
// product offerings of a cloud.
type CollectionCache[T any] struct {
	*store[[]T]
}

// GetCollection returns the collection cache named name for owner's type, creating it in reg
// on first use. It follows the same rules as GetSingleton.
func GetCollection[T any](reg *Registry, owner any, name string, level Level, opts ...Option) (*CollectionCache[T], error) {
	if reg == nil {
		reg = DefaultCollectionRegistry()
	}

	c, err := registered(reg, owner, name, level, func(q string) Managed {
		return &CollectionCache[T]{store: newStore[[]T](q, level, buildOptions(opts))}
	})
	if err != nil {
		return nil, err
	}

	cc, ok := c.(*CollectionCache[T])
	if !ok {
		return nil, typeMismatch(c.Name(), c, reflect.TypeOf((*CollectionCache[T])(nil)).String())
	}
	return cc, nil
}

// Get returns a copy of the items stored for scope.
func (c *CollectionCache[T]) Get(scope Scope) ([]T, bool) {
	items, ok := c.get(scope, true)
	if !ok {
		return nil, false
	}
	return slices.Clone(items), true
}

// Put stores a copy of items for scope.
func (c *CollectionCache[T]) Put(scope Scope, items []T) {
	c.put(scope, slices.Clone(items))
}

// GetOrLoad returns the cached items for scope, calling load on a miss.
func (c *CollectionCache[T]) GetOrLoad(ctx context.Context, scope Scope, load func(context.Context) ([]T, error)) ([]T, error) {
	items, err := c.getOrLoad(ctx, scope, load)
	if err != nil {
		return nil, err
	}
	return slices.Clone(items), nil
}
