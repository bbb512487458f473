package cache

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/cloudspi/cloudspi/pkg/errors"
)

// Managed is the administrative surface every registered cache exposes.
type Managed interface {
	Name() string
	Level() Level
	Timeout() time.Duration
	SetTimeout(timeout time.Duration)
	NextTimeout() time.Time
	Clear()
	Len() int

	clearFor(reason string)
}

// Registry holds caches by qualified name. Lookup, insertion and removal are serialized by one
// mutex; each cache guards its own contents.
type Registry struct {
	mu     sync.Mutex
	caches map[string]Managed
}

var (
	defaultSingletons  = NewRegistry()
	defaultCollections = NewRegistry()
)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caches: make(map[string]Managed)}
}

// DefaultRegistry returns the process-wide registry of singleton caches.
func DefaultRegistry() *Registry {
	return defaultSingletons
}

// DefaultCollectionRegistry returns the process-wide registry of collection caches.
func DefaultCollectionRegistry() *Registry {
	return defaultCollections
}

// Names returns the qualified names of all registered caches, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.caches))
	for name := range r.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the cache registered under a qualified name.
func (r *Registry) Lookup(name string) (Managed, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.caches[name]
	return c, ok
}

// Len returns the number of registered caches.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.caches)
}

// Reset clears and forgets every cache. Handles obtained earlier keep working but are no
// longer reachable through the registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	caches := r.caches
	r.caches = make(map[string]Managed)
	r.mu.Unlock()

	for _, c := range caches {
		c.clearFor(reasonReset)
	}
}

// each calls fn for a snapshot of the registered caches.
func (r *Registry) each(fn func(Managed)) {
	r.mu.Lock()
	caches := make([]Managed, 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	r.mu.Unlock()

	for _, c := range caches {
		fn(c)
	}
}

// getOrCreate returns the cache registered under name, creating it with create when absent.
func (r *Registry) getOrCreate(name string, create func() Managed) Managed {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.caches[name]; ok {
		return c
	}
	c := create()
	r.caches[name] = c
	return c
}

// QualifiedName returns the registry key for a cache named name owned by owner's type:
// "<package path>.<type name>.<name>".
func QualifiedName(owner any, name string) (string, error) {
	if owner == nil {
		return "", errors.NewError(errors.ErrCodeInvalidConfig, "cache owner is required").
			WithComponent("cache").
			WithDetail("cache", name)
	}
	if name == "" {
		return "", errors.NewError(errors.ErrCodeInvalidConfig, "cache name is required").
			WithComponent("cache")
	}

	t, ok := owner.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(owner)
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath() + "." + t.Name() + "." + name, nil
}

func registered(reg *Registry, owner any, name string, level Level, create func(qualified string) Managed) (Managed, error) {
	qualified, err := QualifiedName(owner, name)
	if err != nil {
		return nil, err
	}

	c := reg.getOrCreate(qualified, func() Managed { return create(qualified) })
	if c.Level() != level {
		return nil, errors.NewError(errors.ErrCodeCacheTypeMismatch, "cache is registered with a different level").
			WithComponent("cache").
			WithDetail("cache", qualified).
			WithDetail("registered_level", c.Level().String()).
			WithDetail("requested_level", level.String())
	}
	return c, nil
}

func typeMismatch(qualified string, existing Managed, want string) error {
	return errors.NewError(errors.ErrCodeCacheTypeMismatch, "cache is registered with a different item type").
		WithComponent("cache").
		WithDetail("cache", qualified).
		WithDetail("registered_type", reflect.TypeOf(existing).String()).
		WithDetail("requested_type", want)
}
