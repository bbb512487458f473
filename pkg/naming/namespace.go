package naming

import (
	"context"
	"sort"
	"sync"
)

// ResourceNamespace answers whether a name is already taken in the place a new
// resource will be created. Implementations usually call the cloud.
type ResourceNamespace interface {
	HasNamedItem(ctx context.Context, name string) (bool, error)
}

// NamespaceFunc adapts a function to ResourceNamespace.
type NamespaceFunc func(ctx context.Context, name string) (bool, error)

// HasNamedItem calls f.
func (f NamespaceFunc) HasNamedItem(ctx context.Context, name string) (bool, error) {
	return f(ctx, name)
}

// MemoryNamespace is a thread-safe in-memory set of names.
type MemoryNamespace struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewMemoryNamespace returns a namespace holding names.
func NewMemoryNamespace(names ...string) *MemoryNamespace {
	ns := &MemoryNamespace{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		ns.names[name] = struct{}{}
	}
	return ns
}

// HasNamedItem reports whether name is taken.
func (ns *MemoryNamespace) HasNamedItem(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	_, ok := ns.names[name]
	return ok, nil
}

// Add records name as taken. It reports false when it already was.
func (ns *MemoryNamespace) Add(name string) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if _, ok := ns.names[name]; ok {
		return false
	}
	ns.names[name] = struct{}{}
	return true
}

// Remove frees name.
func (ns *MemoryNamespace) Remove(name string) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	delete(ns.names, name)
}

// Names returns the taken names in sorted order.
func (ns *MemoryNamespace) Names() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	names := make([]string, 0, len(ns.names))
	for name := range ns.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of taken names.
func (ns *MemoryNamespace) Len() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.names)
}
