package cache

import "time"

// partition is one node of a cache's tree. Only leaves at the cache's depth carry values.
type partition[V any] struct {
	children map[string]*partition[V]

	value          V
	set            bool
	lastCacheClear time.Time
}

func newPartition[V any]() *partition[V] {
	return &partition[V]{children: make(map[string]*partition[V])}
}

// find returns the leaf at path, or nil.
func (p *partition[V]) find(path []string) *partition[V] {
	node := p
	for _, key := range path {
		child, ok := node.children[key]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

// ensure returns the leaf at path, creating intermediate nodes.
func (p *partition[V]) ensure(path []string) *partition[V] {
	node := p
	for _, key := range path {
		child, ok := node.children[key]
		if !ok {
			child = newPartition[V]()
			node.children[key] = child
		}
		node = child
	}
	return node
}

// remove drops the value at path and prunes nodes left empty. It reports whether a value was
// removed.
func (p *partition[V]) remove(path []string) bool {
	if len(path) == 0 {
		if !p.set {
			return false
		}
		var zero V
		p.value = zero
		p.set = false
		return true
	}

	child, ok := p.children[path[0]]
	if !ok {
		return false
	}
	removed := child.remove(path[1:])
	if !child.set && len(child.children) == 0 {
		delete(p.children, path[0])
	}
	return removed
}

// walk calls fn for every leaf holding a value.
func (p *partition[V]) walk(fn func(leaf *partition[V])) {
	if p.set {
		fn(p)
	}
	for _, child := range p.children {
		child.walk(fn)
	}
}

func (p *partition[V]) count() int {
	n := 0
	p.walk(func(*partition[V]) { n++ })
	return n
}
