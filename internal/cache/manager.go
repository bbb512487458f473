package cache

import (
	"math"
	"sort"
	"time"

	"github.com/cloudspi/cloudspi/pkg/errors"
	"github.com/cloudspi/cloudspi/pkg/memmon"
	"github.com/cloudspi/cloudspi/pkg/utils"
)

// MBean is the management surface over every registered cache, addressed by qualified name.
type MBean interface {
	Caches() []string
	CacheLevel(name string) (Level, error)
	TimeoutInSeconds(name string) (int64, error)
	SetTimeoutInSeconds(name string, seconds int64) error
	NextTimeout(name string) (time.Time, error)
	Clear(name string) error
	ClearAll()
}

// Kind tells which registry a cache lives in.
type Kind string

const (
	KindCollection Kind = "collection"
	KindSingleton  Kind = "singleton"
)

// Info describes one cache for administrative views.
type Info struct {
	Name           string    `json:"name"`
	Kind           Kind      `json:"kind"`
	Level          Level     `json:"level"`
	TimeoutSeconds int64     `json:"timeout_seconds"`
	NextTimeout    time.Time `json:"next_timeout"`
	Entries        int       `json:"entries"`
}

// Manager implements MBean over a collection registry and a singleton registry. Names are
// looked up in the collection registry first.
type Manager struct {
	collections *Registry
	singletons  *Registry
	logger      *utils.StructuredLogger
}

var _ MBean = (*Manager)(nil)

// NewManager creates a manager. Nil registries default to the process-wide ones.
func NewManager(collections, singletons *Registry, logger *utils.StructuredLogger) *Manager {
	if collections == nil {
		collections = DefaultCollectionRegistry()
	}
	if singletons == nil {
		singletons = DefaultRegistry()
	}
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}
	return &Manager{
		collections: collections,
		singletons:  singletons,
		logger:      logger.WithComponent("cache-manager"),
	}
}

// Caches returns the names of all caches in both registries, sorted and without duplicates.
func (m *Manager) Caches() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, reg := range []*Registry{m.collections, m.singletons} {
		for _, name := range reg.Names() {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *Manager) lookup(name string) (Managed, Kind, error) {
	if c, ok := m.collections.Lookup(name); ok {
		return c, KindCollection, nil
	}
	if c, ok := m.singletons.Lookup(name); ok {
		return c, KindSingleton, nil
	}
	return nil, "", errors.NewError(errors.ErrCodeCacheNotFound, "no cache registered under this name").
		WithComponent("cache").
		WithDetail("cache", name)
}

// CacheLevel returns the partitioning level of the named cache.
func (m *Manager) CacheLevel(name string) (Level, error) {
	c, _, err := m.lookup(name)
	if err != nil {
		return 0, err
	}
	return c.Level(), nil
}

// TimeoutInSeconds returns the entry timeout of the named cache.
func (m *Manager) TimeoutInSeconds(name string) (int64, error) {
	c, _, err := m.lookup(name)
	if err != nil {
		return 0, err
	}
	return int64(c.Timeout() / time.Second), nil
}

// SetTimeoutInSeconds changes the entry timeout of the named cache.
func (m *Manager) SetTimeoutInSeconds(name string, seconds int64) error {
	if seconds < 0 || seconds > math.MaxInt64/int64(time.Second) {
		return errors.NewError(errors.ErrCodeInvalidConfig, "timeout out of range").
			WithComponent("cache").
			WithOperation("SetTimeoutInSeconds").
			WithDetail("cache", name).
			WithDetail("seconds", seconds)
	}
	c, _, err := m.lookup(name)
	if err != nil {
		return err
	}
	c.SetTimeout(time.Duration(seconds) * time.Second)
	return nil
}

// NextTimeout returns when the next entry of the named cache expires.
func (m *Manager) NextTimeout(name string) (time.Time, error) {
	c, _, err := m.lookup(name)
	if err != nil {
		return time.Time{}, err
	}
	return c.NextTimeout(), nil
}

// Clear empties the named cache.
func (m *Manager) Clear(name string) error {
	c, _, err := m.lookup(name)
	if err != nil {
		return err
	}
	c.Clear()
	m.logger.Info("Cache cleared", map[string]interface{}{"cache": name})
	return nil
}

// ClearAll empties every registered cache.
func (m *Manager) ClearAll() {
	m.clearAll(reasonManual)
}

func (m *Manager) clearAll(reason string) {
	cleared := 0
	for _, reg := range []*Registry{m.collections, m.singletons} {
		reg.each(func(c Managed) {
			c.clearFor(reason)
			cleared++
		})
	}
	m.logger.Info("All caches cleared", map[string]interface{}{
		"reason": reason,
		"caches": cleared,
	})
}

// Describe returns administrative details of the named cache.
func (m *Manager) Describe(name string) (Info, error) {
	c, kind, err := m.lookup(name)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Name:           name,
		Kind:           kind,
		Level:          c.Level(),
		TimeoutSeconds: int64(c.Timeout() / time.Second),
		NextTimeout:    c.NextTimeout(),
		Entries:        c.Len(),
	}, nil
}

// WatchMemory clears every cache whenever monitor raises one of the given alert types, or
// any memory growth, heap limit or GC pressure alert when none are given.
func (m *Manager) WatchMemory(monitor *memmon.MemoryMonitor, types ...memmon.AlertType) {
	if len(types) == 0 {
		types = []memmon.AlertType{memmon.AlertTypeMemoryGrowth, memmon.AlertTypeHeapLimit, memmon.AlertTypeGCPressure}
	}
	watched := make(map[memmon.AlertType]bool, len(types))
	for _, t := range types {
		watched[t] = true
	}

	monitor.OnAlert(func(alert memmon.MemoryAlert) {
		if !watched[alert.AlertType] {
			return
		}
		m.logger.Warn("Releasing caches under memory pressure", map[string]interface{}{
			"alert": alert.AlertType.String(),
		})
		m.clearAll(reasonMemoryPressure)
		monitor.ResetBaseline()
	})
}
