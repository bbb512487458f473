// Package memmon samples process memory and notifies listeners when usage looks unhealthy.
// The cache manager subscribes to it to release cached provider state under pressure.
package memmon

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudspi/cloudspi/pkg/utils"
)

// MonitorConfig configures memory monitoring behavior
type MonitorConfig struct {
	// SampleInterval is how often to collect memory stats
	SampleInterval time.Duration

	// AlertThreshold is the percentage of heap growth over the baseline that triggers an alert
	AlertThreshold float64

	// HeapLimit triggers an alert when the live heap exceeds it, in bytes. Zero disables it.
	HeapLimit uint64

	// GCCPUThreshold is the fraction of CPU spent in GC that triggers an alert
	GCCPUThreshold float64

	// MaxSamples is the number of samples to keep in history
	MaxSamples int

	// MaxAlerts is the number of alerts to keep in history
	MaxAlerts int

	// Sampler reads memory statistics; runtime.ReadMemStats when nil
	Sampler func() MemorySample

	// Logger for monitoring events
	Logger *utils.StructuredLogger
}

// DefaultMonitorConfig returns sensible defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval: 30 * time.Second,
		AlertThreshold: 50.0,
		GCCPUThreshold: 0.05,
		MaxSamples:     100,
		MaxAlerts:      100,
	}
}

// MemoryMonitor samples memory and raises alerts
type MemoryMonitor struct {
	config MonitorConfig
	logger *utils.StructuredLogger

	mu             sync.RWMutex
	samples        []MemorySample
	baselineSet    bool
	baselineSample MemorySample
	currentSample  MemorySample
	alerts         []MemoryAlert
	listeners      []func(MemoryAlert)

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// MemorySample represents a memory usage sample
type MemorySample struct {
	Timestamp     time.Time
	HeapAlloc     uint64  // bytes allocated in heap and still in use
	HeapSys       uint64  // bytes obtained from system for heap
	HeapIdle      uint64  // bytes in idle spans
	Sys           uint64  // bytes obtained from system
	NumGC         uint32  // number of completed GC cycles
	GCCPUFraction float64 // fraction of CPU time used by GC
	NumGoroutine  int
}

// MemoryAlert represents a memory alert
type MemoryAlert struct {
	Timestamp time.Time
	AlertType AlertType
	Message   string
	Current   uint64
	Reference uint64
	GrowthPct float64
}

// AlertType represents the type of memory alert
type AlertType int

const (
	AlertTypeMemoryGrowth AlertType = iota
	AlertTypeHeapLimit
	AlertTypeGCPressure
)

// String returns the string representation of alert type
func (t AlertType) String() string {
	switch t {
	case AlertTypeMemoryGrowth:
		return "memory_growth"
	case AlertTypeHeapLimit:
		return "heap_limit"
	case AlertTypeGCPressure:
		return "gc_pressure"
	default:
		return "unknown"
	}
}

// NewMemoryMonitor creates a new memory monitor
func NewMemoryMonitor(config MonitorConfig) *MemoryMonitor {
	defaults := DefaultMonitorConfig()
	if config.SampleInterval <= 0 {
		config.SampleInterval = defaults.SampleInterval
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = defaults.MaxSamples
	}
	if config.MaxAlerts <= 0 {
		config.MaxAlerts = defaults.MaxAlerts
	}
	if config.Sampler == nil {
		config.Sampler = readRuntimeSample
	}
	if config.Logger == nil {
		logger, _ := utils.NewStructuredLogger(utils.DefaultStructuredLoggerConfig())
		config.Logger = logger
	}

	return &MemoryMonitor{
		config:  config,
		logger:  config.Logger.WithComponent("memmon"),
		samples: make([]MemorySample, 0, config.MaxSamples),
		stopCh:  make(chan struct{}),
	}
}

// OnAlert registers fn to be called for every alert. Listeners run on the sampling goroutine
// and must not block.
func (mm *MemoryMonitor) OnAlert(fn func(MemoryAlert)) {
	if fn == nil {
		return
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.listeners = append(mm.listeners, fn)
}

// Start begins memory monitoring
func (mm *MemoryMonitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&mm.active, 0, 1) {
		return fmt.Errorf("monitor already running")
	}

	mm.logger.Info("Starting memory monitor", map[string]interface{}{
		"sample_interval": mm.config.SampleInterval.String(),
		"alert_threshold": mm.config.AlertThreshold,
		"heap_limit":      mm.config.HeapLimit,
	})

	mm.wg.Add(1)
	go mm.monitorLoop(ctx)

	return nil
}

// Stop stops memory monitoring
func (mm *MemoryMonitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&mm.active, 1, 0) {
		return nil
	}

	mm.logger.Info("Stopping memory monitor", nil)
	close(mm.stopCh)
	mm.wg.Wait()

	return nil
}

func (mm *MemoryMonitor) monitorLoop(ctx context.Context) {
	defer mm.wg.Done()

	ticker := time.NewTicker(mm.config.SampleInterval)
	defer ticker.Stop()

	mm.takeSample()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mm.stopCh:
			return
		case <-ticker.C:
			mm.Check()
		}
	}
}

// Check takes a sample and raises any resulting alerts immediately.
func (mm *MemoryMonitor) Check() []MemoryAlert {
	mm.takeSample()
	alerts := mm.analyzeMemory()

	mm.mu.RLock()
	listeners := append([]func(MemoryAlert){}, mm.listeners...)
	mm.mu.RUnlock()

	for _, alert := range alerts {
		mm.logger.Warn("Memory alert", map[string]interface{}{
			"type":       alert.AlertType.String(),
			"message":    alert.Message,
			"current":    alert.Current,
			"reference":  alert.Reference,
			"growth_pct": alert.GrowthPct,
		})
		for _, fn := range listeners {
			fn(alert)
		}
	}
	return alerts
}

func readRuntimeSample() MemorySample {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MemorySample{
		Timestamp:     time.Now(),
		HeapAlloc:     memStats.HeapAlloc,
		HeapSys:       memStats.HeapSys,
		HeapIdle:      memStats.HeapIdle,
		Sys:           memStats.Sys,
		NumGC:         memStats.NumGC,
		GCCPUFraction: memStats.GCCPUFraction,
		NumGoroutine:  runtime.NumGoroutine(),
	}
}

func (mm *MemoryMonitor) takeSample() {
	sample := mm.config.Sampler()

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if !mm.baselineSet {
		mm.baselineSample = sample
		mm.baselineSet = true
	}

	mm.currentSample = sample

	mm.samples = append(mm.samples, sample)
	if len(mm.samples) > mm.config.MaxSamples {
		mm.samples = mm.samples[1:]
	}
}

// analyzeMemory records and returns the alerts for the current sample
func (mm *MemoryMonitor) analyzeMemory() []MemoryAlert {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if !mm.baselineSet || len(mm.samples) < 2 {
		return nil
	}

	baseline := mm.baselineSample
	current := mm.currentSample
	var alerts []MemoryAlert

	if baseline.HeapAlloc > 0 && mm.config.AlertThreshold > 0 {
		growthPct := (float64(current.HeapAlloc) - float64(baseline.HeapAlloc)) / float64(baseline.HeapAlloc) * 100
		if growthPct > mm.config.AlertThreshold {
			alerts = append(alerts, mm.newAlert(AlertTypeMemoryGrowth, fmt.Sprintf(
				"Heap usage increased by %.2f%% (from %d to %d bytes)",
				growthPct, baseline.HeapAlloc, current.HeapAlloc,
			), current.HeapAlloc, baseline.HeapAlloc, growthPct))
		}
	}

	if mm.config.HeapLimit > 0 && current.HeapAlloc > mm.config.HeapLimit {
		overPct := (float64(current.HeapAlloc) - float64(mm.config.HeapLimit)) / float64(mm.config.HeapLimit) * 100
		alerts = append(alerts, mm.newAlert(AlertTypeHeapLimit, fmt.Sprintf(
			"Heap usage %d bytes exceeds limit %d bytes",
			current.HeapAlloc, mm.config.HeapLimit,
		), current.HeapAlloc, mm.config.HeapLimit, overPct))
	}

	if mm.config.GCCPUThreshold > 0 && current.GCCPUFraction > mm.config.GCCPUThreshold {
		alerts = append(alerts, mm.newAlert(AlertTypeGCPressure, fmt.Sprintf(
			"GC using %.2f%% of CPU time (threshold %.2f%%)",
			current.GCCPUFraction*100, mm.config.GCCPUThreshold*100,
		), uint64(current.GCCPUFraction*100), uint64(mm.config.GCCPUThreshold*100), current.GCCPUFraction*100))
	}

	mm.alerts = append(mm.alerts, alerts...)
	if len(mm.alerts) > mm.config.MaxAlerts {
		mm.alerts = mm.alerts[len(mm.alerts)-mm.config.MaxAlerts:]
	}
	return alerts
}

// newAlert builds an alert (must be called with lock held)
func (mm *MemoryMonitor) newAlert(alertType AlertType, message string, current, reference uint64, growthPct float64) MemoryAlert {
	return MemoryAlert{
		Timestamp: time.Now(),
		AlertType: alertType,
		Message:   message,
		Current:   current,
		Reference: reference,
		GrowthPct: growthPct,
	}
}

// GetStats returns current memory statistics
func (mm *MemoryMonitor) GetStats() MemoryStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	stats := MemoryStats{
		CurrentSample:  mm.currentSample,
		BaselineSample: mm.baselineSample,
		SampleCount:    len(mm.samples),
		AlertCount:     len(mm.alerts),
	}

	if mm.baselineSet && mm.baselineSample.HeapAlloc > 0 {
		stats.GrowthSinceBaseline = (float64(mm.currentSample.HeapAlloc) - float64(mm.baselineSample.HeapAlloc)) / float64(mm.baselineSample.HeapAlloc) * 100
	}

	return stats
}

// MemoryStats provides memory statistics
type MemoryStats struct {
	CurrentSample       MemorySample
	BaselineSample      MemorySample
	SampleCount         int
	AlertCount          int
	GrowthSinceBaseline float64
}

// GetAlerts returns the retained alerts
func (mm *MemoryMonitor) GetAlerts() []MemoryAlert {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	alerts := make([]MemoryAlert, len(mm.alerts))
	copy(alerts, mm.alerts)
	return alerts
}

// GetSamples returns memory sample history
func (mm *MemoryMonitor) GetSamples() []MemorySample {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	samples := make([]MemorySample, len(mm.samples))
	copy(samples, mm.samples)
	return samples
}

// ResetBaseline resets the baseline to current memory usage, typically after caches were
// released.
func (mm *MemoryMonitor) ResetBaseline() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.baselineSample = mm.currentSample
	mm.logger.Info("Baseline reset", map[string]interface{}{
		"heap_alloc": mm.baselineSample.HeapAlloc,
	})
}

// ClearAlerts clears all alerts
func (mm *MemoryMonitor) ClearAlerts() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.alerts = nil
}
