package memmon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudspi/cloudspi/pkg/utils"
)

// scriptedSampler returns the given samples in order, repeating the last one.
func scriptedSampler(samples ...MemorySample) func() MemorySample {
	var mu sync.Mutex
	i := 0
	return func() MemorySample {
		mu.Lock()
		defer mu.Unlock()
		s := samples[i]
		if i < len(samples)-1 {
			i++
		}
		s.Timestamp = time.Now()
		return s
	}
}

func newTestMonitor(config MonitorConfig) *MemoryMonitor {
	config.Logger = utils.NewDiscardLogger()
	return NewMemoryMonitor(config)
}

func TestNewMemoryMonitor(t *testing.T) {
	monitor := NewMemoryMonitor(MonitorConfig{})

	require.NotNil(t, monitor)
	assert.Equal(t, 30*time.Second, monitor.config.SampleInterval)
	assert.Equal(t, 100, monitor.config.MaxSamples)
	assert.NotNil(t, monitor.config.Sampler)
}

func TestMemoryMonitor_StartStop(t *testing.T) {
	config := DefaultMonitorConfig()
	config.SampleInterval = 20 * time.Millisecond
	monitor := newTestMonitor(config)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, monitor.Start(ctx))
	assert.Error(t, monitor.Start(ctx), "second start must fail")

	assert.Eventually(t, func() bool {
		return monitor.GetStats().SampleCount >= 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, monitor.Stop())
	require.NoError(t, monitor.Stop(), "stopping twice is a no-op")
}

func TestMemoryMonitor_GrowthAlert(t *testing.T) {
	config := DefaultMonitorConfig()
	config.AlertThreshold = 50
	config.Sampler = scriptedSampler(
		MemorySample{HeapAlloc: 100},
		MemorySample{HeapAlloc: 120},
		MemorySample{HeapAlloc: 200},
	)
	monitor := newTestMonitor(config)

	var got []MemoryAlert
	monitor.OnAlert(func(a MemoryAlert) { got = append(got, a) })

	assert.Empty(t, monitor.Check(), "a single sample has nothing to compare")
	assert.Empty(t, monitor.Check(), "20% growth is under the threshold")

	alerts := monitor.Check()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertTypeMemoryGrowth, alerts[0].AlertType)
	assert.InDelta(t, 100.0, alerts[0].GrowthPct, 0.001)
	assert.Equal(t, alerts, got)
	assert.Len(t, monitor.GetAlerts(), 1)
}

func TestMemoryMonitor_HeapLimitAndGCPressure(t *testing.T) {
	config := DefaultMonitorConfig()
	config.AlertThreshold = 0
	config.HeapLimit = 1000
	config.GCCPUThreshold = 0.05
	config.Sampler = scriptedSampler(
		MemorySample{HeapAlloc: 500},
		MemorySample{HeapAlloc: 1500, GCCPUFraction: 0.10},
	)
	monitor := newTestMonitor(config)

	monitor.Check()
	alerts := monitor.Check()

	require.Len(t, alerts, 2)
	assert.Equal(t, AlertTypeHeapLimit, alerts[0].AlertType)
	assert.Equal(t, uint64(1500), alerts[0].Current)
	assert.Equal(t, AlertTypeGCPressure, alerts[1].AlertType)
}

func TestMemoryMonitor_BaselineAndHistory(t *testing.T) {
	config := DefaultMonitorConfig()
	config.MaxSamples = 3
	config.MaxAlerts = 2
	config.HeapLimit = 10
	config.AlertThreshold = 0
	config.Sampler = scriptedSampler(MemorySample{HeapAlloc: 100})
	monitor := newTestMonitor(config)

	for i := 0; i < 5; i++ {
		monitor.Check()
	}
	assert.Len(t, monitor.GetSamples(), 3)
	assert.Len(t, monitor.GetAlerts(), 2)

	monitor.ClearAlerts()
	assert.Empty(t, monitor.GetAlerts())

	monitor.ResetBaseline()
	stats := monitor.GetStats()
	assert.Equal(t, uint64(100), stats.BaselineSample.HeapAlloc)
	assert.InDelta(t, 0.0, stats.GrowthSinceBaseline, 0.001)
}

func TestAlertType_String(t *testing.T) {
	tests := []struct {
		alertType AlertType
		want      string
	}{
		{AlertTypeMemoryGrowth, "memory_growth"},
		{AlertTypeHeapLimit, "heap_limit"},
		{AlertTypeGCPressure, "gc_pressure"},
		{AlertType(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.alertType.String(); got != tt.want {
			t.Errorf("AlertType(%d).String() = %q, want %q", tt.alertType, got, tt.want)
		}
	}
}
