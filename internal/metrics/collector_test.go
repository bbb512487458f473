package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudspi/cloudspi/internal/cache"
	"github.com/cloudspi/cloudspi/pkg/errors"
	"github.com/cloudspi/cloudspi/pkg/provider"
)

var (
	_ cache.Recorder    = (*Collector)(nil)
	_ provider.Recorder = (*Collector)(nil)
)

// metricValue sums the samples of a family whose labels include want.
func metricValue(t *testing.T, registry *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	next:
		for _, m := range family.GetMetric() {
			labels := make(map[string]string)
			for _, pair := range m.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	config := DefaultConfig()
	config.Namespace = "test"
	collector, err := NewCollector(config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return collector
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if collector.config.Port != 9090 {
			t.Errorf("default port = %d, want 9090", collector.config.Port)
		}
		if collector.config.Namespace != "cloudspi" {
			t.Errorf("default namespace = %q, want %q", collector.config.Namespace, "cloudspi")
		}
		if collector.Registry() == nil {
			t.Error("Registry() is nil")
		}
	})

	t.Run("with disabled config", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector.Registry() != nil {
			t.Error("disabled collector should not have registry")
		}

		// every recorder call is a no-op
		collector.CacheRequest("c", true)
		collector.CacheCleared("c", "manual")
		collector.ProviderHolds("p", 1)
		collector.ProviderClosePending("p", true)
		collector.CredentialsWiped("p", false)
		collector.RecordMemoryAlert("growth")
		collector.RecordOperation("HeadBucket", time.Millisecond, nil)

		rec := httptest.NewRecorder()
		collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("disabled handler status = %d, want 404", rec.Code)
		}
	})
}

func TestCacheRecorder(t *testing.T) {
	t.Parallel()
	collector := newTestCollector(t)
	reg := collector.Registry()

	collector.CacheRequest("clients", true)
	collector.CacheRequest("clients", true)
	collector.CacheRequest("clients", false)
	collector.CacheCleared("clients", "entry_expired")
	collector.CacheCleared("clients", "memory_pressure")
	collector.CacheCleared("regions", "memory_pressure")

	tests := []struct {
		name   string
		metric string
		labels map[string]string
		want   float64
	}{
		{"hits", "test_cache_requests_total", map[string]string{"cache": "clients", "result": "hit"}, 2},
		{"misses", "test_cache_requests_total", map[string]string{"cache": "clients", "result": "miss"}, 1},
		{"clears per cache", "test_cache_clears_total", map[string]string{"cache": "clients"}, 2},
		{"clears per reason", "test_cache_clears_total", map[string]string{"reason": "memory_pressure"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := metricValue(t, reg, tt.metric, tt.labels); got != tt.want {
				t.Errorf("%s%v = %v, want %v", tt.metric, tt.labels, got, tt.want)
			}
		})
	}
}

func TestProviderRecorder(t *testing.T) {
	t.Parallel()
	collector := newTestCollector(t)
	reg := collector.Registry()

	collector.ProviderHolds("aws", 3)
	collector.ProviderHolds("aws", 1)
	collector.ProviderClosePending("aws", true)
	collector.CredentialsWiped("aws", false)
	collector.CredentialsWiped("aws", true)
	collector.CredentialsWiped("aws", true)

	if got := metricValue(t, reg, "test_provider_holds", map[string]string{"provider": "aws"}); got != 1 {
		t.Errorf("provider_holds = %v, want 1", got)
	}
	if got := metricValue(t, reg, "test_provider_close_pending", nil); got != 1 {
		t.Errorf("provider_close_pending = %v, want 1", got)
	}
	collector.ProviderClosePending("aws", false)
	if got := metricValue(t, reg, "test_provider_close_pending", nil); got != 0 {
		t.Errorf("provider_close_pending after close = %v, want 0", got)
	}
	if got := metricValue(t, reg, "test_provider_credential_wipes_total", map[string]string{"forced": "true"}); got != 2 {
		t.Errorf("forced wipes = %v, want 2", got)
	}
}

func TestRecordOperation(t *testing.T) {
	t.Parallel()
	collector := newTestCollector(t)
	reg := collector.Registry()

	collector.RecordOperation("HeadBucket", 10*time.Millisecond, nil)
	collector.RecordOperation("HeadBucket", 30*time.Millisecond, errors.NewError(errors.ErrCodeThrottled, "slow down"))

	operations := collector.GetMetrics()["operations"].(map[string]*OperationMetrics)
	op, ok := operations["HeadBucket"]
	if !ok {
		t.Fatal("HeadBucket not recorded")
	}
	if op.Count != 2 || op.Errors != 1 {
		t.Errorf("op = %+v, want 2 calls with 1 error", op)
	}
	if op.AvgDuration != 20*time.Millisecond {
		t.Errorf("op.AvgDuration = %v, want 20ms", op.AvgDuration)
	}

	if got := metricValue(t, reg, "test_operations_total", map[string]string{"status": "error"}); got != 1 {
		t.Errorf("failed operations = %v, want 1", got)
	}
	if got := metricValue(t, reg, "test_operation_duration_seconds", nil); got != 2 {
		t.Errorf("duration samples = %v, want 2", got)
	}
	if got := metricValue(t, reg, "test_errors_total", map[string]string{"code": "THROTTLED"}); got != 1 {
		t.Errorf("throttled errors = %v, want 1", got)
	}

	// the snapshot is a copy
	op.Count = 100
	again := collector.GetMetrics()["operations"].(map[string]*OperationMetrics)
	if again["HeadBucket"].Count != 2 {
		t.Error("GetMetrics() leaked internal state")
	}

	collector.ResetMetrics()
	if names := collector.OperationNames(); len(names) != 0 {
		t.Errorf("OperationNames() after reset = %v, want none", names)
	}
}

func TestRecordErrorUnknownCode(t *testing.T) {
	t.Parallel()
	collector := newTestCollector(t)

	collector.RecordError("Connect", io.EOF)
	collector.RecordError("Connect", nil)

	if got := metricValue(t, collector.Registry(), "test_errors_total", map[string]string{"code": string(errors.ErrCodeUnknownError)}); got != 1 {
		t.Errorf("unknown errors = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()
	collector := newTestCollector(t)
	collector.CacheRequest("clients", true)
	collector.RecordMemoryAlert("growth")

	server := httptest.NewServer(collector.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	for _, want := range []string{"test_cache_requests_total", "test_memory_alerts_total"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition does not contain %s", want)
		}
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()
	collector := newTestCollector(t)
	if err := collector.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}
}
