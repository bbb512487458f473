package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudspi/cloudspi/pkg/errors"
)

// Collector exports cache, provider and cloud API metrics. It implements cache.Recorder and
// provider.Recorder.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	cacheRequests     *prometheus.CounterVec
	cacheClears       *prometheus.CounterVec
	providerHolds     *prometheus.GaugeVec
	closePending      *prometheus.GaugeVec
	credentialWipes   *prometheus.CounterVec
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
	memoryAlerts      *prometheus.CounterVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// DefaultConfig returns the default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "cloudspi",
		Labels:    make(map[string]string),
	}
}

// OperationMetrics tracks one cloud API operation
type OperationMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastOperation time.Time     `json:"last_operation"`
}

// NewCollector creates a collector. A nil config uses DefaultConfig; a disabled collector
// accepts every call and records nothing.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return collector, nil
}

// Enabled reports whether the collector records metrics.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry returns the Prometheus registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start serves the metrics endpoint on its own port until Stop.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// CacheRequest records a cache lookup.
func (c *Collector) CacheRequest(cache string, hit bool) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequests.With(prometheus.Labels{
		"cache":  cache,
		"result": map[bool]string{true: "hit", false: "miss"}[hit],
	}).Inc()
}

// CacheCleared records a cache being emptied, or an entry expiring.
func (c *Collector) CacheCleared(cache, reason string) {
	if !c.config.Enabled {
		return
	}
	c.cacheClears.With(prometheus.Labels{
		"cache":  cache,
		"reason": reason,
	}).Inc()
}

// ProviderHolds records the outstanding holds of a provider.
func (c *Collector) ProviderHolds(provider string, holds int) {
	if !c.config.Enabled {
		return
	}
	c.providerHolds.With(prometheus.Labels{"provider": provider}).Set(float64(holds))
}

// ProviderClosePending records whether a provider close is waiting for holds.
func (c *Collector) ProviderClosePending(provider string, pending bool) {
	if !c.config.Enabled {
		return
	}
	value := 0.0
	if pending {
		value = 1
	}
	c.closePending.With(prometheus.Labels{"provider": provider}).Set(value)
}

// CredentialsWiped records a credential wipe; forced wipes happened with holds outstanding.
func (c *Collector) CredentialsWiped(provider string, forced bool) {
	if !c.config.Enabled {
		return
	}
	c.credentialWipes.With(prometheus.Labels{
		"provider": provider,
		"forced":   fmt.Sprintf("%t", forced),
	}).Inc()
}

// RecordMemoryAlert records a memory monitor alert.
func (c *Collector) RecordMemoryAlert(alertType string) {
	if !c.config.Enabled {
		return
	}
	c.memoryAlerts.With(prometheus.Labels{"type": alertType}).Inc()
}

// RecordOperation records a cloud API call
func (c *Collector) RecordOperation(operation string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	op, exists := c.operations[operation]
	if !exists {
		op = &OperationMetrics{}
		c.operations[operation] = op
	}
	op.Count++
	op.TotalDuration += duration
	op.AvgDuration = time.Duration(int64(op.TotalDuration) / op.Count)
	op.LastOperation = time.Now()
	if err != nil {
		op.Errors++
	}
	c.mu.Unlock()

	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    map[bool]string{true: "success", false: "error"}[err == nil],
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())

	if err != nil {
		c.RecordError(operation, err)
	}
}

// RecordError records an error by its error code
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}
	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"code":      string(errors.CodeOf(err)),
	}).Inc()
}

// GetMetrics returns a snapshot of the recorded operations
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		copied := *v
		operations[k] = &copied
	}

	return map[string]interface{}{
		"operations": operations,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset),
	}
}

// OperationNames lists the recorded operations in order.
func (c *Collector) OperationNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.operations))
	for name := range c.operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetMetrics resets the operation snapshot; Prometheus counters are left alone.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: c.config.Labels,
		}
	}

	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("cache_requests_total", "Total number of cache lookups")),
		[]string{"cache", "result"},
	)
	c.cacheClears = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("cache_clears_total", "Total number of cache clears and entry expiries")),
		[]string{"cache", "reason"},
	)
	c.providerHolds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts(opts("provider_holds", "Outstanding holds per provider")),
		[]string{"provider"},
	)
	c.closePending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts(opts("provider_close_pending", "1 while a provider close waits for holds")),
		[]string{"provider"},
	)
	c.credentialWipes = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("provider_credential_wipes_total", "Total number of credential wipes")),
		[]string{"provider", "forced"},
	)
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("operations_total", "Total number of cloud API operations")),
		[]string{"operation", "status"},
	)
	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operation_duration_seconds",
			Help:        "Duration of cloud API operations in seconds",
			ConstLabels: c.config.Labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"operation"},
	)
	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("errors_total", "Total number of errors by code")),
		[]string{"operation", "code"},
	)
	c.memoryAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("memory_alerts_total", "Total number of memory monitor alerts")),
		[]string{"type"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.cacheRequests,
		c.cacheClears,
		c.providerHolds,
		c.closePending,
		c.credentialWipes,
		c.operationCounter,
		c.operationDuration,
		c.errorCounter,
		c.memoryAlerts,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}
