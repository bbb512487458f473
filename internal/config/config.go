package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"

	"github.com/cloudspi/cloudspi/internal/cache"
	"github.com/cloudspi/cloudspi/internal/circuit"
	"github.com/cloudspi/cloudspi/internal/metrics"
	"github.com/cloudspi/cloudspi/internal/storage/s3"
	"github.com/cloudspi/cloudspi/pkg/errors"
	"github.com/cloudspi/cloudspi/pkg/memmon"
	"github.com/cloudspi/cloudspi/pkg/provider"
	"github.com/cloudspi/cloudspi/pkg/retry"
	"github.com/cloudspi/cloudspi/pkg/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLOUDSPI_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global   GlobalConfig   `yaml:"global"`
	Cache    CacheConfig    `yaml:"cache"`
	Provider ProviderConfig `yaml:"provider"`
	Admin    AdminConfig    `yaml:"admin"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Retry    RetryConfig    `yaml:"retry"`
	Circuit  CircuitConfig  `yaml:"circuit"`
	S3       s3.Config      `yaml:"s3"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	DefaultTimeout time.Duration        `yaml:"default_timeout"`
	MemoryPressure MemoryPressureConfig `yaml:"memory_pressure"`
}

// MemoryPressureConfig decides when cached state is released to the garbage collector
type MemoryPressureConfig struct {
	Enabled        bool          `yaml:"enabled"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	GrowthPercent  float64       `yaml:"growth_percent"`
	HeapLimit      string        `yaml:"heap_limit"`
	GCCPUFraction  float64       `yaml:"gc_cpu_fraction"`
}

// ProviderConfig represents the connection lifecycle settings
type ProviderConfig struct {
	HoldPollInterval time.Duration `yaml:"hold_poll_interval"`
	MaxHoldWait      time.Duration `yaml:"max_hold_wait"`
}

// AdminConfig represents the admin HTTP server
type AdminConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool              `yaml:"enabled"`
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels"`
}

// RetryConfig represents retry settings for cloud API calls
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Jitter       bool          `yaml:"jitter"`
}

// CircuitConfig represents the per-endpoint circuit breakers
type CircuitConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	Timeout             time.Duration `yaml:"timeout"`
	Interval            time.Duration `yaml:"interval"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Cache: CacheConfig{
			DefaultTimeout: cache.DefaultTimeout,
			MemoryPressure: MemoryPressureConfig{
				Enabled:        true,
				SampleInterval: 30 * time.Second,
				GrowthPercent:  50,
				HeapLimit:      "",
				GCCPUFraction:  0.05,
			},
		},
		Provider: ProviderConfig{
			HoldPollInterval: time.Second,
			MaxHoldWait:      20 * time.Minute,
		},
		Admin: AdminConfig{
			Enabled:      true,
			Address:      "127.0.0.1:8081",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "cloudspi",
			Labels:    map[string]string{},
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
		Circuit: CircuitConfig{
			Enabled:             true,
			ConsecutiveFailures: 5,
			Timeout:             30 * time.Second,
			Interval:            time.Minute,
		},
		S3: *s3.NewDefaultConfig(),
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithContext("file", filename).
			WithCause(err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithContext("file", filename).
			WithCause(err)
	}

	return nil
}

// LoadFromEnv applies CLOUDSPI_* environment overrides. Malformed values are reported
// rather than ignored.
func (c *Configuration) LoadFromEnv() error {
	env := envReader{}

	// Global settings
	env.str("LOG_LEVEL", &c.Global.LogLevel)
	env.str("LOG_FORMAT", &c.Global.LogFormat)
	env.str("LOG_FILE", &c.Global.LogFile)

	// Cache settings
	env.duration("CACHE_TIMEOUT", &c.Cache.DefaultTimeout)
	env.boolean("MEMORY_PRESSURE_ENABLED", &c.Cache.MemoryPressure.Enabled)
	env.str("MEMORY_HEAP_LIMIT", &c.Cache.MemoryPressure.HeapLimit)

	// Provider settings
	env.duration("HOLD_POLL_INTERVAL", &c.Provider.HoldPollInterval)
	env.duration("MAX_HOLD_WAIT", &c.Provider.MaxHoldWait)

	// Admin and metrics
	env.boolean("ADMIN_ENABLED", &c.Admin.Enabled)
	env.str("ADMIN_ADDRESS", &c.Admin.Address)
	env.boolean("METRICS_ENABLED", &c.Metrics.Enabled)

	// Retry settings
	env.integer("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	env.boolean("CIRCUIT_ENABLED", &c.Circuit.Enabled)

	// S3 driver
	env.str("S3_DEFAULT_REGION", &c.S3.DefaultRegion)
	env.boolean("S3_FORCE_PATH_STYLE", &c.S3.ForcePathStyle)

	if len(env.invalid) > 0 {
		return errors.NewError(errors.ErrCodeConfigLoad, "invalid environment overrides").
			WithComponent("config").
			WithDetail("variables", env.invalid)
	}
	return nil
}

type envReader struct {
	invalid []string
}

func (e *envReader) lookup(name string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	return strings.TrimSpace(val), ok && strings.TrimSpace(val) != ""
}

func (e *envReader) str(name string, dst *string) {
	if val, ok := e.lookup(name); ok {
		*dst = val
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if val, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.invalid = append(e.invalid, EnvPrefix+name)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(name string, dst *int) {
	if val, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			e.invalid = append(e.invalid, EnvPrefix+name)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if val, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.invalid = append(e.invalid, EnvPrefix+name)
			return
		}
		*dst = d
	}
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigSave, "failed to marshal config").
			WithComponent("config").
			WithCause(err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.NewError(errors.ErrCodeConfigSave, "failed to create config directory").
			WithComponent("config").
			WithContext("file", filename).
			WithCause(err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.NewError(errors.ErrCodeConfigSave, "failed to write config file").
			WithComponent("config").
			WithContext("file", filename).
			WithCause(err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	var problems []string

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log_level: %s", c.Global.LogLevel))
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log_format: %s", c.Global.LogFormat))
	}
	if c.Cache.DefaultTimeout < 0 {
		problems = append(problems, "cache default_timeout cannot be negative")
	}
	if c.Cache.DefaultTimeout > cache.HardCeiling {
		problems = append(problems, fmt.Sprintf("cache default_timeout cannot exceed %s", cache.HardCeiling))
	}
	if _, err := c.HeapLimitBytes(); err != nil {
		problems = append(problems, fmt.Sprintf("invalid memory heap_limit: %s", c.Cache.MemoryPressure.HeapLimit))
	}
	if c.Provider.HoldPollInterval <= 0 {
		problems = append(problems, "provider hold_poll_interval must be greater than 0")
	}
	if c.Provider.MaxHoldWait < c.Provider.HoldPollInterval {
		problems = append(problems, "provider max_hold_wait must not be shorter than hold_poll_interval")
	}
	if c.Admin.Enabled && c.Admin.Address == "" {
		problems = append(problems, "admin address is required when the admin server is enabled")
	}
	if c.Retry.MaxAttempts <= 0 {
		problems = append(problems, "retry max_attempts must be greater than 0")
	}
	if c.Circuit.Enabled && c.Circuit.ConsecutiveFailures == 0 {
		problems = append(problems, "circuit consecutive_failures must be greater than 0")
	}
	if c.S3.MaxRetries < 0 {
		problems = append(problems, "s3 max_retries cannot be negative")
	}

	if len(problems) > 0 {
		return errors.NewError(errors.ErrCodeConfigValidation, strings.Join(problems, "; ")).
			WithComponent("config").
			WithOperation("Validate")
	}
	return nil
}

// HeapLimitBytes parses the memory pressure heap limit; empty means no limit.
func (c *Configuration) HeapLimitBytes() (uint64, error) {
	limit := strings.TrimSpace(c.Cache.MemoryPressure.HeapLimit)
	if limit == "" {
		return 0, nil
	}
	return humanize.ParseBytes(limit)
}

// NewLogger builds the root logger from the global section.
func (c *Configuration) NewLogger() (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(c.Global.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := utils.ParseLogFormat(c.Global.LogFormat)
	if err != nil {
		return nil, err
	}

	loggerConfig := utils.DefaultStructuredLoggerConfig()
	loggerConfig.Level = level
	loggerConfig.Format = format
	if c.Global.LogFile != "" {
		f, err := os.OpenFile(c.Global.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		loggerConfig.Output = f
	}
	return utils.NewStructuredLogger(loggerConfig)
}

// CacheOptions returns the options every cache created by the process should use.
func (c *Configuration) CacheOptions(recorder cache.Recorder, logger *utils.StructuredLogger) []cache.Option {
	opts := []cache.Option{cache.WithTimeout(c.Cache.DefaultTimeout)}
	if recorder != nil {
		opts = append(opts, cache.WithRecorder(recorder))
	}
	if logger != nil {
		opts = append(opts, cache.WithLogger(logger))
	}
	return opts
}

// MonitorConfig returns the memory monitor settings of the memory pressure section.
func (c *Configuration) MonitorConfig(logger *utils.StructuredLogger) (memmon.MonitorConfig, error) {
	limit, err := c.HeapLimitBytes()
	if err != nil {
		return memmon.MonitorConfig{}, errors.NewError(errors.ErrCodeInvalidConfig, "invalid heap limit").
			WithComponent("config").
			WithCause(err)
	}

	config := memmon.DefaultMonitorConfig()
	config.SampleInterval = c.Cache.MemoryPressure.SampleInterval
	config.AlertThreshold = c.Cache.MemoryPressure.GrowthPercent
	config.HeapLimit = limit
	config.GCCPUThreshold = c.Cache.MemoryPressure.GCCPUFraction
	config.Logger = logger
	return config, nil
}

// ProviderConfig returns the connection lifecycle settings.
func (c *Configuration) ProviderConfig(recorder provider.Recorder, logger *utils.StructuredLogger) provider.Config {
	return provider.Config{
		HoldPollInterval: c.Provider.HoldPollInterval,
		MaxHoldWait:      c.Provider.MaxHoldWait,
		Recorder:         recorder,
		Logger:           logger,
	}
}

// MetricsConfig returns the collector settings.
func (c *Configuration) MetricsConfig() *metrics.Config {
	labels := make(map[string]string, len(c.Metrics.Labels))
	for k, v := range c.Metrics.Labels {
		labels[k] = v
	}
	return &metrics.Config{
		Enabled:   c.Metrics.Enabled,
		Path:      "/metrics",
		Namespace: c.Metrics.Namespace,
		Labels:    labels,
	}
}

// RetryConfig returns the retry settings for cloud API calls.
func (c *Configuration) RetryConfig() retry.Config {
	config := retry.DefaultConfig()
	config.MaxAttempts = c.Retry.MaxAttempts
	config.InitialDelay = c.Retry.InitialDelay
	config.MaxDelay = c.Retry.MaxDelay
	config.Jitter = c.Retry.Jitter
	return config
}

// CircuitManager returns the endpoint breakers, or nil when they are disabled.
func (c *Configuration) CircuitManager(logger *utils.StructuredLogger) *circuit.Manager {
	if !c.Circuit.Enabled {
		return nil
	}
	config := circuit.DefaultConfig()
	config.ConsecutiveFailures = c.Circuit.ConsecutiveFailures
	config.Timeout = c.Circuit.Timeout
	config.Interval = c.Circuit.Interval
	if logger != nil {
		config.OnStateChange = func(endpoint string, from, to circuit.State) {
			logger.Warn("Circuit breaker state changed", map[string]interface{}{
				"endpoint": endpoint,
				"from":     from.String(),
				"to":       to.String(),
			})
		}
	}
	return circuit.NewManager(config)
}
