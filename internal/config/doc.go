/*
Package config loads the process configuration for services built on the cloud SPI.

Configuration starts from NewDefault, is overlaid by a YAML file and then by CLOUDSPI_*
environment variables, and is checked by Validate:

	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

# File Format

	global:
	  log_level: INFO          # TRACE, DEBUG, INFO, WARN, ERROR, FATAL
	  log_format: text         # text or json
	cache:
	  default_timeout: 1h      # 0 disables caching; at most 24h
	  memory_pressure:
	    enabled: true
	    sample_interval: 30s
	    growth_percent: 50
	    heap_limit: 1GiB       # empty for no limit
	    gc_cpu_fraction: 0.05
	provider:
	  hold_poll_interval: 1s
	  max_hold_wait: 20m
	admin:
	  enabled: true
	  address: 127.0.0.1:8081
	metrics:
	  enabled: true
	  namespace: cloudspi
	retry:
	  max_attempts: 5
	  initial_delay: 100ms
	  max_delay: 30s
	circuit:
	  enabled: true
	  consecutive_failures: 5  # endpoint failures before lookups are refused
	  timeout: 30s             # how long an open breaker refuses calls
	s3:
	  default_region: us-east-1
	  force_path_style: false  # true for MinIO and LocalStack
	  max_retries: 3

# Environment

	CLOUDSPI_LOG_LEVEL, CLOUDSPI_LOG_FORMAT, CLOUDSPI_LOG_FILE
	CLOUDSPI_CACHE_TIMEOUT, CLOUDSPI_MEMORY_PRESSURE_ENABLED, CLOUDSPI_MEMORY_HEAP_LIMIT
	CLOUDSPI_HOLD_POLL_INTERVAL, CLOUDSPI_MAX_HOLD_WAIT
	CLOUDSPI_ADMIN_ENABLED, CLOUDSPI_ADMIN_ADDRESS, CLOUDSPI_METRICS_ENABLED
	CLOUDSPI_RETRY_MAX_ATTEMPTS, CLOUDSPI_CIRCUIT_ENABLED
	CLOUDSPI_S3_DEFAULT_REGION, CLOUDSPI_S3_FORCE_PATH_STYLE

Blank variables are ignored; malformed ones make LoadFromEnv fail with CONFIG_LOAD.

The accessor methods (CacheOptions, MonitorConfig, ProviderConfig, MetricsConfig, RetryConfig,
CircuitManager, NewLogger) translate the sections into the option types of the packages they configure.
*/
package config
