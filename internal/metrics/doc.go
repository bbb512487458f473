/*
Package metrics exports cache, provider and cloud API metrics to Prometheus.

# Overview

A single Collector owns a private Prometheus registry and implements the recorder interfaces
of the cache and provider packages, so both can be wired to it directly:

	collector, err := metrics.NewCollector(metrics.DefaultConfig())
	if err != nil {
		log.Fatal(err)
	}

	clients, err := cache.GetSingleton[*s3.Client](nil, owner, "clients",
		cache.LevelRegionAccount, cache.WithRecorder(collector))

	p := provider.New("aws", provider.Config{Recorder: collector})

# Exported Metrics

	<ns>_cache_requests_total{cache,result}             hit or miss per lookup
	<ns>_cache_clears_total{cache,reason}               manual, invalidate, entry_expired,
	                                                    ceiling, memory_pressure, reset
	<ns>_provider_holds{provider}                       outstanding holds
	<ns>_provider_close_pending{provider}               1 while a close waits for holds
	<ns>_provider_credential_wipes_total{provider,forced}
	<ns>_operations_total{operation,status}             cloud API calls
	<ns>_operation_duration_seconds{operation}
	<ns>_errors_total{operation,code}                   by CloudError code
	<ns>_memory_alerts_total{type}

# Serving

Handler returns the exposition handler for mounting on an existing mux; the admin API mounts it
at /metrics. Start serves it on Config.Port instead, until ctx is done or Stop is called.

A disabled collector (Config.Enabled false) accepts every call and records nothing.
*/
package metrics
