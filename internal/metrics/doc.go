/*
Package metrics exports cache activity as Prometheus metrics.

# Overview

Collector implements types.MetricsRecorder. Pass it to the cache tiers with
cache.WithMetrics and every hit, miss, eviction and write failure is counted
per tier.

	┌─────────────┐
	│ cache tiers │
	└──────┬──────┘
	       │ types.MetricsRecorder
	┌──────▼──────┐        ┌───────────────────┐
	│  Collector  │───────▶│  HTTP Endpoints   │
	│             │        │  /metrics         │
	│ - Counters  │        │  /debug/operations│
	│ - Gauges    │        └───────────────────┘
	│ - Histogram │
	└─────────────┘

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Address:   ":9090",
		Namespace: "geomcache",
	})
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(ctx)

	m, err := cache.NewManager(&cfg.Cache, cache.WithMetrics(collector))

# Prometheus Metrics

	<ns>_cache_hits_total{tier}
	<ns>_cache_misses_total{tier}
	<ns>_cache_evictions_total{tier}
	<ns>_cache_write_errors_total{tier}
	<ns>_cache_size_bytes{tier}
	<ns>_cache_queue_depth
	<ns>_cache_operation_duration_seconds{tier,op}

The tier label is one of memory, buffer or files.

A nil or disabled Collector accepts every call and records nothing.
*/
package metrics
