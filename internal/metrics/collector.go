package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geomcache/geomcache/pkg/types"
)

// Collector records cache events as Prometheus metrics. A nil *Collector
// and a disabled one accept every call and record nothing.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	writeErrors *prometheus.CounterVec
	size        *prometheus.GaugeVec
	queueDepth  prometheus.Gauge
	duration    *prometheus.HistogramVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	server *http.Server
}

var _ types.MetricsRecorder = (*Collector)(nil)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// OperationMetrics tracks timings for one tier and operation.
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Address:   ":9090",
			Path:      "/metrics",
			Namespace: "geomcache",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
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

func (c *Collector) enabled() bool {
	return c != nil && c.registry != nil
}

// Registry returns the registry holding the cache metrics, or nil when
// disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if !c.enabled() {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start serves the metrics endpoint on the configured address until Stop.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled() || c.config.Address == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)

	server := &http.Server{
		Addr:              c.config.Address,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	c.mu.Lock()
	c.server = server
	c.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	// Surface bind failures to the caller.
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop shuts the metrics server down.
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordHit counts a cache hit in tier.
func (c *Collector) RecordHit(tier string) {
	if c.enabled() {
		c.hits.WithLabelValues(tier).Inc()
	}
}

// RecordMiss counts a cache miss in tier.
func (c *Collector) RecordMiss(tier string) {
	if c.enabled() {
		c.misses.WithLabelValues(tier).Inc()
	}
}

// RecordEviction counts an entry evicted from tier.
func (c *Collector) RecordEviction(tier string) {
	if c.enabled() {
		c.evictions.WithLabelValues(tier).Inc()
	}
}

// RecordWriteError counts a failed write to tier.
func (c *Collector) RecordWriteError(tier string) {
	if c.enabled() {
		c.writeErrors.WithLabelValues(tier).Inc()
	}
}

// SetSize reports the bytes currently held by tier.
func (c *Collector) SetSize(tier string, bytes int64) {
	if c.enabled() {
		c.size.WithLabelValues(tier).Set(float64(bytes))
	}
}

// SetQueueDepth reports the number of buffers waiting to be written.
func (c *Collector) SetQueueDepth(depth int) {
	if c.enabled() {
		c.queueDepth.Set(float64(depth))
	}
}

// ObserveDuration records how long op took in tier.
func (c *Collector) ObserveDuration(tier, op string, d time.Duration) {
	if !c.enabled() {
		return
	}
	c.duration.WithLabelValues(tier, op).Observe(d.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	name := tier + "." + op
	m, ok := c.operations[name]
	if !ok {
		m = &OperationMetrics{}
		c.operations[name] = m
	}
	m.Count++
	m.TotalDuration += d
	m.MaxDuration = max(m.MaxDuration, d)
	m.LastOperation = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
}

// Operations returns a copy of the per-operation timings keyed by
// "tier.op".
func (c *Collector) Operations() map[string]OperationMetrics {
	if !c.enabled() {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for name, m := range c.operations {
		out[name] = *m
	}
	return out
}

// ResetOperations clears the per-operation timings. Prometheus series are
// cumulative and left alone.
func (c *Collector) ResetOperations() {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	c.hits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"tier"},
	)

	c.misses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"tier"},
	)

	c.evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "cache_evictions_total",
			Help:      "Total number of evicted entries",
		},
		[]string{"tier"},
	)

	c.writeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "cache_write_errors_total",
			Help:      "Total number of failed cache writes",
		},
		[]string{"tier"},
	)

	c.size = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "cache_size_bytes",
			Help:      "Current cache size in bytes",
		},
		[]string{"tier"},
	)

	c.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "cache_queue_depth",
			Help:      "Buffers waiting to be written to disk",
		},
	)

	c.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "cache_operation_duration_seconds",
			Help:      "Duration of cache operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		},
		[]string{"tier", "op"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.hits,
		c.misses,
		c.evictions,
		c.writeErrors,
		c.size,
		c.queueDepth,
		c.duration,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

type operationsReport struct {
	Since      time.Time                   `json:"since"`
	Operations map[string]OperationMetrics `json:"operations"`
	Order      []string                    `json:"order"`
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, _ *http.Request) {
	ops := c.Operations()
	report := operationsReport{Operations: ops}
	c.mu.RLock()
	report.Since = c.lastReset
	c.mu.RUnlock()

	for name := range ops {
		report.Order = append(report.Order, name)
	}
	// slowest first
	sort.Slice(report.Order, func(i, j int) bool {
		return ops[report.Order[i]].AvgDuration > ops[report.Order[j]].AvgDuration
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report) // Ignore write error for debug endpoint
}
