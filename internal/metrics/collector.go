// Package metrics implements cuba's optional Prometheus exposition: a
// Collector that turns per-run summaries into counters and a duration
// histogram scraped over HTTP, gated by Configuration.Monitoring.Metrics.Enabled (spec §9
// supplemented feature, modeled on the teacher's Collector lifecycle).
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the metrics collector.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Collector aggregates per-run counters into Prometheus metrics and serves
// them over HTTP when enabled. A disabled Collector is a valid zero-cost
// no-op so callers never need to branch on Config.Enabled themselves.
type Collector struct {
	config *Config

	registry *prometheus.Registry
	server   *http.Server

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	filesCompleted *prometheus.CounterVec
	filesFailed    *prometheus.CounterVec
	bytesCompleted *prometheus.CounterVec
}

// NewCollector creates a Collector. A nil or disabled config yields a
// no-op Collector whose Record/Start methods do nothing.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{}
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	registry := prometheus.NewRegistry()
	c := &Collector{config: config, registry: registry}

	c.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cuba",
		Name:      "runs_total",
		Help:      "Total number of completed operation runs.",
	}, []string{"profile", "operation", "status"})

	c.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cuba",
		Name:      "run_duration_seconds",
		Help:      "Duration of a completed operation run in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~6.8min
	}, []string{"profile", "operation"})

	c.filesCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cuba",
		Name:      "files_completed_total",
		Help:      "Total number of files successfully processed.",
	}, []string{"profile", "operation"})

	c.filesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cuba",
		Name:      "files_failed_total",
		Help:      "Total number of files that failed processing.",
	}, []string{"profile", "operation"})

	c.bytesCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cuba",
		Name:      "bytes_completed_total",
		Help:      "Total number of plaintext bytes successfully processed.",
	}, []string{"profile", "operation"})

	for _, m := range []prometheus.Collector{c.runsTotal, c.runDuration, c.filesCompleted, c.filesFailed, c.bytesCompleted} {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return c, nil
}

// RecordRun records one completed run's summary against its profile and
// operation name. Call once per ops.Backup/Restore/Verify/Clean return.
func (c *Collector) RecordRun(profile, operation string, duration time.Duration, success bool, summary RunSummary) {
	if c == nil || !c.config.Enabled {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}

	c.runsTotal.WithLabelValues(profile, operation, status).Inc()
	c.runDuration.WithLabelValues(profile, operation).Observe(duration.Seconds())
	c.filesCompleted.WithLabelValues(profile, operation).Add(float64(summary.FilesCompleted))
	c.filesFailed.WithLabelValues(profile, operation).Add(float64(summary.FilesFailed))
	c.bytesCompleted.WithLabelValues(profile, operation).Add(float64(summary.BytesCompleted))
}

// RunSummary is the subset of run.Snapshot the collector needs, named
// locally so this package doesn't import internal/run for three int64s.
type RunSummary struct {
	FilesCompleted int64
	FilesFailed    int64
	BytesCompleted int64
}

// Start begins serving the metrics endpoint. A no-op on a disabled
// Collector.
func (c *Collector) Start(_ context.Context) error {
	if c == nil || !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts down the metrics HTTP server, if one was started.
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
