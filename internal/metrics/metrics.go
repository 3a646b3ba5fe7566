// Package metrics provides Prometheus metrics for the datalogger pipeline
// and dataset server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
)

const namespace = "biochar"

// Metrics holds all Prometheus metrics. Each instance registers on its own
// registry so tests and binaries never share global state.
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsProcessed *prometheus.CounterVec
	RunsSkipped   *prometheus.CounterVec
	RunsFailed    *prometheus.CounterVec

	// Input metrics
	LoggerFilesMissing *prometheus.CounterVec
	RowsDropped        *prometheus.CounterVec

	// Timing metrics
	StageDuration *prometheus.HistogramVec

	// Output metrics
	ArchiveRows  *prometheus.GaugeVec
	ArchiveBytes *prometheus.GaugeVec

	// Error metrics
	StorageErrors  prometheus.Counter
	MetadataErrors prometheus.Counter
	AuditErrors    prometheus.Counter

	// Cache metrics
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	ArchiveReads      *prometheus.CounterVec
	ArchiveReadSecond *prometheus.HistogramVec
}

// New creates metrics registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_processed_total",
				Help:      "Total number of years processed and published",
			},
			[]string{"year"},
		),
		RunsSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_skipped_total",
				Help:      "Total number of years skipped (already published)",
			},
			[]string{"year"},
		),
		RunsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_failed_total",
				Help:      "Total number of years that failed processing",
			},
			[]string{"year"},
		),
		LoggerFilesMissing: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logger_files_missing_total",
				Help:      "Logger files absent when reading a year",
			},
			[]string{"year", "logger"},
		),
		RowsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_dropped_total",
				Help:      "Raw rows dropped while reading logger files",
			},
			[]string{"year", "reason"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"stage"},
		),
		ArchiveRows: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "archive_rows",
				Help:      "Rows in the last published archive",
			},
			[]string{"year", "granularity"},
		),
		ArchiveBytes: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "archive_bytes",
				Help:      "Size of the last published archive in bytes",
			},
			[]string{"year", "granularity"},
		),
		StorageErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Total number of storage publish errors",
		}),
		MetadataErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_errors_total",
			Help:      "Total number of metadata catalog errors",
		}),
		AuditErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_errors_total",
			Help:      "Total number of audit emission errors",
		}),
		CacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Dataset cache hits",
			},
			[]string{"granularity"},
		),
		CacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Dataset cache misses",
			},
			[]string{"granularity"},
		),
		ArchiveReads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_reads_total",
				Help:      "Archives decompressed and parsed",
			},
			[]string{"granularity"},
		),
		ArchiveReadSecond: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "archive_read_duration_seconds",
				Help:      "Time to read and decode an archive",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
			},
			[]string{"granularity"},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server for Prometheus metrics scraping.
func (m *Metrics) NewServer(address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// CacheHit implements dataset.Observer.
func (m *Metrics) CacheHit(g aggregate.Granularity) {
	m.CacheHits.WithLabelValues(string(g)).Inc()
}

// CacheMiss implements dataset.Observer.
func (m *Metrics) CacheMiss(g aggregate.Granularity) {
	m.CacheMisses.WithLabelValues(string(g)).Inc()
}

// ArchiveRead implements dataset.Observer.
func (m *Metrics) ArchiveRead(g aggregate.Granularity, d time.Duration) {
	m.ArchiveReads.WithLabelValues(string(g)).Inc()
	m.ArchiveReadSecond.WithLabelValues(string(g)).Observe(d.Seconds())
}
