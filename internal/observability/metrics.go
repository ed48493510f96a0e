package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hydromet_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion.
type Metrics struct {
	PullsTotal      *prometheus.CounterVec // labels: source, outcome={success,partial,failed,skipped}
	PointsStored    *prometheus.CounterVec // labels: source
	RowsDropped     *prometheus.CounterVec // labels: source, reason={parse,timestamp,cutoff,storage}
	FetchRequests   *prometheus.CounterVec // labels: source, outcome={success,error,rate_limited,circuit_open}
	RateLimited     *prometheus.CounterVec // labels: source
	StoreRetries    prometheus.Counter
	PullDuration    *prometheus.HistogramVec // labels: source
	RunnerRunning   prometheus.Gauge
	MirrorErrors    *prometheus.CounterVec // labels: sink
	ReportsServed   *prometheus.CounterVec // labels: tier
	ExportsWritten  prometheus.Counter
	LastRunUnixTime prometheus.Gauge

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward,reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward,reverse}
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PullsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulls_total",
			Help:      "Connector pulls by source and outcome.",
		}, []string{"source", "outcome"}),
		PointsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_stored_total",
			Help:      "Canonical points upserted into the primary store.",
		}, []string{"source"}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Rows or units dropped during processing, by reason.",
		}, []string{"source", "reason"}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Upstream HTTP requests by source and outcome.",
		}, []string{"source", "outcome"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "HTTP 429 responses received from upstream APIs.",
		}, []string{"source"}),
		StoreRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Per-key upsert retries after a failed batch write.",
		}),
		PullDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pull_duration_seconds",
			Help:      "Duration of a complete connector pull.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"source"}),
		RunnerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runner_running",
			Help:      "1 while an ingestion run is in progress.",
		}),
		MirrorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_errors_total",
			Help:      "Failed writes to mirror sinks.",
		}, []string{"sink"}),
		ReportsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Reports built, by the window tier that produced them.",
		}, []string{"tier"}),
		ExportsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_written_total",
			Help:      "CSV export artifacts written.",
		}),
		LastRunUnixTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed ingestion run.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when station geocoding is enabled, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PullsTotal,
		m.PointsStored,
		m.RowsDropped,
		m.FetchRequests,
		m.RateLimited,
		m.StoreRetries,
		m.PullDuration,
		m.RunnerRunning,
		m.MirrorErrors,
		m.ReportsServed,
		m.ExportsWritten,
		m.LastRunUnixTime,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	}
}
