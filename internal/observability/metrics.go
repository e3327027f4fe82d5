package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "av_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the sync service.
type Metrics struct {
	SyncRunning  prometheus.Gauge
	SyncRuns     *prometheus.CounterVec   // labels: dataset, status={completed,partial,failed}
	SyncDuration *prometheus.HistogramVec // labels: dataset

	// Ingest and normalization metrics.
	RecordsFetched    *prometheus.CounterVec // labels: dataset
	RecordsNormalized *prometheus.CounterVec // labels: dataset
	DuplicatesSkipped *prometheus.CounterVec // labels: dataset
	DateFallbacks     *prometheus.CounterVec // labels: dataset

	// Write metrics.
	RecordsWritten *prometheus.CounterVec // labels: outcome={created,updated,skipped}
	BatchErrors    prometheus.Counter
	BatchSize      prometheus.Histogram

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: kind={city,street}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: cache={city,street}, result={hit,miss}
	GeocodeTiers       *prometheus.CounterVec   // labels: tier={real,street,city,state}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: kind={city,street}
	GeocodeEnabled     prometheus.Gauge

	// Event publishing metrics.
	EventsPublished prometheus.Counter
	PublishErrors   prometheus.Counter
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SyncRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_running",
			Help:      "1 while a sync run is in progress, 0 otherwise.",
		}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Per-dataset sync outcomes.",
		}, []string{"dataset", "status"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of one dataset sync from fetch to sync log.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"dataset"}),
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "CSV rows fetched from source datasets.",
		}, []string{"dataset"}),
		RecordsNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_normalized_total",
			Help:      "Rows normalized into incidents.",
		}, []string{"dataset"}),
		DuplicatesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_skipped_total",
			Help:      "Rows skipped because their incident was already reported in the run.",
		}, []string{"dataset"}),
		DateFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "date_fallbacks_total",
			Help:      "Incidents whose occurrence time fell back to the ingestion time.",
		}, []string{"dataset"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Incidents written to storage by outcome.",
		}, []string{"outcome"}),
		BatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_errors_total",
			Help:      "Upsert batches that failed.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of incidents per upsert batch.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		GeocodeTiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_tier_total",
			Help:      "Resolved incident locations by accuracy tier.",
		}, []string{"tier"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when a geocoding provider is configured, 0 otherwise.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Incident events written to Kafka.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed incident event publishes.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SyncRunning,
		m.SyncRuns,
		m.SyncDuration,
		m.RecordsFetched,
		m.RecordsNormalized,
		m.DuplicatesSkipped,
		m.DateFallbacks,
		m.RecordsWritten,
		m.BatchErrors,
		m.BatchSize,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeTiers,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.EventsPublished,
		m.PublishErrors,
	}
}
