package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agrodecision"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Cache-first fetcher.
	FetchOutcomes  *prometheus.CounterVec // labels: outcome={hit,cached,fallback}
	CacheEntries   prometheus.Gauge
	CacheEvictions prometheus.Counter

	// Data acquisition.
	AcquireOutcomes  *prometheus.CounterVec   // labels: kind, origin={cache,network,synthetic,miss}
	UpstreamRequests *prometheus.CounterVec   // labels: source, outcome={success,error}
	UpstreamDuration *prometheus.HistogramVec // labels: source
	GeocodeCache     *prometheus.CounterVec   // labels: result={hit,miss}

	// Connectivity and background sync.
	Online            prometheus.Gauge
	SyncRegistrations *prometheus.CounterVec // labels: result={queued,coalesced}
	SyncReplayed      prometheus.Counter
	SyncFailed        prometheus.Counter
	SyncDropped       prometheus.Counter
	SyncPending       prometheus.Gauge
	SyncRunning       prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Cache-first fetches by outcome.",
		}, []string{"outcome"}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Resources currently held in the cache.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Resources evicted for size or expired by TTL.",
		}),
		AcquireOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_total",
			Help:      "Data acquisitions by kind and origin of the returned value.",
		}, []string{"kind", "origin"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream API requests by source and outcome.",
		}, []string{"source", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Upstream API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Reverse geocoding cache lookups by result.",
		}, []string{"result"}),
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when upstreams are reachable, 0 when offline.",
		}),
		SyncRegistrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_registrations_total",
			Help:      "Background sync registrations by result.",
		}, []string{"result"}),
		SyncReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_replayed_total",
			Help:      "Pending items replayed and removed from the queue.",
		}),
		SyncFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failed_total",
			Help:      "Failed replay attempts.",
		}),
		SyncDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_dropped_total",
			Help:      "Pending items dropped after exhausting their replay attempts.",
		}),
		SyncPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_pending",
			Help:      "Items waiting in the pending sync queue.",
		}),
		SyncRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_running",
			Help:      "1 while the background sync loop is active, 0 when shut down.",
		}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchOutcomes,
		m.CacheEntries,
		m.CacheEvictions,
		m.AcquireOutcomes,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.GeocodeCache,
		m.Online,
		m.SyncRegistrations,
		m.SyncReplayed,
		m.SyncFailed,
		m.SyncDropped,
		m.SyncPending,
		m.SyncRunning,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// ObserveUpstream records one upstream request to source that started at
// start and finished with err.
func (m *Metrics) ObserveUpstream(source string, start time.Time, err error) {
	m.UpstreamDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.UpstreamRequests.WithLabelValues(source, outcome).Inc()
}
