package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// raster pipeline.
type Metrics struct {
	TilesRequested  prometheus.Counter
	TilesCached     prometheus.Counter
	RetrievalErrors prometheus.Counter
	PipelineRunning prometheus.Gauge

	RastersWritten *prometheus.CounterVec // labels: stage={mosaic,index,aggregate,result}
	StageErrors    *prometheus.CounterVec // labels: stage
	StageDuration  *prometheus.HistogramVec

	CatalogRequests *prometheus.CounterVec // labels: outcome={success,error,empty}
	CatalogCache    *prometheus.CounterVec // labels: result={hit,miss}

	NotifyEvents  prometheus.Counter
	NotifyEnabled prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.TilesRequested,
		m.TilesCached,
		m.RetrievalErrors,
		m.PipelineRunning,
		m.RastersWritten,
		m.StageErrors,
		m.StageDuration,
		m.CatalogRequests,
		m.CatalogCache,
		m.NotifyEvents,
		m.NotifyEnabled,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		TilesRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rasterflow",
			Name:      "tiles_requested_total",
			Help:      "Imagery retrievals issued for (tile, date) units.",
		}),
		TilesCached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rasterflow",
			Name:      "tiles_cached_total",
			Help:      "Units skipped because a prior download was found on disk.",
		}),
		RetrievalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rasterflow",
			Name:      "retrieval_errors_total",
			Help:      "Failed imagery retrievals.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rasterflow",
			Name:      "pipeline_running",
			Help:      "1 while a pipeline pass is active, 0 otherwise.",
		}),
		RastersWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rasterflow",
			Name:      "rasters_written_total",
			Help:      "Raster files written, by stage.",
		}, []string{"stage"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rasterflow",
			Name:      "stage_errors_total",
			Help:      "Per-unit failures that were skipped, by stage.",
		}, []string{"stage"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rasterflow",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one complete stage pass.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1200},
		}, []string{"stage"}),
		CatalogRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rasterflow",
			Name:      "catalog_requests_total",
			Help:      "Catalog search requests by outcome.",
		}, []string{"outcome"}),
		CatalogCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rasterflow",
			Name:      "catalog_cache_total",
			Help:      "Catalog cache lookups by result.",
		}, []string{"result"}),
		NotifyEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rasterflow",
			Name:      "notify_events_total",
			Help:      "Layer events published to the notification sink.",
		}),
		NotifyEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rasterflow",
			Name:      "notify_enabled",
			Help:      "1 when layer notification is enabled, 0 otherwise.",
		}),
	}
}
