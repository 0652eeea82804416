package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "era5_anomaly"

// Metrics holds the Prometheus collectors of a run. A run is a batch job, so
// the collectors live on their own registry which is dumped to a textfile at
// the end of the run for the node exporter to pick up.
type Metrics struct {
	Registry *prometheus.Registry

	StageDuration *prometheus.HistogramVec // labels: stage
	CacheLookups  *prometheus.CounterVec   // labels: result={hit,miss}
	DownloadBytes prometheus.Counter

	GridCells       prometheus.Gauge
	PointAnomaly    *prometheus.GaugeVec // labels: location
	RecordsExported prometheus.Counter
}

// NewMetrics creates the run metrics and registers them with a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300, 1800},
		}, []string{"stage"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result.",
		}, []string{"result"}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes downloaded from the Climate Data Store.",
		}),
		GridCells: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grid_cells",
			Help:      "Number of cells in the anomaly field.",
		}),
		PointAnomaly: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "point_anomaly",
			Help:      "Anomaly at the grid cell nearest the point of interest.",
		}, []string{"location"}),
		RecordsExported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_exported_total",
			Help:      "Anomaly records sent to Victoria Metrics.",
		}),
	}

	m.Registry.MustRegister(
		m.StageDuration,
		m.CacheLookups,
		m.DownloadBytes,
		m.GridCells,
		m.PointAnomaly,
		m.RecordsExported,
	)
	return m
}

// ObserveStage records the time elapsed since start for stage.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// WriteTextfile writes the registry in the text exposition format. The file
// is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
