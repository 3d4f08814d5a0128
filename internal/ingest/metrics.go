package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the ingestion pipeline.
type Metrics struct {
	IngestionsTotal   *prometheus.CounterVec
	RowsInsertedTotal prometheus.Counter
	IngestDuration    prometheus.Histogram
}

// NewMetrics creates and registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IngestionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestions_total",
				Help: "Completed ingestion runs by outcome (success, no_file, decode_error, validation_error, duplicate_key, persistence_error).",
			},
			[]string{"outcome"},
		),
		RowsInsertedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rows_inserted_total",
				Help: "Total records persisted across all successful ingestions.",
			},
		),
		IngestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_duration_seconds",
				Help:    "End-to-end ingestion run duration in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
	}
}

// observe records one completed run. Safe to call on a nil receiver so the
// pipeline can run without metrics in tests.
func (m *Metrics) observe(outcome string, inserted int, d time.Duration) {
	if m == nil {
		return
	}
	m.IngestionsTotal.WithLabelValues(outcome).Inc()
	if inserted > 0 {
		m.RowsInsertedTotal.Add(float64(inserted))
	}
	m.IngestDuration.Observe(d.Seconds())
}
