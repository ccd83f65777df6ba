package temporal

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts history writes. It implements prometheus.Collector; a nil
// *Metrics records nothing.
type Metrics struct {
	recordsWritten  *prometheus.CounterVec
	writesRejected  *prometheus.CounterVec
	archiveDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		recordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "temporal_history_records_written_total",
			Help: "History records inserted, by history and lifecycle event. Includes writes later rolled back with their transaction.",
		}, []string{"history", "event"}),
		writesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "temporal_history_writes_rejected_total",
			Help: "Updates and deletes refused on history tables.",
		}, []string{"history", "operation"}),
		archiveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "temporal_archive_duration_seconds",
			Help:    "Time spent writing history records for one statement.",
			Buckets: prometheus.DefBuckets,
		}, []string{"history"}),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.recordsWritten.Describe(ch)
	m.writesRejected.Describe(ch)
	m.archiveDuration.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.recordsWritten.Collect(ch)
	m.writesRejected.Collect(ch)
	m.archiveDuration.Collect(ch)
}

func (m *Metrics) recordWritten(history string, event Event, rows int, took time.Duration) {
	if m == nil {
		return
	}
	m.recordsWritten.WithLabelValues(history, event.String()).Add(float64(rows))
	m.archiveDuration.WithLabelValues(history).Observe(took.Seconds())
}

func (m *Metrics) writeRejected(history, operation string) {
	if m == nil {
		return
	}
	m.writesRejected.WithLabelValues(history, operation).Inc()
}
