// Package metrics exposes Prometheus instruments for migration jobs.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	jobsSubmitted *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	rows          *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	batchLatency  *prometheus.HistogramVec
	jobDuration   *prometheus.HistogramVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		jobsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "migration",
			Name:      "jobs_submitted_total",
			Help:      "Total number of migration submissions.",
		}, []string{"entity", "result"}),
		jobsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "migration",
			Name:      "jobs_finished_total",
			Help:      "Total number of migration jobs that reached a terminal status.",
		}, []string{"entity", "status"}),
		rows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "migration",
			Name:      "rows_total",
			Help:      "Rows processed by outcome.",
		}, []string{"entity", "outcome"}),
		jobsRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "migration",
			Name:      "jobs_running",
			Help:      "Jobs currently being processed by this instance.",
		}),
		batchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "migration",
			Name:      "batch_duration_seconds",
			Help:      "Time spent processing one batch of rows.",
			Buckets: []float64{
				0.01, 0.05, 0.1,
				0.25, 0.5, 1,
				2.5, 5, 10, 30,
			},
		}, []string{"entity"}),
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "migration",
			Name:      "job_duration_seconds",
			Help:      "Wall time from claim to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"entity", "status"}),
	}
})

func get() *metrics {
	return metricsSingleton()
}

func RecordSubmit(entity, result string) {
	get().jobsSubmitted.WithLabelValues(entity, result).Inc()
}

func JobStarted() {
	get().jobsRunning.Inc()
}

func JobFinished(entity, status string, elapsed time.Duration) {
	m := get()
	m.jobsRunning.Dec()
	m.jobsFinished.WithLabelValues(entity, status).Inc()
	m.jobDuration.WithLabelValues(entity, status).Observe(elapsed.Seconds())
}

// RecordBatch adds the per-outcome row deltas of one batch.
func RecordBatch(entity string, inserted, updated, skipped, errored int, elapsed time.Duration) {
	m := get()
	m.batchLatency.WithLabelValues(entity).Observe(elapsed.Seconds())
	for outcome, n := range map[string]int{"inserted": inserted, "updated": updated, "skipped": skipped, "error": errored} {
		if n > 0 {
			m.rows.WithLabelValues(entity, outcome).Add(float64(n))
		}
	}
}

func Handler() http.Handler {
	get()
	return promhttp.Handler()
}
