package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type WorkerMetrics struct {
	registry

	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	queueLag  prometheus.Histogram
	retries   prometheus.Counter
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	r := newRegistry(service).withRuntime()
	f := r.factory
	return &WorkerMetrics{
		registry: r,
		processed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "job_process_total",
			Help: "Total processed jobs by status.",
		}, []string{"status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "worker", Name: "job_process_duration_seconds",
			Help:    "Job processing duration in seconds by status.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "job_process_in_flight",
			Help: "Number of in-flight jobs.",
		}),
		queueLag: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "worker", Name: "queue_lag_seconds",
			Help:    "Delay between job enqueue and processing start.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "job_retry_total",
			Help: "Collaborator calls and job attempts that were retried.",
		}),
	}
}

// StartJob marks a job in flight and records how long it waited in the
// queue. A zero enqueuedAt skips the lag sample.
func (m *WorkerMetrics) StartJob(enqueuedAt time.Time) {
	m.inFlight.Inc()
	if enqueuedAt.IsZero() {
		return
	}
	if lag := time.Since(enqueuedAt); lag >= 0 {
		m.queueLag.Observe(lag.Seconds())
	}
}

func (m *WorkerMetrics) FinishJob(duration time.Duration, err error) {
	m.inFlight.Dec()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.processed.WithLabelValues(status).Inc()
	m.duration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) RecordRetry() {
	m.retries.Inc()
}
