package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPServerMetrics covers the API process: transport counters plus the job,
// retrieval and reindex outcomes the handlers report.
type HTTPServerMetrics struct {
	registry

	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	inFlight   prometheus.Gauge
	submitted  *prometheus.CounterVec
	searches   *prometheus.CounterVec
	candidates *prometheus.HistogramVec
	searchTime *prometheus.HistogramVec
	rerank     *prometheus.CounterVec
	answerLLM  *prometheus.CounterVec
	reindexed  prometheus.Counter
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	r := newRegistry(service).withRuntime()
	f := r.factory
	return &HTTPServerMetrics{
		registry: r,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total HTTP requests processed.",
		}, []string{"method", "path", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "in_flight_requests",
			Help: "Number of in-flight HTTP requests.",
		}),
		submitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "submitted_total",
			Help: "Jobs accepted by requested route and input type.",
		}, []string{"route_request", "input_type"}),
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "search", Name: "requests_total",
			Help: "Successful retrieval requests by endpoint and mode.",
		}, []string{"endpoint", "mode"}),
		candidates: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "search", Name: "candidates",
			Help:    "Candidates considered per retrieval request.",
			Buckets: []float64{0, 1, 5, 10, 20, 40, 60, 100},
		}, []string{"endpoint"}),
		searchTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "search", Name: "duration_seconds",
			Help: "Retrieval duration in seconds.", Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		rerank: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "search", Name: "rerank_total",
			Help: "Rerank attempts by outcome (used, fallback).",
		}, []string{"outcome"}),
		answerLLM: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "answer", Name: "llm_total",
			Help: "Answer generations by outcome (used, fallback).",
		}, []string{"outcome"}),
		reindexed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reindex", Name: "indexed_chunks_total",
			Help: "Chunks written to the keyword index by reindex runs.",
		}),
	}
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		next.ServeHTTP(sw, r)

		path := routeLabel(r.URL.Path)
		m.requests.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		m.latency.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routeLabel folds job ids out of the path to bound label cardinality.
func routeLabel(path string) string {
	if id, ok := strings.CutPrefix(path, "/v1/jobs/"); ok && id != "upload" {
		return "/v1/jobs/{job_id}"
	}
	return path
}

func (m *HTTPServerMetrics) RecordJobSubmitted(routeRequest, inputType string) {
	m.submitted.WithLabelValues(routeRequest, inputType).Inc()
}

// SearchObservation describes one finished retrieval request.
type SearchObservation struct {
	Endpoint        string
	Mode            string
	Candidates      int
	RerankRequested bool
	RerankUsed      bool
	Duration        time.Duration
}

func (m *HTTPServerMetrics) RecordSearch(obs SearchObservation) {
	mode := obs.Mode
	if mode == "" {
		mode = "unknown"
	}
	m.searches.WithLabelValues(obs.Endpoint, mode).Inc()
	m.candidates.WithLabelValues(obs.Endpoint).Observe(float64(obs.Candidates))
	m.searchTime.WithLabelValues(obs.Endpoint).Observe(obs.Duration.Seconds())

	if obs.RerankUsed {
		m.rerank.WithLabelValues("used").Inc()
	} else if obs.RerankRequested {
		m.rerank.WithLabelValues("fallback").Inc()
	}
}

func (m *HTTPServerMetrics) RecordAnswerLLM(used bool) {
	m.answerLLM.WithLabelValues(outcome(used)).Inc()
}

func (m *HTTPServerMetrics) RecordReindex(indexed int) {
	if indexed > 0 {
		m.reindexed.Add(float64(indexed))
	}
}

func outcome(used bool) string {
	if used {
		return "used"
	}
	return "fallback"
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach Flush and Hijack underneath.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
