package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMiddlewareNormalizesJobPaths(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/jobs/def", nil))

	out := scrape(t, m.Handler())
	if !strings.Contains(out, `idp_http_requests_total{method="GET",path="/v1/jobs/{job_id}",service="api",status="404"} 2`) {
		t.Fatalf("expected normalized path counter, got:\n%s", out)
	}
}

func TestRecordSearchCountsRerankOutcome(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.RecordSearch(SearchObservation{Endpoint: "search", Mode: "hybrid", Candidates: 12, RerankRequested: true, Duration: 10 * time.Millisecond})
	m.RecordSearch(SearchObservation{Endpoint: "search", Mode: "hybrid", Candidates: 12, RerankRequested: true, RerankUsed: true, Duration: 10 * time.Millisecond})
	m.RecordSearch(SearchObservation{Endpoint: "search", Mode: "dense", Candidates: 5, Duration: 10 * time.Millisecond})

	out := scrape(t, m.Handler())
	for _, want := range []string{
		`idp_search_rerank_total{outcome="fallback",service="api"} 1`,
		`idp_search_rerank_total{outcome="used",service="api"} 1`,
		`idp_search_requests_total{endpoint="search",mode="hybrid",service="api"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestWorkerMetrics(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartJob(time.Now().Add(-2 * time.Second))
	m.FinishJob(time.Second, nil)
	m.RecordRetry()

	out := scrape(t, m.Handler())
	if !strings.Contains(out, `idp_worker_job_process_total{service="worker",status="success"} 1`) ||
		!strings.Contains(out, `idp_worker_job_retry_total{service="worker"} 1`) {
		t.Fatalf("unexpected worker metrics:\n%s", out)
	}
}
