package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/config"
	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
	"github.com/kirillkom/idp-pipeline/internal/observability/metrics"
)

const (
	maxUploadBytes      = 64 << 20
	maxJSONBodyBytes    = 4 << 20
	backpressureMaxWait = 250 * time.Millisecond
)

// Services groups the inbound ports the router dispatches to. Metrics is optional.
type Services struct {
	Jobs    ports.JobSubmitter
	Reader  ports.JobReader
	Search  ports.SearchService
	Answer  ports.AnswerService
	Reindex ports.KeywordReindexer
	Metrics *metrics.HTTPServerMetrics
}

type Router struct {
	cfg       config.Config
	svc       Services
	validator *requestValidator
}

func NewRouter(cfg config.Config, svc Services) (*Router, error) {
	rt := &Router{cfg: cfg, svc: svc}
	if cfg.OpenAPIValidation {
		validator, err := newRequestValidator()
		if err != nil {
			return nil, err
		}
		rt.validator = validator
	}
	return rt, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/jobs", rt.submitJob)
	mux.HandleFunc("POST /v1/jobs/upload", rt.uploadJob)
	mux.HandleFunc("GET /v1/jobs/{id}", rt.getJob)
	mux.HandleFunc("POST /v1/search", rt.search)
	mux.HandleFunc("POST /v1/answer", rt.answer)
	mux.HandleFunc("POST /v1/reindex", rt.reindex)
	if rt.svc.Metrics != nil {
		mux.Handle("GET /metrics", rt.svc.Metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.validator != nil {
		handler = rt.validator.middleware(handler)
	}
	handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, backpressureMaxWait)
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	if rt.svc.Metrics != nil {
		handler = rt.svc.Metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) submitJob(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := rt.svc.Jobs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.recordSubmitted(resp)
	writeJSON(w, http.StatusAccepted, resp)
}

func (rt *Router) uploadJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	resp, err := rt.svc.Jobs.SubmitUpload(r.Context(), header.Filename, r.FormValue("route"), file)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.recordSubmitted(resp)
	writeJSON(w, http.StatusAccepted, resp)
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return
	}
	state, err := rt.svc.Reader.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	var req domain.SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	started := time.Now()
	resp, err := rt.svc.Search.Search(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.svc.Metrics != nil {
		rt.svc.Metrics.RecordSearch(metrics.SearchObservation{
			Endpoint:        "/v1/search",
			Mode:            string(resp.Debug.Mode),
			Candidates:      resp.Debug.CandidatesN,
			RerankRequested: req.Rerank.Enabled,
			RerankUsed:      resp.Debug.RerankUsed,
			Duration:        time.Since(started),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	var req domain.AnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	started := time.Now()
	resp, err := rt.svc.Answer.Answer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.svc.Metrics != nil {
		rt.svc.Metrics.RecordSearch(metrics.SearchObservation{
			Endpoint:        "/v1/answer",
			Mode:            req.Retrieval.Mode,
			Candidates:      resp.Debug.CandidatesN,
			RerankRequested: req.Rerank.Enabled,
			RerankUsed:      resp.Debug.RerankUsed,
			Duration:        time.Since(started),
		})
		rt.svc.Metrics.RecordAnswerLLM(resp.Debug.LLMUsed)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) reindex(w http.ResponseWriter, r *http.Request) {
	report, err := rt.svc.Reindex.Rebuild(r.Context())
	if err != nil {
		var batchErr *domain.ReindexFailure
		if rt.svc.Metrics != nil && errors.As(err, &batchErr) {
			rt.svc.Metrics.RecordReindex(batchErr.Indexed)
		}
		writeError(w, err)
		return
	}
	if rt.svc.Metrics != nil {
		rt.svc.Metrics.RecordReindex(report.IndexedCount)
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) recordSubmitted(resp *domain.SubmitResponse) {
	if rt.svc.Metrics == nil || resp == nil {
		return
	}
	rt.svc.Metrics.RecordJobSubmitted(string(resp.RouteRequest), string(resp.InputType))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
