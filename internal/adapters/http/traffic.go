package httpadapter

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const apiPrefix = "/v1/"

// rateLimitMiddleware applies one token bucket to every API request. Health
// and metrics endpoints are never throttled.
func rateLimitMiddleware(next http.Handler, rps float64, burst int) http.Handler {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, apiPrefix) {
			next.ServeHTTP(w, r)
			return
		}
		now := time.Now()
		res := limiter.ReserveN(now, 1)
		if !res.OK() {
			rejectRateLimited(w, r, time.Second)
			return
		}
		if wait := res.DelayFrom(now); wait > 0 {
			res.CancelAt(now)
			rejectRateLimited(w, r, wait)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rejectRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	seconds := max(1, int(math.Ceil(retryAfter.Seconds())))
	slog.Warn("http_rate_limited",
		"request_id", requestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"retry_after_s", seconds,
	)
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
}

// backpressureMiddleware caps concurrent requests at maxInFlight. A request
// that cannot get a slot within wait is rejected with 503.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration) http.Handler {
	if maxInFlight <= 0 {
		return next
	}
	slots := make(chan struct{}, maxInFlight)

	acquire := func(r *http.Request) bool {
		select {
		case slots <- struct{}{}:
			return true
		default:
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case slots <- struct{}{}:
			return true
		case <-timer.C:
			return false
		case <-r.Context().Done():
			return false
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !acquire(r) {
			if r.Context().Err() != nil {
				return
			}
			slog.Warn("http_overloaded",
				"request_id", requestIDFromContext(r.Context()),
				"path", r.URL.Path,
				"max_in_flight", maxInFlight,
			)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server overloaded, retry later"})
			return
		}
		defer func() { <-slots }()
		next.ServeHTTP(w, r)
	})
}
