package resilience

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
)

const statusBodyLimit = 2048

// StatusError is a non-2xx reply from an HTTP collaborator.
type StatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s status: %s", e.Service, e.Operation, e.Status)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

// ReadStatusError captures the head of the response body for the error text.
func ReadStatusError(service, operation string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, statusBodyLimit))
	return &StatusError{
		Service:    service,
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

// GatewayStatuses are the replies worth retrying against any upstream.
var GatewayStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// HTTPClassifier retries network failures and the listed status codes.
// Other statuses are the caller's fault and do not trip the breaker.
func HTTPClassifier(retryStatuses ...int) ErrorClassifier {
	return func(err error) ErrorClassification {
		if class, ok := Settled(err); ok {
			return class
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			if slices.Contains(retryStatuses, statusErr.StatusCode) {
				return Transient
			}
			return Ignored
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return Transient
		}
		return Permanent
	}
}
