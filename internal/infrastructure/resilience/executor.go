package resilience

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Executor runs collaborator calls under a retry policy and, optionally, a
// circuit breaker keyed by operation name.
type Executor struct {
	retry   RetryPolicy
	breaker BreakerPolicy
	onRetry func(operation string, attempt int, err error)

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		retry:    cfg.Retry.withDefaults(),
		breaker:  cfg.Breaker.withDefaults(),
		onRetry:  cfg.OnRetry,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

var errNilCall = errors.New("resilience: nil call")

// Execute calls fn until it succeeds, the classifier marks the error as not
// retryable, attempts run out or ctx ends. The last error is returned as is.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classify ErrorClassifier) error {
	if fn == nil {
		return errNilCall
	}
	if classify == nil {
		classify = ClassifyDomainError
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unnamed"
	}

	attempts := func() error { return e.attempts(ctx, operation, fn, classify) }
	if !e.breaker.Enabled {
		return attempts()
	}
	_, err := e.breakerFor(operation, classify).Execute(func() (struct{}, error) {
		return struct{}{}, attempts()
	})
	return err
}

func (e *Executor) attempts(ctx context.Context, operation string, fn func(context.Context) error, classify ErrorClassifier) error {
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= e.retry.MaxAttempts || !classify(err).Retryable {
			return err
		}

		wait := e.retry.delay(attempt)
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", e.retry.MaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		if e.onRetry != nil {
			e.onRetry(operation, attempt, err)
		}
		if !sleep(ctx, wait) {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) breakerFor(operation string, classify ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[operation]; ok {
		return cb
	}
	policy := e.breaker
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        operation,
		MaxRequests: policy.HalfOpenMaxCalls,
		Timeout:     policy.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= policy.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= policy.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[operation] = cb
	return cb
}

// State reports the breaker state for an operation. Operations that never ran
// through a breaker report closed.
func (e *Executor) State(operation string) gobreaker.State {
	e.mu.Lock()
	cb, ok := e.breakers[strings.TrimSpace(operation)]
	e.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
