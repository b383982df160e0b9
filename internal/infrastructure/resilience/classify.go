package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

// ErrorClassification tells the executor whether to try again and whether
// the failure counts against the breaker.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

var (
	Transient = ErrorClassification{Retryable: true, RecordFailure: true}
	Permanent = ErrorClassification{RecordFailure: true}
	Ignored   = ErrorClassification{}
)

// Settled covers the outcomes every collaborator treats alike: success and
// cancellation are ignored, an open breaker is transient. ok is false when
// the caller has to decide.
func Settled(err error) (ErrorClassification, bool) {
	switch {
	case err == nil:
		return Ignored, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Ignored, true
	case IsCircuitOpen(err):
		return Transient, true
	}
	return ErrorClassification{}, false
}

// ClassifyDomainError reads the domain error kind. Executors fall back to it
// when no classifier is given.
func ClassifyDomainError(err error) ErrorClassification {
	if class, ok := Settled(err); ok {
		return class
	}
	switch {
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrUnavailable):
		return Transient
	case domain.IsKind(err, domain.ErrValidation), domain.IsKind(err, domain.ErrJobNotFound):
		return Ignored
	default:
		return Permanent
	}
}

// ClassifyJobError decides whether a failed job attempt is worth rerunning.
// Only bad input and missing jobs are final; a job deadline is retried on the
// next attempt with a fresh context.
func ClassifyJobError(err error) ErrorClassification {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return Ignored
	case domain.IsKind(err, domain.ErrValidation), domain.IsKind(err, domain.ErrJobNotFound):
		return Ignored
	default:
		return Transient
	}
}

// Surface attaches a domain kind to a collaborator error after the executor
// gave up: transient when classify says retryable or the breaker is open,
// permanent otherwise. A nil permanent kind leaves non-retryable errors
// untouched. Errors that already carry one of the kinds pass through.
func Surface(operation string, err error, classify ErrorClassifier, transient, permanent error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, transient) || (permanent != nil && domain.IsKind(err, permanent)) {
		return err
	}
	if classify(err).Retryable || IsCircuitOpen(err) {
		return domain.WrapError(transient, operation, err)
	}
	if permanent == nil {
		return err
	}
	return domain.WrapError(permanent, operation, err)
}
