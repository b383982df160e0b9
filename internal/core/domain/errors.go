package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrUnavailable   = errors.New("collaborator unavailable")
	ErrCollaborator  = errors.New("collaborator failure")
	ErrJobNotFound   = errors.New("job not found")
	ErrInternalStage = errors.New("internal stage failure")
	ErrTemporary     = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ReindexFailure reports a keyword index batch that could not be written.
type ReindexFailure struct {
	BatchIndex int
	BatchSize  int
	Indexed    int
	Err        error
}

func (e *ReindexFailure) Error() string {
	if e == nil {
		return "reindex failure"
	}
	return fmt.Sprintf("keyword index batch %d (size %d) failed after %d indexed: %v", e.BatchIndex, e.BatchSize, e.Indexed, e.Err)
}

func (e *ReindexFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
