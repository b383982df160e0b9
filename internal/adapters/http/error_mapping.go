package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrValidation):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrUnavailable), domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrCollaborator):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	var batchErr *domain.ReindexFailure
	if errors.As(err, &batchErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":         batchErr.Error(),
			"batch_index":   batchErr.BatchIndex,
			"batch_size":    batchErr.BatchSize,
			"indexed_count": batchErr.Indexed,
		})
		return
	}
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
