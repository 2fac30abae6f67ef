package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/contextmore/internal/embedding"
	"github.com/kalambet/contextmore/internal/extract"
	"github.com/kalambet/contextmore/internal/ingest"
	"github.com/kalambet/contextmore/internal/retrieval"
	"github.com/kalambet/contextmore/internal/vectorstore"
)

// classify maps a pipeline error to an HTTP status and error type.
func classify(err error) (int, string) {
	var (
		fetchErr   *extract.FetchError
		formatErr  *extract.UnsupportedFormatError
		extractErr *extract.ExtractionError
		embedErr   *embedding.Error
		storeErr   *vectorstore.StoreError
		partialErr *ingest.PartialUpdateError
	)
	switch {
	case errors.As(err, &partialErr):
		return http.StatusInternalServerError, "partial_update"
	case errors.As(err, &fetchErr):
		return http.StatusBadRequest, "fetch_error"
	case errors.As(err, &formatErr):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.As(err, &extractErr):
		return http.StatusUnprocessableEntity, "extraction_error"
	case errors.Is(err, ingest.ErrEmptyContent):
		return http.StatusUnprocessableEntity, "empty_content"
	case errors.Is(err, ingest.ErrInvalidRequest),
		errors.Is(err, retrieval.ErrInvalidTopK),
		errors.Is(err, retrieval.ErrEmptyQuery):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.As(err, &embedErr):
		return http.StatusServiceUnavailable, "embedding_error"
	case errors.As(err, &storeErr):
		return http.StatusServiceUnavailable, "store_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

// writeError reports err with the status its kind maps to. Partial updates
// carry the affected doc_id so callers can retry the right document.
func writeError(w http.ResponseWriter, err error) {
	code, errType := classify(err)
	body := map[string]any{
		"message": err.Error(),
		"type":    errType,
	}
	var partialErr *ingest.PartialUpdateError
	if errors.As(err, &partialErr) {
		body["doc_id"] = partialErr.DocID
	}
	writeJSON(w, code, map[string]any{"error": body})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
