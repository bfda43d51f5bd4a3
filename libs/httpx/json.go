package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cleanroute/cleanroute/libs/apperr"
)

type errorBody struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status code through its apperr kind. Persistence
// failures are logged with the request id and answered generically.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindPersistence || kind == apperr.KindIntegration {
		if logger != nil {
			logger.Error("request failed",
				"request_id", RequestIDFromContext(r.Context()),
				"path", r.URL.Path,
				"kind", kind,
				"err", err,
			)
		}
	}
	WriteJSON(w, apperr.HTTPStatus(kind), errorBody{Error: apperr.Message(err), Kind: kind})
}

// DecodeJSON reads a single JSON object from the body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("request body too large")
		}
		return apperr.Validation(fmt.Sprintf("invalid json: %v", err))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid json: trailing data")
	}
	return nil
}
