package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/ride-dispatch/internal/models"
)

var errForbidden = errors.New("forbidden")

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError maps domain errors onto status codes. Anything unrecognised is a
// 500 whose cause is logged but not returned.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	detail := errorDetail{Message: err.Error(), RequestID: requestIDFromContext(r.Context())}
	status := http.StatusInternalServerError

	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		status, detail.Code, detail.Field = http.StatusBadRequest, "validation", ve.Field
	case errors.Is(err, models.ErrValidation):
		status, detail.Code = http.StatusBadRequest, "validation"
	case errors.Is(err, models.ErrNotFound):
		status, detail.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrInvalidTransition):
		status, detail.Code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, models.ErrSourceUnavailable):
		status, detail.Code = http.StatusServiceUnavailable, "source_unavailable"
	case errors.Is(err, errUnauthenticated):
		status, detail.Code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, errForbidden):
		status, detail.Code = http.StatusForbidden, "forbidden"
	default:
		detail.Code, detail.Message = "internal", "internal error"
	}

	if status >= http.StatusInternalServerError {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("request failed", "route", routeTemplate(r), "request_id", detail.RequestID, "error", err)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON rejects unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &models.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()}
	}
	if dec.More() {
		return &models.ValidationError{Field: "body", Reason: "unexpected data after JSON object"}
	}
	return nil
}
