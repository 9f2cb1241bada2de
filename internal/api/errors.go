package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/freightdocs/internal/auth"
	"github.com/kalambet/freightdocs/internal/documents"
)

// ErrRateLimited is returned when a caller exceeds its upload quota.
var ErrRateLimited = errors.New("rate limit exceeded")

// errorBody is the envelope of every error response.
type errorBody struct {
	Error       string                 `json:"error"`
	Reason      string                 `json:"reason"`
	Module      string                 `json:"module"`
	SafeForDemo bool                   `json:"safe_for_demo"`
	Details     []documents.FieldError `json:"details,omitempty"`
}

// writeError classifies err and writes the matching envelope. Unclassified
// errors are logged in full and answered with a generic reason.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{SafeForDemo: true, Reason: err.Error()}
	var status int
	var ve *documents.ValidationError

	switch {
	case errors.As(err, &ve):
		status, body.Error, body.Module = http.StatusBadRequest, "Invalid input", "documents"
		body.Details = ve.Fields
	case errors.Is(err, documents.ErrInvalidFile):
		status, body.Error, body.Module = http.StatusBadRequest, "Invalid input", "documents"
	case errors.Is(err, documents.ErrNotFound):
		status, body.Error, body.Module = http.StatusNotFound, "Not Found", "documents"
	case errors.Is(err, documents.ErrPreconditionFailed):
		status, body.Error, body.Module = http.StatusConflict, "Precondition Failed", "documents"
	case errors.Is(err, documents.ErrStorageFailure):
		status, body.Error, body.Module = http.StatusServiceUnavailable, "Service Unavailable", "storage"
	case errors.Is(err, documents.ErrUnavailable):
		status, body.Error, body.Module = http.StatusServiceUnavailable, "Service Unavailable", "database"
		body.Reason = "database temporarily unavailable, retry later"
	case errors.Is(err, auth.ErrUnauthorized):
		status, body.Error, body.Module = http.StatusUnauthorized, "Unauthorized", "auth"
	case errors.Is(err, auth.ErrForbidden):
		status, body.Error, body.Module = http.StatusForbidden, "Forbidden", "auth"
	case errors.Is(err, ErrRateLimited):
		status, body.Error, body.Module = http.StatusTooManyRequests, "Too Many Requests", "ratelimit"
	default:
		status, body.Error, body.Module = http.StatusInternalServerError, "Internal Server Error", "unknown"
		body.Reason = "an unexpected error occurred"
		body.SafeForDemo = false
	}

	if status >= 500 {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

// invalidInput builds a single-field validation error.
func invalidInput(field, format string, args ...any) error {
	ve := &documents.ValidationError{}
	ve.Add(field, fmt.Sprintf(format, args...))
	return ve
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
