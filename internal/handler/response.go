package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bbmw0/stack-server/internal/apperror"
)

// ErrorResponse is the standard error shape returned by all API
// endpoints, so the client always knows what fields to expect.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable error type
	Message string `json:"message"` // human-readable description
}

// writeJSON sends a JSON response with the given status code. Headers
// and status must be set before the body is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already gone; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status code and sends the
// standard error shape. The service layer returns apperror sentinels;
// this is the only place they meet HTTP.
//
// ErrNameUnavailable deliberately has no mapping: the services degrade
// it to "keep the existing name" before it can reach a handler.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "invalid_input"
		case errors.Is(err, apperror.ErrIdentityRequired):
			status = http.StatusBadRequest
			errorType = "identity_required"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
		})
		return
	}

	// Unknown error: return a generic 500, keeping internals
	// (SQL text, file paths) out of the response.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
