// Package handlers implements the HTTP surface over the upload
// orchestrator. Handlers are thin: decode, call the service, map the
// error kind onto a status code.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rgeorgiev/sensorvault/internal/service"
)

// errorResponse is the JSON body for all error replies.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps a service error kind onto an HTTP status code.
// Anything unrecognized is an internal error and the caller gets no
// detail beyond that.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "upload session not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusBadRequest, "upload session belongs to another user")
	case errors.Is(err, service.ErrInvalidState):
		writeError(w, http.StatusBadRequest, "upload session is not in progress")
	case errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusBadRequest, "upload session id already exists, retry")
	case errors.Is(err, service.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
