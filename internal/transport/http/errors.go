package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"attempt-ledger-service/internal/domain"
)

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidScope):
		return http.StatusBadRequest, "invalid_scope"
	case errors.Is(err, domain.ErrInvalidAttempt), errors.Is(err, domain.ErrInvalidGrant):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAttemptCompleted):
		return http.StatusConflict, "attempt_completed"
	case errors.Is(err, domain.ErrConflictRetryable):
		return http.StatusConflict, "conflict_retryable"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorPayload{Error: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
