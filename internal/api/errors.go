package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nimbus-iot/nimbus-core/internal/pairing"
	"github.com/nimbus-iot/nimbus-core/internal/registry"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeUnauthorized    = "unauthorised"
	ErrCodeConflict        = "conflict"
	ErrCodeCodeMismatch    = "code_mismatch"
	ErrCodeRequestExpired  = "request_expired"
	ErrCodeTooManyAttempts = "too_many_attempts"
	ErrCodeUnavailable     = "unavailable"
	ErrCodeInternal        = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps registry and pairing sentinel errors to structured
// HTTP responses. Unrecognised errors become a 500 with a generic message
// so internal details never leak to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "device not found")
	case errors.Is(err, pairing.ErrAlreadyPaired):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device is already paired")
	case errors.Is(err, pairing.ErrNotPending):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device has no pending pairing request")
	case errors.Is(err, pairing.ErrRequestExpired):
		writeError(w, http.StatusGone, ErrCodeRequestExpired, "pairing request has expired")
	case errors.Is(err, pairing.ErrCodeMismatch):
		writeError(w, http.StatusForbidden, ErrCodeCodeMismatch, "pairing code does not match")
	case errors.Is(err, pairing.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, ErrCodeTooManyAttempts, "too many failed attempts; pairing abandoned")
	case errors.Is(err, registry.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device registry is unavailable")
	default:
		writeInternalError(w, "internal server error")
	}
}
