package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/syncer"
)

// Response is the success envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// Error is the failure envelope. Data is only set for failed syncs, where the
// per-device result is still useful to the caller.
type Error struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Data    any    `json:"data,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeSyncFailed   = "sync_failed"
	ErrCodeUnavailable  = "unavailable"
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

// writeData writes a success envelope. warning may be nil.
func writeData(w http.ResponseWriter, status int, data any, warning error) {
	resp := Response{Success: true, Data: data}
	if warning != nil {
		resp.Warning = warning.Error()
	}
	writeJSON(w, status, resp)
}

// writeError writes a failure envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status: status,
		Code:   code,
		Error:  message,
	})
}

func writeValidation(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}

// writeDomainError maps registry and sync errors onto the failure envelope.
// It reports false for persistence warnings, which the caller must turn into
// a success response.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil, isWarningOnly(err):
		return false
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case device.IsValidationError(err):
		writeValidation(w, err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", requestIDFrom(r.Context()),
		)
		writeInternalError(w)
	}
	return true
}

// isWarningOnly reports whether err only signals lost durability.
func isWarningOnly(err error) bool {
	return errors.Is(err, device.ErrPersistence) && !errors.Is(err, syncer.ErrSync)
}
