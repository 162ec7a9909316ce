package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"auth-security/internal/service"
	"auth-security/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error:   code,
		Message: message,
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps service errors to a status and a stable error code.
// Internal error text is logged, never returned.
func respondWithError(w http.ResponseWriter, logger *zap.Logger, err error, message string) {
	status, code := statusFor(err)
	logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", status),
		util.String("message", message),
	)
	respondWithJSON(w, status, errorResponse(code, message))
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, service.ErrLockedAccount):
		return http.StatusForbidden, "account_locked"
	case errors.Is(err, service.ErrAuthFailed):
		return http.StatusUnauthorized, "auth_failed"
	case errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, service.ErrPersistence):
		return http.StatusInternalServerError, "persistence_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
