package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"vendorbox/internal/codec"
	"vendorbox/internal/model"
	"vendorbox/internal/service"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error          string            `json:"error"`
	Code           string            `json:"code,omitempty"`
	Message        string            `json:"message"`
	Violations     []model.Violation `json:"violations,omitempty"`
	CurrentVersion *int64            `json:"currentVersion,omitempty"`
}

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, code int, errCode, message string, log *zap.Logger) {
	writeErrorResponse(w, code, ErrorResponse{Error: errCode, Code: errCode, Message: message}, log)
}

func writeErrorResponse(w http.ResponseWriter, code int, resp ErrorResponse, log *zap.Logger) {
	if code >= http.StatusInternalServerError {
		log.Error("API error", zap.String("code", resp.Code), zap.String("message", resp.Message))
	} else {
		log.Debug("API error", zap.String("code", resp.Code), zap.String("message", resp.Message))
	}
	writeJSON(w, code, resp)
}

// writeServiceError maps domain errors to HTTP responses
func writeServiceError(w http.ResponseWriter, err error, log *zap.Logger) {
	var verr *model.ValidationError
	var stale *model.StaleSchemaError
	var transition *model.InvalidStateTransitionError

	switch {
	case errors.As(err, &verr):
		writeErrorResponse(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:      "validation_failed",
			Code:       "validation_failed",
			Message:    verr.Error(),
			Violations: verr.Violations,
		}, log)
	case errors.As(err, &stale):
		actual := stale.Actual
		writeErrorResponse(w, http.StatusConflict, ErrorResponse{
			Error:          "stale_schema",
			Code:           "stale_schema",
			Message:        stale.Error(),
			CurrentVersion: &actual,
		}, log)
	case errors.As(err, &transition):
		WriteError(w, http.StatusConflict, "invalid_state_transition", transition.Error(), log)
	case errors.Is(err, service.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password", log)
	case errors.Is(err, model.ErrConflict):
		WriteError(w, http.StatusConflict, "conflict", err.Error(), log)
	case errors.Is(err, model.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", err.Error(), log)
	case errors.Is(err, model.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), log)
	default:
		log.Error("Unhandled service error", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", log)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	codec.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON body; an empty body leaves v untouched
func decodeBody(r *http.Request, v interface{}) error {
	err := codec.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// RequestLogger logs HTTP requests and responses
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip wrapping for WebSocket upgrades - they need direct access to ResponseWriter
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			log.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
