// Package transport contains the HTTP router, middleware chain, and request
// handlers of the panel API.
package transport

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/fedipanel/internal/observability"
	"github.com/pitabwire/fedipanel/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrSubmissionPending:  http.StatusConflict,
	model.ErrRateLimited:        http.StatusTooManyRequests,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendError:       http.StatusBadGateway,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// StatusFor returns the HTTP status for an envelope. Backend client errors
// keep the status the backend answered with.
func StatusFor(ee *model.ErrorEnvelope) int {
	if ee.Code == model.ErrBackendError && ee.Status >= 400 && ee.Status < 500 {
		return ee.Status
	}
	if status, ok := statusForCode[ee.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as an ErrorEnvelope with the matching HTTP status.
// Errors that carry no envelope become a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		ee = model.NewInternalError()
	}
	WriteJSON(w, StatusFor(ee), errorResponse{Error: ee})
}

// fail writes err for r. Internal errors are logged with the request fields
// and every envelope is stamped with the trace ID.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		observability.RequestLogger(r.Context(), zap.L()).Error("request failed", zap.Error(err))
		ee = model.NewInternalError()
	}
	if traceID := observability.TraceIDFromContext(r.Context()); traceID != "" {
		stamped := *ee
		stamped.TraceID = traceID
		ee = &stamped
	}
	WriteJSON(w, StatusFor(ee), errorResponse{Error: ee})
}
