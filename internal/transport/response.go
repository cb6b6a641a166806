// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the flow engine API.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/floe/internal/observability"
	"github.com/pitabwire/floe/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:        http.StatusBadRequest,
	model.ErrUnauthorized:      http.StatusUnauthorized,
	model.ErrNotFound:          http.StatusNotFound,
	model.ErrConflict:          http.StatusConflict,
	model.ErrValidationFailed:  http.StatusUnprocessableEntity,
	model.ErrInternalError:     http.StatusInternalServerError,
	model.ErrFlowNotResumable:  http.StatusConflict,
	model.ErrPhaseOutOfOrder:   http.StatusConflict,
	model.ErrReadinessNotMet:   http.StatusUnprocessableEntity,
	model.ErrIntegrityAnomaly:  http.StatusConflict,
	model.ErrExecutionInFlight: http.StatusConflict,
	model.ErrRateLimited:       http.StatusTooManyRequests,
	model.ErrTransient:         http.StatusBadGateway,
	model.ErrUnparsableOutput:  http.StatusUnprocessableEntity,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err does not carry an *ErrorEnvelope, a generic 500
// is returned. The current trace ID is attached when one is active.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}
	if ee.TraceID == "" {
		ee.TraceID = observability.TraceIDFromContext(ctx)
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(ctx context.Context, w http.ResponseWriter, msg string) {
	WriteError(ctx, w, model.NewNotFoundError(msg))
}
