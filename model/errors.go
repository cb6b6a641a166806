package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest       = "BAD_REQUEST"
	ErrUnauthorized     = "UNAUTHORIZED"
	ErrNotFound         = "NOT_FOUND"
	ErrConflict         = "CONFLICT"
	ErrValidationFailed = "VALIDATION_FAILED"
	ErrInternalError    = "INTERNAL_ERROR"
)

// Flow-specific error codes.
const (
	ErrFlowNotResumable  = "FLOW_NOT_RESUMABLE"
	ErrPhaseOutOfOrder   = "PHASE_OUT_OF_ORDER"
	ErrReadinessNotMet   = "READINESS_NOT_MET"
	ErrIntegrityAnomaly  = "INTEGRITY_ANOMALY"
	ErrExecutionInFlight = "EXECUTION_IN_FLIGHT"
)

// Executor error codes.
const (
	ErrRateLimited      = "RATE_LIMITED"
	ErrTransient        = "TRANSIENT"
	ErrUnparsableOutput = "UNPARSABLE_OUTPUT"
)

// Suggested next actions attached to every failure path, so callers never
// receive a bare "error occurred".
const (
	ActionRetry          = "retry"
	ActionProvideInput   = "provide_input"
	ActionRefetch        = "refetch"
	ActionContactSupport = "contact_support"
)

// ErrorEnvelope is the standard error returned across the API boundary.
// It implements the error interface.
type ErrorEnvelope struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	NextAction string         `json:"next_action,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail returns the envelope with an extra detail field set.
func (e *ErrorEnvelope) WithDetail(key string, value any) *ErrorEnvelope {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg, NextAction: ActionProvideInput}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg, NextAction: ActionProvideInput}
}

// NewNotFoundError returns a NOT_FOUND error. Tenant mismatches use this same
// constructor so existence never leaks across tenants.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg, NextAction: ActionRefetch}
}

// NewConflictError returns a CONFLICT error. Callers must re-fetch the flow
// state and retry.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg, NextAction: ActionRefetch}
}

// NewValidationFailedError returns a VALIDATION_FAILED error carrying the
// validator's reason verbatim. Fully recoverable: no state was mutated.
func NewValidationFailedError(reason string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrValidationFailed, Message: reason, NextAction: ActionProvideInput}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:       ErrInternalError,
		Message:    "An unexpected error occurred",
		NextAction: ActionContactSupport,
	}
}

// NewFlowNotResumableError returns a FLOW_NOT_RESUMABLE error.
func NewFlowNotResumableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrFlowNotResumable, Message: msg, NextAction: ActionRefetch}
}

// NewPhaseOutOfOrderError returns a PHASE_OUT_OF_ORDER error.
func NewPhaseOutOfOrderError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrPhaseOutOfOrder, Message: msg, NextAction: ActionRefetch}
}

// NewReadinessNotMetError returns a READINESS_NOT_MET error carrying the full
// gate report. This is an expected "not yet done" outcome, not a fault.
func NewReadinessNotMetError(report ReadinessReport) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:       ErrReadinessNotMet,
		Message:    fmt.Sprintf("%d readiness check(s) failed", len(report.Failures())),
		NextAction: ActionProvideInput,
		Details:    map[string]any{"report": report},
	}
}

// NewRateLimitedError returns a RATE_LIMITED error after internal backoff
// retries were exhausted.
func NewRateLimitedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrRateLimited, Message: msg, NextAction: ActionRetry}
}

// NewTransientError returns a TRANSIENT executor error. Retryable at the
// phase level.
func NewTransientError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrTransient, Message: msg, NextAction: ActionRetry}
}

// NewUnparsableOutputError returns an UNPARSABLE_OUTPUT error carrying the
// raw capability output for diagnostics. Not retried automatically: the
// input was likely malformed at the source.
func NewUnparsableOutputError(raw string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:       ErrUnparsableOutput,
		Message:    "agent output contained no usable JSON document",
		NextAction: ActionContactSupport,
		Details:    map[string]any{"raw_output": raw},
	}
}

// NewIntegrityAnomalyError returns an INTEGRITY_ANOMALY error listing the
// detected anomalies.
func NewIntegrityAnomalyError(anomalies []string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:       ErrIntegrityAnomaly,
		Message:    fmt.Sprintf("%d integrity anomalies detected", len(anomalies)),
		NextAction: ActionContactSupport,
		Details:    map[string]any{"anomalies": anomalies},
	}
}
