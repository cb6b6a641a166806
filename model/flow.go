package model

import "time"

// Flow instance status constants.
const (
	FlowStatusInitialized       = "initialized"
	FlowStatusRunning           = "running"
	FlowStatusPausedForApproval = "paused_for_approval"
	FlowStatusWaitingForInput   = "waiting_for_input"
	FlowStatusFailed            = "failed"
	FlowStatusCompleted         = "completed"
	FlowStatusDeleted           = "deleted"
)

// IsTerminal reports whether a flow status admits no further transitions.
// FAILED is not terminal: an explicit operator retry may leave it.
func IsTerminal(status string) bool {
	return status == FlowStatusCompleted || status == FlowStatusDeleted
}

// IsPaused reports whether a flow status represents a pause point waiting
// for external input.
func IsPaused(status string) bool {
	return status == FlowStatusPausedForApproval || status == FlowStatusWaitingForInput
}

// FlowInstance is one execution of a registered flow type for one tenant.
// It is owned exclusively by the phase controller during execution, persisted
// through the synchronizer, and never mutated directly by callers.
type FlowInstance struct {
	ID           string        `json:"id"`
	FlowType     string        `json:"flow_type"`
	Tenant       TenantContext `json:"tenant"`
	Status       string        `json:"status"`
	CurrentPhase string        `json:"current_phase"`
	NextPhase    string        `json:"next_phase,omitempty"`

	// Input carries the initial input supplied at initialization. It is
	// merged into the first phase execution's input.
	Input map[string]any `json:"input,omitempty"`

	// PhaseResults maps a phase name to the opaque document that phase
	// produced. Keys are only ever written by the phase they belong to.
	PhaseResults map[string]map[string]any `json:"phase_results,omitempty"`

	// PausePoints records, in order, the phases this instance has already
	// paused at.
	PausePoints []string `json:"pause_points,omitempty"`

	// IntegrityWarnings is populated by the synchronizer when a stored
	// document failed structural validation and was reconstructed
	// best-effort. Warnings are surfaced, never silently dropped.
	IntegrityWarnings []string `json:"integrity_warnings,omitempty"`

	// PendingDelete marks an instance whose deletion was requested while a
	// phase execution was in flight. The delete is applied once the
	// in-flight execution releases its lock.
	PendingDelete bool `json:"pending_delete,omitempty"`

	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PhaseResult returns the result document for a phase, creating it if absent.
func (f *FlowInstance) PhaseResult(phase string) map[string]any {
	if f.PhaseResults == nil {
		f.PhaseResults = make(map[string]map[string]any)
	}
	doc, ok := f.PhaseResults[phase]
	if !ok {
		doc = make(map[string]any)
		f.PhaseResults[phase] = doc
	}
	return doc
}

// HasPausedAt reports whether the instance has already paused at the phase.
func (f *FlowInstance) HasPausedAt(phase string) bool {
	for _, p := range f.PausePoints {
		if p == phase {
			return true
		}
	}
	return false
}

// FlowSummary is a lightweight representation of a flow instance used in
// list views.
type FlowSummary struct {
	ID           string    `json:"id"`
	FlowType     string    `json:"flow_type"`
	Status       string    `json:"status"`
	CurrentPhase string    `json:"current_phase"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PhaseSummary describes one phase of a flow instance for status views.
type PhaseSummary struct {
	Name         string `json:"name"`
	Ordinal      int    `json:"ordinal"`
	IsPausePoint bool   `json:"is_pause_point"`
	Status       string `json:"status"`
	HasResult    bool   `json:"has_result"`
}

// Phase display status constants.
const (
	PhaseStatusPending    = "pending"
	PhaseStatusInProgress = "in_progress"
	PhaseStatusCompleted  = "completed"
	PhaseStatusFuture     = "future"
)

// FlowView is the full externally visible representation of a flow instance.
type FlowView struct {
	FlowInstance
	Phases []PhaseSummary `json:"phases"`
}

// FlowFilters are optional filters for listing flow instances.
type FlowFilters struct {
	FlowType string
	Status   string
	Limit    int
	Offset   int
}

// Audit action constants.
const (
	AuditActionInitialize   = "initialize"
	AuditActionExecutePhase = "execute_phase"
	AuditActionResume       = "resume"
	AuditActionPause        = "pause"
	AuditActionDelete       = "delete"
)

// AuditEntry is an append-only record of a lifecycle action. Audit writes are
// best-effort and must never block or fail the primary flow operation.
type AuditEntry struct {
	ID        string        `json:"id"`
	FlowID    string        `json:"flow_id"`
	Tenant    TenantContext `json:"tenant"`
	Action    string        `json:"action"`
	Phase     string        `json:"phase,omitempty"`
	Result    string        `json:"result"`
	Reason    string        `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
