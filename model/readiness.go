package model

// Readiness reason codes carried by failing checks. Each FAIL result carries
// a machine-readable reason code plus structured detail, never just a
// human sentence.
const (
	ReadinessReasonPhasesIncomplete = "PHASES_INCOMPLETE"
	ReadinessReasonPhaseErrors      = "PHASE_ERRORS"
	ReadinessReasonPausesHeld       = "PAUSES_HELD"
	ReadinessReasonMissingKeys      = "MISSING_KEYS"
)

// ReadinessCheckResult is the tagged outcome of a single readiness check.
type ReadinessCheckResult struct {
	Check      string         `json:"check"`
	Passed     bool           `json:"passed"`
	ReasonCode string         `json:"reason_code,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Pass returns a passing result for the named check.
func Pass(check string) ReadinessCheckResult {
	return ReadinessCheckResult{Check: check, Passed: true}
}

// Fail returns a failing result with a reason code and structured detail.
func Fail(check, reasonCode string, detail map[string]any) ReadinessCheckResult {
	return ReadinessCheckResult{Check: check, Passed: false, ReasonCode: reasonCode, Detail: detail}
}

// ReadinessReport aggregates the results of every gate check. The gate runs
// all checks even after an early failure so the report is always complete.
type ReadinessReport struct {
	Ready   bool                   `json:"ready"`
	Results []ReadinessCheckResult `json:"results"`
}

// Failures returns the failing results only.
func (r ReadinessReport) Failures() []ReadinessCheckResult {
	var out []ReadinessCheckResult
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}
