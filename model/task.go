package model

import "time"

// AgentTask is a unit of work delegated to the external text-generating
// capability. It is created by the phase controller per phase, consumed once
// by the executor, and discarded after parsing. Raw task text is never
// persisted.
type AgentTask struct {
	Description string        `json:"description"`
	ExpectedKey string        `json:"expected_key"`
	Tenant      TenantContext `json:"tenant"`
	Deadline    time.Time     `json:"deadline,omitzero"`
}

// ParsedResult is the structured outcome of a successfully parsed agent task
// output. Document is the JSON object selected by the tolerant parser; Raw is
// the full unmodified capability output, kept for diagnostics.
type ParsedResult struct {
	Key      string         `json:"key"`
	Document map[string]any `json:"document"`
	Raw      string         `json:"-"`
}
