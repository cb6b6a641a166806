package model

import "time"

// Pause kind constants select which paused status a pause point produces.
const (
	PauseKindApproval = "approval"
	PauseKindInput    = "input"
)

// FlowTypeDefinition is the static descriptor of one flow type: an ordered
// list of phases. Definitions are immutable after registry load.
type FlowTypeDefinition struct {
	Name   string            `yaml:"name" json:"name"`
	Phases []PhaseDefinition `yaml:"phases" json:"phases"`

	// Checksum and SourceFile are populated by the loader.
	Checksum   string `yaml:"-" json:"-"`
	SourceFile string `yaml:"-" json:"-"`
}

// Phase returns the phase definition with the given name, or nil.
func (d FlowTypeDefinition) Phase(name string) *PhaseDefinition {
	for i := range d.Phases {
		if d.Phases[i].Name == name {
			return &d.Phases[i]
		}
	}
	return nil
}

// PhaseAfter returns the phase following the named one in registry order,
// or nil if the named phase is the last.
func (d FlowTypeDefinition) PhaseAfter(name string) *PhaseDefinition {
	for i := range d.Phases {
		if d.Phases[i].Name == name && i+1 < len(d.Phases) {
			return &d.Phases[i+1]
		}
	}
	return nil
}

// PhaseDefinition is the static descriptor of one phase in a flow type.
type PhaseDefinition struct {
	Name    string `yaml:"name" json:"name"`
	Ordinal int    `yaml:"ordinal" json:"ordinal"`

	// IsPausePoint marks a phase after which the flow stops and waits for
	// external input before advancing. PauseKind selects the paused status:
	// "approval" (default) or "input".
	IsPausePoint bool   `yaml:"is_pause_point" json:"is_pause_point"`
	PauseKind    string `yaml:"pause_kind,omitempty" json:"pause_kind,omitempty"`

	// Validators and Handlers are names resolved against the code-side
	// handler tables at registry load. Unresolvable names fail startup.
	Validators []string `yaml:"validators,omitempty" json:"validators,omitempty"`
	Handlers   []string `yaml:"handlers,omitempty" json:"handlers,omitempty"`

	// Task, when present, describes the agent task this phase dispatches.
	// Pure bookkeeping phases have no task.
	Task *TaskSpec `yaml:"task,omitempty" json:"task,omitempty"`

	// AutoAdvance causes the controller to continue into the next phase
	// after this one succeeds, instead of returning control to the caller.
	AutoAdvance bool `yaml:"auto_advance,omitempty" json:"auto_advance,omitempty"`

	// ReadinessChecks names the gate checks run before the COMPLETED
	// transition. Only meaningful on the terminal phase.
	ReadinessChecks []string `yaml:"readiness_checks,omitempty" json:"readiness_checks,omitempty"`
}

// PausedStatus returns the flow status this pause point produces.
func (p PhaseDefinition) PausedStatus() string {
	if p.PauseKind == PauseKindInput {
		return FlowStatusWaitingForInput
	}
	return FlowStatusPausedForApproval
}

// TaskSpec describes the agent task a phase dispatches. Description is free
// text; ExpectedKey is the label of the top-level key the task output must
// carry (a label, not a schema).
type TaskSpec struct {
	Description string        `yaml:"description" json:"description"`
	ExpectedKey string        `yaml:"expected_key" json:"expected_key"`
	Deadline    time.Duration `yaml:"deadline,omitempty" json:"deadline,omitempty"`
}
