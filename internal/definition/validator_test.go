package definition

import (
	"strings"
	"testing"

	"github.com/pitabwire/floe/model"
)

func allowAll() Bindings {
	yes := func(string) bool { return true }
	return Bindings{HasValidator: yes, HasHandler: yes, HasReadinessCheck: yes}
}

func TestValidate_cleanDefinitions(t *testing.T) {
	v := NewValidator()
	errs := v.Validate(testDefs(), allowAll())
	if len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestValidate_unresolvedNamesFail(t *testing.T) {
	loader := NewLoader()
	def, err := loader.LoadFile("testdata/bad_handler.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	no := func(string) bool { return false }
	binds := Bindings{HasValidator: no, HasHandler: no, HasReadinessCheck: no}

	errs := NewValidator().Validate([]model.FlowTypeDefinition{def}, binds)
	if len(errs) != 2 {
		t.Fatalf("Validate() = %d errors, want 2: %v", len(errs), errs)
	}
	if !strings.Contains(errs[0].Error(), "not registered") {
		t.Errorf("error[0] = %q, want unregistered-name message", errs[0].Error())
	}
}

func TestValidate_duplicateFlowType(t *testing.T) {
	defs := []model.FlowTypeDefinition{
		{Name: "assessment", SourceFile: "a.yaml", Phases: []model.PhaseDefinition{{Name: "p"}}},
		{Name: "assessment", SourceFile: "b.yaml", Phases: []model.PhaseDefinition{{Name: "p"}}},
	}
	errs := NewValidator().Validate(defs, allowAll())
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "duplicate flow type") {
		t.Errorf("Validate() = %v, want one duplicate-flow-type error", errs)
	}
}

func TestValidate_duplicatePhase(t *testing.T) {
	defs := []model.FlowTypeDefinition{
		{Name: "f", Phases: []model.PhaseDefinition{
			{Name: "p", Ordinal: 0},
			{Name: "p", Ordinal: 1},
		}},
	}
	errs := NewValidator().Validate(defs, allowAll())
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "duplicate phase") {
		t.Errorf("Validate() = %v, want one duplicate-phase error", errs)
	}
}

func TestValidate_ordinalMismatch(t *testing.T) {
	defs := []model.FlowTypeDefinition{
		{Name: "f", Phases: []model.PhaseDefinition{
			{Name: "a", Ordinal: 0},
			{Name: "b", Ordinal: 5},
		}},
	}
	errs := NewValidator().Validate(defs, allowAll())
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "ordinal") {
		t.Errorf("Validate() = %v, want one ordinal error", errs)
	}
}

func TestValidate_readinessOnNonTerminalPhase(t *testing.T) {
	defs := []model.FlowTypeDefinition{
		{Name: "f", Phases: []model.PhaseDefinition{
			{Name: "a", Ordinal: 0, ReadinessChecks: []string{"phases.all_executed"}},
			{Name: "b", Ordinal: 1},
		}},
	}
	errs := NewValidator().Validate(defs, allowAll())
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "terminal phase") {
		t.Errorf("Validate() = %v, want one terminal-phase error", errs)
	}
}

func TestValidate_taskWithoutExpectedKey(t *testing.T) {
	defs := []model.FlowTypeDefinition{
		{Name: "f", Phases: []model.PhaseDefinition{
			{Name: "a", Ordinal: 0, Task: &model.TaskSpec{Description: "do things"}},
		}},
	}
	errs := NewValidator().Validate(defs, allowAll())
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "expected output key") {
		t.Errorf("Validate() = %v, want one missing-expected-key error", errs)
	}
}

func TestValidate_emptyPhases(t *testing.T) {
	defs := []model.FlowTypeDefinition{{Name: "f"}}
	errs := NewValidator().Validate(defs, allowAll())
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "no phases") {
		t.Errorf("Validate() = %v, want one no-phases error", errs)
	}
}
