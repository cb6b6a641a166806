package definition

import (
	"fmt"

	"github.com/pitabwire/floe/model"
)

// Bindings exposes the code-side tables a definition's declared names must
// resolve against. Every field is required.
type Bindings struct {
	HasValidator      func(name string) bool
	HasHandler        func(name string) bool
	HasReadinessCheck func(name string) bool
}

// ValidationError describes one problem found in a flow definition.
type ValidationError struct {
	FlowType string
	Phase    string
	Message  string
}

// Error implements the error interface.
func (v ValidationError) Error() string {
	if v.Phase != "" {
		return fmt.Sprintf("flow type %q, phase %q: %s", v.FlowType, v.Phase, v.Message)
	}
	return fmt.Sprintf("flow type %q: %s", v.FlowType, v.Message)
}

// Validator performs startup validation of loaded definitions. Any error
// fails registry load: a definition naming a validator, handler, or
// readiness check that does not resolve must fail fast at startup rather
// than at first invocation.
type Validator struct{}

// NewValidator creates a new definition Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions and returns every problem found.
func (v *Validator) Validate(defs []model.FlowTypeDefinition, binds Bindings) []ValidationError {
	var errs []ValidationError

	seenTypes := make(map[string]string, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			errs = append(errs, ValidationError{FlowType: def.SourceFile, Message: "flow type name is empty"})
			continue
		}
		if prev, dup := seenTypes[def.Name]; dup {
			errs = append(errs, ValidationError{
				FlowType: def.Name,
				Message:  fmt.Sprintf("duplicate flow type (also defined in %s)", prev),
			})
			continue
		}
		seenTypes[def.Name] = def.SourceFile

		errs = append(errs, v.validateFlowType(def, binds)...)
	}

	return errs
}

func (v *Validator) validateFlowType(def model.FlowTypeDefinition, binds Bindings) []ValidationError {
	var errs []ValidationError

	if len(def.Phases) == 0 {
		errs = append(errs, ValidationError{FlowType: def.Name, Message: "flow type has no phases"})
		return errs
	}

	seenPhases := make(map[string]bool, len(def.Phases))
	for i, p := range def.Phases {
		if p.Name == "" {
			errs = append(errs, ValidationError{
				FlowType: def.Name,
				Message:  fmt.Sprintf("phase at position %d has no name", i),
			})
			continue
		}
		if seenPhases[p.Name] {
			errs = append(errs, ValidationError{FlowType: def.Name, Phase: p.Name, Message: "duplicate phase name"})
			continue
		}
		seenPhases[p.Name] = true

		if p.Ordinal != i {
			errs = append(errs, ValidationError{
				FlowType: def.Name, Phase: p.Name,
				Message: fmt.Sprintf("ordinal %d does not match position %d", p.Ordinal, i),
			})
		}

		if p.PauseKind != "" && p.PauseKind != model.PauseKindApproval && p.PauseKind != model.PauseKindInput {
			errs = append(errs, ValidationError{
				FlowType: def.Name, Phase: p.Name,
				Message: fmt.Sprintf("unknown pause kind %q", p.PauseKind),
			})
		}

		for _, name := range p.Validators {
			if !binds.HasValidator(name) {
				errs = append(errs, ValidationError{
					FlowType: def.Name, Phase: p.Name,
					Message: fmt.Sprintf("validator %q is not registered", name),
				})
			}
		}
		for _, name := range p.Handlers {
			if !binds.HasHandler(name) {
				errs = append(errs, ValidationError{
					FlowType: def.Name, Phase: p.Name,
					Message: fmt.Sprintf("handler %q is not registered", name),
				})
			}
		}
		for _, name := range p.ReadinessChecks {
			if !binds.HasReadinessCheck(name) {
				errs = append(errs, ValidationError{
					FlowType: def.Name, Phase: p.Name,
					Message: fmt.Sprintf("readiness check %q is not registered", name),
				})
			}
		}

		if len(p.ReadinessChecks) > 0 && i != len(def.Phases)-1 {
			errs = append(errs, ValidationError{
				FlowType: def.Name, Phase: p.Name,
				Message: "readiness checks are only allowed on the terminal phase",
			})
		}

		if p.Task != nil {
			if p.Task.Description == "" {
				errs = append(errs, ValidationError{
					FlowType: def.Name, Phase: p.Name,
					Message: "task has no description",
				})
			}
			if p.Task.ExpectedKey == "" {
				errs = append(errs, ValidationError{
					FlowType: def.Name, Phase: p.Name,
					Message: "task has no expected output key",
				})
			}
		}
	}

	return errs
}
