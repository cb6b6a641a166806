package readiness

import (
	"context"

	"github.com/pitabwire/floe/model"
)

// Built-in check names referenced by flow definitions.
const (
	CheckAllPhasesExecuted = "phases.all_executed"
	CheckNoPhaseErrors     = "results.no_errors"
	CheckPausesReleased    = "pauses.all_released"
)

func registerBuiltins(r *Registry) {
	r.Register(CheckAllPhasesExecuted, checkAllPhasesExecuted)
	r.Register(CheckNoPhaseErrors, checkNoPhaseErrors)
	r.Register(CheckPausesReleased, checkPausesReleased)
}

// checkAllPhasesExecuted fails unless every phase before the current one left
// evidence of its execution. A phase with a task must have a result document;
// a pause point must appear in the instance's pause record. Phases with
// neither leave no trace and are exempt. The current (terminal) phase is the
// one being gated and is also exempt.
func checkAllPhasesExecuted(_ context.Context, def model.FlowTypeDefinition, inst *model.FlowInstance) model.ReadinessCheckResult {
	currentOrdinal := len(def.Phases)
	if p := def.Phase(inst.CurrentPhase); p != nil {
		currentOrdinal = p.Ordinal
	}

	var missing []string
	for _, p := range def.Phases {
		if p.Ordinal >= currentOrdinal {
			continue
		}
		executed := true
		if p.Task != nil {
			_, executed = inst.PhaseResults[p.Name]
		}
		if p.IsPausePoint && !inst.HasPausedAt(p.Name) {
			executed = false
		}
		if !executed {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return model.Fail(CheckAllPhasesExecuted, model.ReadinessReasonPhasesIncomplete, map[string]any{
			"missing_phases": missing,
			"missing_count":  len(missing),
		})
	}
	return model.Pass(CheckAllPhasesExecuted)
}

// checkNoPhaseErrors fails when any phase result carries a recorded error.
func checkNoPhaseErrors(_ context.Context, _ model.FlowTypeDefinition, inst *model.FlowInstance) model.ReadinessCheckResult {
	var offending []string
	for phase, doc := range inst.PhaseResults {
		if _, ok := doc["error"]; ok {
			offending = append(offending, phase)
		}
	}
	if len(offending) > 0 {
		return model.Fail(CheckNoPhaseErrors, model.ReadinessReasonPhaseErrors, map[string]any{
			"phases_with_errors": offending,
			"error_count":        len(offending),
		})
	}
	return model.Pass(CheckNoPhaseErrors)
}

// checkPausesReleased fails while the instance is still sitting at a pause
// point waiting for input.
func checkPausesReleased(_ context.Context, _ model.FlowTypeDefinition, inst *model.FlowInstance) model.ReadinessCheckResult {
	if model.IsPaused(inst.Status) {
		return model.Fail(CheckPausesReleased, model.ReadinessReasonPausesHeld, map[string]any{
			"status":        inst.Status,
			"current_phase": inst.CurrentPhase,
		})
	}
	return model.Pass(CheckPausesReleased)
}

// RequiredKeysCheck builds a check that fails unless the named phase's result
// document contains every required key with non-empty content. Flow types
// register their own instances under distinct names.
func RequiredKeysCheck(name, phase string, keys []string) Check {
	return func(_ context.Context, _ model.FlowTypeDefinition, inst *model.FlowInstance) model.ReadinessCheckResult {
		doc := inst.PhaseResults[phase]
		var missing []string
		for _, k := range keys {
			v, ok := doc[k]
			if !ok || v == nil || v == "" {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			return model.Fail(name, model.ReadinessReasonMissingKeys, map[string]any{
				"phase":        phase,
				"missing_keys": missing,
			})
		}
		return model.Pass(name)
	}
}
