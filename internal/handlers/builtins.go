package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/pitabwire/floe/model"
)

// Built-in validator and handler names referenced by flow definitions.
const (
	ValidatorInputRequired = "input.required"
	ValidatorInputFields   = "input.fields"
	ValidatorResultPresent = "result.present"

	HandlerRecordPausePoint = "record.pause_point"
	HandlerMergeInput       = "result.merge_input"
	HandlerStampTime        = "result.stamp_time"
)

func registerBuiltins(t *Table) {
	t.RegisterValidator(ValidatorInputRequired, validateInputRequired)
	t.RegisterValidator(ValidatorInputFields, validateInputFields)
	t.RegisterValidator(ValidatorResultPresent, validateResultPresent)

	t.RegisterHandler(HandlerRecordPausePoint, recordPausePoint)
	t.RegisterHandler(HandlerMergeInput, mergeInput)
	t.RegisterHandler(HandlerStampTime, stampTime)
}

// validateInputRequired rejects a phase execution with no input at all.
func validateInputRequired(_ context.Context, _ *model.FlowInstance, input map[string]any) error {
	if len(input) == 0 {
		return model.NewValidationFailedError("phase input is required and was empty")
	}
	return nil
}

// validateInputFields rejects input missing any of the field names declared
// under the reserved "_required" input key. A definition wanting specific
// fields seeds that key through the phase definition defaults.
func validateInputFields(_ context.Context, _ *model.FlowInstance, input map[string]any) error {
	required, _ := input["_required"].([]any)
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		v, present := input[name]
		if !present || v == nil || v == "" {
			return model.NewValidationFailedError(fmt.Sprintf("required input field %q is missing or empty", name))
		}
	}
	return nil
}

// validateResultPresent rejects execution when the previous phase produced no
// result document. Guards phases that consume upstream output.
func validateResultPresent(_ context.Context, inst *model.FlowInstance, _ map[string]any) error {
	if len(inst.PhaseResults) == 0 {
		return model.NewValidationFailedError("no upstream phase results are available yet")
	}
	return nil
}

// recordPausePoint appends the phase to the instance's ordered pause history
// if it is not already recorded.
func recordPausePoint(_ context.Context, inst *model.FlowInstance, phase string, _ map[string]any) error {
	if !inst.HasPausedAt(phase) {
		inst.PausePoints = append(inst.PausePoints, phase)
	}
	return nil
}

// mergeInput copies caller-supplied input into the phase result document,
// skipping reserved underscore-prefixed keys.
func mergeInput(_ context.Context, inst *model.FlowInstance, phase string, input map[string]any) error {
	doc := inst.PhaseResult(phase)
	for k, v := range input {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		doc[k] = v
	}
	return nil
}

// stampTime records the handler execution time on the phase result document.
func stampTime(_ context.Context, inst *model.FlowInstance, phase string, _ map[string]any) error {
	inst.PhaseResult(phase)["handled_at"] = time.Now().UTC().Format(time.RFC3339)
	return nil
}
