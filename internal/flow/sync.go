package flow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/floe/internal/definition"
	"github.com/pitabwire/floe/internal/observability"
	"github.com/pitabwire/floe/model"
)

// Synchronizer bridges in-memory flow execution state and the durable store.
// The store is the single source of truth; the in-memory instance is a
// working copy valid only for the duration of one operation.
type Synchronizer struct {
	store    CheckpointStore
	registry *definition.Registry
	metrics  *observability.Metrics
	log      *zap.Logger
}

// NewSynchronizer creates a synchronizer over the given store and registry.
// metrics may be nil.
func NewSynchronizer(store CheckpointStore, registry *definition.Registry, metrics *observability.Metrics, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{store: store, registry: registry, metrics: metrics, log: log}
}

// Checkpoint writes the instance snapshot to the store and bumps the
// in-memory version to match.
//
// Conflict resolution is keyed on the version counter, never on wall time.
// If the stored version moved past the in-memory one, a concurrent writer
// won the race; the snapshot is re-based onto the stored document by
// field-merging only the keys this operation is authoritative for, the
// result document of authoritativePhase. An overlapping write to that same
// phase cannot be merged and surfaces as a conflict the caller must re-fetch
// through.
func (s *Synchronizer) Checkpoint(ctx context.Context, inst *model.FlowInstance, authoritativePhase string) error {
	err := s.store.Update(ctx, *inst)
	if err == nil {
		inst.Version++
		inst.UpdatedAt = time.Now().UTC()
		s.metrics.RecordCheckpointWrite("ok")
		return nil
	}
	if !isConflict(err) {
		s.metrics.RecordCheckpointWrite("error")
		return err
	}

	stored, getErr := s.store.Get(ctx, inst.Tenant, inst.ID)
	if getErr != nil {
		s.metrics.RecordCheckpointWrite("conflict")
		s.metrics.RecordCheckpointConflict()
		return err
	}
	if stored.Version <= inst.Version {
		// The version counter went backwards or stalled; never merge over
		// an inconsistent counter.
		s.metrics.RecordCheckpointWrite("conflict")
		s.metrics.RecordCheckpointConflict()
		return err
	}

	merged, ok := mergeAuthoritative(stored, *inst, authoritativePhase)
	if !ok {
		s.metrics.RecordCheckpointWrite("conflict")
		s.metrics.RecordCheckpointConflict()
		return model.NewConflictError(
			fmt.Sprintf("flow instance %q was modified concurrently and the changes overlap", inst.ID),
		)
	}

	if err := s.store.Update(ctx, merged); err != nil {
		s.metrics.RecordCheckpointWrite("error")
		return err
	}
	s.metrics.RecordCheckpointMerge()
	s.metrics.RecordCheckpointWrite("ok")
	merged.Version++
	merged.UpdatedAt = time.Now().UTC()
	*inst = merged

	s.log.Info("checkpoint re-based onto concurrent write",
		zap.String("flow_id", inst.ID),
		zap.String("phase", authoritativePhase),
		zap.Int("version", inst.Version),
	)
	return nil
}

// Restore reads the latest checkpoint and reconstructs an executable
// instance. A structurally invalid document is repaired best-effort and
// tagged with integrity warnings rather than failing the restore;
// unverifiable data is surfaced, never discarded.
func (s *Synchronizer) Restore(ctx context.Context, tenant model.TenantContext, flowID string) (model.FlowInstance, error) {
	inst, err := s.store.Get(ctx, tenant, flowID)
	if err != nil {
		return model.FlowInstance{}, err
	}

	anomalies := s.repair(&inst)
	if len(anomalies) > 0 {
		inst.IntegrityWarnings = append(inst.IntegrityWarnings, anomalies...)
		s.metrics.RecordIntegrityAnomalies(len(anomalies))
		s.log.Warn("restored flow with integrity anomalies",
			zap.String("flow_id", inst.ID),
			zap.Strings("anomalies", anomalies),
		)
	}

	return inst, nil
}

// ValidateIntegrity checks the stored document for structural anomalies
// without repairing it.
func (s *Synchronizer) ValidateIntegrity(ctx context.Context, tenant model.TenantContext, flowID string) ([]string, error) {
	inst, err := s.store.Get(ctx, tenant, flowID)
	if err != nil {
		return nil, err
	}
	return s.inspect(inst), nil
}

// mergeAuthoritative re-bases a local snapshot onto a newer stored document.
// Only the authoritative phase's result document (and its pause point record)
// carries over; every other field keeps the stored, newer value. Returns
// false when the merge would be ambiguous.
func mergeAuthoritative(stored, local model.FlowInstance, phase string) (model.FlowInstance, bool) {
	if phase == "" {
		return model.FlowInstance{}, false
	}
	if model.IsTerminal(stored.Status) {
		return model.FlowInstance{}, false
	}

	localDoc := local.PhaseResults[phase]
	storedDoc := stored.PhaseResults[phase]
	if len(storedDoc) > 0 && !reflect.DeepEqual(storedDoc, localDoc) {
		// Both writers produced results for the same phase.
		return model.FlowInstance{}, false
	}

	merged := stored
	if len(localDoc) > 0 {
		if merged.PhaseResults == nil {
			merged.PhaseResults = make(map[string]map[string]any)
		}
		merged.PhaseResults[phase] = localDoc
	}
	if local.HasPausedAt(phase) && !merged.HasPausedAt(phase) {
		merged.PausePoints = append(merged.PausePoints, phase)
	}

	return merged, true
}

// repair fixes what inspect flags, in place, and returns the anomaly list.
func (s *Synchronizer) repair(inst *model.FlowInstance) []string {
	anomalies := s.inspect(*inst)
	if len(anomalies) == 0 {
		return nil
	}

	def, registered := s.registry.FlowType(inst.FlowType)
	if !registered {
		// Without a definition there is nothing to derive phases from.
		return anomalies
	}

	if !knownStatus(inst.Status) {
		if inst.CompletedAt != nil {
			inst.Status = model.FlowStatusCompleted
		} else {
			inst.Status = model.FlowStatusRunning
		}
	}

	if def.Phase(inst.CurrentPhase) == nil {
		inst.CurrentPhase = highestResultPhase(def, inst.PhaseResults)
		if inst.CurrentPhase != "" {
			if next := def.PhaseAfter(inst.CurrentPhase); next != nil {
				inst.NextPhase = next.Name
			} else {
				inst.NextPhase = ""
			}
		}
	}

	return anomalies
}

// inspect returns every structural anomaly in the stored document.
func (s *Synchronizer) inspect(inst model.FlowInstance) []string {
	var anomalies []string

	def, registered := s.registry.FlowType(inst.FlowType)
	if !registered {
		return append(anomalies, fmt.Sprintf("flow type %q is not registered", inst.FlowType))
	}

	if !knownStatus(inst.Status) {
		anomalies = append(anomalies, fmt.Sprintf("status %q is not a known flow status", inst.Status))
	}

	if inst.CurrentPhase != "" && def.Phase(inst.CurrentPhase) == nil {
		anomalies = append(anomalies, fmt.Sprintf("current phase %q is not defined for flow type %q", inst.CurrentPhase, inst.FlowType))
	}
	if inst.CurrentPhase == "" && !model.IsTerminal(inst.Status) && inst.Status != model.FlowStatusInitialized {
		anomalies = append(anomalies, "current phase is empty on a non-terminal flow")
	}

	for phase := range inst.PhaseResults {
		if def.Phase(phase) == nil {
			anomalies = append(anomalies, fmt.Sprintf("phase result %q references an undefined phase", phase))
		}
	}
	for _, phase := range inst.PausePoints {
		if def.Phase(phase) == nil {
			anomalies = append(anomalies, fmt.Sprintf("pause point %q references an undefined phase", phase))
		}
	}

	return anomalies
}

func knownStatus(status string) bool {
	switch status {
	case model.FlowStatusInitialized, model.FlowStatusRunning,
		model.FlowStatusPausedForApproval, model.FlowStatusWaitingForInput,
		model.FlowStatusFailed, model.FlowStatusCompleted, model.FlowStatusDeleted:
		return true
	}
	return false
}

// highestResultPhase returns the highest-ordinal defined phase that has a
// result document, or the first phase if none do.
func highestResultPhase(def model.FlowTypeDefinition, results map[string]map[string]any) string {
	best := ""
	bestOrdinal := -1
	for phase := range results {
		p := def.Phase(phase)
		if p == nil {
			continue
		}
		if p.Ordinal > bestOrdinal {
			best = phase
			bestOrdinal = p.Ordinal
		}
	}
	if best == "" && len(def.Phases) > 0 {
		return def.Phases[0].Name
	}
	return best
}

// isConflict reports whether an error is a version conflict from the store.
func isConflict(err error) bool {
	var ee *model.ErrorEnvelope
	return errors.As(err, &ee) && ee.Code == model.ErrConflict
}
