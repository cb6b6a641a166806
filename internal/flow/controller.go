package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/floe/internal/agent"
	"github.com/pitabwire/floe/internal/definition"
	"github.com/pitabwire/floe/internal/handlers"
	"github.com/pitabwire/floe/internal/observability"
	"github.com/pitabwire/floe/internal/readiness"
	"github.com/pitabwire/floe/model"
)

// maxAutoAdvance bounds how many phases one call may chain through.
const maxAutoAdvance = 10

// Controller drives flow instances through their phases. It holds no
// per-flow state between calls; every operation restores from the store,
// executes under the flow's lock, and checkpoints every transition.
type Controller struct {
	registry *definition.Registry
	table    *handlers.Table
	checks   *readiness.Registry
	executor agent.Executor
	sync     *Synchronizer
	store    CheckpointStore
	locker   Locker
	metrics  *observability.Metrics
	log      *zap.Logger
}

// NewController creates a phase controller. metrics may be nil.
func NewController(
	registry *definition.Registry,
	table *handlers.Table,
	checks *readiness.Registry,
	executor agent.Executor,
	sync *Synchronizer,
	store CheckpointStore,
	locker Locker,
	metrics *observability.Metrics,
	log *zap.Logger,
) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		registry: registry,
		table:    table,
		checks:   checks,
		executor: executor,
		sync:     sync,
		store:    store,
		locker:   locker,
		metrics:  metrics,
		log:      log,
	}
}

// Initialize creates a new flow instance positioned at the first phase of
// its type. The initial input is retained and merged into the first phase
// execution.
func (c *Controller) Initialize(ctx context.Context, tenant model.TenantContext, flowType string, input map[string]any) (_ model.FlowInstance, err error) {
	ctx, span := observability.StartSpan(ctx, "flow.initialize",
		observability.AttrFlowType.String(flowType),
		observability.AttrAccountID.String(tenant.AccountID),
		observability.AttrEngagementID.String(tenant.EngagementID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if err := tenant.Validate(); err != nil {
		return model.FlowInstance{}, model.NewBadRequestError(err.Error())
	}

	def, ok := c.registry.FlowType(flowType)
	if !ok {
		return model.FlowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("flow type %q not found", flowType),
		)
	}
	if len(def.Phases) == 0 {
		return model.FlowInstance{}, model.NewBadRequestError(
			fmt.Sprintf("flow type %q has no phases", flowType),
		)
	}

	now := time.Now().UTC()
	inst := model.FlowInstance{
		ID:           uuid.New().String(),
		FlowType:     flowType,
		Tenant:       tenant,
		Status:       model.FlowStatusInitialized,
		CurrentPhase: def.Phases[0].Name,
		Input:        input,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if len(def.Phases) > 1 {
		inst.NextPhase = def.Phases[1].Name
	}

	if err := c.store.Create(ctx, inst); err != nil {
		return model.FlowInstance{}, err
	}

	span.SetAttributes(observability.AttrFlowID.String(inst.ID))
	c.metrics.RecordFlowInitialization(flowType)
	c.appendAudit(ctx, inst, model.AuditActionInitialize, inst.CurrentPhase, "ok", "")
	return inst, nil
}

// ExecutePhase runs one phase of a flow instance: validators, the agent task
// if the phase declares one, post-handlers, then the pause-or-advance
// decision. Each successful step checkpoints before the next begins, so a
// crash mid-phase loses at most one unit of work.
func (c *Controller) ExecutePhase(ctx context.Context, tenant model.TenantContext, flowID, phaseName string, input map[string]any) (_ model.FlowInstance, err error) {
	ctx, span := observability.StartSpan(ctx, "flow.execute_phase",
		observability.AttrFlowID.String(flowID),
		observability.AttrPhase.String(phaseName),
		observability.AttrAccountID.String(tenant.AccountID),
		observability.AttrEngagementID.String(tenant.EngagementID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	release, err := c.locker.TryAcquire(ctx, flowID)
	if err != nil {
		c.noteLockContention(err)
		return model.FlowInstance{}, err
	}
	defer release()
	defer c.applyPendingDelete(ctx, tenant, flowID)

	inst, err := c.sync.Restore(ctx, tenant, flowID)
	if err != nil {
		return model.FlowInstance{}, err
	}
	span.SetAttributes(observability.AttrFlowType.String(inst.FlowType))

	start := time.Now()
	result, err := c.executeLocked(ctx, &inst, phaseName, input, false, 0)
	c.metrics.RecordPhaseExecution(inst.FlowType, phaseName, outcomeLabel(err), time.Since(start))
	c.appendAudit(ctx, inst, model.AuditActionExecutePhase, phaseName, auditResult(err), auditReason(err))
	return result, err
}

// Resume reconstructs a paused flow and re-executes its current phase with
// the user-supplied input merged in. Resuming a flow that is already
// running is a no-op, so an immediate second resume never double-advances.
func (c *Controller) Resume(ctx context.Context, tenant model.TenantContext, flowID string, userInput map[string]any) (_ model.FlowInstance, err error) {
	ctx, span := observability.StartSpan(ctx, "flow.resume",
		observability.AttrFlowID.String(flowID),
		observability.AttrAccountID.String(tenant.AccountID),
		observability.AttrEngagementID.String(tenant.EngagementID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	release, err := c.locker.TryAcquire(ctx, flowID)
	if err != nil {
		c.noteLockContention(err)
		return model.FlowInstance{}, err
	}
	defer release()
	defer c.applyPendingDelete(ctx, tenant, flowID)

	inst, err := c.sync.Restore(ctx, tenant, flowID)
	if err != nil {
		return model.FlowInstance{}, err
	}
	span.SetAttributes(
		observability.AttrFlowType.String(inst.FlowType),
		observability.AttrPhase.String(inst.CurrentPhase),
	)

	switch {
	case model.IsPaused(inst.Status):
		// Fall through to re-execute the current phase with override.
	case inst.Status == model.FlowStatusRunning, inst.Status == model.FlowStatusInitialized:
		// Nothing to release; idempotent.
		return inst, nil
	default:
		return model.FlowInstance{}, model.NewFlowNotResumableError(
			fmt.Sprintf("flow instance %q is %s and cannot be resumed", flowID, inst.Status),
		)
	}

	c.metrics.RecordFlowResume(inst.FlowType)
	result, err := c.executeLocked(ctx, &inst, inst.CurrentPhase, userInput, true, 0)
	c.appendAudit(ctx, inst, model.AuditActionResume, inst.CurrentPhase, auditResult(err), auditReason(err))
	return result, err
}

// Pause voluntarily pauses a running flow, independent of any definition
// pause point.
func (c *Controller) Pause(ctx context.Context, tenant model.TenantContext, flowID string) (model.FlowInstance, error) {
	release, err := c.locker.TryAcquire(ctx, flowID)
	if err != nil {
		c.noteLockContention(err)
		return model.FlowInstance{}, err
	}
	defer release()

	inst, err := c.sync.Restore(ctx, tenant, flowID)
	if err != nil {
		return model.FlowInstance{}, err
	}

	switch inst.Status {
	case model.FlowStatusRunning, model.FlowStatusInitialized:
	case model.FlowStatusPausedForApproval, model.FlowStatusWaitingForInput:
		return inst, nil
	default:
		return model.FlowInstance{}, model.NewFlowNotResumableError(
			fmt.Sprintf("flow instance %q is %s and cannot be paused", flowID, inst.Status),
		)
	}

	inst.Status = model.FlowStatusPausedForApproval
	if err := c.sync.Checkpoint(ctx, &inst, inst.CurrentPhase); err != nil {
		return model.FlowInstance{}, err
	}

	c.metrics.RecordFlowPause(inst.FlowType, "voluntary")
	c.appendAudit(ctx, inst, model.AuditActionPause, inst.CurrentPhase, "ok", "voluntary pause")
	return inst, nil
}

// Delete soft-deletes a flow instance, retaining the record for audit. If a
// phase execution is in flight the delete is recorded as pending and applied
// by the lock holder once execution completes.
func (c *Controller) Delete(ctx context.Context, tenant model.TenantContext, flowID string) error {
	release, err := c.locker.TryAcquire(ctx, flowID)
	if err != nil {
		c.noteLockContention(err)
		var ee *model.ErrorEnvelope
		if errors.As(err, &ee) && ee.Code == model.ErrExecutionInFlight {
			// Defer: the in-flight execution applies the delete on release.
			if err := c.store.MarkPendingDelete(ctx, tenant, flowID); err != nil {
				return err
			}
			c.appendAudit(ctx, model.FlowInstance{ID: flowID, Tenant: tenant},
				model.AuditActionDelete, "", "deferred", "execution in flight")
			return nil
		}
		return err
	}
	defer release()

	inst, err := c.store.Get(ctx, tenant, flowID)
	if err != nil {
		return err
	}
	if inst.Status == model.FlowStatusDeleted {
		return nil
	}

	// The active gauge only counts non-terminal instances, so a delete of an
	// already-completed flow must not decrement it again.
	wasActive := !model.IsTerminal(inst.Status)

	inst.Status = model.FlowStatusDeleted
	inst.PendingDelete = false
	if err := c.sync.Checkpoint(ctx, &inst, inst.CurrentPhase); err != nil {
		return err
	}

	if wasActive {
		c.metrics.RecordFlowCompletion(inst.FlowType, model.FlowStatusDeleted)
	}
	c.appendAudit(ctx, inst, model.AuditActionDelete, inst.CurrentPhase, "ok", "")
	return nil
}

// Status returns the full externally visible view of a flow instance.
func (c *Controller) Status(ctx context.Context, tenant model.TenantContext, flowID string) (model.FlowView, error) {
	inst, err := c.sync.Restore(ctx, tenant, flowID)
	if err != nil {
		return model.FlowView{}, err
	}

	view := model.FlowView{FlowInstance: inst}
	def, ok := c.registry.FlowType(inst.FlowType)
	if !ok {
		return view, nil
	}

	currentOrdinal := -1
	if p := def.Phase(inst.CurrentPhase); p != nil {
		currentOrdinal = p.Ordinal
	}

	for _, p := range def.Phases {
		view.Phases = append(view.Phases, model.PhaseSummary{
			Name:         p.Name,
			Ordinal:      p.Ordinal,
			IsPausePoint: p.IsPausePoint,
			Status:       phaseDisplayStatus(p, inst, currentOrdinal),
			HasResult:    len(inst.PhaseResults[p.Name]) > 0,
		})
	}
	return view, nil
}

// List returns flow summaries for the tenant plus the total match count.
func (c *Controller) List(ctx context.Context, tenant model.TenantContext, filters model.FlowFilters) ([]model.FlowSummary, int, error) {
	paged := filters
	if paged.Limit <= 0 {
		paged.Limit = 20
	}
	if paged.Offset < 0 {
		paged.Offset = 0
	}

	instances, err := c.store.List(ctx, tenant, paged)
	if err != nil {
		return nil, 0, err
	}

	total, err := c.store.Count(ctx, tenant, model.FlowFilters{
		FlowType: filters.FlowType,
		Status:   filters.Status,
	})
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]model.FlowSummary, 0, len(instances))
	for _, inst := range instances {
		summaries = append(summaries, model.FlowSummary{
			ID:           inst.ID,
			FlowType:     inst.FlowType,
			Status:       inst.Status,
			CurrentPhase: inst.CurrentPhase,
			CreatedAt:    inst.CreatedAt,
			UpdatedAt:    inst.UpdatedAt,
		})
	}
	return summaries, total, nil
}

// Audit returns the audit trail for a flow instance, oldest first.
func (c *Controller) Audit(ctx context.Context, tenant model.TenantContext, flowID string) ([]model.AuditEntry, error) {
	return c.store.ListAudit(ctx, tenant, flowID)
}

// executeLocked is the phase execution core. The caller holds the flow lock.
func (c *Controller) executeLocked(ctx context.Context, inst *model.FlowInstance, phaseName string, input map[string]any, override bool, depth int) (model.FlowInstance, error) {
	if depth >= maxAutoAdvance {
		return model.FlowInstance{}, model.NewInternalError().WithDetail(
			"reason", fmt.Sprintf("auto-advance chain exceeded %d phases", maxAutoAdvance),
		)
	}

	if inst.Status == model.FlowStatusDeleted {
		return model.FlowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("flow instance %q not found", inst.ID),
		)
	}
	if inst.Status == model.FlowStatusCompleted {
		return model.FlowInstance{}, model.NewFlowNotResumableError(
			fmt.Sprintf("flow instance %q is completed", inst.ID),
		)
	}

	def, ok := c.registry.FlowType(inst.FlowType)
	if !ok {
		return model.FlowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("flow type %q not found", inst.FlowType),
		)
	}

	if phaseName != inst.CurrentPhase && phaseName != inst.NextPhase {
		return model.FlowInstance{}, model.NewPhaseOutOfOrderError(
			fmt.Sprintf("phase %q is neither the current phase %q nor the next phase", phaseName, inst.CurrentPhase),
		)
	}

	phaseDef := def.Phase(phaseName)
	if phaseDef == nil {
		return model.FlowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("phase %q not found in flow type %q", phaseName, inst.FlowType),
		)
	}

	// The first execution consumes the retained initial input.
	input = mergedInput(inst, phaseDef, input)

	// (a) Pre-validators. Any failure aborts with no state mutation and the
	// reason surfaces verbatim.
	for _, name := range phaseDef.Validators {
		v, ok := c.table.Validator(name)
		if !ok {
			return model.FlowInstance{}, model.NewInternalError().WithDetail(
				"reason", fmt.Sprintf("validator %q is not registered", name),
			)
		}
		if err := v(ctx, inst, input); err != nil {
			var ee *model.ErrorEnvelope
			if errors.As(err, &ee) {
				return model.FlowInstance{}, ee
			}
			return model.FlowInstance{}, model.NewValidationFailedError(err.Error())
		}
	}

	priorStatus := inst.Status
	if phaseName != inst.CurrentPhase {
		// Advancing into the designated next phase.
		inst.CurrentPhase = phaseName
		inst.NextPhase = nextPhaseName(def, phaseName)
	}
	inst.Status = model.FlowStatusRunning
	if err := c.sync.Checkpoint(ctx, inst, phaseName); err != nil {
		return model.FlowInstance{}, err
	}

	// (b) Agent task, at most once per phase. A retained clean result (a
	// prior run that did not fail) is not re-dispatched on resume.
	if phaseDef.Task != nil && !hasCleanResult(inst, phaseName) {
		if err := c.runTask(ctx, inst, phaseDef, priorStatus); err != nil {
			return model.FlowInstance{}, err
		}
	}

	// (c) Post-handlers.
	for _, name := range phaseDef.Handlers {
		h, ok := c.table.Handler(name)
		if !ok {
			return model.FlowInstance{}, model.NewInternalError().WithDetail(
				"reason", fmt.Sprintf("handler %q is not registered", name),
			)
		}
		if err := h(ctx, inst, phaseName, input); err != nil {
			return model.FlowInstance{}, c.failFlow(ctx, inst, phaseName,
				fmt.Sprintf("handler %q: %v", name, err))
		}
	}
	if err := c.sync.Checkpoint(ctx, inst, phaseName); err != nil {
		return model.FlowInstance{}, err
	}

	// (d) Pause or advance.
	if phaseDef.IsPausePoint && !override {
		inst.Status = phaseDef.PausedStatus()
		if !inst.HasPausedAt(phaseName) {
			inst.PausePoints = append(inst.PausePoints, phaseName)
		}
		inst.NextPhase = nextPhaseName(def, phaseName)
		if err := c.sync.Checkpoint(ctx, inst, phaseName); err != nil {
			return model.FlowInstance{}, err
		}
		c.metrics.RecordFlowPause(inst.FlowType, pauseKind(phaseDef))
		return *inst, nil
	}

	next := def.PhaseAfter(phaseName)
	if next == nil {
		return c.complete(ctx, inst, def, phaseDef)
	}

	inst.CurrentPhase = next.Name
	inst.NextPhase = nextPhaseName(def, next.Name)
	inst.Status = model.FlowStatusRunning
	if err := c.sync.Checkpoint(ctx, inst, phaseName); err != nil {
		return model.FlowInstance{}, err
	}

	if phaseDef.AutoAdvance {
		return c.executeLocked(ctx, inst, next.Name, nil, false, depth+1)
	}
	return *inst, nil
}

// runTask dispatches the phase's agent task and folds the parsed result into
// the phase's result document.
func (c *Controller) runTask(ctx context.Context, inst *model.FlowInstance, phaseDef *model.PhaseDefinition, priorStatus string) error {
	task := model.AgentTask{
		Description: phaseDef.Task.Description,
		ExpectedKey: phaseDef.Task.ExpectedKey,
		Tenant:      inst.Tenant,
	}
	if phaseDef.Task.Deadline > 0 {
		task.Deadline = time.Now().Add(phaseDef.Task.Deadline)
	}

	parsed, err := c.executor.Run(ctx, task)
	if err != nil {
		var ee *model.ErrorEnvelope
		if errors.As(err, &ee) {
			switch ee.Code {
			case model.ErrRateLimited, model.ErrTransient:
				// Retryable at the phase level: the flow's status reverts so
				// the caller sees it unchanged.
				inst.Status = priorStatus
				if cpErr := c.sync.Checkpoint(ctx, inst, phaseDef.Name); cpErr != nil {
					return cpErr
				}
				return ee
			case model.ErrUnparsableOutput:
				// The flow fails but the caller still receives the raw
				// output for diagnostics.
				if cpErr := c.markFailed(ctx, inst, phaseDef.Name, ee.Message); cpErr != nil {
					return cpErr
				}
				return ee
			}
		}
		return c.failFlow(ctx, inst, phaseDef.Name, err.Error())
	}

	doc := inst.PhaseResult(phaseDef.Name)
	delete(doc, "error")
	for k, v := range parsed.Document {
		doc[k] = v
	}
	return c.sync.Checkpoint(ctx, inst, phaseDef.Name)
}

// complete runs the readiness gate and, if every check passes, transitions
// the flow to COMPLETED.
func (c *Controller) complete(ctx context.Context, inst *model.FlowInstance, def model.FlowTypeDefinition, phaseDef *model.PhaseDefinition) (model.FlowInstance, error) {
	if len(phaseDef.ReadinessChecks) > 0 {
		report := c.checks.Gate(phaseDef.ReadinessChecks).Evaluate(ctx, def, inst)
		if !report.Ready {
			// Expected "not yet done" outcome; no state changes.
			return model.FlowInstance{}, model.NewReadinessNotMetError(report)
		}
	}

	now := time.Now().UTC()
	inst.Status = model.FlowStatusCompleted
	inst.CurrentPhase = ""
	inst.NextPhase = ""
	inst.CompletedAt = &now
	if err := c.sync.Checkpoint(ctx, inst, phaseDef.Name); err != nil {
		return model.FlowInstance{}, err
	}
	c.metrics.RecordFlowCompletion(inst.FlowType, model.FlowStatusCompleted)
	return *inst, nil
}

// markFailed transitions the flow to FAILED, storing the failure reason in
// the phase's result document. Leaving FAILED requires a fresh execute call.
func (c *Controller) markFailed(ctx context.Context, inst *model.FlowInstance, phase, reason string) error {
	inst.Status = model.FlowStatusFailed
	inst.PhaseResult(phase)["error"] = reason
	if err := c.sync.Checkpoint(ctx, inst, phase); err != nil {
		return err
	}

	c.log.Warn("flow failed",
		zap.String("flow_id", inst.ID),
		zap.String("phase", phase),
		zap.String("reason", reason),
	)
	return nil
}

// failFlow marks the flow FAILED and returns the caller-visible error.
func (c *Controller) failFlow(ctx context.Context, inst *model.FlowInstance, phase, reason string) error {
	if err := c.markFailed(ctx, inst, phase, reason); err != nil {
		return err
	}
	return &model.ErrorEnvelope{
		Code:       model.ErrInternalError,
		Message:    reason,
		NextAction: model.ActionRetry,
		Details:    map[string]any{"phase": phase},
	}
}

// applyPendingDelete soft-deletes a flow whose deletion was requested while
// this caller held the execution lock. Runs before the lock is released.
func (c *Controller) applyPendingDelete(ctx context.Context, tenant model.TenantContext, flowID string) {
	inst, err := c.store.Get(ctx, tenant, flowID)
	if err != nil || !inst.PendingDelete || inst.Status == model.FlowStatusDeleted {
		return
	}

	wasActive := !model.IsTerminal(inst.Status)
	inst.Status = model.FlowStatusDeleted
	inst.PendingDelete = false
	if err := c.sync.Checkpoint(ctx, &inst, inst.CurrentPhase); err != nil {
		c.log.Error("apply pending delete", zap.String("flow_id", flowID), zap.Error(err))
		return
	}
	if wasActive {
		c.metrics.RecordFlowCompletion(inst.FlowType, model.FlowStatusDeleted)
	}
	c.appendAudit(ctx, inst, model.AuditActionDelete, inst.CurrentPhase, "ok", "applied after in-flight execution")
}

// appendAudit records a lifecycle action. Best-effort: a failed audit write
// logs locally and never fails the primary operation.
func (c *Controller) appendAudit(ctx context.Context, inst model.FlowInstance, action, phase, result, reason string) {
	entry := model.AuditEntry{
		ID:        uuid.New().String(),
		FlowID:    inst.ID,
		Tenant:    inst.Tenant,
		Action:    action,
		Phase:     phase,
		Result:    result,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.AppendAudit(ctx, entry); err != nil {
		c.log.Warn("audit write failed",
			zap.String("flow_id", inst.ID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// mergedInput layers the retained initial input under the caller's input for
// the first phase; the caller's keys win.
func mergedInput(inst *model.FlowInstance, phaseDef *model.PhaseDefinition, input map[string]any) map[string]any {
	if len(inst.Input) == 0 || phaseDef.Ordinal != 0 {
		return input
	}
	merged := make(map[string]any, len(inst.Input)+len(input))
	for k, v := range inst.Input {
		merged[k] = v
	}
	for k, v := range input {
		merged[k] = v
	}
	return merged
}

// hasCleanResult reports whether the phase already has a result document
// from a prior run that did not fail.
func hasCleanResult(inst *model.FlowInstance, phase string) bool {
	doc, ok := inst.PhaseResults[phase]
	if !ok || len(doc) == 0 {
		return false
	}
	_, failed := doc["error"]
	return !failed
}

func nextPhaseName(def model.FlowTypeDefinition, phase string) string {
	if next := def.PhaseAfter(phase); next != nil {
		return next.Name
	}
	return ""
}

func phaseDisplayStatus(p model.PhaseDefinition, inst model.FlowInstance, currentOrdinal int) string {
	if inst.Status == model.FlowStatusCompleted {
		return model.PhaseStatusCompleted
	}
	switch {
	case currentOrdinal < 0:
		return model.PhaseStatusPending
	case p.Ordinal < currentOrdinal:
		return model.PhaseStatusCompleted
	case p.Ordinal == currentOrdinal:
		if inst.Status == model.FlowStatusInitialized {
			return model.PhaseStatusPending
		}
		return model.PhaseStatusInProgress
	default:
		return model.PhaseStatusFuture
	}
}

func auditResult(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// noteLockContention records a rejected acquisition of a held flow lock.
func (c *Controller) noteLockContention(err error) {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) && ee.Code == model.ErrExecutionInFlight {
		c.metrics.RecordLockContention()
	}
}

// outcomeLabel maps a phase execution result to a bounded metric label.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return strings.ToLower(ee.Code)
	}
	return "error"
}

func pauseKind(p *model.PhaseDefinition) string {
	if p.PauseKind != "" {
		return p.PauseKind
	}
	return model.PauseKindApproval
}

func auditReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
