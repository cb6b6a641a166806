package flow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/floe/internal/agent"
	"github.com/pitabwire/floe/internal/definition"
	"github.com/pitabwire/floe/internal/handlers"
	"github.com/pitabwire/floe/internal/observability"
	"github.com/pitabwire/floe/internal/readiness"
	"github.com/pitabwire/floe/model"
)

// fakeExecutor returns canned results keyed by the task's expected key.
type fakeExecutor struct {
	calls   atomic.Int32
	results map[string]model.ParsedResult
	err     error
}

func (f *fakeExecutor) Run(_ context.Context, task model.AgentTask) (model.ParsedResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return model.ParsedResult{}, f.err
	}
	if r, ok := f.results[task.ExpectedKey]; ok {
		return r, nil
	}
	return model.ParsedResult{
		Key:      task.ExpectedKey,
		Document: map[string]any{task.ExpectedKey: []any{"generated"}},
	}, nil
}

var _ agent.Executor = (*fakeExecutor)(nil)

func assessmentDefinition() model.FlowTypeDefinition {
	return model.FlowTypeDefinition{
		Name: "assessment",
		Phases: []model.PhaseDefinition{
			{
				Name:    "discover",
				Ordinal: 0,
				Task:    &model.TaskSpec{Description: "inventory datasets", ExpectedKey: "datasets"},
			},
			{
				Name:         "assess",
				Ordinal:      1,
				IsPausePoint: true,
				PauseKind:    model.PauseKindApproval,
				Task:         &model.TaskSpec{Description: "produce gap report", ExpectedKey: "gap_report"},
			},
			{
				Name:            "finalize",
				Ordinal:         2,
				ReadinessChecks: []string{"phases.all_executed", "results.no_errors"},
			},
		},
	}
}

type testHarness struct {
	controller *Controller
	store      *MemoryCheckpointStore
	locker     *MemoryLocker
	executor   *fakeExecutor
	checks     *readiness.Registry
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	registry := definition.NewRegistry([]model.FlowTypeDefinition{assessmentDefinition()})
	store := NewMemoryCheckpointStore()
	locker := NewMemoryLocker()
	executor := &fakeExecutor{}
	checks := readiness.NewRegistry()
	syncer := NewSynchronizer(store, registry, nil, nil)

	return &testHarness{
		controller: NewController(registry, handlers.NewTable(), checks, executor, syncer, store, locker, nil, nil),
		store:      store,
		locker:     locker,
		executor:   executor,
		checks:     checks,
	}
}

func testTenant() model.TenantContext {
	return model.TenantContext{AccountID: "42", EngagementID: "7"}
}

func TestController_InitializeScenario(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", map[string]any{"scope": "full"})
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if inst.Status != model.FlowStatusInitialized {
		t.Errorf("status = %q, want initialized", inst.Status)
	}
	if inst.CurrentPhase != "discover" {
		t.Errorf("current phase = %q, want discover", inst.CurrentPhase)
	}
	if inst.NextPhase != "assess" {
		t.Errorf("next phase = %q, want assess", inst.NextPhase)
	}

	// Execute the first phase: task runs, flow stays running, and the
	// controller hands control back positioned on the next phase.
	inst, err = h.controller.ExecutePhase(ctx, tenant, inst.ID, "discover", nil)
	if err != nil {
		t.Fatalf("ExecutePhase(discover) error: %v", err)
	}
	if inst.Status != model.FlowStatusRunning {
		t.Errorf("status = %q, want running", inst.Status)
	}
	if inst.CurrentPhase != "assess" {
		t.Errorf("current phase = %q, want assess", inst.CurrentPhase)
	}
	if len(inst.PhaseResults["discover"]) == 0 {
		t.Error("discover phase result missing")
	}

	// Execute the pause-point phase: the flow pauses without advancing.
	inst, err = h.controller.ExecutePhase(ctx, tenant, inst.ID, "assess", nil)
	if err != nil {
		t.Fatalf("ExecutePhase(assess) error: %v", err)
	}
	if inst.Status != model.FlowStatusPausedForApproval {
		t.Errorf("status = %q, want paused_for_approval", inst.Status)
	}
	if inst.CurrentPhase != "assess" {
		t.Errorf("current phase = %q, want assess (unchanged)", inst.CurrentPhase)
	}
	if !inst.HasPausedAt("assess") {
		t.Error("pause point not recorded")
	}

	// Resume with approval input: the flow advances past the pause point.
	inst, err = h.controller.Resume(ctx, tenant, inst.ID, map[string]any{"approved": true})
	if err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	if inst.Status != model.FlowStatusRunning {
		t.Errorf("status after resume = %q, want running", inst.Status)
	}
	if inst.CurrentPhase != "finalize" {
		t.Errorf("current phase after resume = %q, want finalize", inst.CurrentPhase)
	}
}

func TestController_ResumeIsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if _, err := h.controller.ExecutePhase(ctx, tenant, inst.ID, "discover", nil); err != nil {
		t.Fatalf("ExecutePhase(discover) error: %v", err)
	}
	if _, err := h.controller.ExecutePhase(ctx, tenant, inst.ID, "assess", nil); err != nil {
		t.Fatalf("ExecutePhase(assess) error: %v", err)
	}

	first, err := h.controller.Resume(ctx, tenant, inst.ID, map[string]any{"approved": true})
	if err != nil {
		t.Fatalf("first Resume error: %v", err)
	}
	second, err := h.controller.Resume(ctx, tenant, inst.ID, map[string]any{"approved": true})
	if err != nil {
		t.Fatalf("second Resume error: %v", err)
	}

	if first.CurrentPhase != second.CurrentPhase {
		t.Errorf("current phase changed on second resume: %q vs %q", first.CurrentPhase, second.CurrentPhase)
	}
	if first.Status != second.Status {
		t.Errorf("status changed on second resume: %q vs %q", first.Status, second.Status)
	}
}

func TestController_RateLimitedLeavesStatusUnchanged(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	h.executor.err = model.NewRateLimitedError("rate limited after 3 attempts")
	_, err = h.controller.ExecutePhase(ctx, tenant, inst.ID, "discover", nil)

	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrRateLimited {
		t.Fatalf("ExecutePhase = %v, want RATE_LIMITED", err)
	}

	stored, err := h.store.Get(ctx, tenant, inst.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if stored.Status != model.FlowStatusInitialized {
		t.Errorf("status = %q, want initialized (unchanged)", stored.Status)
	}
}

func TestController_UnparsableOutputFailsFlowThenRetries(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	h.executor.err = model.NewUnparsableOutputError("no data to analyze")
	_, err = h.controller.ExecutePhase(ctx, tenant, inst.ID, "discover", nil)

	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrUnparsableOutput {
		t.Fatalf("ExecutePhase = %v, want UNPARSABLE_OUTPUT", err)
	}
	if ee.Details["raw_output"] != "no data to analyze" {
		t.Error("raw output not carried through to the caller")
	}

	stored, _ := h.store.Get(ctx, tenant, inst.ID)
	if stored.Status != model.FlowStatusFailed {
		t.Fatalf("status = %q, want failed", stored.Status)
	}
	if stored.PhaseResults["discover"]["error"] == nil {
		t.Error("failure reason not stored in phase results")
	}

	// An explicit retry is a fresh execute call; success leaves FAILED.
	h.executor.err = nil
	retried, err := h.controller.ExecutePhase(ctx, tenant, inst.ID, "discover", nil)
	if err != nil {
		t.Fatalf("retry ExecutePhase error: %v", err)
	}
	if retried.Status != model.FlowStatusRunning {
		t.Errorf("status after retry = %q, want running", retried.Status)
	}
	if retried.PhaseResults["discover"]["error"] != nil {
		t.Error("stale error not cleared after successful retry")
	}
}

func TestController_TenantIsolation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenantA := model.TenantContext{AccountID: "42", EngagementID: "7"}
	tenantB := model.TenantContext{AccountID: "99", EngagementID: "7"}

	inst, err := h.controller.Initialize(ctx, tenantA, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	_, err = h.controller.Status(ctx, tenantB, inst.ID)
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrNotFound {
		t.Fatalf("Status under other tenant = %v, want NOT_FOUND", err)
	}

	_, err = h.controller.ExecutePhase(ctx, tenantB, inst.ID, "discover", nil)
	if !errors.As(err, &ee) || ee.Code != model.ErrNotFound {
		t.Fatalf("ExecutePhase under other tenant = %v, want NOT_FOUND", err)
	}
}

func TestController_ConcurrentExecutionRejected(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	// Hold the flow's lock as an in-flight execution would.
	release, err := h.locker.TryAcquire(ctx, inst.ID)
	if err != nil {
		t.Fatalf("TryAcquire error: %v", err)
	}
	defer release()

	_, err = h.controller.ExecutePhase(ctx, tenant, inst.ID, "discover", nil)
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrExecutionInFlight {
		t.Fatalf("ExecutePhase = %v, want EXECUTION_IN_FLIGHT", err)
	}
}

func TestController_DeferredDelete(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	// Simulate an in-flight execution holding the lock.
	release, err := h.locker.TryAcquire(ctx, inst.ID)
	if err != nil {
		t.Fatalf("TryAcquire error: %v", err)
	}

	if err := h.controller.Delete(ctx, tenant, inst.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	stored, _ := h.store.Get(ctx, tenant, inst.ID)
	if !stored.PendingDelete {
		t.Fatal("pending delete flag not set")
	}
	if stored.Status == model.FlowStatusDeleted {
		t.Fatal("delete applied while execution was in flight")
	}

	// The in-flight execution completes; its teardown applies the delete.
	release()
	_, _ = h.controller.ExecutePhase(ctx, tenant, inst.ID, "discover", nil)

	stored, _ = h.store.Get(ctx, tenant, inst.ID)
	if stored.Status != model.FlowStatusDeleted {
		t.Errorf("status = %q, want deleted after lock release", stored.Status)
	}
	if stored.PendingDelete {
		t.Error("pending delete flag not cleared")
	}
}

func TestController_DeleteIsTerminal(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if err := h.controller.Delete(ctx, tenant, inst.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	_, err = h.controller.ExecutePhase(ctx, tenant, inst.ID, "discover", nil)
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrNotFound {
		t.Fatalf("ExecutePhase on deleted flow = %v, want NOT_FOUND", err)
	}

	// The record is retained for audit.
	stored, err := h.store.Get(ctx, tenant, inst.ID)
	if err != nil {
		t.Fatalf("Get after delete error: %v", err)
	}
	if stored.Status != model.FlowStatusDeleted {
		t.Errorf("status = %q, want deleted", stored.Status)
	}
}

func TestController_VoluntaryPause(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if _, err := h.controller.ExecutePhase(ctx, tenant, inst.ID, "discover", nil); err != nil {
		t.Fatalf("ExecutePhase error: %v", err)
	}

	paused, err := h.controller.Pause(ctx, tenant, inst.ID)
	if err != nil {
		t.Fatalf("Pause error: %v", err)
	}
	if paused.Status != model.FlowStatusPausedForApproval {
		t.Errorf("status = %q, want paused_for_approval", paused.Status)
	}

	resumed, err := h.controller.Resume(ctx, tenant, inst.ID, nil)
	if err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	if resumed.Status == model.FlowStatusPausedForApproval {
		t.Error("flow still paused after resume")
	}
}

func TestController_PhaseOutOfOrder(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	_, err = h.controller.ExecutePhase(ctx, tenant, inst.ID, "finalize", nil)
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrPhaseOutOfOrder {
		t.Fatalf("ExecutePhase(finalize) = %v, want PHASE_OUT_OF_ORDER", err)
	}
}

func TestController_ReadinessGateBlocksCompletion(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if _, err := h.controller.ExecutePhase(ctx, tenant, inst.ID, "discover", nil); err != nil {
		t.Fatalf("ExecutePhase(discover) error: %v", err)
	}
	if _, err := h.controller.ExecutePhase(ctx, tenant, inst.ID, "assess", nil); err != nil {
		t.Fatalf("ExecutePhase(assess) error: %v", err)
	}
	if _, err := h.controller.Resume(ctx, tenant, inst.ID, map[string]any{"approved": true}); err != nil {
		t.Fatalf("Resume error: %v", err)
	}

	// Poison one phase result so results.no_errors fails the gate.
	h.store.Corrupt(inst.ID, func(f *model.FlowInstance) {
		f.PhaseResults["assess"]["error"] = "unresolved gaps"
	})

	_, err = h.controller.ExecutePhase(ctx, tenant, inst.ID, "finalize", nil)
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrReadinessNotMet {
		t.Fatalf("ExecutePhase(finalize) = %v, want READINESS_NOT_MET", err)
	}

	stored, _ := h.store.Get(ctx, tenant, inst.ID)
	if stored.Status == model.FlowStatusCompleted {
		t.Fatal("flow completed despite failing readiness gate")
	}

	// Remediate and re-execute the terminal phase.
	h.store.Corrupt(inst.ID, func(f *model.FlowInstance) {
		delete(f.PhaseResults["assess"], "error")
	})

	final, err := h.controller.ExecutePhase(ctx, tenant, inst.ID, "finalize", nil)
	if err != nil {
		t.Fatalf("ExecutePhase(finalize) after remediation error: %v", err)
	}
	if final.Status != model.FlowStatusCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	if final.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if final.CurrentPhase != "" {
		t.Errorf("current phase = %q, want empty after completion", final.CurrentPhase)
	}
}

func TestController_InitialInputReachesFirstPhase(t *testing.T) {
	registry := definition.NewRegistry([]model.FlowTypeDefinition{
		{
			Name: "guarded",
			Phases: []model.PhaseDefinition{
				{Name: "start", Ordinal: 0, Validators: []string{"input.required"}, Handlers: []string{"result.merge_input"}},
				{Name: "end", Ordinal: 1},
			},
		},
	})
	store := NewMemoryCheckpointStore()
	syncer := NewSynchronizer(store, registry, nil, nil)
	ctrl := NewController(registry, handlers.NewTable(), readiness.NewRegistry(),
		&fakeExecutor{}, syncer, store, NewMemoryLocker(), nil, nil)

	ctx := context.Background()
	tenant := testTenant()

	inst, err := ctrl.Initialize(ctx, tenant, "guarded", map[string]any{"scope": "full"})
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	// input.required passes because the retained initial input is merged in.
	inst, err = ctrl.ExecutePhase(ctx, tenant, inst.ID, "start", nil)
	if err != nil {
		t.Fatalf("ExecutePhase error: %v", err)
	}
	if inst.PhaseResults["start"]["scope"] != "full" {
		t.Errorf("merged result = %v, want initial input carried through", inst.PhaseResults["start"])
	}
}

func TestController_AutoAdvanceChains(t *testing.T) {
	registry := definition.NewRegistry([]model.FlowTypeDefinition{
		{
			Name: "chained",
			Phases: []model.PhaseDefinition{
				{Name: "one", Ordinal: 0, AutoAdvance: true},
				{Name: "two", Ordinal: 1, AutoAdvance: true},
				{Name: "three", Ordinal: 2},
			},
		},
	})
	store := NewMemoryCheckpointStore()
	syncer := NewSynchronizer(store, registry, nil, nil)
	ctrl := NewController(registry, handlers.NewTable(), readiness.NewRegistry(),
		&fakeExecutor{}, syncer, store, NewMemoryLocker(), nil, nil)

	ctx := context.Background()
	tenant := testTenant()

	inst, err := ctrl.Initialize(ctx, tenant, "chained", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	// One call runs the whole auto-advance chain through to completion.
	inst, err = ctrl.ExecutePhase(ctx, tenant, inst.ID, "one", nil)
	if err != nil {
		t.Fatalf("ExecutePhase error: %v", err)
	}
	if inst.Status != model.FlowStatusCompleted {
		t.Errorf("status = %q, want completed", inst.Status)
	}
}

func TestController_AuditTrail(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if _, err := h.controller.ExecutePhase(ctx, tenant, inst.ID, "discover", nil); err != nil {
		t.Fatalf("ExecutePhase error: %v", err)
	}

	entries, err := h.controller.Audit(ctx, tenant, inst.ID)
	if err != nil {
		t.Fatalf("Audit error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Action != model.AuditActionInitialize {
		t.Errorf("first action = %q, want initialize", entries[0].Action)
	}
	if entries[1].Action != model.AuditActionExecutePhase || entries[1].Phase != "discover" {
		t.Errorf("second entry = %+v, want execute_phase on discover", entries[1])
	}
}

func TestController_ListScopedToTenant(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenantA := model.TenantContext{AccountID: "42", EngagementID: "7"}
	tenantB := model.TenantContext{AccountID: "99", EngagementID: "1"}

	for i := 0; i < 3; i++ {
		if _, err := h.controller.Initialize(ctx, tenantA, "assessment", nil); err != nil {
			t.Fatalf("Initialize %d error: %v", i, err)
		}
	}
	if _, err := h.controller.Initialize(ctx, tenantB, "assessment", nil); err != nil {
		t.Fatalf("Initialize tenantB error: %v", err)
	}

	summaries, total, err := h.controller.List(ctx, tenantA, model.FlowFilters{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(summaries) != 3 || total != 3 {
		t.Errorf("List = %d entries (total %d), want 3", len(summaries), total)
	}
	for _, s := range summaries {
		if s.FlowType != "assessment" {
			t.Errorf("unexpected flow type %q", s.FlowType)
		}
	}
}

func TestController_UnknownFlowType(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.controller.Initialize(context.Background(), testTenant(), "nope", nil)
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrNotFound {
		t.Fatalf("Initialize = %v, want NOT_FOUND", err)
	}
}

func TestController_StatusView(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if _, err := h.controller.ExecutePhase(ctx, tenant, inst.ID, "discover", nil); err != nil {
		t.Fatalf("ExecutePhase error: %v", err)
	}

	view, err := h.controller.Status(ctx, tenant, inst.ID)
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if len(view.Phases) != 3 {
		t.Fatalf("phases = %d, want 3", len(view.Phases))
	}

	want := map[string]string{
		"discover": model.PhaseStatusCompleted,
		"assess":   model.PhaseStatusInProgress,
		"finalize": model.PhaseStatusFuture,
	}
	for _, p := range view.Phases {
		if p.Status != want[p.Name] {
			t.Errorf("phase %q status = %q, want %q", p.Name, p.Status, want[p.Name])
		}
	}
	if !view.Phases[0].HasResult {
		t.Error("discover should have a result")
	}
}

func TestController_FailedValidatorLeavesNoMutation(t *testing.T) {
	registry := definition.NewRegistry([]model.FlowTypeDefinition{
		{
			Name: "guarded",
			Phases: []model.PhaseDefinition{
				{Name: "start", Ordinal: 0, Validators: []string{"input.required"}},
			},
		},
	})
	store := NewMemoryCheckpointStore()
	syncer := NewSynchronizer(store, registry, nil, nil)
	ctrl := NewController(registry, handlers.NewTable(), readiness.NewRegistry(),
		&fakeExecutor{}, syncer, store, NewMemoryLocker(), nil, nil)

	ctx := context.Background()
	tenant := testTenant()

	inst, err := ctrl.Initialize(ctx, tenant, "guarded", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	before, _ := store.Get(ctx, tenant, inst.ID)

	_, err = ctrl.ExecutePhase(ctx, tenant, inst.ID, "start", nil)
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrValidationFailed {
		t.Fatalf("ExecutePhase = %v, want VALIDATION_FAILED", err)
	}

	after, _ := store.Get(ctx, tenant, inst.ID)
	if after.Version != before.Version {
		t.Errorf("version moved %d -> %d on validator failure", before.Version, after.Version)
	}
	if after.Status != before.Status {
		t.Errorf("status moved %q -> %q on validator failure", before.Status, after.Status)
	}
}

func TestController_ExecuteNextPhaseDirectly(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	inst, err := h.controller.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if inst.NextPhase != "assess" {
		t.Fatalf("next phase = %q, want assess", inst.NextPhase)
	}

	// Executing the designated next phase skips straight into it.
	got, err := h.controller.ExecutePhase(ctx, tenant, inst.ID, "assess", nil)
	if err != nil {
		t.Fatalf("ExecutePhase(assess) error: %v", err)
	}
	if got.CurrentPhase != "assess" {
		t.Errorf("current phase = %q, want assess", got.CurrentPhase)
	}
	if got.Status != model.FlowStatusPausedForApproval {
		t.Errorf("status = %q, want paused_for_approval", got.Status)
	}
}

func TestController_InstrumentsLifecycle(t *testing.T) {
	registry := definition.NewRegistry([]model.FlowTypeDefinition{assessmentDefinition()})
	store := NewMemoryCheckpointStore()
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	syncer := NewSynchronizer(store, registry, metrics, nil)
	ctrl := NewController(registry, handlers.NewTable(), readiness.NewRegistry(),
		&fakeExecutor{}, syncer, store, NewMemoryLocker(), metrics, nil)

	ctx := context.Background()
	tenant := testTenant()

	inst, err := ctrl.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.FlowInitializationsTotal.WithLabelValues("assessment")); got != 1 {
		t.Errorf("initializations counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.FlowActiveInstances.WithLabelValues("assessment")); got != 1 {
		t.Errorf("active instances gauge = %v, want 1", got)
	}

	if _, err := ctrl.ExecutePhase(ctx, tenant, inst.ID, "discover", nil); err != nil {
		t.Fatalf("ExecutePhase(discover) error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.FlowPhaseExecutionsTotal.WithLabelValues("assessment", "discover", "ok")); got != 1 {
		t.Errorf("phase executions counter = %v, want 1", got)
	}

	if _, err := ctrl.ExecutePhase(ctx, tenant, inst.ID, "assess", nil); err != nil {
		t.Fatalf("ExecutePhase(assess) error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.FlowPausesTotal.WithLabelValues("assessment", model.PauseKindApproval)); got != 1 {
		t.Errorf("pauses counter = %v, want 1", got)
	}

	if _, err := ctrl.Resume(ctx, tenant, inst.ID, map[string]any{"approved": true}); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.FlowResumesTotal.WithLabelValues("assessment")); got != 1 {
		t.Errorf("resumes counter = %v, want 1", got)
	}

	if got := testutil.ToFloat64(metrics.CheckpointWritesTotal.WithLabelValues("ok")); got < 3 {
		t.Errorf("checkpoint writes counter = %v, want at least 3", got)
	}
}

func TestController_InstrumentsDelete(t *testing.T) {
	registry := definition.NewRegistry([]model.FlowTypeDefinition{assessmentDefinition()})
	store := NewMemoryCheckpointStore()
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	syncer := NewSynchronizer(store, registry, metrics, nil)
	ctrl := NewController(registry, handlers.NewTable(), readiness.NewRegistry(),
		&fakeExecutor{}, syncer, store, NewMemoryLocker(), metrics, nil)

	ctx := context.Background()
	tenant := testTenant()

	inst, err := ctrl.Initialize(ctx, tenant, "assessment", nil)
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if err := ctrl.Delete(ctx, tenant, inst.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	if got := testutil.ToFloat64(metrics.FlowCompletionsTotal.WithLabelValues("assessment", model.FlowStatusDeleted)); got != 1 {
		t.Errorf("completions counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.FlowActiveInstances.WithLabelValues("assessment")); got != 0 {
		t.Errorf("active instances gauge = %v, want 0", got)
	}
}

func TestController_ListTotalIgnoresPagination(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := testTenant()

	for i := 0; i < 5; i++ {
		if _, err := h.controller.Initialize(ctx, tenant, "assessment", nil); err != nil {
			t.Fatalf("Initialize %d error: %v", i, err)
		}
	}

	summaries, total, err := h.controller.List(ctx, tenant, model.FlowFilters{Limit: 2})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(summaries) != 2 {
		t.Errorf("List = %d entries, want 2", len(summaries))
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
}

func ExampleController_Initialize() {
	registry := definition.NewRegistry([]model.FlowTypeDefinition{assessmentDefinition()})
	store := NewMemoryCheckpointStore()
	ctrl := NewController(registry, handlers.NewTable(), readiness.NewRegistry(),
		&fakeExecutor{}, NewSynchronizer(store, registry, nil, nil), store, NewMemoryLocker(), nil, nil)

	inst, _ := ctrl.Initialize(context.Background(),
		model.TenantContext{AccountID: "42", EngagementID: "7"}, "assessment", nil)
	fmt.Println(inst.Status, inst.CurrentPhase)
	// Output: initialized discover
}
