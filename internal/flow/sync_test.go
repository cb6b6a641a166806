package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/floe/internal/definition"
	"github.com/pitabwire/floe/internal/observability"
	"github.com/pitabwire/floe/model"
)

func newTestSynchronizer(t *testing.T) (*Synchronizer, *MemoryCheckpointStore) {
	t.Helper()
	registry := definition.NewRegistry([]model.FlowTypeDefinition{assessmentDefinition()})
	store := NewMemoryCheckpointStore()
	return NewSynchronizer(store, registry, nil, nil), store
}

func seedInstance(t *testing.T, store *MemoryCheckpointStore) model.FlowInstance {
	t.Helper()
	now := time.Now().UTC()
	inst := model.FlowInstance{
		ID:           "flow-1",
		FlowType:     "assessment",
		Tenant:       testTenant(),
		Status:       model.FlowStatusRunning,
		CurrentPhase: "discover",
		NextPhase:    "assess",
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.Create(context.Background(), inst); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return inst
}

func TestSynchronizer_CheckpointIncrementsVersion(t *testing.T) {
	s, store := newTestSynchronizer(t)
	ctx := context.Background()
	inst := seedInstance(t, store)

	inst.PhaseResult("discover")["datasets"] = []any{"a.csv"}
	if err := s.Checkpoint(ctx, &inst, "discover"); err != nil {
		t.Fatalf("Checkpoint error: %v", err)
	}
	if inst.Version != 2 {
		t.Errorf("version = %d, want 2", inst.Version)
	}

	stored, _ := store.Get(ctx, inst.Tenant, inst.ID)
	if stored.Version != 2 {
		t.Errorf("stored version = %d, want 2", stored.Version)
	}
}

func TestSynchronizer_CheckpointMergesDisjointConcurrentWrite(t *testing.T) {
	s, store := newTestSynchronizer(t)
	ctx := context.Background()
	seedInstance(t, store)
	tenant := testTenant()

	// Two workers load version 1.
	local, _ := store.Get(ctx, tenant, "flow-1")
	other, _ := store.Get(ctx, tenant, "flow-1")

	// The other worker wins the race, writing the assess result.
	other.PhaseResult("assess")["gap_report"] = map[string]any{"gaps": float64(2)}
	if err := s.Checkpoint(ctx, &other, "assess"); err != nil {
		t.Fatalf("other Checkpoint error: %v", err)
	}

	// The local worker's write is stale but authoritative only for discover;
	// it re-bases without losing either result.
	local.PhaseResult("discover")["datasets"] = []any{"a.csv"}
	if err := s.Checkpoint(ctx, &local, "discover"); err != nil {
		t.Fatalf("local Checkpoint error: %v", err)
	}

	stored, _ := store.Get(ctx, tenant, "flow-1")
	if stored.PhaseResults["discover"] == nil {
		t.Error("discover result lost in merge")
	}
	if stored.PhaseResults["assess"] == nil {
		t.Error("assess result clobbered by stale write")
	}
	if stored.Version != 3 {
		t.Errorf("version = %d, want 3", stored.Version)
	}
}

func TestSynchronizer_CheckpointOverlappingWriteConflicts(t *testing.T) {
	s, store := newTestSynchronizer(t)
	ctx := context.Background()
	seedInstance(t, store)
	tenant := testTenant()

	local, _ := store.Get(ctx, tenant, "flow-1")
	other, _ := store.Get(ctx, tenant, "flow-1")

	other.PhaseResult("discover")["datasets"] = []any{"theirs.csv"}
	if err := s.Checkpoint(ctx, &other, "discover"); err != nil {
		t.Fatalf("other Checkpoint error: %v", err)
	}

	// Both writers produced results for the same phase: ambiguous, never
	// silently resolved.
	local.PhaseResult("discover")["datasets"] = []any{"ours.csv"}
	err := s.Checkpoint(ctx, &local, "discover")

	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrConflict {
		t.Fatalf("Checkpoint = %v, want CONFLICT", err)
	}
	if ee.NextAction != model.ActionRefetch {
		t.Errorf("next action = %q, want refetch", ee.NextAction)
	}

	stored, _ := store.Get(ctx, tenant, "flow-1")
	if got := stored.PhaseResults["discover"]["datasets"].([]any)[0]; got != "theirs.csv" {
		t.Errorf("stored result = %v, want the winner's write preserved", got)
	}
}

func TestSynchronizer_InstrumentsWritesAndConflicts(t *testing.T) {
	registry := definition.NewRegistry([]model.FlowTypeDefinition{assessmentDefinition()})
	store := NewMemoryCheckpointStore()
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	s := NewSynchronizer(store, registry, metrics, nil)
	ctx := context.Background()
	seedInstance(t, store)
	tenant := testTenant()

	local, _ := store.Get(ctx, tenant, "flow-1")
	other, _ := store.Get(ctx, tenant, "flow-1")

	other.PhaseResult("assess")["gap_report"] = map[string]any{"gaps": float64(2)}
	if err := s.Checkpoint(ctx, &other, "assess"); err != nil {
		t.Fatalf("other Checkpoint error: %v", err)
	}

	// Stale but disjoint: absorbed by a merge, not surfaced as a conflict.
	local.PhaseResult("discover")["datasets"] = []any{"a.csv"}
	if err := s.Checkpoint(ctx, &local, "discover"); err != nil {
		t.Fatalf("local Checkpoint error: %v", err)
	}

	if got := testutil.ToFloat64(metrics.CheckpointWritesTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok writes counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.CheckpointMergesTotal); got != 1 {
		t.Errorf("merges counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CheckpointConflictsTotal); got != 0 {
		t.Errorf("conflicts counter = %v, want 0 (merge absorbed the race)", got)
	}

	// Overlapping writes to the same phase do surface.
	stale, _ := store.Get(ctx, tenant, "flow-1")
	winner, _ := store.Get(ctx, tenant, "flow-1")
	winner.PhaseResult("finalize")["report"] = map[string]any{"ok": true}
	if err := s.Checkpoint(ctx, &winner, "finalize"); err != nil {
		t.Fatalf("winner Checkpoint error: %v", err)
	}
	stale.PhaseResult("finalize")["report"] = map[string]any{"ok": false}
	if err := s.Checkpoint(ctx, &stale, "finalize"); err == nil {
		t.Fatal("overlapping Checkpoint succeeded, want conflict")
	}

	if got := testutil.ToFloat64(metrics.CheckpointConflictsTotal); got != 1 {
		t.Errorf("conflicts counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CheckpointWritesTotal.WithLabelValues("conflict")); got != 1 {
		t.Errorf("conflict writes counter = %v, want 1", got)
	}
}

func TestSynchronizer_CheckpointNeverMergesOverTerminal(t *testing.T) {
	s, store := newTestSynchronizer(t)
	ctx := context.Background()
	seedInstance(t, store)
	tenant := testTenant()

	local, _ := store.Get(ctx, tenant, "flow-1")

	other, _ := store.Get(ctx, tenant, "flow-1")
	other.Status = model.FlowStatusDeleted
	if err := s.Checkpoint(ctx, &other, "discover"); err != nil {
		t.Fatalf("delete Checkpoint error: %v", err)
	}

	local.PhaseResult("assess")["gap_report"] = map[string]any{"gaps": 1}
	err := s.Checkpoint(ctx, &local, "assess")

	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrConflict {
		t.Fatalf("Checkpoint over deleted flow = %v, want CONFLICT", err)
	}
}

func TestSynchronizer_RestoreRepairsUnknownPhase(t *testing.T) {
	s, store := newTestSynchronizer(t)
	ctx := context.Background()
	inst := seedInstance(t, store)

	inst.PhaseResult("discover")["datasets"] = []any{"a.csv"}
	inst.PhaseResult("assess")["gap_report"] = map[string]any{"gaps": 0}
	if err := s.Checkpoint(ctx, &inst, "assess"); err != nil {
		t.Fatalf("Checkpoint error: %v", err)
	}

	store.Corrupt("flow-1", func(f *model.FlowInstance) {
		f.CurrentPhase = "vanished"
	})

	restored, err := s.Restore(ctx, testTenant(), "flow-1")
	if err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if restored.CurrentPhase != "assess" {
		t.Errorf("current phase = %q, want assess (highest ordinal with a result)", restored.CurrentPhase)
	}
	if restored.NextPhase != "finalize" {
		t.Errorf("next phase = %q, want finalize", restored.NextPhase)
	}
	if len(restored.IntegrityWarnings) == 0 {
		t.Error("integrity warnings missing on repaired instance")
	}
}

func TestSynchronizer_RestoreRepairsUnknownStatus(t *testing.T) {
	s, store := newTestSynchronizer(t)
	ctx := context.Background()
	seedInstance(t, store)

	store.Corrupt("flow-1", func(f *model.FlowInstance) {
		f.Status = "limbo"
	})

	restored, err := s.Restore(ctx, testTenant(), "flow-1")
	if err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if restored.Status != model.FlowStatusRunning {
		t.Errorf("status = %q, want running", restored.Status)
	}
	if len(restored.IntegrityWarnings) == 0 {
		t.Error("integrity warnings missing")
	}
}

func TestSynchronizer_RestoreSurfacesUnverifiableResults(t *testing.T) {
	s, store := newTestSynchronizer(t)
	ctx := context.Background()
	inst := seedInstance(t, store)

	inst.PhaseResult("discover")["datasets"] = []any{"a.csv"}
	if err := s.Checkpoint(ctx, &inst, "discover"); err != nil {
		t.Fatalf("Checkpoint error: %v", err)
	}

	store.Corrupt("flow-1", func(f *model.FlowInstance) {
		f.PhaseResult("orphan")["leftover"] = true
	})

	restored, err := s.Restore(ctx, testTenant(), "flow-1")
	if err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	// The orphaned document is surfaced as a warning, never discarded.
	if restored.PhaseResults["orphan"] == nil {
		t.Error("orphaned phase result was dropped")
	}
	if len(restored.IntegrityWarnings) == 0 {
		t.Error("integrity warnings missing for orphaned result")
	}
}

func TestSynchronizer_ValidateIntegrity(t *testing.T) {
	s, store := newTestSynchronizer(t)
	ctx := context.Background()
	seedInstance(t, store)

	anomalies, err := s.ValidateIntegrity(ctx, testTenant(), "flow-1")
	if err != nil {
		t.Fatalf("ValidateIntegrity error: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("anomalies = %v, want none for a clean instance", anomalies)
	}

	store.Corrupt("flow-1", func(f *model.FlowInstance) {
		f.Status = "limbo"
		f.CurrentPhase = "vanished"
	})

	anomalies, err = s.ValidateIntegrity(ctx, testTenant(), "flow-1")
	if err != nil {
		t.Fatalf("ValidateIntegrity error: %v", err)
	}
	if len(anomalies) != 2 {
		t.Errorf("anomalies = %v, want 2", anomalies)
	}
}

func TestSynchronizer_RestoreNotFoundAcrossTenants(t *testing.T) {
	s, store := newTestSynchronizer(t)
	ctx := context.Background()
	seedInstance(t, store)

	_, err := s.Restore(ctx, model.TenantContext{AccountID: "other", EngagementID: "1"}, "flow-1")
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrNotFound {
		t.Fatalf("Restore = %v, want NOT_FOUND", err)
	}
}
