package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/floe/model"
)

// MemoryCheckpointStore is an in-memory CheckpointStore for testing and
// single-instance deployments.
type MemoryCheckpointStore struct {
	mu        sync.RWMutex
	instances map[string]model.FlowInstance // key: flow ID
	audit     map[string][]model.AuditEntry // key: flow ID
}

// NewMemoryCheckpointStore creates a new in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		instances: make(map[string]model.FlowInstance),
		audit:     make(map[string][]model.AuditEntry),
	}
}

// Create persists a new flow instance.
func (s *MemoryCheckpointStore) Create(_ context.Context, inst model.FlowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("flow instance %q already exists", inst.ID),
		)
	}

	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

// Get retrieves a flow instance by ID, scoped to tenant.
func (s *MemoryCheckpointStore) Get(_ context.Context, tenant model.TenantContext, flowID string) (model.FlowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.instances[flowID]
	if !exists || !inst.Tenant.Equal(tenant) {
		return model.FlowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("flow instance %q not found", flowID),
		)
	}
	return cloneInstance(inst), nil
}

// Update persists an updated instance with optimistic locking.
func (s *MemoryCheckpointStore) Update(_ context.Context, inst model.FlowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.instances[inst.ID]
	if !exists || !existing.Tenant.Equal(inst.Tenant) {
		return model.NewNotFoundError(
			fmt.Sprintf("flow instance %q not found", inst.ID),
		)
	}

	// Optimistic lock check. An incoming version ahead of the stored one
	// is state the store never handed out; it conflicts the same as a
	// stale one.
	if existing.Version != inst.Version {
		return model.NewConflictError(
			fmt.Sprintf("flow instance %q version conflict (expected %d, got %d)", inst.ID, inst.Version, existing.Version),
		)
	}

	inst.Version++
	inst.UpdatedAt = time.Now().UTC()
	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

// MarkPendingDelete sets the pending-delete flag without a version check.
func (s *MemoryCheckpointStore) MarkPendingDelete(_ context.Context, tenant model.TenantContext, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, exists := s.instances[flowID]
	if !exists || !inst.Tenant.Equal(tenant) {
		return model.NewNotFoundError(
			fmt.Sprintf("flow instance %q not found", flowID),
		)
	}

	inst.PendingDelete = true
	inst.UpdatedAt = time.Now().UTC()
	s.instances[flowID] = inst
	return nil
}

// List returns flow instances for a tenant, newest first.
func (s *MemoryCheckpointStore) List(_ context.Context, tenant model.TenantContext, filters model.FlowFilters) ([]model.FlowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.FlowInstance
	for _, inst := range s.instances {
		if !inst.Tenant.Equal(tenant) {
			continue
		}
		if filters.FlowType != "" && inst.FlowType != filters.FlowType {
			continue
		}
		if filters.Status != "" && inst.Status != filters.Status {
			continue
		}
		result = append(result, cloneInstance(inst))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.FlowInstance{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, nil
}

// Count returns the number of instances matching the filters for a tenant.
func (s *MemoryCheckpointStore) Count(_ context.Context, tenant model.TenantContext, filters model.FlowFilters) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, inst := range s.instances {
		if !inst.Tenant.Equal(tenant) {
			continue
		}
		if filters.FlowType != "" && inst.FlowType != filters.FlowType {
			continue
		}
		if filters.Status != "" && inst.Status != filters.Status {
			continue
		}
		count++
	}
	return count, nil
}

// AppendAudit adds an entry to the flow's audit trail.
func (s *MemoryCheckpointStore) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit[entry.FlowID] = append(s.audit[entry.FlowID], entry)
	return nil
}

// ListAudit retrieves all audit entries for a flow, ordered by creation time.
func (s *MemoryCheckpointStore) ListAudit(_ context.Context, tenant model.TenantContext, flowID string) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Verify tenant access.
	inst, exists := s.instances[flowID]
	if !exists || !inst.Tenant.Equal(tenant) {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("flow instance %q not found", flowID),
		)
	}

	entries := s.audit[flowID]
	result := make([]model.AuditEntry, len(entries))
	copy(result, entries)
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Len returns the total number of instances. For testing.
func (s *MemoryCheckpointStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// Corrupt replaces the stored document for a flow ID with arbitrary JSON,
// bypassing versioning. For restore and integrity tests.
func (s *MemoryCheckpointStore) Corrupt(flowID string, mutate func(*model.FlowInstance)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, exists := s.instances[flowID]
	if !exists {
		return
	}
	mutate(&inst)
	s.instances[flowID] = inst
}

// cloneInstance deep-copies an instance through JSON so callers can mutate
// phase result documents without aliasing the stored copy.
func cloneInstance(inst model.FlowInstance) model.FlowInstance {
	if inst.Input == nil && inst.PhaseResults == nil && inst.PausePoints == nil && inst.IntegrityWarnings == nil {
		return inst
	}
	raw, err := json.Marshal(inst)
	if err != nil {
		return inst
	}
	var out model.FlowInstance
	if err := json.Unmarshal(raw, &out); err != nil {
		return inst
	}
	return out
}
