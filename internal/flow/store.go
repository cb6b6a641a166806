// Package flow contains the state machine core: the phase controller that
// drives a flow instance through its phases, the persistence synchronizer
// that keeps the durable store the source of truth, and the per-flow locks
// that serialize phase execution.
package flow

import (
	"context"

	"github.com/pitabwire/floe/model"
)

// CheckpointStore persists versioned flow instance snapshots and the audit
// trail. Every read and write is tenant scoped; an instance belonging to a
// different tenant is indistinguishable from a missing one.
type CheckpointStore interface {
	// Create persists a new flow instance.
	Create(ctx context.Context, inst model.FlowInstance) error

	// Get retrieves a flow instance by ID, scoped to the tenant. Returns
	// NOT_FOUND if the instance does not exist or belongs to a different
	// tenant.
	Get(ctx context.Context, tenant model.TenantContext, flowID string) (model.FlowInstance, error)

	// Update persists an updated instance with optimistic locking. The
	// instance's version must match the stored version exactly; the stored
	// version is then incremented. Returns CONFLICT on mismatch. An
	// incoming version ahead of the stored one means the caller holds state
	// the store never produced, so it is rejected as an anomaly rather
	// than accepted as newer.
	Update(ctx context.Context, inst model.FlowInstance) error

	// MarkPendingDelete sets the pending-delete flag without a version
	// check. Used when a delete request arrives while another caller holds
	// the flow's execution lock.
	MarkPendingDelete(ctx context.Context, tenant model.TenantContext, flowID string) error

	// List returns flow instances for a tenant, newest first.
	List(ctx context.Context, tenant model.TenantContext, filters model.FlowFilters) ([]model.FlowInstance, error)

	// Count returns the number of instances matching the filters for a
	// tenant, ignoring pagination.
	Count(ctx context.Context, tenant model.TenantContext, filters model.FlowFilters) (int, error)

	// AppendAudit adds an entry to the flow's audit trail.
	AppendAudit(ctx context.Context, entry model.AuditEntry) error

	// ListAudit retrieves all audit entries for a flow instance, scoped to
	// the tenant, oldest first.
	ListAudit(ctx context.Context, tenant model.TenantContext, flowID string) ([]model.AuditEntry, error)
}
