package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/floe/model"
)

// PgCheckpointStore is a PostgreSQL-backed CheckpointStore using pgx/v5.
//
// Schema:
//
//	CREATE TABLE flow_checkpoints (
//	    id             TEXT PRIMARY KEY,
//	    flow_type      TEXT NOT NULL,
//	    account_id     TEXT NOT NULL,
//	    engagement_id  TEXT NOT NULL,
//	    status         TEXT NOT NULL,
//	    current_phase  TEXT NOT NULL DEFAULT '',
//	    next_phase     TEXT NOT NULL DEFAULT '',
//	    document       JSONB,
//	    pending_delete BOOLEAN NOT NULL DEFAULT FALSE,
//	    version        BIGINT NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    updated_at     TIMESTAMPTZ NOT NULL,
//	    completed_at   TIMESTAMPTZ
//	);
//	CREATE INDEX ON flow_checkpoints (account_id, engagement_id, created_at DESC);
//
//	CREATE TABLE flow_audit (
//	    id         TEXT PRIMARY KEY,
//	    flow_id    TEXT NOT NULL,
//	    account_id TEXT NOT NULL,
//	    engagement_id TEXT NOT NULL,
//	    action     TEXT NOT NULL,
//	    phase      TEXT NOT NULL DEFAULT '',
//	    result     TEXT NOT NULL,
//	    reason     TEXT NOT NULL DEFAULT '',
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX ON flow_audit (flow_id, created_at ASC);
type PgCheckpointStore struct {
	pool *pgxpool.Pool
}

// NewPgCheckpointStore creates a new PostgreSQL checkpoint store.
func NewPgCheckpointStore(pool *pgxpool.Pool) *PgCheckpointStore {
	return &PgCheckpointStore{pool: pool}
}

// checkpointDocument is the JSONB portion of a checkpoint row. The map-valued
// fields live together in one column so a snapshot write is atomic.
type checkpointDocument struct {
	Input             map[string]any            `json:"input,omitempty"`
	PhaseResults      map[string]map[string]any `json:"phase_results,omitempty"`
	PausePoints       []string                  `json:"pause_points,omitempty"`
	IntegrityWarnings []string                  `json:"integrity_warnings,omitempty"`
}

// Create inserts a new flow instance.
func (s *PgCheckpointStore) Create(ctx context.Context, inst model.FlowInstance) error {
	docJSON, err := marshalDocument(inst)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO flow_checkpoints (
			id, flow_type, account_id, engagement_id,
			status, current_phase, next_phase, document,
			pending_delete, version, created_at, updated_at, completed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13
		)`,
		inst.ID, inst.FlowType, inst.Tenant.AccountID, inst.Tenant.EngagementID,
		inst.Status, inst.CurrentPhase, inst.NextPhase, docJSON,
		inst.PendingDelete, inst.Version, inst.CreatedAt, inst.UpdatedAt, inst.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert flow checkpoint: %w", err)
	}
	return nil
}

// Get retrieves a flow instance by ID, scoped to tenant.
func (s *PgCheckpointStore) Get(ctx context.Context, tenant model.TenantContext, flowID string) (model.FlowInstance, error) {
	var inst model.FlowInstance
	var docJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, flow_type, account_id, engagement_id,
		       status, current_phase, next_phase, document,
		       pending_delete, version, created_at, updated_at, completed_at
		FROM flow_checkpoints
		WHERE id = $1 AND account_id = $2 AND engagement_id = $3`,
		flowID, tenant.AccountID, tenant.EngagementID,
	).Scan(
		&inst.ID, &inst.FlowType, &inst.Tenant.AccountID, &inst.Tenant.EngagementID,
		&inst.Status, &inst.CurrentPhase, &inst.NextPhase, &docJSON,
		&inst.PendingDelete, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt, &inst.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.FlowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("flow instance %q not found", flowID),
		)
	}
	if err != nil {
		return model.FlowInstance{}, fmt.Errorf("query flow checkpoint: %w", err)
	}

	if err := unmarshalDocument(docJSON, &inst); err != nil {
		return model.FlowInstance{}, err
	}

	return inst, nil
}

// Update persists an updated instance with optimistic locking. The version
// predicate matches the stored counter exactly, so an incoming version ahead
// of the stored one is rejected as a conflict rather than treated as newer.
func (s *PgCheckpointStore) Update(ctx context.Context, inst model.FlowInstance) error {
	docJSON, err := marshalDocument(inst)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE flow_checkpoints SET
			status = $1,
			current_phase = $2,
			next_phase = $3,
			document = $4,
			pending_delete = $5,
			version = $6,
			updated_at = $7,
			completed_at = $8
		WHERE id = $9 AND account_id = $10 AND engagement_id = $11 AND version = $12`,
		inst.Status, inst.CurrentPhase, inst.NextPhase, docJSON,
		inst.PendingDelete, inst.Version+1, time.Now().UTC(), inst.CompletedAt,
		inst.ID, inst.Tenant.AccountID, inst.Tenant.EngagementID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update flow checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("flow instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}
	return nil
}

// MarkPendingDelete sets the pending-delete flag without a version check.
func (s *PgCheckpointStore) MarkPendingDelete(ctx context.Context, tenant model.TenantContext, flowID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE flow_checkpoints SET
			pending_delete = TRUE,
			updated_at = $1
		WHERE id = $2 AND account_id = $3 AND engagement_id = $4`,
		time.Now().UTC(), flowID, tenant.AccountID, tenant.EngagementID,
	)
	if err != nil {
		return fmt.Errorf("mark flow pending delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("flow instance %q not found", flowID),
		)
	}
	return nil
}

// List returns flow instances for a tenant, newest first.
func (s *PgCheckpointStore) List(ctx context.Context, tenant model.TenantContext, filters model.FlowFilters) ([]model.FlowInstance, error) {
	query := `SELECT id, flow_type, account_id, engagement_id,
	                 status, current_phase, next_phase, document,
	                 pending_delete, version, created_at, updated_at, completed_at
	          FROM flow_checkpoints
	          WHERE account_id = $1 AND engagement_id = $2`
	args := []any{tenant.AccountID, tenant.EngagementID}
	argIdx := 3

	if filters.FlowType != "" {
		query += fmt.Sprintf(" AND flow_type = $%d", argIdx)
		args = append(args, filters.FlowType)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query flow checkpoints: %w", err)
	}
	defer rows.Close()

	var instances []model.FlowInstance
	for rows.Next() {
		var inst model.FlowInstance
		var docJSON []byte
		if err := rows.Scan(
			&inst.ID, &inst.FlowType, &inst.Tenant.AccountID, &inst.Tenant.EngagementID,
			&inst.Status, &inst.CurrentPhase, &inst.NextPhase, &docJSON,
			&inst.PendingDelete, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt, &inst.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan flow checkpoint: %w", err)
		}
		if err := unmarshalDocument(docJSON, &inst); err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// Count returns the number of instances matching the filters for a tenant.
func (s *PgCheckpointStore) Count(ctx context.Context, tenant model.TenantContext, filters model.FlowFilters) (int, error) {
	query := `SELECT count(*) FROM flow_checkpoints
	          WHERE account_id = $1 AND engagement_id = $2`
	args := []any{tenant.AccountID, tenant.EngagementID}
	argIdx := 3

	if filters.FlowType != "" {
		query += fmt.Sprintf(" AND flow_type = $%d", argIdx)
		args = append(args, filters.FlowType)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count flow checkpoints: %w", err)
	}
	return count, nil
}

// AppendAudit adds an entry to the flow's audit trail.
func (s *PgCheckpointStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO flow_audit (
			id, flow_id, account_id, engagement_id, action, phase, result, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.FlowID, entry.Tenant.AccountID, entry.Tenant.EngagementID,
		entry.Action, entry.Phase, entry.Result, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert flow audit entry: %w", err)
	}
	return nil
}

// ListAudit retrieves all audit entries for a flow instance.
func (s *PgCheckpointStore) ListAudit(ctx context.Context, tenant model.TenantContext, flowID string) ([]model.AuditEntry, error) {
	// Verify tenant access.
	if _, err := s.Get(ctx, tenant, flowID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, flow_id, account_id, engagement_id, action, phase, result, reason, created_at
		FROM flow_audit
		WHERE flow_id = $1 AND account_id = $2 AND engagement_id = $3
		ORDER BY created_at ASC`,
		flowID, tenant.AccountID, tenant.EngagementID,
	)
	if err != nil {
		return nil, fmt.Errorf("query flow audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(
			&e.ID, &e.FlowID, &e.Tenant.AccountID, &e.Tenant.EngagementID,
			&e.Action, &e.Phase, &e.Result, &e.Reason, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan flow audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func marshalDocument(inst model.FlowInstance) ([]byte, error) {
	doc := checkpointDocument{
		Input:             inst.Input,
		PhaseResults:      inst.PhaseResults,
		PausePoints:       inst.PausePoints,
		IntegrityWarnings: inst.IntegrityWarnings,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint document: %w", err)
	}
	return raw, nil
}

func unmarshalDocument(raw []byte, inst *model.FlowInstance) error {
	if raw == nil {
		return nil
	}
	var doc checkpointDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal checkpoint document: %w", err)
	}
	inst.Input = doc.Input
	inst.PhaseResults = doc.PhaseResults
	inst.PausePoints = doc.PausePoints
	inst.IntegrityWarnings = doc.IntegrityWarnings
	return nil
}
