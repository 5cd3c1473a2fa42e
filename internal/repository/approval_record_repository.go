package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// pendingConstraint is the partial unique index allowing one PENDING record
// per entity.
const pendingConstraint = "uq_approval_records_pending"

// querier is satisfied by both *database.DB and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ApprovalRecordRepository manages approval_records. Updates are
// compare-and-swap on the version column.
type ApprovalRecordRepository struct {
	q querier
}

// NewApprovalRecordRepository creates a new ApprovalRecordRepository.
func NewApprovalRecordRepository(db *database.DB) *ApprovalRecordRepository {
	return &ApprovalRecordRepository{q: db}
}

func (r *ApprovalRecordRepository) withTx(tx pgx.Tx) *ApprovalRecordRepository {
	return &ApprovalRecordRepository{q: tx}
}

const recordColumns = `
	id, entity_type, entity_id, workflow_template_id, initiator_id,
	status, current_step_order, total_steps,
	started_at, completed_at, comment, routing_params,
	version, updated_at
`

// InsertRecord creates a record. The partial unique index turns a second
// PENDING record for the same entity into InvalidState.
func (r *ApprovalRecordRepository) InsertRecord(ctx context.Context, rec *ApprovalRecord) error {
	var paramsJSON []byte
	if rec.RoutingParams != nil {
		var err error
		if paramsJSON, err = json.Marshal(rec.RoutingParams); err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to marshal routing params")
		}
	}

	query := `
		INSERT INTO approval_records
		    (entity_type, entity_id, workflow_template_id, initiator_id,
		     status, current_step_order, total_steps,
		     started_at, completed_at, comment, routing_params, version)
		VALUES ($1, $2, $3, $4,
		        $5::approval_status, $6, $7,
		        $8, $9, $10, $11, $12)
		RETURNING id, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		string(rec.EntityType),
		rec.EntityID,
		rec.WorkflowTemplateID,
		rec.InitiatorID,
		string(rec.Status),
		rec.CurrentStepOrder,
		rec.TotalSteps,
		rec.StartedAt,
		rec.CompletedAt,
		rec.Comment,
		paramsJSON,
		rec.Version,
	).Scan(&rec.ID, &rec.UpdatedAt)
	if database.IsUniqueViolation(err, pendingConstraint) {
		return errors.InvalidState("an approval is already pending for " + rec.Ref().String())
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval record")
	}
	return nil
}

// UpdateRecord writes the mutable columns if the stored version still equals
// expectedVersion.
func (r *ApprovalRecordRepository) UpdateRecord(ctx context.Context, rec *ApprovalRecord, expectedVersion int) error {
	query := `
		UPDATE approval_records
		SET status             = $3::approval_status,
		    current_step_order = $4,
		    completed_at       = $5,
		    version            = $6,
		    updated_at         = NOW()
		WHERE id = $1
		  AND version = $2
		RETURNING updated_at
	`

	err := r.q.QueryRow(ctx, query,
		rec.ID,
		expectedVersion,
		string(rec.Status),
		rec.CurrentStepOrder,
		rec.CompletedAt,
		rec.Version,
	).Scan(&rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetRecord(ctx, rec.ID); getErr != nil {
			return getErr
		}
		return errors.ConcurrentModification("approval_record", rec.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval record")
	}
	return nil
}

// GetRecord retrieves a record by primary key.
func (r *ApprovalRecordRepository) GetRecord(ctx context.Context, id string) (*ApprovalRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NotFound("approval_record", id)
	}
	query := `SELECT ` + recordColumns + ` FROM approval_records WHERE id = $1`

	rec, err := r.scanRecord(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("approval_record", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval record")
	}
	return rec, nil
}

// GetLatestRecord returns the most recently started record for an entity.
// Returns nil when the entity has never been submitted.
func (r *ApprovalRecordRepository) GetLatestRecord(ctx context.Context, ref EntityRef) (*ApprovalRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM approval_records
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY started_at DESC, record_no DESC
		LIMIT 1
	`

	rec, err := r.scanRecord(r.q.QueryRow(ctx, query, string(ref.Type), ref.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get latest approval record")
	}
	return rec, nil
}

// GetPendingRecord returns the PENDING record for an entity, or nil.
func (r *ApprovalRecordRepository) GetPendingRecord(ctx context.Context, ref EntityRef) (*ApprovalRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM approval_records
		WHERE entity_type = $1 AND entity_id = $2
		  AND status = 'PENDING'
		LIMIT 1
	`

	rec, err := r.scanRecord(r.q.QueryRow(ctx, query, string(ref.Type), ref.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approval record")
	}
	return rec, nil
}

// ListPendingRecords returns every PENDING record, oldest first.
func (r *ApprovalRecordRepository) ListPendingRecords(ctx context.Context) ([]*ApprovalRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM approval_records
		WHERE status = 'PENDING'
		ORDER BY started_at ASC, id ASC
	`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approval records")
	}
	defer rows.Close()

	var records []*ApprovalRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval record")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ── scan helper ──────────────────────────────────────────────────────────────

func (r *ApprovalRecordRepository) scanRecord(row rowScanner) (*ApprovalRecord, error) {
	rec := &ApprovalRecord{}
	var (
		entityType string
		status     string
		paramsJSON []byte
	)

	err := row.Scan(
		&rec.ID,
		&entityType,
		&rec.EntityID,
		&rec.WorkflowTemplateID,
		&rec.InitiatorID,
		&status,
		&rec.CurrentStepOrder,
		&rec.TotalSteps,
		&rec.StartedAt,
		&rec.CompletedAt,
		&rec.Comment,
		&paramsJSON,
		&rec.Version,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.EntityType = EntityType(entityType)
	rec.Status = ApprovalStatus(status)

	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &rec.RoutingParams); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal routing params")
		}
	}
	return rec, nil
}
