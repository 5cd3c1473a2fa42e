package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// ApprovalTemplateRepository handles CRUD for approval_workflow_templates.
// Steps and routing rules are stored as JSONB arrays.
type ApprovalTemplateRepository struct {
	db *database.DB
}

// NewApprovalTemplateRepository creates a new ApprovalTemplateRepository.
func NewApprovalTemplateRepository(db *database.DB) *ApprovalTemplateRepository {
	return &ApprovalTemplateRepository{db: db}
}

// SaveTemplate inserts a template or replaces the existing row with the same ID.
func (r *ApprovalTemplateRepository) SaveTemplate(ctx context.Context, t *WorkflowTemplate) error {
	stepsJSON, err := MarshalSteps(t.Steps)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to marshal workflow steps")
	}
	rulesJSON, err := MarshalRoutingRules(t.RoutingRules)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to marshal routing rules")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	query := `
		INSERT INTO approval_workflow_templates
		    (id, name, entity_type, steps, routing_rules,
		     priority, is_default, is_active)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET name          = EXCLUDED.name,
		    entity_type   = EXCLUDED.entity_type,
		    steps         = EXCLUDED.steps,
		    routing_rules = EXCLUDED.routing_rules,
		    priority      = EXCLUDED.priority,
		    is_default    = EXCLUDED.is_default,
		    is_active     = EXCLUDED.is_active,
		    updated_at    = NOW()
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		t.ID,
		t.Name,
		string(t.EntityType),
		stepsJSON,
		rulesJSON,
		t.Priority,
		t.IsDefault,
		t.IsActive,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save workflow template")
	}
	return nil
}

// GetTemplate retrieves a template by primary key.
func (r *ApprovalTemplateRepository) GetTemplate(ctx context.Context, id string) (*WorkflowTemplate, error) {
	query := `
		SELECT id, name, entity_type, steps, routing_rules,
		       priority, is_default, is_active, created_at, updated_at
		FROM approval_workflow_templates
		WHERE id = $1
	`

	t, err := r.scanTemplate(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("workflow_template", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow template")
	}
	return t, nil
}

// ListTemplates returns templates for an entity type in evaluation order.
func (r *ApprovalTemplateRepository) ListTemplates(ctx context.Context, entityType EntityType, activeOnly bool) ([]*WorkflowTemplate, error) {
	query := `
		SELECT id, name, entity_type, steps, routing_rules,
		       priority, is_default, is_active, created_at, updated_at
		FROM approval_workflow_templates
		WHERE ($1 = '' OR entity_type = $1)
	`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY priority ASC, name ASC, id ASC"

	rows, err := r.db.Query(ctx, query, string(entityType))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow templates")
	}
	defer rows.Close()

	var templates []*WorkflowTemplate
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow template")
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalTemplateRepository) scanTemplate(row rowScanner) (*WorkflowTemplate, error) {
	t := &WorkflowTemplate{}
	var (
		entityType string
		stepsJSON  []byte
		rulesJSON  []byte
	)

	err := row.Scan(
		&t.ID,
		&t.Name,
		&entityType,
		&stepsJSON,
		&rulesJSON,
		&t.Priority,
		&t.IsDefault,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.EntityType = EntityType(entityType)

	if t.Steps, err = UnmarshalSteps(stepsJSON); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal workflow steps")
	}
	if t.RoutingRules, err = UnmarshalRoutingRules(rulesJSON); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal routing rules")
	}
	return t, nil
}
