package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// ApprovalHistoryRepository appends and reads immutable approval history rows.
type ApprovalHistoryRepository struct {
	q querier
}

// NewApprovalHistoryRepository creates a new ApprovalHistoryRepository.
func NewApprovalHistoryRepository(db *database.DB) *ApprovalHistoryRepository {
	return &ApprovalHistoryRepository{q: db}
}

func (r *ApprovalHistoryRepository) withTx(tx pgx.Tx) *ApprovalHistoryRepository {
	return &ApprovalHistoryRepository{q: tx}
}

// AppendHistory inserts one row. The table has an update/delete-prevention
// trigger so this is the only mutation exposed. seq comes from a sequence,
// so ordering never depends on acted_at.
func (r *ApprovalHistoryRepository) AppendHistory(ctx context.Context, entry *ApprovalHistory) error {
	query := `
		INSERT INTO approval_history
		    (record_id, step_order, action,
		     actor_id, delegate_to_id, comment)
		VALUES ($1, $2, $3::approval_action,
		        $4, $5, $6)
		RETURNING id, seq, acted_at
	`

	err := r.q.QueryRow(ctx, query,
		entry.RecordID,
		entry.StepOrder,
		string(entry.Action),
		entry.ActorID,
		entry.DelegateToID,
		entry.Comment,
	).Scan(&entry.ID, &entry.Seq, &entry.ActedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval history")
	}
	return nil
}

// ListHistory returns a record's history ordered by seq.
func (r *ApprovalHistoryRepository) ListHistory(ctx context.Context, recordID string) ([]*ApprovalHistory, error) {
	query := `
		SELECT id, record_id, step_order, action,
		       actor_id, delegate_to_id, comment,
		       seq, acted_at
		FROM approval_history
		WHERE record_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.q.Query(ctx, query, recordID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval history")
	}
	defer rows.Close()

	var entries []*ApprovalHistory
	for rows.Next() {
		entry := &ApprovalHistory{}
		var action string
		err := rows.Scan(
			&entry.ID,
			&entry.RecordID,
			&entry.StepOrder,
			&action,
			&entry.ActorID,
			&entry.DelegateToID,
			&entry.Comment,
			&entry.Seq,
			&entry.ActedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval history")
		}
		entry.Action = HistoryAction(action)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
