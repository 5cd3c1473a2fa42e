package repository

import (
	"context"
	stderrors "errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// newPostgresStore connects to TEST_DATABASE_URL, which must already carry
// the migrations in /migrations. Tests use fresh entity IDs so they can share
// a database.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := database.New(ctx, database.Config{URL: url, MaxConns: 8, MinConns: 1})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	s := NewPostgresStore(db)
	require.NoError(t, s.SaveTemplate(context.Background(), &WorkflowTemplate{
		ID:         "tpl",
		Name:       "integration",
		EntityType: EntityTypeContract,
		Steps: []WorkflowStepDef{
			{StepOrder: 1, Approver: FixedApprover{UserID: "pm"}},
			{StepOrder: 2, Approver: RoleApprover{Role: "FINANCE_MANAGER"}},
		},
		IsActive: true,
	}))
	return s
}

func TestPostgresStoreTemplateRoundTrip(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	got, err := s.GetTemplate(ctx, "tpl")
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, RoleApprover{Role: "FINANCE_MANAGER"}, got.Steps[1].Approver)

	_, err = s.GetTemplate(ctx, uuid.NewString())
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestPostgresStoreLifecycle(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	entityID := uuid.NewString()

	rec := newPendingRecord(entityID, time.Now().UTC())
	require.NoError(t, s.InTransaction(ctx, func(tx Tx) error {
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &ApprovalHistory{RecordID: rec.ID, StepOrder: 1, Action: ActionSubmit, ActorID: "7"})
	}))
	require.NotEmpty(t, rec.ID)

	err := s.InTransaction(ctx, func(tx Tx) error {
		return tx.InsertRecord(ctx, newPendingRecord(entityID, time.Now().UTC()))
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState), "second pending record: %v", err)

	next := rec.Clone()
	next.CurrentStepOrder = 2
	next.Version = 2
	require.NoError(t, s.InTransaction(ctx, func(tx Tx) error {
		if err := tx.UpdateRecord(ctx, next, 1); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &ApprovalHistory{RecordID: rec.ID, StepOrder: 1, Action: ActionApprove, ActorID: "pm"})
	}))

	stale := rec.Clone()
	stale.Status = StatusWithdrawn
	stale.Version = 2
	err = s.InTransaction(ctx, func(tx Tx) error {
		return tx.UpdateRecord(ctx, stale, 1)
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeConcurrentModification))

	boom := stderrors.New("boom")
	err = s.InTransaction(ctx, func(tx Tx) error {
		if err := tx.AppendHistory(ctx, &ApprovalHistory{RecordID: rec.ID, StepOrder: 2, Action: ActionReject, ActorID: "fin"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	history, err := s.ListHistory(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ActionSubmit, history[0].Action)
	assert.Equal(t, ActionApprove, history[1].Action)
	assert.Less(t, history[0].Seq, history[1].Seq)

	latest, err := s.GetLatestRecord(ctx, EntityRef{Type: EntityTypeContract, ID: entityID})
	require.NoError(t, err)
	assert.Equal(t, 2, latest.CurrentStepOrder)
	assert.Equal(t, 2, latest.Version)

	pending, err := s.GetPendingRecord(ctx, EntityRef{Type: EntityTypeContract, ID: entityID})
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, rec.ID, pending.ID)
}
