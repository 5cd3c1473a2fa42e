package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// PostgresStore composes the pgx repositories into a Store. A transition's
// record update and history row share one database transaction.
type PostgresStore struct {
	*ApprovalTemplateRepository
	*ApprovalRecordRepository
	*ApprovalHistoryRepository

	db *database.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{
		ApprovalTemplateRepository: NewApprovalTemplateRepository(db),
		ApprovalRecordRepository:   NewApprovalRecordRepository(db),
		ApprovalHistoryRepository:  NewApprovalHistoryRepository(db),
		db:                         db,
	}
}

// InTransaction runs fn inside one database transaction.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&postgresTx{
			ApprovalRecordRepository:  s.ApprovalRecordRepository.withTx(tx),
			ApprovalHistoryRepository: s.ApprovalHistoryRepository.withTx(tx),
		})
	})
}

type postgresTx struct {
	*ApprovalRecordRepository
	*ApprovalHistoryRepository
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*postgresTx)(nil)
	_ Tx    = (*memoryTx)(nil)
)
