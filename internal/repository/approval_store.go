package repository

import "context"

// TemplateRepository stores workflow template configuration.
type TemplateRepository interface {
	// SaveTemplate inserts or replaces a template, assigning an ID when empty.
	SaveTemplate(ctx context.Context, t *WorkflowTemplate) error
	// GetTemplate returns a template or a NotFound error.
	GetTemplate(ctx context.Context, id string) (*WorkflowTemplate, error)
	// ListTemplates returns templates for an entity type ordered by
	// (priority, name). An empty entity type lists every template.
	ListTemplates(ctx context.Context, entityType EntityType, activeOnly bool) ([]*WorkflowTemplate, error)
}

// RecordReader reads approval records.
type RecordReader interface {
	// GetRecord returns a record or a NotFound error.
	GetRecord(ctx context.Context, id string) (*ApprovalRecord, error)
	// GetLatestRecord returns the most recently started record for an entity
	// regardless of status, or nil when none exists.
	GetLatestRecord(ctx context.Context, ref EntityRef) (*ApprovalRecord, error)
	// GetPendingRecord returns the PENDING record for an entity, or nil.
	GetPendingRecord(ctx context.Context, ref EntityRef) (*ApprovalRecord, error)
	// ListPendingRecords returns every PENDING record ordered by start time.
	ListPendingRecords(ctx context.Context) ([]*ApprovalRecord, error)
}

// HistoryReader reads the audit ledger.
type HistoryReader interface {
	// ListHistory returns a record's history ordered by seq ascending.
	ListHistory(ctx context.Context, recordID string) ([]*ApprovalHistory, error)
}

// Tx is the unit of work for one transition. Writes become visible only when
// the surrounding InTransaction call commits.
type Tx interface {
	RecordReader
	HistoryReader

	// InsertRecord creates a record. A second PENDING record for the same
	// entity fails with InvalidState.
	InsertRecord(ctx context.Context, rec *ApprovalRecord) error
	// UpdateRecord replaces a record if its stored version still equals
	// expectedVersion, otherwise it fails with ConcurrentModification.
	UpdateRecord(ctx context.Context, rec *ApprovalRecord, expectedVersion int) error
	// AppendHistory adds a row, assigning ID, Seq and ActedAt.
	AppendHistory(ctx context.Context, entry *ApprovalHistory) error
}

// Store is the persistence boundary of the approval engine.
type Store interface {
	TemplateRepository
	RecordReader
	HistoryReader

	// InTransaction runs fn atomically: either every write made through tx is
	// committed or none is.
	InTransaction(ctx context.Context, fn func(tx Tx) error) error
}
