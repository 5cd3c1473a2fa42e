package service

import (
	"context"
	"sort"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// HistoryRecorder is the append-only audit ledger of approval transitions.
type HistoryRecorder struct {
	reader repository.HistoryReader
}

// NewHistoryRecorder creates a new HistoryRecorder.
func NewHistoryRecorder(reader repository.HistoryReader) *HistoryRecorder {
	return &HistoryRecorder{reader: reader}
}

// Record appends entry within tx. The store assigns its ID, seq and
// acted_at.
func (h *HistoryRecorder) Record(ctx context.Context, tx repository.Tx, entry *repository.ApprovalHistory) error {
	if entry.RecordID == "" {
		return errors.New(errors.ErrCodeInternal, "history entry has no record id")
	}
	return tx.AppendHistory(ctx, entry)
}

// GetHistory returns a record's entries ordered by seq ascending.
func (h *HistoryRecorder) GetHistory(ctx context.Context, recordID string) ([]*repository.ApprovalHistory, error) {
	return readHistory(ctx, h.reader, recordID)
}

// readHistory loads history through any reader, including an open
// transaction, and guarantees seq order.
func readHistory(ctx context.Context, reader repository.HistoryReader, recordID string) ([]*repository.ApprovalHistory, error) {
	entries, err := reader.ListHistory(ctx, recordID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}
