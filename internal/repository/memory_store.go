package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// MemoryStore is an in-process Store. Transactions buffer their writes and
// validate record versions when they commit, so two transactions that read
// the same record version cannot both win.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*WorkflowTemplate
	records   map[string]*ApprovalRecord
	byEntity  map[EntityRef][]string // record IDs in start order
	history   map[string][]*ApprovalHistory
	seq       int64
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]*WorkflowTemplate),
		records:   make(map[string]*ApprovalRecord),
		byEntity:  make(map[EntityRef][]string),
		history:   make(map[string][]*ApprovalHistory),
		now:       time.Now,
	}
}

// WithClock replaces the time source used for generated timestamps.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// ── Templates ────────────────────────────────────────────────────────────────

func (s *MemoryStore) SaveTemplate(_ context.Context, t *WorkflowTemplate) error {
	if t == nil {
		return errors.InvalidInput("template", "template is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if existing, ok := s.templates[t.ID]; ok {
		t.CreatedAt = existing.CreatedAt
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.templates[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, id string) (*WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, errors.NotFound("workflow_template", id)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) ListTemplates(_ context.Context, entityType EntityType, activeOnly bool) ([]*WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*WorkflowTemplate
	for _, t := range s.templates {
		if entityType != "" && t.EntityType != entityType {
			continue
		}
		if activeOnly && !t.IsActive {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ── Committed reads ──────────────────────────────────────────────────────────

func (s *MemoryStore) GetRecord(_ context.Context, id string) (*ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, errors.NotFound("approval_record", id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) GetLatestRecord(_ context.Context, ref EntityRef) (*ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byEntity[ref]
	if len(ids) == 0 {
		return nil, nil
	}
	return s.records[ids[len(ids)-1]].Clone(), nil
}

func (s *MemoryStore) GetPendingRecord(_ context.Context, ref EntityRef) (*ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec := s.pendingLocked(ref); rec != nil {
		return rec.Clone(), nil
	}
	return nil, nil
}

func (s *MemoryStore) ListPendingRecords(_ context.Context) ([]*ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ApprovalRecord
	for _, rec := range s.records {
		if rec.Status == StatusPending {
			out = append(out, rec.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) ListHistory(_ context.Context, recordID string) ([]*ApprovalHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneHistory(s.history[recordID]), nil
}

func (s *MemoryStore) pendingLocked(ref EntityRef) *ApprovalRecord {
	ids := s.byEntity[ref]
	for i := len(ids) - 1; i >= 0; i-- {
		if rec := s.records[ids[i]]; rec.Status == StatusPending {
			return rec
		}
	}
	return nil
}

// ── Transactions ─────────────────────────────────────────────────────────────

// InTransaction runs fn against a buffered transaction and commits it.
func (s *MemoryStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{
		store:    s,
		inserted: make(map[string]*ApprovalRecord),
		updated:  make(map[string]stagedUpdate),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type stagedUpdate struct {
	rec      *ApprovalRecord
	expected int
}

type memoryTx struct {
	store       *MemoryStore
	inserted    map[string]*ApprovalRecord
	insertOrder []string
	updated     map[string]stagedUpdate
	appended    []*ApprovalHistory
}

// view returns the record as this transaction sees it.
func (tx *memoryTx) view(id string) *ApprovalRecord {
	if u, ok := tx.updated[id]; ok {
		return u.rec
	}
	if rec, ok := tx.inserted[id]; ok {
		return rec
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.records[id]
}

// entityIDs returns committed then staged record IDs for ref, in start order.
func (tx *memoryTx) entityIDs(ref EntityRef) []string {
	tx.store.mu.RLock()
	ids := append([]string(nil), tx.store.byEntity[ref]...)
	tx.store.mu.RUnlock()
	for _, id := range tx.insertOrder {
		if tx.inserted[id].Ref() == ref {
			ids = append(ids, id)
		}
	}
	return ids
}

func (tx *memoryTx) GetRecord(_ context.Context, id string) (*ApprovalRecord, error) {
	rec := tx.view(id)
	if rec == nil {
		return nil, errors.NotFound("approval_record", id)
	}
	return rec.Clone(), nil
}

func (tx *memoryTx) GetLatestRecord(_ context.Context, ref EntityRef) (*ApprovalRecord, error) {
	ids := tx.entityIDs(ref)
	if len(ids) == 0 {
		return nil, nil
	}
	return tx.view(ids[len(ids)-1]).Clone(), nil
}

func (tx *memoryTx) GetPendingRecord(_ context.Context, ref EntityRef) (*ApprovalRecord, error) {
	ids := tx.entityIDs(ref)
	for i := len(ids) - 1; i >= 0; i-- {
		if rec := tx.view(ids[i]); rec.Status == StatusPending {
			return rec.Clone(), nil
		}
	}
	return nil, nil
}

func (tx *memoryTx) ListPendingRecords(ctx context.Context) ([]*ApprovalRecord, error) {
	committed, err := tx.store.ListPendingRecords(ctx)
	if err != nil {
		return nil, err
	}
	var out []*ApprovalRecord
	for _, rec := range committed {
		if v := tx.view(rec.ID); v.Status == StatusPending {
			out = append(out, v.Clone())
		}
	}
	for _, id := range tx.insertOrder {
		if v := tx.view(id); v.Status == StatusPending {
			out = append(out, v.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

func (tx *memoryTx) ListHistory(ctx context.Context, recordID string) ([]*ApprovalHistory, error) {
	out, err := tx.store.ListHistory(ctx, recordID)
	if err != nil {
		return nil, err
	}
	for _, h := range tx.appended {
		if h.RecordID == recordID {
			out = append(out, h.Clone())
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertRecord(ctx context.Context, rec *ApprovalRecord) error {
	pending, err := tx.GetPendingRecord(ctx, rec.Ref())
	if err != nil {
		return err
	}
	if pending != nil && rec.Status == StatusPending {
		return errors.InvalidState("an approval is already pending for " + rec.Ref().String())
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = tx.store.now()
	}
	tx.inserted[rec.ID] = rec.Clone()
	tx.insertOrder = append(tx.insertOrder, rec.ID)
	return nil
}

func (tx *memoryTx) UpdateRecord(_ context.Context, rec *ApprovalRecord, expectedVersion int) error {
	current := tx.view(rec.ID)
	if current == nil {
		return errors.NotFound("approval_record", rec.ID)
	}
	if current.Version != expectedVersion {
		return errors.ConcurrentModification("approval_record", rec.ID)
	}
	rec.UpdatedAt = tx.store.now()
	if _, ok := tx.inserted[rec.ID]; ok {
		tx.inserted[rec.ID] = rec.Clone()
		return nil
	}
	// Keep the version this transaction first observed so commit can detect
	// writers that landed in between.
	expected := expectedVersion
	if prior, ok := tx.updated[rec.ID]; ok {
		expected = prior.expected
	}
	tx.updated[rec.ID] = stagedUpdate{rec: rec.Clone(), expected: expected}
	return nil
}

func (tx *memoryTx) AppendHistory(_ context.Context, entry *ApprovalHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ActedAt.IsZero() {
		entry.ActedAt = tx.store.now()
	}
	tx.appended = append(tx.appended, entry)
	return nil
}

func (tx *memoryTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range tx.updated {
		committed, ok := s.records[id]
		if !ok {
			return errors.NotFound("approval_record", id)
		}
		if committed.Version != u.expected {
			return errors.ConcurrentModification("approval_record", id)
		}
	}
	for _, id := range tx.insertOrder {
		rec := tx.inserted[id]
		if rec.Status != StatusPending {
			continue
		}
		if pending := s.pendingLocked(rec.Ref()); pending != nil {
			if u, ok := tx.updated[pending.ID]; !ok || u.rec.Status == StatusPending {
				return errors.InvalidState("an approval is already pending for " + rec.Ref().String())
			}
		}
	}

	for id, u := range tx.updated {
		s.records[id] = u.rec
	}
	for _, id := range tx.insertOrder {
		rec := tx.inserted[id]
		s.records[id] = rec
		s.byEntity[rec.Ref()] = append(s.byEntity[rec.Ref()], id)
	}
	for _, entry := range tx.appended {
		s.seq++
		entry.Seq = s.seq
		s.history[entry.RecordID] = append(s.history[entry.RecordID], entry.Clone())
	}
	return nil
}

func sortRecords(recs []*ApprovalRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].StartedAt.Before(recs[j].StartedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

func cloneHistory(in []*ApprovalHistory) []*ApprovalHistory {
	out := make([]*ApprovalHistory, 0, len(in))
	for _, h := range in {
		out = append(out, h.Clone())
	}
	return out
}
