package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/docflow/model"
)

// memState is the full content of a MemoryStore. Transactions work on a
// copy and swap it in on commit.
type memState struct {
	docs     map[string]*model.Document
	seq      map[string]int64
	nextSeq  int64
	actions  []model.ActionRecord
	comments []model.Comment
}

func (s *memState) clone() *memState {
	c := &memState{
		docs:     make(map[string]*model.Document, len(s.docs)),
		seq:      make(map[string]int64, len(s.seq)),
		nextSeq:  s.nextSeq,
		actions:  make([]model.ActionRecord, len(s.actions)),
		comments: make([]model.Comment, len(s.comments)),
	}
	for k, d := range s.docs {
		c.docs[k] = d.Clone()
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	copy(c.actions, s.actions)
	copy(c.comments, s.comments)
	return c
}

// MemoryStore is an in-memory Transactor for testing and single-instance use.
// Transactions are serialized, which also serializes every document's ledger.
type MemoryStore struct {
	txMu sync.Mutex

	mu    sync.RWMutex
	state *memState
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			docs: make(map[string]*model.Document),
			seq:  make(map[string]int64),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithinTx runs fn against a private copy of the store and installs the copy
// only when fn succeeds.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	staged := s.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memTx{state: staged, now: s.now}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = staged
	s.mu.Unlock()
	return nil
}

// Seed stores documents directly, outside any transaction. For tests and
// fixtures.
func (s *MemoryStore) Seed(docs ...*model.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		c := d.Clone()
		c.New = false
		c.Previous = nil
		s.state.put(c)
	}
}

// Actions returns a copy of every action record. For testing.
func (s *MemoryStore) Actions() []model.ActionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ActionRecord(nil), s.state.actions...)
}

// Comments returns a copy of every comment. For testing.
func (s *MemoryStore) Comments() []model.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Comment(nil), s.state.comments...)
}

// Document returns a copy of a stored document, or nil. For testing.
func (s *MemoryStore) Document(doctype, name string) *model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.docs[doctype+"/"+name]
	if !ok {
		return nil
	}
	return d.Clone()
}

func (s *memState) put(d *model.Document) {
	key := d.Key()
	if _, ok := s.seq[key]; !ok {
		s.nextSeq++
		s.seq[key] = s.nextSeq
	}
	s.docs[key] = d
}

// memTx implements Tx over a staged memState.
type memTx struct {
	state *memState
	now   func() time.Time
}

func (t *memTx) GetDocument(_ context.Context, doctype, name string) (*model.Document, error) {
	d, ok := t.state.docs[doctype+"/"+name]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s %s not found", doctype, name))
	}
	return d.Clone(), nil
}

func (t *memTx) ListDocuments(_ context.Context, doctype string, filters map[string]any, limit int) ([]*model.Document, error) {
	var keys []string
	for k, d := range t.state.docs {
		if d.Doctype == doctype {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return t.state.seq[keys[i]] < t.state.seq[keys[j]] })

	var out []*model.Document
	for _, k := range keys {
		d := t.state.docs[k]
		ok, err := MatchFilters(d, filters)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, d.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) CountDocuments(ctx context.Context, doctype string, filters map[string]any) (int, error) {
	docs, err := t.ListDocuments(ctx, doctype, filters, 0)
	return len(docs), err
}

func (t *memTx) persisted(doc *model.Document) *model.Document {
	return t.state.docs[doc.Key()]
}

func (t *memTx) write(op lifecycleOp, doc *model.Document) error {
	existing := t.persisted(doc)
	if doc.New && existing != nil {
		return model.NewConflictError(fmt.Sprintf("%s %s already exists", doc.Doctype, doc.Name))
	}
	if !doc.New && existing == nil {
		return model.NewNotFoundError(fmt.Sprintf("%s %s not found", doc.Doctype, doc.Name))
	}
	status, err := nextDocStatus(op, existing, doc)
	if err != nil {
		return err
	}
	doc.DocStatus = status
	doc.New = false

	stored := doc.Clone()
	stored.Previous = nil
	stored.WorkflowAction = ""
	stored.WorkflowComment = ""
	t.state.put(stored)
	return nil
}

func (t *memTx) Save(_ context.Context, doc *model.Document) error {
	return t.write(opSave, doc)
}

func (t *memTx) Submit(_ context.Context, doc *model.Document) error {
	return t.write(opSubmit, doc)
}

func (t *memTx) Cancel(_ context.Context, doc *model.Document) error {
	return t.write(opCancel, doc)
}

func (t *memTx) AddComment(_ context.Context, c model.Comment) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = t.now()
	}
	t.state.comments = append(t.state.comments, c)
	return nil
}

func (t *memTx) Comments(_ context.Context, doctype, name string) ([]model.Comment, error) {
	var out []model.Comment
	for _, c := range t.state.comments {
		if c.Doctype == doctype && c.DocName == name {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *memTx) ListActions(_ context.Context, f model.ActionFilter) ([]model.ActionRecord, error) {
	var out []model.ActionRecord
	for i := range t.state.actions {
		if f.Matches(&t.state.actions[i]) {
			out = append(out, t.state.actions[i])
		}
	}
	return out, nil
}

func (t *memTx) CountActions(ctx context.Context, f model.ActionFilter) (int, error) {
	recs, err := t.ListActions(ctx, f)
	return len(recs), err
}

func (t *memTx) CreateAction(_ context.Context, rec model.ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := t.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	t.state.actions = append(t.state.actions, rec)
	return nil
}

func (t *memTx) CompleteActions(_ context.Context, f model.ActionFilter, completedBy string) (int, error) {
	f.Status = model.ActionStatusOpen
	n := 0
	for i := range t.state.actions {
		rec := &t.state.actions[i]
		if !f.Matches(rec) {
			continue
		}
		rec.Status = model.ActionStatusCompleted
		rec.CompletedBy = completedBy
		rec.UpdatedAt = t.now()
		n++
	}
	return n, nil
}

// LockDocument is a no-op: memory transactions are already serialized.
func (t *memTx) LockDocument(context.Context, string, string) error {
	return nil
}
