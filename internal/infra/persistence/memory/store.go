// Package memory provides an in-memory implementation of the document store
// used for tests and ephemeral environments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"partnercore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Document aliases domain.Document.
	Document = domain.Document
	// Ref aliases domain.Ref.
	Ref = domain.Ref
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Committed documents are never mutated in place: updates replace the map
// entry with a fresh clone, so cloning the state only copies maps.
type memoryState struct {
	documents map[Ref]Document
	history   map[Ref][]domain.HistoryRecord
	counters  map[domain.CounterKey]int
}

func newMemoryState() memoryState {
	return memoryState{
		documents: make(map[Ref]Document),
		history:   make(map[Ref][]domain.HistoryRecord),
		counters:  make(map[domain.CounterKey]int),
	}
}

func (s memoryState) clone() memoryState {
	cp := memoryState{
		documents: make(map[Ref]Document, len(s.documents)),
		history:   make(map[Ref][]domain.HistoryRecord, len(s.history)),
		counters:  make(map[domain.CounterKey]int, len(s.counters)),
	}
	for k, v := range s.documents {
		cp.documents[k] = v
	}
	for k, v := range s.history {
		cp.history[k] = v[:len(v):len(v)]
	}
	for k, v := range s.counters {
		cp.counters[k] = v
	}
	return cp
}

func (s memoryState) list(tenant string, kind domain.Kind) []Document {
	var out []Document
	for ref, doc := range s.documents {
		if ref.Tenant == tenant && ref.Kind == kind {
			out = append(out, domain.MustClone(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Head().ID < out[j].Head().ID })
	return out
}

func (s memoryState) find(ref Ref) (Document, bool) {
	doc, ok := s.documents[ref]
	if !ok {
		return nil, false
	}
	return domain.MustClone(doc), true
}

// SnapshotDocument is the serialized form of one document.
type SnapshotDocument struct {
	Tenant  string          `json:"tenant"`
	Kind    domain.Kind     `json:"kind"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// SnapshotCounter is the serialized form of one reference-number counter.
type SnapshotCounter struct {
	Key   domain.CounterKey `json:"key"`
	Value int               `json:"value"`
}

// Snapshot captures a point-in-time copy of the store state.
type Snapshot struct {
	Documents []SnapshotDocument     `json:"documents"`
	History   []domain.HistoryRecord `json:"history"`
	Counters  []SnapshotCounter      `json:"counters"`
}

func snapshotFromMemoryState(state memoryState) (Snapshot, error) {
	s := Snapshot{
		Documents: make([]SnapshotDocument, 0, len(state.documents)),
		Counters:  make([]SnapshotCounter, 0, len(state.counters)),
	}
	for ref, doc := range state.documents {
		payload, err := json.Marshal(doc)
		if err != nil {
			return Snapshot{}, fmt.Errorf("encode %s: %w", ref, err)
		}
		s.Documents = append(s.Documents, SnapshotDocument{Tenant: ref.Tenant, Kind: ref.Kind, ID: ref.ID, Payload: payload})
	}
	sort.Slice(s.Documents, func(i, j int) bool {
		a, b := s.Documents[i], s.Documents[j]
		if a.Tenant != b.Tenant {
			return a.Tenant < b.Tenant
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
	for _, records := range state.history {
		s.History = append(s.History, records...)
	}
	sort.SliceStable(s.History, func(i, j int) bool {
		if !s.History[i].Timestamp.Equal(s.History[j].Timestamp) {
			return s.History[i].Timestamp.Before(s.History[j].Timestamp)
		}
		if s.History[i].Version != s.History[j].Version {
			return s.History[i].Version < s.History[j].Version
		}
		return s.History[i].ID < s.History[j].ID
	})
	for key, value := range state.counters {
		s.Counters = append(s.Counters, SnapshotCounter{Key: key, Value: value})
	}
	sort.Slice(s.Counters, func(i, j int) bool {
		a, b := s.Counters[i].Key, s.Counters[j].Key
		if a.Tenant != b.Tenant {
			return a.Tenant < b.Tenant
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Year < b.Year
	})
	return s, nil
}

func memoryStateFromSnapshot(s Snapshot) (memoryState, error) {
	state := newMemoryState()
	for _, d := range s.Documents {
		doc, err := domain.DecodeDocument(d.Kind, d.Payload)
		if err != nil {
			return memoryState{}, err
		}
		state.documents[Ref{Tenant: d.Tenant, Kind: d.Kind, ID: d.ID}] = doc
	}
	for _, rec := range s.History {
		state.history[rec.Ref] = append(state.history[rec.Ref], rec)
	}
	for _, c := range s.Counters {
		state.counters[c.Key] = c.Value
	}
	return state, nil
}

// Store provides an in-memory transactional store for documents.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used to stamp created and modified times.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// ExportState copies the current store state for external persistence.
func (s *Store) ExportState() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) error {
	state, err := memoryStateFromSnapshot(snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}

// RulesEngine exposes the configured commit-time rules.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// FindDocument returns a copy of the document at ref.
func (v transactionView) FindDocument(ref Ref) (Document, bool) { return v.state.find(ref) }

// ListDocuments returns copies of the tenant's documents of kind ordered by id.
func (v transactionView) ListDocuments(tenant string, kind domain.Kind) []Document {
	return v.state.list(tenant, kind)
}

// History returns the records appended for ref in order.
func (v transactionView) History(ref Ref) []domain.HistoryRecord {
	return append([]domain.HistoryRecord(nil), v.state.history[ref]...)
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

// Get returns a copy of the committed document at ref.
func (s *Store) Get(ref Ref) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.find(ref)
}

// List returns copies of committed documents of kind for tenant.
func (s *Store) List(tenant string, kind domain.Kind) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.list(tenant, kind)
}

// History returns committed history records for ref.
func (s *Store) History(ref Ref) []domain.HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.HistoryRecord(nil), s.state.history[ref]...)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView { return newTransactionView(&tx.state) }

// Now is the instant the transaction started.
func (tx *transaction) Now() time.Time { return tx.now }

// Get returns a copy of the document at ref as seen by the transaction.
func (tx *transaction) Get(ref Ref) (Document, bool) { return tx.state.find(ref) }

// List returns copies of the tenant's documents of kind.
func (tx *transaction) List(tenant string, kind domain.Kind) []Document {
	return tx.state.list(tenant, kind)
}

// Create stores a new document in its kind's initial status at version 1.
func (tx *transaction) Create(doc Document) (Document, error) {
	h := doc.Head()
	if h.Tenant == "" {
		return nil, domain.UnknownSubject("create document", "document has no tenant")
	}
	if h.ID == "" {
		h.ID = domain.NewID()
	}
	ref := domain.RefOf(doc)
	if _, exists := tx.state.documents[ref]; exists {
		return nil, domain.Integrity("create document", fmt.Sprintf("%s already exists", ref))
	}
	if h.Status == "" {
		h.Status = domain.InitialStatus(doc.Kind())
	}
	h.Version = 1
	h.Created = tx.now
	h.Modified = tx.now
	stored, err := domain.CloneDocument(doc)
	if err != nil {
		return nil, err
	}
	tx.state.documents[ref] = stored
	tx.recordChange(Change{Ref: ref, Action: domain.ActionCreate, After: domain.MustClone(stored)})
	return domain.MustClone(stored), nil
}

// Update applies mutator to a copy of the document and bumps its version.
func (tx *transaction) Update(ref Ref, mutator func(Document) error) (Document, error) {
	current, ok := tx.state.documents[ref]
	if !ok {
		return nil, domain.NotFound("update document", ref)
	}
	next, err := domain.CloneDocument(current)
	if err != nil {
		return nil, err
	}
	if err := mutator(next); err != nil {
		return nil, err
	}
	h, before := next.Head(), current.Head()
	h.ID, h.Tenant = before.ID, before.Tenant
	h.Created = before.Created
	h.Version = before.Version + 1
	h.Modified = tx.now
	tx.state.documents[ref] = next
	tx.recordChange(Change{Ref: ref, Action: domain.ActionUpdate, Before: domain.MustClone(current), After: domain.MustClone(next)})
	return domain.MustClone(next), nil
}

// Delete removes a document. Its history is retained.
func (tx *transaction) Delete(ref Ref) error {
	current, ok := tx.state.documents[ref]
	if !ok {
		return domain.NotFound("delete document", ref)
	}
	delete(tx.state.documents, ref)
	tx.recordChange(Change{Ref: ref, Action: domain.ActionDelete, Before: domain.MustClone(current)})
	return nil
}

// AppendHistory appends an audit record for an existing document.
func (tx *transaction) AppendHistory(record domain.HistoryRecord) (domain.HistoryRecord, error) {
	if _, ok := tx.state.documents[record.Ref]; !ok {
		return domain.HistoryRecord{}, domain.NotFound("append history", record.Ref)
	}
	if record.ID == "" {
		record.ID = domain.NewID()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = tx.now
	}
	tx.state.history[record.Ref] = append(tx.state.history[record.Ref], record)
	return record, nil
}

// NextSerial increments and returns the counter for key.
func (tx *transaction) NextSerial(key domain.CounterKey) int {
	tx.state.counters[key]++
	return tx.state.counters[key]
}
