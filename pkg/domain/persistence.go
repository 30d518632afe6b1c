package domain

import (
	"context"
	"time"
)

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	History(ref Ref) []HistoryRecord
}

// Transaction exposes the operations a persistence implementation must
// support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	Get(ref Ref) (Document, bool)
	List(tenant string, kind Kind) []Document
	Create(doc Document) (Document, error)
	Update(ref Ref, mutator func(Document) error) (Document, error)
	Delete(ref Ref) error
	AppendHistory(record HistoryRecord) (HistoryRecord, error)
	NextSerial(key CounterKey) int
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Get(ref Ref) (Document, bool)
	List(tenant string, kind Kind) []Document
	History(ref Ref) []HistoryRecord
}
