package core

import (
	"context"
	"path/filepath"
	"testing"

	"partnercore/internal/infra/persistence/memory"
	"partnercore/internal/infra/persistence/sqlite"
	"partnercore/pkg/domain"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, err := OpenPersistentStore(context.Background(), StorageOptions{Driver: StorageMemory}, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
}

func TestOpenPersistentStoreDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partnercore.db")
	store, err := OpenPersistentStore(context.Background(), StorageOptions{SQLitePath: path}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	s, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected *sqlite.Store, got %T", store)
	}
	defer func() { _ = s.Close() }()
	if _, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("empty transaction: %v", err)
	}
}

func TestOpenPersistentStorePostgresRequiresDSN(t *testing.T) {
	if _, err := OpenPersistentStore(context.Background(), StorageOptions{Driver: StoragePostgres}, nil); err == nil {
		t.Fatalf("expected error for missing DSN")
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	if _, err := OpenPersistentStore(context.Background(), StorageOptions{Driver: "etcd"}, nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
