// Package postgres keeps the document store in memory and mirrors every
// committed change into a Postgres table, one JSONB row per bucket.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"partnercore/internal/infra/persistence/memory"
	"partnercore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/partnercore?sslmode=disable"
	table      = "partnercore_state"
)

// schema is applied in order on every open.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + table + ` (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`ALTER TABLE ` + table + ` ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
}

const (
	selectBuckets = `SELECT bucket, payload FROM ` + table
	upsertBucket  = `INSERT INTO ` + table + ` (bucket, payload, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
)

// Opener opens a database handle for a driver and DSN.
type Opener func(driverName, dsn string) (*sql.DB, error)

var (
	openMu sync.Mutex
	open   Opener = sql.Open
)

// SetOpener replaces the function used to open databases and returns a
// function restoring the previous one.
func SetOpener(fn Opener) (restore func()) {
	openMu.Lock()
	defer openMu.Unlock()
	prev := open
	open = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		open = prev
	}
}

// Store is a memory.Store whose commits are written through to Postgres.
type Store struct {
	*memory.Store
	db      *sql.DB
	mu      sync.Mutex
	written memory.Written
	now     func() time.Time
}

// NewStore connects to dsn (or a local default), applies the schema and
// loads whatever state the table already holds.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := open(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	s := &Store{Store: memory.NewStore(engine), db: db, now: time.Now}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, selectBuckets)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	payloads := make(map[string][]byte)
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if err := memory.DecodeBucket(&snapshot, bucket, payload); err != nil {
			return err
		}
		payloads[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if len(payloads) == 0 {
		return nil
	}
	if err := s.ImportState(snapshot); err != nil {
		return err
	}
	// JSONB does not keep the bytes it was given; compare later commits
	// against this process's own encoding of the loaded rows.
	current, err := s.encode()
	if err != nil {
		return err
	}
	var present []string
	for _, bucket := range memory.Buckets() {
		if _, ok := payloads[bucket]; ok {
			present = append(present, bucket)
		}
	}
	s.written.Mark(current, present...)
	return nil
}

func (s *Store) encode() (map[string][]byte, error) {
	snapshot, err := s.ExportState()
	if err != nil {
		return nil, err
	}
	return memory.EncodeBuckets(snapshot)
}

// RunInTransaction commits fn in memory, then writes the changed buckets.
// A failed write is returned even though the memory commit stands.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	return res, s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payloads, err := s.encode()
	if err != nil {
		return err
	}
	changed := s.written.Changed(payloads)
	if len(changed) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	at := s.now().UTC()
	for _, bucket := range changed {
		if _, err := tx.ExecContext(ctx, upsertBucket, bucket, payloads[bucket], at); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.written.Mark(payloads, changed...)
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for maintenance queries.
func (s *Store) DB() *sql.DB { return s.db }
