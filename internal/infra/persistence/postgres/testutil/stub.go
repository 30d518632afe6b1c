// Package testutil fakes the slice of Postgres the bucket store talks to: a
// single table of (bucket, payload, updated_at) rows with transactional upserts.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Op names a fault injection point.
type Op string

const (
	OpPing   Op = "ping"
	OpDDL    Op = "ddl"
	OpQuery  Op = "query"
	OpBegin  Op = "begin"
	OpUpsert Op = "upsert"
	OpCommit Op = "commit"
)

// Row is one stored bucket.
type Row struct {
	Payload   []byte
	UpdatedAt time.Time
}

// BucketDB is the shared state behind every connection of a fake database.
type BucketDB struct {
	mu         sync.Mutex
	rows       map[string]Row
	statements []string
	upserts    int
	faults     map[Op]error
}

// NewBucketDB returns an empty fake and a *sql.DB connected to it.
func NewBucketDB() (*sql.DB, *BucketDB) {
	fake := &BucketDB{rows: make(map[string]Row), faults: make(map[Op]error)}
	return sql.OpenDB(connector{fake}), fake
}

// Fail makes op return err until cleared with a nil err.
func (b *BucketDB) Fail(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.faults, op)
		return
	}
	b.faults[op] = err
}

// Rows copies the committed rows.
func (b *BucketDB) Rows() map[string]Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Row, len(b.rows))
	for k, v := range b.rows {
		out[k] = v
	}
	return out
}

// Statements lists every statement received, in order.
func (b *BucketDB) Statements() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.statements...)
}

// Upserts counts committed bucket writes.
func (b *BucketDB) Upserts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.upserts
}

func (b *BucketDB) fault(op Op) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.faults[op]
}

func (b *BucketDB) record(query string) {
	b.mu.Lock()
	b.statements = append(b.statements, query)
	b.mu.Unlock()
}

type connector struct{ db *BucketDB }

func (c connector) Connect(context.Context) (driver.Conn, error) { return &conn{db: c.db}, nil }
func (c connector) Driver() driver.Driver                        { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("bucket fake opens through its connector")
}

// conn holds the upserts of the open transaction, if any.
type conn struct {
	db      *BucketDB
	pending map[string]Row
}

func (c *conn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements are not supported")
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) Ping(context.Context) error { return c.db.fault(OpPing) }

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if err := c.db.fault(OpBegin); err != nil {
		return nil, err
	}
	c.pending = make(map[string]Row)
	return c, nil
}

func (c *conn) Commit() error {
	defer func() { c.pending = nil }()
	if err := c.db.fault(OpCommit); err != nil {
		return err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	for bucket, row := range c.pending {
		c.db.rows[bucket] = row
		c.db.upserts++
	}
	return nil
}

func (c *conn) Rollback() error {
	c.pending = nil
	return nil
}

func verb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.db.record(query)
	switch verb(query) {
	case "CREATE", "ALTER":
		if err := c.db.fault(OpDDL); err != nil {
			return nil, err
		}
		return driver.ResultNoRows, nil
	case "INSERT":
		if err := c.db.fault(OpUpsert); err != nil {
			return nil, err
		}
		return c.upsert(args)
	default:
		return nil, fmt.Errorf("unsupported statement: %s", query)
	}
}

func (c *conn) upsert(args []driver.NamedValue) (driver.Result, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("upsert wants bucket, payload, updated_at; got %d args", len(args))
	}
	bucket, ok := args[0].Value.(string)
	if !ok {
		return nil, fmt.Errorf("bucket must be text, got %T", args[0].Value)
	}
	payload, ok := args[1].Value.([]byte)
	if !ok {
		return nil, fmt.Errorf("payload must be bytes, got %T", args[1].Value)
	}
	at, ok := args[2].Value.(time.Time)
	if !ok {
		return nil, fmt.Errorf("updated_at must be a time, got %T", args[2].Value)
	}
	row := Row{Payload: append([]byte(nil), payload...), UpdatedAt: at}
	if c.pending != nil {
		c.pending[bucket] = row
		return driver.RowsAffected(1), nil
	}
	c.db.mu.Lock()
	c.db.rows[bucket] = row
	c.db.upserts++
	c.db.mu.Unlock()
	return driver.RowsAffected(1), nil
}

func (c *conn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.db.record(query)
	if verb(query) != "SELECT" {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	if err := c.db.fault(OpQuery); err != nil {
		return nil, err
	}
	committed := c.db.Rows()
	buckets := make([]string, 0, len(committed))
	for bucket := range committed {
		buckets = append(buckets, bucket)
	}
	sort.Strings(buckets)
	out := &rows{}
	for _, bucket := range buckets {
		out.values = append(out.values, []driver.Value{bucket, committed[bucket].Payload})
	}
	return out, nil
}

type rows struct {
	values [][]driver.Value
	next   int
}

func (r *rows) Columns() []string { return []string{"bucket", "payload"} }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}
