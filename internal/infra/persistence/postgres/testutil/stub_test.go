package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const upsert = `INSERT INTO t (bucket, payload, updated_at) VALUES ($1, $2, $3)`

func TestCommittedUpsertsAreVisible(t *testing.T) {
	ctx := context.Background()
	db, fake := NewBucketDB()
	defer func() { _ = db.Close() }()
	require.NoError(t, db.PingContext(ctx))

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, upsert, "documents", []byte(`[]`), at)
	require.NoError(t, err)
	assert.Empty(t, fake.Rows(), "uncommitted writes stay pending")
	require.NoError(t, tx.Commit())

	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM t`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	require.True(t, rows.Next())
	var bucket string
	var payload []byte
	require.NoError(t, rows.Scan(&bucket, &payload))
	assert.Equal(t, "documents", bucket)
	assert.Equal(t, []byte(`[]`), payload)
	assert.False(t, rows.Next())
	assert.Equal(t, at, fake.Rows()["documents"].UpdatedAt)
	assert.Equal(t, 1, fake.Upserts())
}

func TestRollbackDiscardsPending(t *testing.T) {
	ctx := context.Background()
	db, fake := NewBucketDB()
	defer func() { _ = db.Close() }()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, upsert, "history", []byte(`null`), time.Now())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Empty(t, fake.Rows())
	assert.Len(t, fake.Statements(), 1)
}

func TestFaults(t *testing.T) {
	ctx := context.Background()
	db, fake := NewBucketDB()
	defer func() { _ = db.Close() }()
	boom := errors.New("boom")

	fake.Fail(OpQuery, boom)
	_, err := db.QueryContext(ctx, `SELECT bucket, payload FROM t`)
	assert.ErrorIs(t, err, boom)
	fake.Fail(OpQuery, nil)
	_, err = db.QueryContext(ctx, `SELECT bucket, payload FROM t`)
	assert.NoError(t, err)

	fake.Fail(OpDDL, boom)
	_, err = db.ExecContext(ctx, `CREATE TABLE t (bucket TEXT)`)
	assert.ErrorIs(t, err, boom)

	_, err = db.ExecContext(ctx, `DELETE FROM t`)
	assert.ErrorContains(t, err, "unsupported statement")

	_, err = db.ExecContext(ctx, upsert, "documents", "not bytes", time.Now())
	assert.ErrorContains(t, err, "payload must be bytes")
}
