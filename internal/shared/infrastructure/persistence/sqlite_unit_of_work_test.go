package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// openUOWTestDB gives each test an in-memory database with one table shaped
// like the outbox staging rows the unit of work usually spans.
func openUOWTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE staged_events (id INTEGER PRIMARY KEY, routing_key TEXT)`)
	require.NoError(t, err)

	return db
}

func stagedCount(t *testing.T, db *sql.DB, routingKey string) int {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM staged_events WHERE routing_key = ?`, routingKey).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestSQLiteUnitOfWork_BeginPutsOwnedTxInContext(t *testing.T) {
	uow := NewSQLiteUnitOfWork(openUOWTestDB(t))

	txCtx, err := uow.Begin(context.Background())
	require.NoError(t, err)

	info, ok := SQLiteTxInfoFromContext(txCtx)
	require.True(t, ok)
	assert.NotNil(t, info.Tx)
	assert.True(t, info.Owned)

	require.NoError(t, uow.Rollback(txCtx))
}

func TestSQLiteUnitOfWork_CommitPersists(t *testing.T) {
	db := openUOWTestDB(t)
	uow := NewSQLiteUnitOfWork(db)

	txCtx, err := uow.Begin(context.Background())
	require.NoError(t, err)

	info, ok := SQLiteTxInfoFromContext(txCtx)
	require.True(t, ok)
	_, err = info.Tx.Exec(`INSERT INTO staged_events (routing_key) VALUES ('market.proposal.created')`)
	require.NoError(t, err)

	require.NoError(t, uow.Commit(txCtx))
	assert.Equal(t, 1, stagedCount(t, db, "market.proposal.created"))
}

func TestSQLiteUnitOfWork_RollbackDiscards(t *testing.T) {
	db := openUOWTestDB(t)
	uow := NewSQLiteUnitOfWork(db)

	txCtx, err := uow.Begin(context.Background())
	require.NoError(t, err)

	info, ok := SQLiteTxInfoFromContext(txCtx)
	require.True(t, ok)
	_, err = info.Tx.Exec(`INSERT INTO staged_events (routing_key) VALUES ('market.proposal.rejected')`)
	require.NoError(t, err)

	require.NoError(t, uow.Rollback(txCtx))
	assert.Equal(t, 0, stagedCount(t, db, "market.proposal.rejected"))
}

func TestSQLiteUnitOfWork_NestedBeginJoinsOuterTx(t *testing.T) {
	db := openUOWTestDB(t)
	uow := NewSQLiteUnitOfWork(db)

	outerCtx, err := uow.Begin(context.Background())
	require.NoError(t, err)
	outerInfo, ok := SQLiteTxInfoFromContext(outerCtx)
	require.True(t, ok)

	innerCtx, err := uow.Begin(outerCtx)
	require.NoError(t, err)
	innerInfo, ok := SQLiteTxInfoFromContext(innerCtx)
	require.True(t, ok)

	// The inner scope rides the outer transaction and does not own it
	assert.False(t, innerInfo.Owned)
	assert.Equal(t, outerInfo.Tx, innerInfo.Tx)

	// Neither commit nor rollback on the inner scope ends the transaction
	require.NoError(t, uow.Commit(innerCtx))
	require.NoError(t, uow.Rollback(innerCtx))
	_, err = outerInfo.Tx.Exec(`INSERT INTO staged_events (routing_key) VALUES ('market.proposal.countered')`)
	require.NoError(t, err)

	require.NoError(t, uow.Commit(outerCtx))
	assert.Equal(t, 1, stagedCount(t, db, "market.proposal.countered"))
}

func TestSQLiteUnitOfWork_NoTransactionInContext(t *testing.T) {
	uow := NewSQLiteUnitOfWork(openUOWTestDB(t))
	ctx := context.Background()

	err := uow.Commit(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction in context")

	err = uow.Rollback(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction in context")
}

func TestSQLiteTxInfoFromContext(t *testing.T) {
	// Empty context carries nothing
	info, ok := SQLiteTxInfoFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, info.Tx)

	// A nil transaction is treated as absent
	info, ok = SQLiteTxInfoFromContext(WithSQLiteTx(context.Background(), nil, true))
	assert.False(t, ok)
	assert.Nil(t, info.Tx)

	db := openUOWTestDB(t)
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	info, ok = SQLiteTxInfoFromContext(WithSQLiteTx(context.Background(), tx, false))
	require.True(t, ok)
	assert.Equal(t, tx, info.Tx)
	assert.False(t, info.Owned)
}
