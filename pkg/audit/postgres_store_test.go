package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_records").WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, db)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) \+ 1 FROM audit_records WHERE tenant_id = \$1`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO audit_records").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec, err := store.Append(ctx, Record{
		ID: "r1", TenantID: "t1", Tool: "file_read", Timestamp: time.Now(),
		PreviousHash: "GENESIS_NULL", Hash: "abc",
	})
	require.NoError(t, err)
	require.Equal(t, "r1", rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TailNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_records").WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, db)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, tenant_id, trace_id, timestamp, agent_id, tool, parameters, result, reason, duration_ms, failure_category, previous_hash, hash\s+FROM audit_records WHERE tenant_id = \$1 ORDER BY seq DESC LIMIT 1`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "trace_id", "timestamp", "agent_id", "tool",
			"parameters", "result", "reason", "duration_ms", "failure_category",
			"previous_hash", "hash",
		}))

	_, ok, err := store.Tail(ctx, "t1")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
